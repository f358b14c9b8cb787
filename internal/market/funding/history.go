package funding

import (
	"math"
	"strings"
	"sync"
)

// SettlementsPerYear assumes three 8h settlements per day
const SettlementsPerYear = 3 * 365

// Key builds the history key for an asset/exchange pair
func Key(asset, exchange string) string {
	return strings.ToUpper(asset) + "-" + strings.ToLower(exchange)
}

// History is an append-only, in-memory store of funding rates keyed by asset-exchange
type History struct {
	rates  map[string][]Rate
	maxLen int
	mu     sync.RWMutex
}

// NewHistory creates a history. maxLen bounds each key's series, 0 means unbounded.
func NewHistory(maxLen int) *History {
	return &History{
		rates:  make(map[string][]Rate),
		maxLen: maxLen,
	}
}

// Append records a rate
func (h *History) Append(rate Rate) {
	if math.IsNaN(rate.Rate) || math.IsInf(rate.Rate, 0) {
		return
	}
	key := Key(rate.Asset, rate.Exchange)

	h.mu.Lock()
	defer h.mu.Unlock()

	series := append(h.rates[key], rate)
	if h.maxLen > 0 && len(series) > h.maxLen {
		series = series[len(series)-h.maxLen:]
	}
	h.rates[key] = series
}

// Rates returns a copy of the recorded rate values for a key
func (h *History) Rates(asset, exchange string) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	series := h.rates[Key(asset, exchange)]
	out := make([]float64, len(series))
	for i, r := range series {
		out[i] = r.Rate
	}
	return out
}

// Len returns the number of rates recorded for a key
func (h *History) Len(asset, exchange string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rates[Key(asset, exchange)])
}

// Stats computes statistics for a key. Variance is the population variance.
func (h *History) Stats(asset, exchange string) (Stats, bool) {
	key := Key(asset, exchange)

	h.mu.RLock()
	series := h.rates[key]
	if len(series) == 0 {
		h.mu.RUnlock()
		return Stats{}, false
	}
	values := make([]float64, len(series))
	for i, r := range series {
		values[i] = r.Rate
	}
	last := series[len(series)-1]
	h.mu.RUnlock()

	stats := Stats{
		Key:         key,
		Count:       len(values),
		CurrentRate: last.Rate,
		Min:         values[0],
		Max:         values[0],
		UpdatedAt:   last.Timestamp,
	}

	var sum float64
	for _, v := range values {
		sum += v
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
	}
	stats.Mean = sum / float64(len(values))

	var sumSquares float64
	for _, v := range values {
		diff := v - stats.Mean
		sumSquares += diff * diff
	}
	stats.Variance = sumSquares / float64(len(values))
	stats.StdDev = math.Sqrt(stats.Variance)

	if len(values) > 1 {
		stats.LastDelta = values[len(values)-1] - values[len(values)-2]
	}

	stats.AnnualizedRate = stats.Mean * SettlementsPerYear

	return stats, true
}
