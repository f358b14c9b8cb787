package market

import (
	"math"
	"sort"
	"time"
)

// DataSource tells whether a series came from a live feed or the synthetic generator
type DataSource string

const (
	SourceLive      DataSource = "live"
	SourceSynthetic DataSource = "synthetic"
)

// Sample is one point of an asset time series
type Sample struct {
	Timestamp   int64    `json:"timestamp"` // epoch millis
	Price       float64  `json:"price"`
	Volume      *float64 `json:"volume,omitempty"`
	FundingRate *float64 `json:"funding_rate,omitempty"` // fraction per 8h settlement
	Asset       string   `json:"asset,omitempty"`
	Exchange    string   `json:"exchange,omitempty"`
}

// Time returns the sample timestamp as UTC time
func (s Sample) Time() time.Time {
	return time.UnixMilli(s.Timestamp).UTC()
}

// Float returns a pointer to v, for optional sample fields
func Float(v float64) *float64 {
	return &v
}

// Series is an immutable, time ordered sequence of samples for one asset.
// It is shared read-only between concurrent backtests once built.
type Series struct {
	Asset   string     `json:"asset"`
	Source  DataSource `json:"source"`
	Samples []Sample   `json:"samples"`

	funding []int // indexes of samples carrying a funding rate
}

// NewSeries sorts samples by timestamp and indexes funding samples.
// The input slice is copied.
func NewSeries(asset string, source DataSource, samples []Sample) *Series {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	s := &Series{Asset: asset, Source: source, Samples: sorted}
	for i := range sorted {
		if sorted[i].FundingRate != nil {
			s.funding = append(s.funding, i)
		}
	}
	return s
}

// Len returns the number of samples
func (s *Series) Len() int {
	return len(s.Samples)
}

// FundingCount returns the number of samples carrying a funding rate
func (s *Series) FundingCount() int {
	return len(s.funding)
}

// At returns the sample nearest to t. Ties resolve to the earlier sample.
func (s *Series) At(t time.Time) (Sample, bool) {
	n := len(s.Samples)
	if n == 0 {
		return Sample{}, false
	}
	ts := t.UnixMilli()
	i := sort.Search(n, func(i int) bool { return s.Samples[i].Timestamp >= ts })
	switch {
	case i == 0:
		return s.Samples[0], true
	case i == n:
		return s.Samples[n-1], true
	}
	before, after := s.Samples[i-1], s.Samples[i]
	if ts-before.Timestamp <= after.Timestamp-ts {
		return before, true
	}
	return after, true
}

// PriceAt returns the nearest price to t
func (s *Series) PriceAt(t time.Time) (float64, bool) {
	sample, ok := s.At(t)
	if !ok {
		return 0, false
	}
	return sample.Price, true
}

// FundingAt returns the first funding rate observed in [t, t+window).
// false means the window has no funding data (a gap).
func (s *Series) FundingAt(t time.Time, window time.Duration) (float64, bool) {
	from := t.UnixMilli()
	to := t.Add(window).UnixMilli()
	i := sort.Search(len(s.funding), func(i int) bool { return s.Samples[s.funding[i]].Timestamp >= from })
	if i < len(s.funding) {
		sample := s.Samples[s.funding[i]]
		if sample.Timestamp < to {
			return *sample.FundingRate, true
		}
	}
	return 0, false
}

// FundingRates returns every funding rate observed in [from, to)
func (s *Series) FundingRates(from, to time.Time) []float64 {
	lo, hi := from.UnixMilli(), to.UnixMilli()
	i := sort.Search(len(s.funding), func(i int) bool { return s.Samples[s.funding[i]].Timestamp >= lo })
	var out []float64
	for ; i < len(s.funding); i++ {
		sample := s.Samples[s.funding[i]]
		if sample.Timestamp >= hi {
			break
		}
		out = append(out, *sample.FundingRate)
	}
	return out
}

// window returns samples with timestamps in [from, to)
func (s *Series) window(from, to time.Time) []Sample {
	lo, hi := from.UnixMilli(), to.UnixMilli()
	i := sort.Search(len(s.Samples), func(i int) bool { return s.Samples[i].Timestamp >= lo })
	j := sort.Search(len(s.Samples), func(i int) bool { return s.Samples[i].Timestamp >= hi })
	if i >= j {
		return nil
	}
	return s.Samples[i:j]
}

// AverageVolume averages the volume of samples in [from, to)
func (s *Series) AverageVolume(from, to time.Time) (float64, bool) {
	var sum float64
	var n int
	for _, sample := range s.window(from, to) {
		if sample.Volume != nil {
			sum += *sample.Volume
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Volatility is the sample standard deviation of sample-to-sample price returns in [from, to)
func (s *Series) Volatility(from, to time.Time) float64 {
	samples := s.window(from, to)
	returns := make([]float64, 0, len(samples))
	for i := 1; i < len(samples); i++ {
		prev := samples[i-1].Price
		if prev <= 0 || samples[i].Timestamp == samples[i-1].Timestamp {
			continue
		}
		returns = append(returns, samples[i].Price/prev-1)
	}
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var ss float64
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	v := math.Sqrt(ss / float64(len(returns)-1))
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
