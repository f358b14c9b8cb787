package funding

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryStats(t *testing.T) {
	h := NewHistory(0)
	now := time.Now()
	for i, r := range []float64{0.0001, 0.0003, 0.0002} {
		h.Append(Rate{Asset: "sol", Exchange: "Binance", Rate: r, Timestamp: now.Add(time.Duration(i) * 8 * time.Hour)})
	}

	stats, ok := h.Stats("SOL", "binance")
	require.True(t, ok)
	assert.Equal(t, "SOL-binance", stats.Key)
	assert.Equal(t, 3, stats.Count)
	assert.InDelta(t, 0.0002, stats.Mean, 1e-12)
	assert.InDelta(t, (1e-8+1e-8+0)/3, stats.Variance, 1e-15)
	assert.InDelta(t, math.Sqrt(stats.Variance), stats.StdDev, 1e-15)
	assert.InDelta(t, -0.0001, stats.LastDelta, 1e-12)
	assert.Equal(t, 0.0001, stats.Min)
	assert.Equal(t, 0.0003, stats.Max)
	assert.InDelta(t, 0.0002*3*365, stats.AnnualizedRate, 1e-12)
}

func TestHistorySingleValueHasZeroVariance(t *testing.T) {
	h := NewHistory(0)
	h.Append(Rate{Asset: "SOL", Exchange: "binance", Rate: 0.0005})

	stats, ok := h.Stats("SOL", "binance")
	require.True(t, ok)
	assert.Equal(t, 0.0, stats.Variance)
	assert.Equal(t, 0.0, stats.LastDelta)
}

func TestHistoryBoundsAndMissing(t *testing.T) {
	h := NewHistory(2)
	for _, r := range []float64{1, 2, 3} {
		h.Append(Rate{Asset: "ETH", Exchange: "x", Rate: r})
	}
	h.Append(Rate{Asset: "ETH", Exchange: "x", Rate: math.NaN()})

	assert.Equal(t, []float64{2, 3}, h.Rates("ETH", "x"))
	_, ok := h.Stats("BTC", "x")
	assert.False(t, ok)
}

func TestHistoryConcurrentAppend(t *testing.T) {
	h := NewHistory(0)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Append(Rate{Asset: "SOL", Exchange: "x", Rate: 0.0001})
				h.Stats("SOL", "x")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, h.Len("SOL", "x"))
}
