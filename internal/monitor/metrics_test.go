package monitor

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"deltayield/internal/breaker"
	"deltayield/internal/market"
	"deltayield/internal/predictor"
	"deltayield/internal/strategy"
	"deltayield/internal/strategy/backtest"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compile-time checks that the collector plugs into every observer hook
var (
	_ market.Observer       = (*MetricsCollector)(nil)
	_ backtest.Observer     = (*MetricsCollector)(nil)
	_ breaker.StateListener = (*MetricsCollector)(nil).BreakerStateChanged
)

func TestObserveRun(t *testing.T) {
	mc := NewMetricsCollector()

	mc.ObserveRun(strategy.KindFundingRate, "success", 120*time.Millisecond)
	mc.ObserveRun(strategy.KindFundingRate, "success", 80*time.Millisecond)
	mc.ObserveRun(strategy.KindBasisTrade, "invalid", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(mc.backtestRuns.WithLabelValues("funding_rate", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.backtestRuns.WithLabelValues("basis_trade", "invalid")))
	assert.Equal(t, 2, testutil.CollectAndCount(mc.backtestDuration))
}

func TestMarketObserver(t *testing.T) {
	mc := NewMetricsCollector()

	mc.ObserveFetch("binance", "SOL", time.Second, nil)
	mc.ObserveFetch("binance", "SOL", time.Second, errors.New("boom"))
	mc.ObserveFallback("SOL", "fetch_error")
	mc.ObserveCache(true)
	mc.ObserveCache(false)
	mc.ObserveCache(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(mc.marketFetchErrors.WithLabelValues("binance", "SOL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.syntheticFallbacks.WithLabelValues("SOL", "fetch_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.cacheRequests.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(mc.cacheRequests.WithLabelValues("miss")))
}

func TestPredictorObserver(t *testing.T) {
	mc := NewMetricsCollector()
	obs := mc.Predictor()

	obs.ObservePrediction(predictor.ModelStatistical, time.Millisecond)
	obs.ObservePrediction(predictor.ModelExternal, time.Millisecond)
	obs.ObservePrediction(predictor.ModelStatistical, time.Millisecond)
	obs.ObserveFallback("breaker_open")

	assert.Equal(t, 2.0, testutil.ToFloat64(mc.predictions.WithLabelValues("statistical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.predictions.WithLabelValues("external")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.predictorFallbacks.WithLabelValues("breaker_open")))
}

func TestBreakerStateChanged(t *testing.T) {
	mc := NewMetricsCollector()

	mc.BreakerStateChanged("binance", gobreaker.StateClosed, gobreaker.StateOpen)
	assert.Equal(t, 2.0, testutil.ToFloat64(mc.breakerState.WithLabelValues("binance")))

	mc.BreakerStateChanged("binance", gobreaker.StateOpen, gobreaker.StateHalfOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.breakerState.WithLabelValues("binance")))

	mc.BreakerStateChanged("binance", gobreaker.StateHalfOpen, gobreaker.StateClosed)
	assert.Equal(t, 0.0, testutil.ToFloat64(mc.breakerState.WithLabelValues("binance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.breakerTransitions.WithLabelValues("binance", "open")))
}

func TestStrategyGaugesAndAPI(t *testing.T) {
	mc := NewMetricsCollector()

	mc.UpdateStrategyMetrics("sol-funding", 1.5, 0.12, 0.08)
	mc.UpdateStrategyMetrics("sol-funding", 1.7, 0.10, 0.09)
	mc.RecordAPIRequest("/api/v1/backtests", "POST", "200", 10*time.Millisecond)

	assert.Equal(t, 1.7, testutil.ToFloat64(mc.strategySharpe.WithLabelValues("sol-funding")))
	assert.Equal(t, 0.10, testutil.ToFloat64(mc.strategyDrawdown.WithLabelValues("sol-funding")))
	assert.Equal(t, 0.09, testutil.ToFloat64(mc.strategyTotalReturn.WithLabelValues("sol-funding")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.apiRequestsTotal.WithLabelValues("/api/v1/backtests", "POST", "200")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	mc := NewMetricsCollector()
	mc.ObserveFallback("ETH", "fetch_error")

	rec := httptest.NewRecorder()
	mc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `dnyield_synthetic_fallbacks_total{asset="ETH",reason="fetch_error"} 1`)
}

func TestCollectorsAreIsolated(t *testing.T) {
	a := NewMetricsCollector()
	b := NewMetricsCollector()

	a.ObserveCache(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.cacheRequests.WithLabelValues("hit")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.cacheRequests.WithLabelValues("hit")))
}
