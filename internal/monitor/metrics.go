package monitor

import (
	"net/http"
	"time"

	"deltayield/internal/predictor"
	"deltayield/internal/strategy"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
)

const namespace = "dnyield"

// MetricsCollector collects system metrics
type MetricsCollector struct {
	registry *prometheus.Registry

	// 回测指标
	backtestRuns     *prometheus.CounterVec
	backtestDuration *prometheus.HistogramVec

	// 策略指标
	strategySharpe      *prometheus.GaugeVec
	strategyDrawdown    *prometheus.GaugeVec
	strategyTotalReturn *prometheus.GaugeVec

	// 市场数据指标
	marketFetchDuration *prometheus.HistogramVec
	marketFetchErrors   *prometheus.CounterVec
	syntheticFallbacks  *prometheus.CounterVec
	cacheRequests       *prometheus.CounterVec

	// 预测指标
	predictions        *prometheus.CounterVec
	predictionDuration *prometheus.HistogramVec
	predictorFallbacks *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec

	// API指标
	apiRequestsTotal *prometheus.CounterVec
	apiResponseTime  *prometheus.HistogramVec
}

// NewMetricsCollector creates a collector registered on its own registry
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	mc := &MetricsCollector{
		registry: reg,

		backtestRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backtest_runs_total",
			Help:      "Total number of backtest runs by outcome",
		}, []string{"kind", "status"}),

		backtestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backtest_duration_seconds",
			Help:      "Backtest wall time in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		strategySharpe: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "strategy_sharpe",
			Help:      "Sharpe ratio of the latest scheduled backtest",
		}, []string{"strategy_id"}),

		strategyDrawdown: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "strategy_max_drawdown",
			Help:      "Maximum drawdown of the latest scheduled backtest",
		}, []string{"strategy_id"}),

		strategyTotalReturn: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "strategy_total_return",
			Help:      "Total return of the latest scheduled backtest",
		}, []string{"strategy_id"}),

		marketFetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "market_fetch_duration_seconds",
			Help:      "Market data source fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source", "asset"}),

		marketFetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "market_fetch_errors_total",
			Help:      "Total number of failed market data fetches",
		}, []string{"source", "asset"}),

		syntheticFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthetic_fallbacks_total",
			Help:      "Total number of live data failures served with synthetic data",
		}, []string{"asset", "reason"}),

		cacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Series cache lookups by result",
		}, []string{"result"}),

		predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Total number of funding rate predictions by model",
		}, []string{"model"}),

		predictionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "Prediction latency in seconds",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 10},
		}, []string{"model"}),

		predictorFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictor_fallbacks_total",
			Help:      "Total number of external predictor failures served by the statistical model",
		}, []string{"reason"}),

		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"}),

		breakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		}, []string{"name", "to"}),

		apiRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of API requests",
		}, []string{"endpoint", "method", "status"}),

		apiResponseTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_response_time_seconds",
			Help:      "API response time in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "method"}),
	}

	reg.MustRegister(prometheus.NewGoCollector())
	return mc
}

// Registry returns the collector's registry
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

// Handler serves the registry in the Prometheus exposition format
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}

// ObserveRun records a finished backtest
func (mc *MetricsCollector) ObserveRun(kind strategy.Kind, status string, duration time.Duration) {
	mc.backtestRuns.WithLabelValues(string(kind), status).Inc()
	mc.backtestDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

// UpdateStrategyMetrics updates the per-strategy gauges
func (mc *MetricsCollector) UpdateStrategyMetrics(strategyID string, sharpe, drawdown, totalReturn float64) {
	mc.strategySharpe.WithLabelValues(strategyID).Set(sharpe)
	mc.strategyDrawdown.WithLabelValues(strategyID).Set(drawdown)
	mc.strategyTotalReturn.WithLabelValues(strategyID).Set(totalReturn)
}

// ObserveFetch records a market data source call
func (mc *MetricsCollector) ObserveFetch(source, asset string, duration time.Duration, err error) {
	mc.marketFetchDuration.WithLabelValues(source, asset).Observe(duration.Seconds())
	if err != nil {
		mc.marketFetchErrors.WithLabelValues(source, asset).Inc()
	}
}

// ObserveFallback records a synthetic data fallback
func (mc *MetricsCollector) ObserveFallback(asset, reason string) {
	mc.syntheticFallbacks.WithLabelValues(asset, reason).Inc()
}

// ObserveCache records a series cache lookup
func (mc *MetricsCollector) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	mc.cacheRequests.WithLabelValues(result).Inc()
}

// Predictor returns the predictor.Observer view of the collector
func (mc *MetricsCollector) Predictor() predictor.Observer {
	return predictorObserver{mc: mc}
}

type predictorObserver struct {
	mc *MetricsCollector
}

func (p predictorObserver) ObservePrediction(model predictor.Model, duration time.Duration) {
	p.mc.predictions.WithLabelValues(string(model)).Inc()
	p.mc.predictionDuration.WithLabelValues(string(model)).Observe(duration.Seconds())
}

func (p predictorObserver) ObserveFallback(reason string) {
	p.mc.predictorFallbacks.WithLabelValues(reason).Inc()
}

// BreakerStateChanged is a breaker.StateListener
func (mc *MetricsCollector) BreakerStateChanged(name string, from, to gobreaker.State) {
	mc.breakerState.WithLabelValues(name).Set(breakerStateValue(to))
	mc.breakerTransitions.WithLabelValues(name, to.String()).Inc()
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// RecordAPIRequest records API request metrics
func (mc *MetricsCollector) RecordAPIRequest(endpoint, method, status string, duration time.Duration) {
	mc.apiRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	mc.apiResponseTime.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}
