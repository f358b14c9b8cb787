package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"deltayield/internal/config"
	"deltayield/internal/logger"
	"deltayield/internal/market"
	"deltayield/internal/market/synthetic"
	"deltayield/internal/monitor"
	"deltayield/internal/predictor"
	"deltayield/internal/rng"
	"deltayield/internal/strategy/backtest"
	"deltayield/internal/testutils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
}

func newTestServer(t *testing.T, health *monitor.SystemHealthChecker) *testutils.HTTPTestHelper {
	suite := testutils.NewTestSuite(t, nil)
	t.Cleanup(suite.TearDown)

	cfg := config.Default()
	cfg.Server.Mode = "test"
	cfg.App.Name = "dnyield-test"

	metrics := monitor.NewMetricsCollector()
	provider := market.NewProvider(market.DefaultConfig(), synthetic.New(synthetic.DefaultConfig()),
		market.WithLogger(logger.NewNopLogger()), market.WithObserver(metrics), market.WithCache(suite.Cache))
	engine := backtest.NewEngine(provider, backtest.DefaultConfig(),
		backtest.WithLogger(logger.NewNopLogger()), backtest.WithObserver(metrics))
	pred := predictor.New(predictor.DefaultConfig(), rng.NewLocked(1), predictor.WithObserver(metrics.Predictor()))

	srv := NewServer(cfg, Dependencies{
		Runner:    engine,
		Predictor: pred,
		Metrics:   metrics,
		Health:    health,
		Logger:    suite.Logger,
	})
	return testutils.NewHTTPTestHelper(suite, srv.Router())
}

func decode(t *testing.T, resp *testutils.HTTPResponse) envelope {
	var env envelope
	require.NoError(t, resp.GetJSON(&env), resp.GetString())
	return env
}

const strategyJSON = `{
	"id": "sol-funding",
	"name": "SOL funding",
	"kind": "funding_rate",
	"usdc_allocated": "50000",
	"risk_score": 40,
	"target_apy": 0.15,
	"hedge_ratio": 1,
	"max_leverage": 3,
	"rebalance_threshold": 0.05,
	"rebalance_frequency": 28800
}`

func TestRunBacktest(t *testing.T) {
	h := newTestServer(t, nil)

	body := `{"strategy": ` + strategyJSON + `, "start_date": "2024-01-01", "end_date": "2024-01-31", "use_ai_enhancement": true, "seed": 7}`
	resp := h.POST("/api/v1/backtests", body, nil).AssertStatus(http.StatusOK)
	assert.NotEmpty(t, resp.Headers.Get("X-Request-ID"))

	env := decode(t, resp)
	require.True(t, env.Success)

	var result backtest.Result
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "sol-funding", result.StrategyID)
	assert.Equal(t, int64(7), result.Seed)
	assert.Len(t, result.DailyReturns, 31)
	assert.Equal(t, market.SourceSynthetic, result.DataSources["SOL"])
	require.NotNil(t, result.Funding)
	require.NotNil(t, result.AI)
	assert.Equal(t, 31, result.AI.Predictions)

	h.GET("/metrics", nil).
		AssertContains(`dnyield_backtest_runs_total{kind="funding_rate",status="success"} 1`).
		AssertContains(`dnyield_cache_requests_total{result="miss"} 1`)
}

func TestRunBacktestValidation(t *testing.T) {
	h := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"strategy": `, "INVALID_INPUT"},
		{"bad date", `{"strategy": ` + strategyJSON + `, "start_date": "01/02/2024", "end_date": "2024-01-31"}`, "INVALID_INPUT"},
		{"missing end", `{"strategy": ` + strategyJSON + `, "start_date": "2024-01-01"}`, "INVALID_INPUT"},
		{"same day", `{"strategy": ` + strategyJSON + `, "start_date": "2024-01-01", "end_date": "2024-01-01"}`, "INVALID_INPUT"},
		{"missing strategy", `{"start_date": "2024-01-01", "end_date": "2024-01-31"}`, "STRATEGY_INVALID"},
		{"negative capital", `{"strategy": {"id": "x", "kind": "funding_rate", "usdc_allocated": "-5", "risk_score": 10}, "start_date": "2024-01-01", "end_date": "2024-01-31"}`, "STRATEGY_INVALID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.POST("/api/v1/backtests", tt.body, nil).AssertStatus(http.StatusBadRequest)
			env := decode(t, resp)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestPredictions(t *testing.T) {
	h := newTestServer(t, nil)

	body := map[string]interface{}{
		"rates": []map[string]interface{}{
			{"asset": "SOL", "exchange": "binance", "rate": 0.02, "timestamp": "2024-01-01T00:00:00Z"},
			{"asset": "ETH", "exchange": "binance", "rate": 0.0001, "timestamp": "2024-01-01T00:00:00Z"},
		},
		"features": []map[string]interface{}{
			{"asset": "SOL", "price": 150, "volatility": 0.01, "volume": 1e8},
		},
	}
	resp := h.POST("/api/v1/predictions", body, nil).AssertStatus(http.StatusOK)

	env := decode(t, resp)
	require.True(t, env.Success)
	var preds []predictor.Prediction
	require.NoError(t, json.Unmarshal(env.Data, &preds))

	// ETH has no features and is skipped
	require.Len(t, preds, 1)
	assert.Equal(t, "SOL", preds[0].Asset)
	assert.Len(t, preds[0].Predictions, 24)
	assert.Equal(t, predictor.ActionShort, preds[0].Action)
	assert.Contains(t, resp.GetString(), `"recommended_action":"short"`)

	h.GET("/metrics", nil).AssertContains(`dnyield_predictions_total{model="statistical"} 1`)
}

func TestPredictionsValidation(t *testing.T) {
	h := newTestServer(t, nil)

	resp := h.POST("/api/v1/predictions", `{"rates": []}`, nil).AssertStatus(http.StatusBadRequest)
	assert.Equal(t, "INVALID_INPUT", decode(t, resp).Error.Code)

	resp = h.POST("/api/v1/predictions", `{"rates": [{"rate": 0.01}]}`, nil).AssertStatus(http.StatusBadRequest)
	assert.Equal(t, "INVALID_INPUT", decode(t, resp).Error.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	health := monitor.NewSystemHealthChecker()
	health.AddCheck("cache", "series cache", func(context.Context) (monitor.HealthStatus, error) {
		return monitor.HealthStatusDegraded, errors.New("redis unavailable, memory only")
	})
	h := newTestServer(t, health)

	resp := h.GET("/health", nil).AssertStatus(http.StatusOK)
	resp.AssertContains(`"status":"degraded"`).AssertContains(`"app":"dnyield-test"`)

	h.GET("/health", nil)
	metrics := h.GET("/metrics", nil).AssertStatus(http.StatusOK)
	metrics.AssertContains(`dnyield_api_requests_total{endpoint="/health",method="GET",status="200"} 2`)

	h.GET("/nope", nil).AssertStatus(http.StatusNotFound)
}

func TestHealthUnhealthy(t *testing.T) {
	health := monitor.NewSystemHealthChecker()
	health.AddCheck("data", "market data", func(context.Context) (monitor.HealthStatus, error) {
		return monitor.HealthStatusUnhealthy, nil
	})
	h := newTestServer(t, health)

	h.GET("/health", nil).AssertStatus(http.StatusServiceUnavailable)
}

func TestRunTimeoutCancels(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	cfg := config.Default()
	cfg.Server.Mode = "test"
	cfg.Server.RunTimeout = time.Nanosecond

	engine := backtest.NewEngine(slowProvider{}, backtest.DefaultConfig(), backtest.WithLogger(logger.NewNopLogger()))
	srv := NewServer(cfg, Dependencies{Runner: engine, Logger: suite.Logger})
	h := testutils.NewHTTPTestHelper(suite, srv.Router())

	body := `{"strategy": ` + strategyJSON + `, "start_date": "2024-01-01", "end_date": "2024-01-31"}`
	resp := h.POST("/api/v1/backtests", body, nil)
	assert.Equal(t, 499, resp.StatusCode)
	assert.Equal(t, "CANCELLED", decode(t, resp).Error.Code)
}

type slowProvider struct{}

func (slowProvider) GetSeries(ctx context.Context, asset string, start, end time.Time) (*market.Series, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p slowProvider) LoadAll(ctx context.Context, assets []string, start, end time.Time) (map[string]*market.Series, error) {
	_, err := p.GetSeries(ctx, assets[0], start, end)
	return nil, err
}
