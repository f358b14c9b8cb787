package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	apperrors "deltayield/internal/errors"
	"deltayield/internal/logger"
	"deltayield/internal/middleware"
	"deltayield/internal/monitor"
	"deltayield/internal/predictor"
	"deltayield/internal/scheduler"
	"deltayield/internal/strategy"
	"deltayield/internal/strategy/backtest"

	"github.com/gin-gonic/gin"
)

// BacktestRunner executes backtests; *backtest.Engine satisfies it
type BacktestRunner interface {
	Run(ctx context.Context, cfg *strategy.Config, start, end time.Time, opts ...backtest.RunOption) (*backtest.Result, error)
}

// BacktestHandler serves POST /api/v1/backtests
type BacktestHandler struct {
	runner  BacktestRunner
	timeout time.Duration
	log     logger.Logger
}

// NewBacktestHandler creates a backtest handler
func NewBacktestHandler(runner BacktestRunner, timeout time.Duration, log logger.Logger) *BacktestHandler {
	return &BacktestHandler{runner: runner, timeout: timeout, log: log}
}

// Run runs one backtest synchronously
func (h *BacktestHandler) Run(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, h.log, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidInput,
			"invalid request body", err.Error(), err))
		return
	}

	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	end, err := parseDate("end_date", req.EndDate)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}

	var opts []backtest.RunOption
	if req.UseAIEnhancement {
		opts = append(opts, backtest.WithAIEnhancement())
	}
	if req.Seed != nil {
		opts = append(opts, backtest.WithSeed(*req.Seed))
	}

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	result, err := h.runner.Run(ctx, req.Strategy, start, end, opts...)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

func parseDate(field, value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, apperrors.Validation(field, "is required")
	}
	t, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, apperrors.Validation(field, "expected YYYY-MM-DD, got "+value)
	}
	return t, nil
}

// PredictionHandler serves POST /api/v1/predictions
type PredictionHandler struct {
	predictor predictor.Predictor
	log       logger.Logger
}

// NewPredictionHandler creates a prediction handler
func NewPredictionHandler(p predictor.Predictor, log logger.Logger) *PredictionHandler {
	return &PredictionHandler{predictor: p, log: log}
}

// Predict forecasts every rate, then appends the rates to the predictor history
func (h *PredictionHandler) Predict(c *gin.Context) {
	var req PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, h.log, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidInput,
			"invalid request body", err.Error(), err))
		return
	}
	if len(req.Rates) == 0 {
		middleware.RespondError(c, h.log, apperrors.Validation("rates", "at least one rate is required"))
		return
	}
	for i := range req.Rates {
		if strings.TrimSpace(req.Rates[i].Asset) == "" {
			middleware.RespondError(c, h.log, apperrors.Validation("rates", "asset is required"))
			return
		}
		if req.Rates[i].Timestamp.IsZero() {
			req.Rates[i].Timestamp = time.Now().UTC()
		}
	}

	preds, err := h.predictor.Predict(c.Request.Context(), req.Rates, req.Features)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	for _, r := range req.Rates {
		h.predictor.Observe(r)
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: preds})
}

// HealthHandler serves GET /health
type HealthHandler struct {
	checker *monitor.SystemHealthChecker
	app     string
	version string
}

// NewHealthHandler creates a health handler. checker may be nil.
func NewHealthHandler(checker *monitor.SystemHealthChecker, app, version string) *HealthHandler {
	if checker == nil {
		checker = monitor.NewSystemHealthChecker()
	}
	return &HealthHandler{checker: checker, app: app, version: version}
}

// Health reports 503 only when a check is unhealthy
func (h *HealthHandler) Health(c *gin.Context) {
	report := h.checker.Run(c.Request.Context())

	status := http.StatusOK
	if report.Status == monitor.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":    report.Status,
		"app":       h.app,
		"version":   h.version,
		"checks":    report.Checks,
		"timestamp": report.Timestamp,
	})
}

// ScheduleHandler serves GET /api/v1/schedules
type ScheduleHandler struct {
	scheduler *scheduler.Scheduler
}

// NewScheduleHandler creates a schedule handler
func NewScheduleHandler(s *scheduler.Scheduler) *ScheduleHandler {
	return &ScheduleHandler{scheduler: s}
}

// List returns every registered job with its last outcome
func (h *ScheduleHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true, Data: h.scheduler.ListJobs()})
}
