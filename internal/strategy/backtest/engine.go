package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	apperrors "deltayield/internal/errors"
	"deltayield/internal/logger"
	"deltayield/internal/market"
	"deltayield/internal/predictor"
	"deltayield/internal/rng"
	"deltayield/internal/strategy"
	"deltayield/internal/strategy/simulator"
)

// Engine runs strategy backtests over a data provider. It holds no per-run
// state, so concurrent Run calls are independent.
type Engine struct {
	config        Config
	simConfig     simulator.Config
	predConfig    predictor.Config
	predictorOpts []predictor.Option
	data          market.DataProvider
	observer      Observer
	log           logger.Logger
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithSimulatorConfig overrides the simulator calibration
func WithSimulatorConfig(cfg simulator.Config) EngineOption {
	return func(e *Engine) { e.simConfig = cfg }
}

// WithPredictorConfig overrides the predictor configuration
func WithPredictorConfig(cfg predictor.Config, opts ...predictor.Option) EngineOption {
	return func(e *Engine) {
		e.predConfig = cfg
		e.predictorOpts = opts
	}
}

// WithObserver registers a run observer
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithLogger overrides the engine logger
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// NewEngine creates a backtest engine
func NewEngine(data market.DataProvider, cfg Config, opts ...EngineOption) *Engine {
	if cfg.Period <= 0 {
		cfg.Period = DefaultConfig().Period
	}
	e := &Engine{
		config:     cfg,
		simConfig:  simulator.DefaultConfig(),
		predConfig: predictor.DefaultConfig(),
		data:       data,
		log:        logger.Named("backtest"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.config
}

// Run backtests cfg over [start, end], one period at a time, both ends inclusive.
// Invalid input is rejected before any data is fetched.
func (e *Engine) Run(ctx context.Context, cfg *strategy.Config, start, end time.Time, opts ...RunOption) (*Result, error) {
	ro := runOptions{seed: e.config.Seed}
	for _, opt := range opts {
		opt(&ro)
	}

	if err := validateInput(cfg, start, end); err != nil {
		e.observe(cfg, "invalid", 0)
		return nil, err
	}

	began := time.Now()
	strat := *cfg
	runID := uuid.New().String()
	log := e.log.WithContext(logger.ContextWithRunID(ctx, runID)).WithFields(map[string]interface{}{
		"strategy_id": strat.ID,
		"kind":        string(strat.Kind),
	})
	log.Info("Starting backtest", "start", start.Format(time.RFC3339), "end", end.Format(time.RFC3339), "ai", ro.ai, "seed", ro.seed)

	result, err := e.run(ctx, &strat, start, end, ro)
	elapsed := time.Since(began)
	if err != nil {
		status := "error"
		if apperrors.HasCode(err, apperrors.ErrCodeCancelled) {
			status = "cancelled"
		}
		log.Warn("Backtest failed", "error", err.Error(), "status", status)
		e.observe(cfg, status, elapsed)
		return nil, err
	}

	result.RunID = runID
	result.ElapsedMs = elapsed.Milliseconds()
	e.observe(cfg, "success", elapsed)

	logger.NewPerformanceLogger(log).LogPerformance("backtest", elapsed, map[string]interface{}{
		"run_id":       runID,
		"periods":      len(result.DailyReturns),
		"total_return": result.TotalReturn,
		"sharpe":       result.SharpeRatio,
	})
	return result, nil
}

func (e *Engine) run(ctx context.Context, strat *strategy.Config, start, end time.Time, ro runOptions) (*Result, error) {
	period := e.config.Period
	assets := strat.RequiredAssets()

	seriesMap, err := e.data.LoadAll(ctx, assets, start, end)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperrors.NewAppError(apperrors.ErrCodeCancelled, "backtest cancelled", ctxErr)
		}
		return nil, err
	}

	sim := simulator.For(strat.Kind, e.simConfig)
	rnd := rng.New(rng.Derive(ro.seed, "simulator", strat.ID))

	var ai *aiBlender
	if ro.ai {
		p := predictor.New(e.predConfig, rng.New(rng.Derive(ro.seed, "predictor", strat.ID)), e.predictorOpts...)
		ai = newAIBlender(p, e.config.AIBlendWeight, e.config.FeatureLookback)
	}

	stats := NewStatsManager(strat.Capital())
	var (
		stance         simulator.Stance
		lastRebalance  time.Time
		rebalancePrice float64
	)

	for t := start; !t.After(end); t = t.Add(period) {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrCodeCancelled, "backtest cancelled", err)
		}

		out := sim.Step(simulator.Input{
			Strategy:       strat,
			Time:           t,
			Period:         period,
			Value:          stats.Value(),
			Stance:         stance,
			LastRebalance:  lastRebalance,
			RebalancePrice: rebalancePrice,
			Series:         seriesMap,
		}, rnd)

		r := out.Return
		if ai != nil {
			if out.HasFunding {
				r, err = ai.apply(ctx, strat, seriesMap[strat.PrimaryAsset()], t, out)
				if err != nil {
					return nil, err
				}
			} else {
				ai.skip()
			}
		}
		// value floor is zero
		r = math.Max(finite(r, 0), -1)

		if out.Rebalanced {
			lastRebalance = t
			rebalancePrice = out.Price
		}
		stance = out.Stance

		stats.Update(t, r, out)
	}

	totalDays := end.Sub(start).Hours() / 24
	m := stats.Calculate(totalDays, simulator.PeriodsPerYear(period), e.config.RiskFreeRate)

	result := &Result{
		StrategyID:       strat.ID,
		StrategyName:     strat.Name,
		Kind:             strat.Kind,
		StartDate:        start,
		EndDate:          end,
		Period:           period.String(),
		Seed:             ro.seed,
		InitialValue:     strat.Capital(),
		FinalValue:       stats.Value(),
		TotalReturn:      m.TotalReturn,
		AnnualizedReturn: m.AnnualizedReturn,
		Volatility:       m.Volatility,
		SharpeRatio:      m.SharpeRatio,
		SortinoRatio:     m.SortinoRatio,
		CalmarRatio:      m.CalmarRatio,
		MaxDrawdown:      m.MaxDrawdown,
		WinRate:          m.WinRate,
		Exposure:         stats.Exposure(),
		DailyReturns:     stats.Series(),
		MonthlyReturns:   stats.MonthlyReturns(),
		DataSources:      make(map[string]market.DataSource, len(seriesMap)),
		CreatedAt:        time.Now().UTC(),
	}
	for asset, s := range seriesMap {
		result.DataSources[asset] = s.Source
	}
	if strat.Kind == strategy.KindFundingRate {
		result.Funding = stats.FundingMetrics()
	}
	if ai != nil {
		result.AI = ai.stats()
	}
	return result, nil
}

func (e *Engine) observe(cfg *strategy.Config, status string, d time.Duration) {
	if e.observer == nil {
		return
	}
	kind := strategy.Kind("unknown")
	if cfg != nil {
		kind = cfg.Kind
	}
	e.observer.ObserveRun(kind, status, d)
}

func validateInput(cfg *strategy.Config, start, end time.Time) error {
	if cfg == nil {
		return apperrors.NewAppError(apperrors.ErrCodeStrategyInvalid, "strategy is required", nil)
	}
	if start.IsZero() || end.IsZero() {
		return apperrors.Validation("date_range", "start and end dates are required")
	}
	if !start.Before(end) {
		return apperrors.Validation("date_range",
			fmt.Sprintf("start %s must be before end %s", start.Format("2006-01-02"), end.Format("2006-01-02")))
	}
	return cfg.Validate()
}
