package main

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"

	"deltayield/internal/breaker"
	"deltayield/internal/cache"
	"deltayield/internal/config"
	"deltayield/internal/logger"
	"deltayield/internal/market"
	"deltayield/internal/market/binance"
	"deltayield/internal/market/synthetic"
	"deltayield/internal/monitor"
	"deltayield/internal/predictor"
	"deltayield/internal/rng"
	"deltayield/internal/strategy/backtest"
)

// app holds the services shared by every command
type app struct {
	cfg     *config.Config
	log     logger.Logger
	metrics *monitor.MetricsCollector
	health  *monitor.SystemHealthChecker

	cache       *cache.Manager
	live        *binance.Client
	provider    *market.Provider
	engine      *backtest.Engine
	predBreaker *breaker.Breaker
}

func newApp(cfg *config.Config) *app {
	a := &app{
		cfg:     cfg,
		log:     logger.Named("dnyield"),
		metrics: monitor.NewMetricsCollector(),
		health:  monitor.NewSystemHealthChecker(),
	}

	opts := []market.ProviderOption{market.WithObserver(a.metrics)}
	if cfg.Cache.Enabled {
		a.cache = cache.NewFromConfig(cfg.Cache, cfg.Redis, logger.Named("cache"))
		opts = append(opts, market.WithCache(a.cache))
	}
	if cfg.Data.Mode == market.ModeLive {
		a.live = binance.NewClient(cfg.Data.Binance, a.metrics.BreakerStateChanged)
		opts = append(opts, market.WithLiveSource(a.live))
	}
	a.provider = market.NewProvider(cfg.Data.Config, synthetic.New(cfg.Data.Synthetic), opts...)

	// 所有回测共享外部模型熔断器
	a.predBreaker = predictor.NewBreaker(cfg.Predictor.External, a.metrics.BreakerStateChanged)
	a.engine = backtest.NewEngine(a.provider, cfg.Backtest,
		backtest.WithSimulatorConfig(cfg.Simulator),
		backtest.WithPredictorConfig(cfg.Predictor, a.predictorOptions()...),
		backtest.WithObserver(a.metrics),
	)

	a.registerHealthChecks()
	return a
}

func (a *app) predictorOptions() []predictor.Option {
	return []predictor.Option{
		predictor.WithObserver(a.metrics.Predictor()),
		predictor.WithBreaker(a.predBreaker),
	}
}

// newPredictor builds a long-lived predictor whose history grows with every observation
func (a *app) newPredictor() predictor.Predictor {
	return predictor.New(a.cfg.Predictor, rng.NewLocked(a.cfg.Predictor.Seed), a.predictorOptions()...)
}

func (a *app) registerHealthChecks() {
	a.health.AddCheck("cache", "series cache", func(context.Context) (monitor.HealthStatus, error) {
		if a.cache == nil {
			return monitor.HealthStatusHealthy, nil
		}
		if a.cache.InFallback() {
			return monitor.HealthStatusDegraded, errors.New("redis unavailable, serving from memory")
		}
		return monitor.HealthStatusHealthy, nil
	})

	a.health.AddCheck("market_data", "market data source", func(context.Context) (monitor.HealthStatus, error) {
		if a.live == nil {
			return monitor.HealthStatusHealthy, nil
		}
		// 熔断打开时数据退化为合成数据
		if a.live.BreakerState() == gobreaker.StateOpen {
			return monitor.HealthStatusDegraded, errors.New("binance breaker open, using synthetic data")
		}
		return monitor.HealthStatusHealthy, nil
	})

	if a.cfg.Predictor.External.Enabled {
		a.health.AddCheck("predictor", "external prediction model", func(context.Context) (monitor.HealthStatus, error) {
			if a.predBreaker.State() == gobreaker.StateOpen {
				return monitor.HealthStatusDegraded, errors.New("external model breaker open, using statistical model")
			}
			return monitor.HealthStatusHealthy, nil
		})
	}
}

func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("Failed to close cache", "error", err)
		}
	}
}
