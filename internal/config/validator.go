package config

import (
	"fmt"
	"net/url"
	"strings"

	"deltayield/internal/logger"
	"deltayield/internal/market"
	"deltayield/internal/strategy"
)

// Validator 配置验证器
type Validator struct {
	config *Config
}

// NewValidator 创建配置验证器
func NewValidator(config *Config) *Validator {
	return &Validator{
		config: config,
	}
}

// Validate 验证配置, 汇总所有分区的错误
func (v *Validator) Validate() error {
	var errors []string

	sections := []struct {
		name  string
		check func() error
	}{
		{"app", v.validateApp},
		{"server", v.validateServer},
		{"logging", v.validateLogging},
		{"redis", v.validateRedis},
		{"data", v.validateData},
		{"predictor", v.validatePredictor},
		{"simulator", v.validateSimulator},
		{"backtest", v.validateBacktest},
		{"monitoring", v.validateMonitoring},
		{"schedules", v.validateSchedules},
		{"strategy", validateAssetMapping},
	}
	for _, s := range sections {
		if err := s.check(); err != nil {
			errors = append(errors, fmt.Sprintf("%s: %v", s.name, err))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("config validation failed:\n%s", strings.Join(errors, "\n"))
	}
	return nil
}

func (v *Validator) validateApp() error {
	app := v.config.App
	if app.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch app.Env {
	case "development", "test", "staging", "production":
		return nil
	}
	return fmt.Errorf("invalid env %q, expected development, test, staging or production", app.Env)
}

func (v *Validator) validateServer() error {
	s := v.config.Server
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("port must be within 1-65535, got %d", s.Port)
	}
	switch s.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("invalid mode %q", s.Mode)
	}
	if s.ReadTimeout <= 0 || s.WriteTimeout <= 0 {
		return fmt.Errorf("read_timeout and write_timeout must be positive")
	}
	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if s.RunTimeout < 0 {
		return fmt.Errorf("run_timeout must not be negative")
	}
	return nil
}

func (v *Validator) validateLogging() error {
	l := v.config.Logging
	if !logger.IsValidLevel(l.Level) {
		return fmt.Errorf("invalid level %q", l.Level)
	}
	if l.Format != logger.FormatJSON && l.Format != logger.FormatText {
		return fmt.Errorf("invalid format %q", l.Format)
	}
	switch l.Output {
	case "stdout", "stderr":
	case "file":
		if l.Filename == "" {
			return fmt.Errorf("filename is required when output is file")
		}
	default:
		return fmt.Errorf("invalid output %q", l.Output)
	}
	return nil
}

func (v *Validator) validateRedis() error {
	r := v.config.Redis
	if !r.Enabled {
		return nil
	}
	if r.Addr == "" {
		return fmt.Errorf("addr is required when redis is enabled")
	}
	if r.DB < 0 {
		return fmt.Errorf("db must not be negative")
	}
	if r.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}
	return nil
}

func (v *Validator) validateData() error {
	d := v.config.Data
	switch d.Mode {
	case market.ModeLive, market.ModeSynthetic:
	default:
		return fmt.Errorf("unknown mode %q", d.Mode)
	}
	if d.MinSamples <= 0 {
		return fmt.Errorf("min_samples must be positive")
	}
	if d.CacheTTL < 0 || d.FallbackCacheTTL < 0 {
		return fmt.Errorf("cache ttl must not be negative")
	}

	if d.Mode == market.ModeLive {
		if _, err := url.ParseRequestURI(d.Binance.BaseURL); err != nil {
			return fmt.Errorf("invalid binance base_url: %w", err)
		}
		if d.Binance.RequestsPerSec <= 0 {
			return fmt.Errorf("binance requests_per_second must be positive")
		}
		if d.Binance.KlineLimit <= 0 || d.Binance.FundingLimit <= 0 {
			return fmt.Errorf("binance page limits must be positive")
		}
	}

	syn := d.Synthetic
	if syn.Step <= 0 || syn.FundingInterval <= 0 {
		return fmt.Errorf("synthetic step and funding_interval must be positive")
	}
	if syn.InversionProb < 0 || syn.InversionProb > 1 {
		return fmt.Errorf("synthetic inversion_probability must be within [0,1]")
	}
	if syn.TrendMinDays <= 0 || syn.TrendMaxDays < syn.TrendMinDays {
		return fmt.Errorf("synthetic trend days must satisfy 0 < min <= max")
	}
	return nil
}

func (v *Validator) validatePredictor() error {
	p := v.config.Predictor
	if p.Horizon <= 0 {
		return fmt.Errorf("horizon must be positive")
	}
	if p.ReversionSpeed <= 0 || p.ReversionSpeed > 1 {
		return fmt.Errorf("reversion_speed must be within (0,1]")
	}
	if p.SeedVariance < 0 || p.NoiseScale < 0 || p.AvoidVolatility <= 0 {
		return fmt.Errorf("variance, noise and avoid_volatility must be non-negative")
	}
	if p.ShortThreshold <= p.LongThreshold {
		return fmt.Errorf("short_threshold must exceed long_threshold")
	}
	if p.HistoryLimit <= 0 {
		return fmt.Errorf("history_limit must be positive")
	}
	if p.External.Enabled {
		if _, err := url.ParseRequestURI(p.External.URL); err != nil {
			return fmt.Errorf("invalid external url: %w", err)
		}
		if p.External.Timeout <= 0 {
			return fmt.Errorf("external timeout must be positive")
		}
	}
	return nil
}

func (v *Validator) validateSimulator() error {
	s := v.config.Simulator
	for name, rate := range map[string]float64{
		"fee_rate":      s.FeeRate,
		"slippage_rate": s.SlippageRate,
		"market_noise":  s.MarketNoise,
		"impact_scale":  s.ImpactScale,
	} {
		if rate < 0 || rate >= 1 {
			return fmt.Errorf("%s must be within [0,1), got %v", name, rate)
		}
	}
	if s.SettlementInterval <= 0 || s.FundingPeriod <= 0 {
		return fmt.Errorf("settlement_interval and funding_period must be positive")
	}
	if s.AccrualEfficiency < 0 || s.AccrualEfficiency > 1 {
		return fmt.Errorf("accrual_efficiency must be within [0,1]")
	}
	if s.BasisVolumeReference <= 0 || s.BasisVolumeLookback <= 0 {
		return fmt.Errorf("basis volume reference and lookback must be positive")
	}
	weights := []float64{s.BlendBasisWeight, s.BlendFundingWeight, s.BlendStaticWeight}
	total := 0.0
	for _, w := range weights {
		if w < 0 {
			return fmt.Errorf("blend weights must not be negative")
		}
		total += w
	}
	if total <= 0 {
		return fmt.Errorf("blend weights must not all be zero")
	}
	return nil
}

func (v *Validator) validateBacktest() error {
	b := v.config.Backtest
	if b.Period <= 0 {
		return fmt.Errorf("period must be positive")
	}
	if b.RiskFreeRate < 0 || b.RiskFreeRate >= 1 {
		return fmt.Errorf("risk_free_rate must be within [0,1)")
	}
	if b.AIBlendWeight < 0 || b.AIBlendWeight > 1 {
		return fmt.Errorf("ai_blend_weight must be within [0,1]")
	}
	if b.FeatureLookback <= 0 {
		return fmt.Errorf("feature_lookback must be positive")
	}
	return nil
}

func (v *Validator) validateMonitoring() error {
	m := v.config.Monitoring
	if m.PrometheusEnabled && !strings.HasPrefix(m.PrometheusPath, "/") {
		return fmt.Errorf("prometheus_path must start with /")
	}
	return nil
}

func (v *Validator) validateSchedules() error {
	seen := make(map[string]bool)
	var problems []string
	for _, job := range v.config.Schedules {
		if err := job.Validate(); err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if seen[job.Name] {
			problems = append(problems, "duplicate schedule name "+job.Name)
		}
		seen[job.Name] = true
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

func validateAssetMapping() error {
	for _, kind := range strategy.Kinds {
		if len(strategy.DefaultAssets[kind]) == 0 {
			return fmt.Errorf("no assets mapped for kind %s", kind)
		}
	}
	return nil
}
