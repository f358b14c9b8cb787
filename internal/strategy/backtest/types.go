package backtest

import (
	"time"

	"deltayield/internal/market"
	"deltayield/internal/strategy"
)

// Config represents backtest engine configuration
type Config struct {
	Period          time.Duration `yaml:"period" json:"period"`
	RiskFreeRate    float64       `yaml:"risk_free_rate" json:"risk_free_rate"`
	AIBlendWeight   float64       `yaml:"ai_blend_weight" json:"ai_blend_weight"`
	FeatureLookback time.Duration `yaml:"feature_lookback" json:"feature_lookback"`
	Seed            int64         `yaml:"seed" json:"seed"`
}

// DefaultConfig returns default backtest configuration
func DefaultConfig() Config {
	return Config{
		Period:          24 * time.Hour,
		RiskFreeRate:    0.02,
		AIBlendWeight:   0.2,
		FeatureLookback: 24 * time.Hour,
		Seed:            42,
	}
}

// Result is the full report of one backtest run
type Result struct {
	RunID        string        `json:"run_id"`
	StrategyID   string        `json:"strategy_id"`
	StrategyName string        `json:"strategy_name"`
	Kind         strategy.Kind `json:"kind"`
	StartDate    time.Time     `json:"start_date"`
	EndDate      time.Time     `json:"end_date"`
	Period       string        `json:"period"`
	Seed         int64         `json:"seed"`

	InitialValue     float64 `json:"initial_value"`
	FinalValue       float64 `json:"final_value"`
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Volatility       float64 `json:"volatility"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	CalmarRatio      float64 `json:"calmar_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	WinRate          float64 `json:"win_rate"`

	Exposure       ExposureStats                `json:"exposure"`
	DailyReturns   []PeriodReturn               `json:"daily_returns"`
	MonthlyReturns []MonthlyReturn              `json:"monthly_returns"`
	Funding        *FundingMetrics              `json:"funding,omitempty"`
	AI             *AIStats                     `json:"ai,omitempty"`
	DataSources    map[string]market.DataSource `json:"data_sources"`

	ElapsedMs int64     `json:"elapsed_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// PeriodReturn is one point of the value series
type PeriodReturn struct {
	Date   time.Time `json:"date"`
	Value  float64   `json:"value"`
	Return float64   `json:"return"`
}

// MonthlyReturn is the compounded return of one calendar month
type MonthlyReturn struct {
	Month  string  `json:"month"` // YYYY-MM
	Return float64 `json:"return"`
}

// ExposureStats summarizes residual exposure of the hedged book
type ExposureStats struct {
	AvgNetExposure float64 `json:"avg_net_exposure"`
	MaxNetExposure float64 `json:"max_net_exposure"`
	AvgHedgeRatio  float64 `json:"avg_hedge_ratio"`
}

// FundingMetrics are reported for funding rate strategies
type FundingMetrics struct {
	AverageRate      float64 `json:"average_funding_rate"`
	TotalCollected   float64 `json:"total_funding_collected"`
	PositionSwitches int     `json:"position_switches"`
	LongDays         int     `json:"long_days"`
	ShortDays        int     `json:"short_days"`
	NeutralDays      int     `json:"neutral_days"`
	LongShortRatio   float64 `json:"long_short_ratio"`
}

// AIStats are reported when predictor enhancement is on
type AIStats struct {
	Predictions        int     `json:"predictions"`
	Evaluated          int     `json:"evaluated"`
	Correct            int     `json:"correct"`
	PredictionAccuracy float64 `json:"ai_prediction_accuracy"`
}

// RunOption configures one Run call
type RunOption func(*runOptions)

type runOptions struct {
	ai   bool
	seed int64
}

// WithAIEnhancement blends predictor guidance into the simulated returns
func WithAIEnhancement() RunOption {
	return func(o *runOptions) { o.ai = true }
}

// WithSeed overrides the engine seed for one run
func WithSeed(seed int64) RunOption {
	return func(o *runOptions) { o.seed = seed }
}

// Observer receives run outcomes, typically for metrics
type Observer interface {
	ObserveRun(kind strategy.Kind, status string, duration time.Duration)
}
