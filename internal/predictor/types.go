package predictor

import (
	"context"
	"time"

	"deltayield/internal/market/funding"
)

// Action is the recommended position stance
type Action string

const (
	ActionLong    Action = "long"
	ActionShort   Action = "short"
	ActionNeutral Action = "neutral"
	ActionAvoid   Action = "avoid"
)

// IsValid reports whether a is a known action
func (a Action) IsValid() bool {
	switch a {
	case ActionLong, ActionShort, ActionNeutral, ActionAvoid:
		return true
	}
	return false
}

// Direction maps an action to +1 (short side collects), -1 (long side collects) or 0
func (a Action) Direction() int {
	switch a {
	case ActionShort:
		return 1
	case ActionLong:
		return -1
	}
	return 0
}

// Model names the path that produced a prediction
type Model string

const (
	ModelStatistical Model = "statistical"
	ModelExternal    Model = "external"
)

// Snapshot is one observed funding rate
type Snapshot = funding.Rate

// Features are the market features of one asset
type Features struct {
	Asset      string  `json:"asset"`
	Price      float64 `json:"price"`
	Volatility float64 `json:"volatility"`
	Volume     float64 `json:"volume"`
}

// Prediction is the forecast for one asset/exchange pair
type Prediction struct {
	Asset               string    `json:"asset"`
	Exchange            string    `json:"exchange"`
	CurrentRate         float64   `json:"current_rate"`
	Predictions         []float64 `json:"predictions"`
	Confidence          float64   `json:"confidence"`
	ExpectedAnnualYield float64   `json:"expected_annual_yield"`
	VolatilityScore     float64   `json:"volatility_score"`
	Action              Action    `json:"recommended_action"`
	Reasoning           string    `json:"reasoning"`
	Model               Model     `json:"model"`
	GeneratedAt         time.Time `json:"generated_at"`
}

// MeanRate averages the predicted rates
func (p Prediction) MeanRate() float64 {
	if len(p.Predictions) == 0 {
		return 0
	}
	var sum float64
	for _, r := range p.Predictions {
		sum += r
	}
	return sum / float64(len(p.Predictions))
}

// Predictor produces one prediction per rate whose asset has matching features.
// Rates without features are skipped. The only error is cancellation.
type Predictor interface {
	Predict(ctx context.Context, rates []Snapshot, features []Features) ([]Prediction, error)
	Observe(rate Snapshot)
}

// Observer receives predictor events, typically for metrics
type Observer interface {
	ObservePrediction(model Model, duration time.Duration)
	ObserveFallback(reason string)
}

// Config represents predictor configuration
type Config struct {
	Horizon         int     `yaml:"horizon" json:"horizon"`
	ReversionSpeed  float64 `yaml:"reversion_speed" json:"reversion_speed"`
	TrendWeight     float64 `yaml:"trend_weight" json:"trend_weight"`
	SeedVariance    float64 `yaml:"seed_variance" json:"seed_variance"`
	NoiseScale      float64 `yaml:"noise_scale" json:"noise_scale"`
	ShortThreshold  float64 `yaml:"short_threshold" json:"short_threshold"`
	LongThreshold   float64 `yaml:"long_threshold" json:"long_threshold"`
	AvoidVolatility float64 `yaml:"avoid_volatility" json:"avoid_volatility"`
	HistoryLimit    int     `yaml:"history_limit" json:"history_limit"`
	Seed            int64   `yaml:"seed" json:"seed"`

	External ExternalConfig `yaml:"external" json:"external"`
}

// ExternalConfig represents the external model endpoint
type ExternalConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	URL             string        `yaml:"url" json:"url"`
	APIKey          string        `yaml:"api_key" json:"-"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	BreakerFailures uint32        `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout" json:"breaker_timeout"`
}

// DefaultConfig returns default predictor configuration
func DefaultConfig() Config {
	return Config{
		Horizon:         24,
		ReversionSpeed:  0.1,
		TrendWeight:     0.2,
		SeedVariance:    0.0001,
		NoiseScale:      0.1,
		ShortThreshold:  0.01,
		LongThreshold:   -0.01,
		AvoidVolatility: 0.05,
		HistoryLimit:    1000,
		Seed:            42,
		External: ExternalConfig{
			Timeout:         10 * time.Second,
			BreakerFailures: 3,
			BreakerTimeout:  60 * time.Second,
		},
	}
}
