package simulator

import (
	"time"

	"deltayield/internal/market"
	"deltayield/internal/rng"
	"deltayield/internal/strategy"
)

// Stance is the funding position held by a simulator
type Stance string

const (
	StanceNone    Stance = ""
	StanceShort   Stance = "short"
	StanceLong    Stance = "long"
	StanceNeutral Stance = "neutral"
)

// StanceFor resolves the stance for a funding rate
func StanceFor(rate float64) Stance {
	switch {
	case rate > 0:
		return StanceShort
	case rate < 0:
		return StanceLong
	default:
		return StanceNeutral
	}
}

// Input is everything one step may look at. Carried state (stance, last rebalance)
// is owned by the caller and passed back in on the next step.
type Input struct {
	Strategy       *strategy.Config
	Time           time.Time
	Period         time.Duration
	Value          float64
	Stance         Stance
	LastRebalance  time.Time // zero before the first rebalance
	RebalancePrice float64
	Series         map[string]*market.Series
}

// Output is the period return plus the side channel read by the orchestrator
type Output struct {
	Return           float64 `json:"return"`
	FundingRate      float64 `json:"funding_rate"`
	HasFunding       bool    `json:"has_funding"`
	Stance           Stance  `json:"stance"`
	Switched         bool    `json:"switched"`
	Rebalanced       bool    `json:"rebalanced"`
	FundingCollected float64 `json:"funding_collected"` // fraction of portfolio value
	HedgeRatio       float64 `json:"hedge_ratio"`
	NetExposure      float64 `json:"net_exposure"`
	Price            float64 `json:"price"`
}

// Simulator advances a strategy by one period
type Simulator interface {
	Step(in Input, rnd rng.Source) Output
}

// Config holds every calibration constant of the simulators
type Config struct {
	FeeRate            float64       `yaml:"fee_rate" json:"fee_rate"`
	SlippageRate       float64       `yaml:"slippage_rate" json:"slippage_rate"`
	SettlementInterval time.Duration `yaml:"settlement_interval" json:"settlement_interval"`
	FundingPeriod      time.Duration `yaml:"funding_period" json:"funding_period"`
	HighRateThreshold  float64       `yaml:"high_rate_threshold" json:"high_rate_threshold"`
	AccrualEfficiency  float64       `yaml:"accrual_efficiency" json:"accrual_efficiency"`
	NeutralDrag        float64       `yaml:"neutral_drag" json:"neutral_drag"`
	MarketNoise        float64       `yaml:"market_noise" json:"market_noise"`
	ImpactScale        float64       `yaml:"impact_scale" json:"impact_scale"`
	PriceImpactBias    float64       `yaml:"price_impact_bias" json:"price_impact_bias"`
	HedgeImpactBias    float64       `yaml:"hedge_impact_bias" json:"hedge_impact_bias"`

	BasisTargetAPY         float64       `yaml:"basis_target_apy" json:"basis_target_apy"`
	BasisNoise             float64       `yaml:"basis_noise" json:"basis_noise"`
	BasisVolumeReference   float64       `yaml:"basis_volume_reference" json:"basis_volume_reference"`
	BasisVolumeSensitivity float64       `yaml:"basis_volume_sensitivity" json:"basis_volume_sensitivity"`
	BasisVolumeLookback    time.Duration `yaml:"basis_volume_lookback" json:"basis_volume_lookback"`

	BlendBasisWeight   float64 `yaml:"blend_basis_weight" json:"blend_basis_weight"`
	BlendFundingWeight float64 `yaml:"blend_funding_weight" json:"blend_funding_weight"`
	BlendStaticWeight  float64 `yaml:"blend_static_weight" json:"blend_static_weight"`
	StaticAPY          float64 `yaml:"static_apy" json:"static_apy"`
}

// DefaultConfig returns the reference calibration
func DefaultConfig() Config {
	return Config{
		FeeRate:            0.0005,
		SlippageRate:       0.001,
		SettlementInterval: 8 * time.Hour,
		FundingPeriod:      24 * time.Hour,
		HighRateThreshold:  0.001,
		AccrualEfficiency:  0.9,
		NeutralDrag:        -0.0001,
		MarketNoise:        0.001,
		ImpactScale:        0.001,
		PriceImpactBias:    0.6,
		HedgeImpactBias:    0.4,

		BasisTargetAPY:         0.10,
		BasisNoise:             0.5,
		BasisVolumeReference:   1e8,
		BasisVolumeSensitivity: 0.1,
		BasisVolumeLookback:    7 * 24 * time.Hour,

		BlendBasisWeight:   0.4,
		BlendFundingWeight: 0.4,
		BlendStaticWeight:  0.2,
		StaticAPY:          0.05,
	}
}

// For returns the simulator of a strategy kind. Kinds without a dedicated
// simulator get the blended one.
func For(kind strategy.Kind, cfg Config) Simulator {
	switch kind {
	case strategy.KindFundingRate:
		return NewFunding(cfg)
	case strategy.KindBasisTrade:
		return NewBasis(cfg)
	default:
		return NewBlended(cfg)
	}
}

// PeriodsPerYear converts a period length into an annualization factor
func PeriodsPerYear(period time.Duration) float64 {
	if period <= 0 {
		return 365
	}
	return float64(365*24*time.Hour) / float64(period)
}

// uniform returns a value in [-1, 1)
func uniform(rnd rng.Source) float64 {
	return (rnd.Float64() - 0.5) * 2
}
