package strategy

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	apperrors "deltayield/internal/errors"
)

// Kind enumerates the strategy archetypes
type Kind string

const (
	KindBasisTrade    Kind = "basis_trade"
	KindFundingRate   Kind = "funding_rate"
	KindStakingHedged Kind = "staking_hedged"
	KindLPHedged      Kind = "lp_hedged"
	KindMultiProtocol Kind = "multi_protocol"
)

// Kinds lists every supported kind
var Kinds = []Kind{KindBasisTrade, KindFundingRate, KindStakingHedged, KindLPHedged, KindMultiProtocol}

// IsValid reports whether k is a known kind
func (k Kind) IsValid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// DefaultAssets is the per-kind required asset mapping. The first entry is the primary asset.
var DefaultAssets = map[Kind][]string{
	KindFundingRate:   {"SOL"},
	KindBasisTrade:    {"SOL", "ETH"},
	KindStakingHedged: {"SOL"},
	KindLPHedged:      {"SOL", "USDC"},
	KindMultiProtocol: {"SOL", "ETH", "BTC"},
}

// Config describes a strategy to backtest. It is read-only input to the engine.
type Config struct {
	ID                 string          `json:"id" yaml:"id"`
	Name               string          `json:"name" yaml:"name"`
	Kind               Kind            `json:"kind" yaml:"kind"`
	USDCAllocated      decimal.Decimal `json:"usdc_allocated" yaml:"usdc_allocated"`
	RiskScore          int             `json:"risk_score" yaml:"risk_score"`
	TargetAPY          float64         `json:"target_apy" yaml:"target_apy"`
	CurrentAPY         float64         `json:"current_apy" yaml:"current_apy"`
	HedgeRatio         float64         `json:"hedge_ratio" yaml:"hedge_ratio"`
	MaxLeverage        float64         `json:"max_leverage" yaml:"max_leverage"`
	RebalanceThreshold float64         `json:"rebalance_threshold" yaml:"rebalance_threshold"`
	RebalanceFrequency int64           `json:"rebalance_frequency" yaml:"rebalance_frequency"` // seconds
	// Assets overrides the kind's default asset mapping
	Assets []string `json:"assets,omitempty" yaml:"assets,omitempty"`
}

// Validate returns a STRATEGY_INVALID error listing every problem found
func (c Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.ID) == "" {
		problems = append(problems, "id is required")
	}
	if !c.Kind.IsValid() {
		problems = append(problems, fmt.Sprintf("unknown kind %q", c.Kind))
	}
	if !c.USDCAllocated.IsPositive() {
		problems = append(problems, fmt.Sprintf("usdc_allocated must be positive, got %s", c.USDCAllocated.String()))
	}
	if c.RiskScore < 1 || c.RiskScore > 100 {
		problems = append(problems, fmt.Sprintf("risk_score must be within [1,100], got %d", c.RiskScore))
	}
	for name, v := range map[string]float64{
		"target_apy":          c.TargetAPY,
		"current_apy":         c.CurrentAPY,
		"hedge_ratio":         c.HedgeRatio,
		"max_leverage":        c.MaxLeverage,
		"rebalance_threshold": c.RebalanceThreshold,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			problems = append(problems, name+" must be finite")
		}
	}
	if c.HedgeRatio < 0 {
		problems = append(problems, "hedge_ratio must not be negative")
	}
	if c.MaxLeverage < 0 {
		problems = append(problems, "max_leverage must not be negative")
	}
	if c.RebalanceThreshold < 0 {
		problems = append(problems, "rebalance_threshold must not be negative")
	}
	if c.RebalanceFrequency < 0 {
		problems = append(problems, "rebalance_frequency must not be negative")
	}
	for _, a := range c.Assets {
		if strings.TrimSpace(a) == "" {
			problems = append(problems, "assets must not contain empty symbols")
			break
		}
	}

	if len(problems) == 0 {
		return nil
	}
	// map iteration above is unordered
	sort.Strings(problems)
	return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeStrategyInvalid,
		"invalid strategy configuration", strings.Join(problems, "; "), nil).
		WithContext("strategy_id", c.ID)
}

// RequiredAssets resolves the asset list for this strategy
func (c Config) RequiredAssets() []string {
	if len(c.Assets) > 0 {
		return normalizeAssets(c.Assets)
	}
	return append([]string(nil), DefaultAssets[c.Kind]...)
}

// PrimaryAsset is the asset whose funding rate drives the strategy
func (c Config) PrimaryAsset() string {
	assets := c.RequiredAssets()
	if len(assets) == 0 {
		return ""
	}
	return assets[0]
}

// Leverage is MaxLeverage with 0 meaning unlevered
func (c Config) Leverage() float64 {
	if c.MaxLeverage <= 0 {
		return 1
	}
	return c.MaxLeverage
}

// EffectiveHedgeRatio treats an unset hedge ratio as fully hedged
func (c Config) EffectiveHedgeRatio() float64 {
	if c.HedgeRatio <= 0 {
		return 1
	}
	return c.HedgeRatio
}

// Capital returns the allocated capital as a float for simulation
func (c Config) Capital() float64 {
	return c.USDCAllocated.InexactFloat64()
}

// RebalanceInterval converts RebalanceFrequency to a duration
func (c Config) RebalanceInterval() time.Duration {
	return time.Duration(c.RebalanceFrequency) * time.Second
}

func normalizeAssets(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, a := range in {
		a = strings.ToUpper(strings.TrimSpace(a))
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// Parse decodes a strategy from YAML or JSON. format is "yaml" or "json".
func Parse(data []byte, format string) (*Config, error) {
	var cfg Config
	var err error
	switch strings.ToLower(format) {
	case "json":
		err = json.Unmarshal(data, &cfg)
	case "yaml", "yml", "":
		err = yaml.Unmarshal(data, &cfg)
	default:
		return nil, apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "unsupported strategy format: "+format, nil)
	}
	if err != nil {
		return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeStrategyInvalid, "failed to decode strategy", err.Error(), err)
	}
	return &cfg, nil
}

// LoadFile reads a strategy file, picking the decoder from the extension
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy file: %w", err)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format != "json" {
		format = "yaml"
	}
	return Parse(data, format)
}
