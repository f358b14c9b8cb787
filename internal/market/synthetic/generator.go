package synthetic

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"deltayield/internal/market"
	"deltayield/internal/rng"
)

// AssetProfile holds the per-asset constants of the random walk
type AssetProfile struct {
	BasePrice       float64 `yaml:"base_price" json:"base_price"`
	DailyVolatility float64 `yaml:"daily_volatility" json:"daily_volatility"`
	BaseVolume      float64 `yaml:"base_volume" json:"base_volume"` // quote volume per hour
}

// Config represents synthetic generator configuration
type Config struct {
	Seed            int64                   `yaml:"seed" json:"seed"`
	Step            time.Duration           `yaml:"step" json:"step"`
	FundingInterval time.Duration           `yaml:"funding_interval" json:"funding_interval"`
	BaseFundingRate float64                 `yaml:"base_funding_rate" json:"base_funding_rate"`
	FundingNoise    float64                 `yaml:"funding_noise" json:"funding_noise"`
	InversionProb   float64                 `yaml:"inversion_probability" json:"inversion_probability"`
	TrendMinDays    float64                 `yaml:"trend_min_days" json:"trend_min_days"`
	TrendMaxDays    float64                 `yaml:"trend_max_days" json:"trend_max_days"`
	WeekendDiscount float64                 `yaml:"weekend_discount" json:"weekend_discount"`
	Exchange        string                  `yaml:"exchange" json:"exchange"`
	Profiles        map[string]AssetProfile `yaml:"profiles" json:"profiles"`
	DefaultProfile  AssetProfile            `yaml:"default_profile" json:"default_profile"`
}

// DefaultConfig returns the default generator configuration
func DefaultConfig() Config {
	stable := AssetProfile{BasePrice: 1, DailyVolatility: 0.0005, BaseVolume: 1e8}
	return Config{
		Seed:            42,
		Step:            time.Hour,
		FundingInterval: 8 * time.Hour,
		BaseFundingRate: 0.0001,
		FundingNoise:    0.00005,
		InversionProb:   0.1,
		TrendMinDays:    2,
		TrendMaxDays:    10,
		WeekendDiscount: 0.7,
		Exchange:        "synthetic",
		Profiles: map[string]AssetProfile{
			"SOL":  {BasePrice: 150, DailyVolatility: 0.05, BaseVolume: 5e7},
			"BTC":  {BasePrice: 60000, DailyVolatility: 0.03, BaseVolume: 1e9},
			"ETH":  {BasePrice: 3000, DailyVolatility: 0.04, BaseVolume: 4e8},
			"USDC": stable,
			"USDT": stable,
			"USDS": stable,
			"DAI":  stable,
		},
		DefaultProfile: AssetProfile{BasePrice: 100, DailyVolatility: 0.04, BaseVolume: 1e7},
	}
}

// Generator produces deterministic trending random walks. The same (seed, asset,
// start, end) always yields the same samples.
type Generator struct {
	config Config
}

// New creates a generator
func New(cfg Config) *Generator {
	if cfg.Step <= 0 {
		cfg.Step = time.Hour
	}
	if cfg.FundingInterval <= 0 {
		cfg.FundingInterval = 8 * time.Hour
	}
	if cfg.TrendMaxDays < cfg.TrendMinDays {
		cfg.TrendMaxDays = cfg.TrendMinDays
	}
	return &Generator{config: cfg}
}

// Name implements market.Source
func (g *Generator) Name() string {
	return "synthetic"
}

// Profile returns the constants used for asset
func (g *Generator) Profile(asset string) AssetProfile {
	if p, ok := g.config.Profiles[strings.ToUpper(asset)]; ok {
		return p
	}
	return g.config.DefaultProfile
}

// trend is the persistent regime biasing the walk
type trend struct {
	direction float64 // -1 or +1
	strength  float64 // [0.1, 1)
	remaining int     // steps left in this regime
}

// FetchSeries implements market.Source
func (g *Generator) FetchSeries(ctx context.Context, asset string, start, end time.Time) ([]market.Sample, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("end %s before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	asset = strings.ToUpper(asset)
	r := rng.New(rng.Derive(g.config.Seed, asset, start.UnixMilli(), end.UnixMilli()))
	return g.generate(ctx, r, asset, start.UTC(), end.UTC())
}

func (g *Generator) generate(ctx context.Context, r rng.Source, asset string, start, end time.Time) ([]market.Sample, error) {
	profile := g.Profile(asset)
	step := g.config.Step
	stepsPerDay := float64(24*time.Hour) / float64(step)
	stepVol := profile.DailyVolatility / math.Sqrt(stepsPerDay)

	t := start.Truncate(step)
	price := profile.BasePrice * (1 + (r.Float64()-0.5)*0.2)
	tr := g.rollTrend(r, stepsPerDay)

	n := int(end.Sub(t)/step) + 1
	samples := make([]market.Sample, 0, n)

	for i := 0; !t.After(end); i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if tr.remaining <= 0 {
			tr = g.rollTrend(r, stepsPerDay)
		}
		tr.remaining--

		if i > 0 {
			drift := tr.direction * tr.strength * stepVol * 0.1
			price *= math.Exp(drift + stepVol*r.NormFloat64())
		}

		volume := g.volume(r, profile, price, t)
		sample := market.Sample{
			Timestamp: t.UnixMilli(),
			Price:     price,
			Volume:    market.Float(volume),
			Asset:     asset,
			Exchange:  g.config.Exchange,
		}
		if t.UnixNano()%int64(g.config.FundingInterval) == 0 {
			sample.FundingRate = market.Float(g.fundingRate(r, tr))
		}
		samples = append(samples, sample)

		t = t.Add(step)
	}

	return samples, nil
}

// rollTrend picks a new regime lasting TrendMinDays..TrendMaxDays
func (g *Generator) rollTrend(r rng.Source, stepsPerDay float64) trend {
	direction := 1.0
	if r.Float64() < 0.5 {
		direction = -1
	}
	days := g.config.TrendMinDays + r.Float64()*(g.config.TrendMaxDays-g.config.TrendMinDays)
	steps := int(math.Round(days * stepsPerDay))
	if steps < 1 {
		steps = 1
	}
	return trend{
		direction: direction,
		strength:  0.1 + r.Float64()*0.9,
		remaining: steps,
	}
}

// fundingRate follows the trend, with noise and occasional sign inversion
func (g *Generator) fundingRate(r rng.Source, tr trend) float64 {
	rate := g.config.BaseFundingRate*(1+tr.direction*tr.strength*2) + r.NormFloat64()*g.config.FundingNoise
	if r.Float64() < g.config.InversionProb {
		rate = -rate
	}
	return rate
}

// volume scales the base volume with price, time of day and weekday
func (g *Generator) volume(r rng.Source, p AssetProfile, price float64, t time.Time) float64 {
	tod := 1.0
	switch h := t.Hour(); {
	case h >= 13 && h < 21:
		tod = 1.3
	case h < 7:
		tod = 0.7
	}
	weekend := 1.0
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		weekend = g.config.WeekendDiscount
	}
	noise := 1 + (r.Float64()-0.5)*0.4
	base := p.BaseVolume
	if p.BasePrice > 0 {
		base *= price / p.BasePrice
	}
	return base * tod * weekend * noise
}
