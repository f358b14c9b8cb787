package simulator

import (
	"math"

	"deltayield/internal/rng"
)

// Basis accrues a noisy yield around the target basis APY. Higher recent volume
// of the reference assets widens the basis and lifts the expected return.
type Basis struct {
	config Config
}

// NewBasis creates a basis trade simulator
func NewBasis(cfg Config) *Basis {
	return &Basis{config: cfg}
}

// Step implements Simulator
func (b *Basis) Step(in Input, rnd rng.Source) Output {
	base := b.config.BasisTargetAPY / PeriodsPerYear(in.Period)
	noise := uniform(rnd) * b.config.BasisNoise

	target := in.Strategy.EffectiveHedgeRatio()
	return Output{
		Return:     base * b.volumeFactor(in) * (1 + noise),
		Stance:     StanceNeutral,
		HedgeRatio: target,
	}
}

func (b *Basis) volumeFactor(in Input) float64 {
	if b.config.BasisVolumeReference <= 0 {
		return 1
	}

	from := in.Time.Add(-b.config.BasisVolumeLookback)
	to := in.Time.Add(in.Period)
	var sum float64
	var n int
	for _, asset := range in.Strategy.RequiredAssets() {
		series := in.Series[asset]
		if series == nil {
			continue
		}
		if v, ok := series.AverageVolume(from, to); ok && v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 1
	}

	factor := 1 + b.config.BasisVolumeSensitivity*math.Log10(sum/float64(n)/b.config.BasisVolumeReference)
	return math.Max(0.8, math.Min(1.2, factor))
}
