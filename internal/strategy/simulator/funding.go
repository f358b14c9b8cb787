package simulator

import (
	"math"

	"deltayield/internal/rng"
)

// Funding simulates a delta neutral perpetual position that collects funding on
// the paying side of the primary asset.
type Funding struct {
	config Config
}

// NewFunding creates a funding rate simulator
func NewFunding(cfg Config) *Funding {
	if cfg.SettlementInterval <= 0 {
		cfg.SettlementInterval = DefaultConfig().SettlementInterval
	}
	if cfg.FundingPeriod <= 0 {
		cfg.FundingPeriod = DefaultConfig().FundingPeriod
	}
	return &Funding{config: cfg}
}

// Step implements Simulator. A period without funding data returns zero and keeps the stance.
// |rate| x leverage is earned per FundingPeriod; trading cost is only charged when the
// position changes.
func (f *Funding) Step(in Input, rnd rng.Source) Output {
	target := in.Strategy.EffectiveHedgeRatio()
	leverage := in.Strategy.Leverage()

	series := in.Series[in.Strategy.PrimaryAsset()]
	if series == nil {
		return f.gap(in, target, 0)
	}
	price, _ := series.PriceAt(in.Time)
	rate, ok := series.FundingAt(in.Time, in.Period)
	if !ok {
		return f.gap(in, target, price)
	}

	stance := StanceFor(rate)
	out := Output{
		FundingRate: rate,
		HasFunding:  true,
		Stance:      stance,
		Switched:    in.Stance != StanceNone && stance != in.Stance,
		Price:       price,
	}

	// 仓位变化: 首次建仓, 换向, 或对冲比例偏离超过阈值
	drifted := drift(target, in.RebalancePrice, price)
	adjust := (stance != StanceNeutral && stance != in.Stance) ||
		(in.Strategy.RebalanceThreshold > 0 && math.Abs(drifted-target)/target > in.Strategy.RebalanceThreshold)

	elapsed := in.Time.Sub(in.LastRebalance)
	rebalance := adjust ||
		in.LastRebalance.IsZero() ||
		elapsed >= f.config.SettlementInterval ||
		math.Abs(rate) > f.config.HighRateThreshold

	fundingProfit := math.Abs(rate) * leverage * float64(in.Period) / float64(f.config.FundingPeriod)

	switch {
	case stance == StanceNeutral:
		out.Return = f.config.NeutralDrag
	case rebalance:
		priceImpact, hedgeImpact := f.impacts(stance, rnd)
		out.Return = fundingProfit + priceImpact + hedgeImpact
		if adjust && in.Value > 0 {
			cost := in.Value*f.config.FeeRate*2 + in.Value*f.config.SlippageRate*2
			out.Return -= cost / in.Value
		}
		out.FundingCollected = fundingProfit
		out.Rebalanced = true
	default:
		out.FundingCollected = fundingProfit * f.config.AccrualEfficiency
		out.Return = out.FundingCollected
	}

	out.Return += uniform(rnd) * f.config.MarketNoise

	switch {
	case stance == StanceNeutral:
		out.HedgeRatio = target
	case out.Rebalanced:
		out.HedgeRatio = target
	default:
		out.HedgeRatio = drifted
		out.NetExposure = math.Abs(1-out.HedgeRatio) * leverage
	}
	return out
}

// impacts returns opposing price and hedge slippage terms. The leg on the
// paying side carries the negative bias.
func (f *Funding) impacts(stance Stance, rnd rng.Source) (float64, float64) {
	priceBias, hedgeBias := f.config.PriceImpactBias, f.config.HedgeImpactBias
	if stance == StanceLong {
		priceBias, hedgeBias = hedgeBias, priceBias
	}
	priceImpact := (rnd.Float64() - priceBias) * f.config.ImpactScale
	hedgeImpact := (rnd.Float64() - hedgeBias) * f.config.ImpactScale
	return priceImpact, hedgeImpact
}

func (f *Funding) gap(in Input, target, price float64) Output {
	out := Output{Stance: in.Stance, Price: price, HedgeRatio: target}
	if in.Stance == StanceShort || in.Stance == StanceLong {
		out.HedgeRatio = drift(target, in.RebalancePrice, price)
		out.NetExposure = math.Abs(1-out.HedgeRatio) * in.Strategy.Leverage()
	}
	return out
}

// drift is the realized hedge ratio after the price moved away from the
// rebalance price
func drift(target, rebalancePrice, price float64) float64 {
	if rebalancePrice <= 0 || price <= 0 {
		return target
	}
	return target * rebalancePrice / price
}
