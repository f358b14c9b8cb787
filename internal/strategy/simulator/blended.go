package simulator

import (
	"deltayield/internal/rng"
)

// Blended combines the basis and funding simulators with a static low risk
// yield so every strategy kind produces a result.
type Blended struct {
	config  Config
	basis   *Basis
	funding *Funding
}

// NewBlended creates a blended simulator
func NewBlended(cfg Config) *Blended {
	return &Blended{
		config:  cfg,
		basis:   NewBasis(cfg),
		funding: NewFunding(cfg),
	}
}

// Step implements Simulator. The funding side channel is carried through so the
// caller keeps stance and rebalance state.
func (b *Blended) Step(in Input, rnd rng.Source) Output {
	basis := b.basis.Step(in, rnd)
	funding := b.funding.Step(in, rnd)
	static := b.config.StaticAPY / PeriodsPerYear(in.Period)

	out := funding
	out.Return = b.config.BlendBasisWeight*basis.Return +
		b.config.BlendFundingWeight*funding.Return +
		b.config.BlendStaticWeight*static
	out.FundingCollected = b.config.BlendFundingWeight * funding.FundingCollected
	out.NetExposure = b.config.BlendFundingWeight * funding.NetExposure
	return out
}
