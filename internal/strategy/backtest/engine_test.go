package backtest

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltayield/internal/cache"
	apperrors "deltayield/internal/errors"
	"deltayield/internal/logger"
	"deltayield/internal/market"
	"deltayield/internal/market/synthetic"
	"deltayield/internal/strategy"
	"deltayield/internal/strategy/simulator"
)

var (
	jan1  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan31 = time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
)

// scriptedProvider serves hourly series whose funding rate at each 8h slot comes from rate.
// Hours for which skip returns true are left out entirely.
type scriptedProvider struct {
	rate  func(slot int) float64
	skip  func(ts time.Time) bool
	calls int32
}

func (p *scriptedProvider) GetSeries(_ context.Context, asset string, start, end time.Time) (*market.Series, error) {
	atomic.AddInt32(&p.calls, 1)
	var samples []market.Sample
	for ts := start; !ts.After(end); ts = ts.Add(time.Hour) {
		if p.skip != nil && p.skip(ts) {
			continue
		}
		s := market.Sample{Timestamp: ts.UnixMilli(), Price: 150, Volume: market.Float(1e8), Asset: asset}
		if offset := ts.Sub(start); offset%(8*time.Hour) == 0 {
			s.FundingRate = market.Float(p.rate(int(offset / (8 * time.Hour))))
		}
		samples = append(samples, s)
	}
	return market.NewSeries(asset, market.SourceSynthetic, samples), nil
}

func (p *scriptedProvider) LoadAll(ctx context.Context, assets []string, start, end time.Time) (map[string]*market.Series, error) {
	out := make(map[string]*market.Series, len(assets))
	for _, a := range assets {
		s, err := p.GetSeries(ctx, a, start, end)
		if err != nil {
			return nil, err
		}
		out[a] = s
	}
	return out, nil
}

func constantRate(r float64) func(int) float64 {
	return func(int) float64 { return r }
}

func fundingStrategy() *strategy.Config {
	return &strategy.Config{
		ID:            "funding-sol",
		Name:          "SOL funding capture",
		Kind:          strategy.KindFundingRate,
		USDCAllocated: decimal.NewFromInt(100000),
		RiskScore:     40,
		HedgeRatio:    1,
		MaxLeverage:   5,
	}
}

// noiseFree switches off the stochastic terms so the scripted rate path alone drives returns
func noiseFree() simulator.Config {
	cfg := simulator.DefaultConfig()
	cfg.MarketNoise = 0
	cfg.ImpactScale = 0
	return cfg
}

func newTestEngine(data market.DataProvider) *Engine {
	return NewEngine(data, DefaultConfig(), WithLogger(logger.NewNopLogger()))
}

func assertCompounds(t *testing.T, res *Result) {
	t.Helper()
	product := res.InitialValue
	for _, p := range res.DailyReturns {
		product *= 1 + p.Return
	}
	assert.InEpsilon(t, res.FinalValue, product, 1e-9)
}

func TestConstantPositiveFunding(t *testing.T) {
	data := &scriptedProvider{rate: constantRate(0.0005)}
	strat := fundingStrategy()
	strat.MaxLeverage = 0
	engine := NewEngine(data, DefaultConfig(), WithSimulatorConfig(noiseFree()), WithLogger(logger.NewNopLogger()))

	res, err := engine.Run(context.Background(), strat, jan1, jan31)
	require.NoError(t, err)
	require.Len(t, res.DailyReturns, 31)

	// entry day pays the round trip, afterwards the held short only collects funding
	assert.InDelta(t, 0.0005-0.003, res.DailyReturns[0].Return, 1e-12)
	for i := 1; i < len(res.DailyReturns); i++ {
		assert.InDelta(t, 0.0005, res.DailyReturns[i].Return, 1e-12, "day %d", i)
		assert.GreaterOrEqual(t, res.DailyReturns[i].Value, res.DailyReturns[i-1].Value)
	}
	require.NotNil(t, res.Funding)
	assert.Equal(t, 0, res.Funding.PositionSwitches)
	assert.Equal(t, 31, res.Funding.ShortDays)
	assert.Equal(t, 0, res.Funding.LongDays)
	assert.InDelta(t, 0.0005, res.Funding.AverageRate, 1e-15)
	assert.Greater(t, res.Funding.TotalCollected, 0.0)
	assert.InDelta(t, 30.0/31.0, res.WinRate, 1e-9)
	assert.InDelta(t, 0.0025, res.MaxDrawdown, 1e-9)
	assert.Greater(t, res.FinalValue, res.InitialValue)
	// a single negative return has no downside deviation
	assert.Equal(t, res.SharpeRatio, res.SortinoRatio)
	assert.Equal(t, market.SourceSynthetic, res.DataSources["SOL"])
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "24h0m0s", res.Period)
	assertCompounds(t, res)
}

func TestAlternatingFunding(t *testing.T) {
	data := &scriptedProvider{rate: func(slot int) float64 {
		if slot%2 == 0 {
			return 0.0005
		}
		return -0.0005
	}}
	res, err := newTestEngine(data).Run(context.Background(), fundingStrategy(), jan1, jan31)
	require.NoError(t, err)

	require.NotNil(t, res.Funding)
	assert.Greater(t, res.Funding.PositionSwitches, 0)
	assert.Equal(t, 30, res.Funding.PositionSwitches)
	assert.InDelta(t, 1.0, res.Funding.LongShortRatio, 0.1)
	assertCompounds(t, res)
}

func TestSameDayRangeRejected(t *testing.T) {
	data := &scriptedProvider{rate: constantRate(0.0005)}
	_, err := newTestEngine(data).Run(context.Background(), fundingStrategy(), jan1, jan1)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
	assert.Equal(t, int32(0), atomic.LoadInt32(&data.calls))

	_, err = newTestEngine(data).Run(context.Background(), fundingStrategy(), jan31, jan1)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}

func TestDataGapYieldsZeroReturns(t *testing.T) {
	gapStart := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	gapEnd := gapStart.Add(48 * time.Hour)
	data := &scriptedProvider{
		rate: constantRate(0.0005),
		skip: func(ts time.Time) bool { return !ts.Before(gapStart) && ts.Before(gapEnd) },
	}

	res, err := newTestEngine(data).Run(context.Background(), fundingStrategy(), jan1, jan31)
	require.NoError(t, err)
	require.Len(t, res.DailyReturns, 31)

	for i, p := range res.DailyReturns {
		inGap := !p.Date.Before(gapStart) && p.Date.Before(gapEnd)
		if inGap {
			assert.Zero(t, p.Return, "day %s", p.Date.Format("2006-01-02"))
			assert.Equal(t, res.DailyReturns[i-1].Value, p.Value)
		} else if i > 0 {
			assert.Greater(t, p.Return, 0.0, "day %s", p.Date.Format("2006-01-02"))
		}
	}
	assert.Equal(t, 29, res.Funding.ShortDays)
	assert.Equal(t, 0, res.Funding.PositionSwitches)
	assertCompounds(t, res)
}

func TestNegativeCapitalRejectedBeforeFetch(t *testing.T) {
	data := &scriptedProvider{rate: constantRate(0.0005)}
	strat := fundingStrategy()
	strat.USDCAllocated = decimal.NewFromInt(-1000)

	_, err := newTestEngine(data).Run(context.Background(), strat, jan1, jan31)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStrategyInvalid))
	assert.Equal(t, int32(0), atomic.LoadInt32(&data.calls))

	_, err = newTestEngine(data).Run(context.Background(), nil, jan1, jan31)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStrategyInvalid))
}

func TestDeterministicRuns(t *testing.T) {
	gen := synthetic.New(synthetic.DefaultConfig())
	provider := market.NewProvider(market.DefaultConfig(), gen, market.WithLogger(logger.NewNopLogger()))
	engine := newTestEngine(provider)

	normalize := func(r *Result) *Result {
		r.RunID, r.ElapsedMs, r.CreatedAt = "", 0, time.Time{}
		return r
	}

	for _, kind := range strategy.Kinds {
		strat := fundingStrategy()
		strat.Kind = kind

		a, err := engine.Run(context.Background(), strat, jan1, jan31, WithSeed(9))
		require.NoError(t, err)
		b, err := engine.Run(context.Background(), strat, jan1, jan31, WithSeed(9))
		require.NoError(t, err)
		assert.Equal(t, normalize(a), normalize(b), "kind %s", kind)

		assertCompounds(t, a)
		assert.GreaterOrEqual(t, a.MaxDrawdown, 0.0)
		assert.LessOrEqual(t, a.MaxDrawdown, 1.0)
		assert.GreaterOrEqual(t, a.WinRate, 0.0)
		assert.LessOrEqual(t, a.WinRate, 1.0)
		assert.Len(t, a.DataSources, len(strat.RequiredAssets()))
		assert.Equal(t, kind == strategy.KindFundingRate, a.Funding != nil)
		for _, v := range []float64{a.SharpeRatio, a.SortinoRatio, a.CalmarRatio, a.Volatility, a.AnnualizedReturn} {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		}
	}
}

func TestConcurrentRunsShareOnlyTheCache(t *testing.T) {
	store := cache.NewMemoryCache(100, time.Minute)
	defer store.Close()
	gen := synthetic.New(synthetic.DefaultConfig())
	provider := market.NewProvider(market.DefaultConfig(), gen,
		market.WithCache(store), market.WithLogger(logger.NewNopLogger()))
	engine := newTestEngine(provider)

	type job struct {
		kind strategy.Kind
		seed int64
		ai   bool
	}
	var jobs []job
	for i, kind := range strategy.Kinds {
		jobs = append(jobs, job{kind, int64(i + 1), false}, job{kind, int64(i + 1), true})
	}

	run := func(j job) (*Result, error) {
		strat := fundingStrategy()
		strat.Kind = j.kind
		opts := []RunOption{WithSeed(j.seed)}
		if j.ai {
			opts = append(opts, WithAIEnhancement())
		}
		res, err := engine.Run(context.Background(), strat, jan1, jan31, opts...)
		if res != nil {
			res.RunID, res.ElapsedMs, res.CreatedAt = "", 0, time.Time{}
		}
		return res, err
	}

	// each job runs four times at once
	const copies = 4
	results := make([][]*Result, len(jobs))
	errs := make([][]error, len(jobs))
	var wg sync.WaitGroup
	for i, j := range jobs {
		results[i] = make([]*Result, copies)
		errs[i] = make([]error, copies)
		for c := 0; c < copies; c++ {
			wg.Add(1)
			go func(i, c int, j job) {
				defer wg.Done()
				results[i][c], errs[i][c] = run(j)
			}(i, c, j)
		}
	}
	wg.Wait()

	for i, j := range jobs {
		want, err := run(j)
		require.NoError(t, err)
		for c := 0; c < copies; c++ {
			require.NoError(t, errs[i][c], "kind %s ai %v", j.kind, j.ai)
			assert.Equal(t, want, results[i][c], "kind %s ai %v", j.kind, j.ai)
		}
		assert.Equal(t, j.ai, want.AI != nil)
	}
	assert.Positive(t, store.GetStats().HitCount)
}

func TestDifferentSeedsDiffer(t *testing.T) {
	data := &scriptedProvider{rate: constantRate(0.0005)}
	engine := newTestEngine(data)

	a, err := engine.Run(context.Background(), fundingStrategy(), jan1, jan31, WithSeed(1))
	require.NoError(t, err)
	b, err := engine.Run(context.Background(), fundingStrategy(), jan1, jan31, WithSeed(2))
	require.NoError(t, err)
	assert.NotEqual(t, a.FinalValue, b.FinalValue)
}

func TestRunDoesNotMutateStrategy(t *testing.T) {
	strat := fundingStrategy()
	before := *strat
	_, err := newTestEngine(&scriptedProvider{rate: constantRate(0.0005)}).Run(context.Background(), strat, jan1, jan31)
	require.NoError(t, err)
	assert.Equal(t, before, *strat)
}

func TestAIEnhancementRewardsAlignedStance(t *testing.T) {
	data := &scriptedProvider{rate: constantRate(0.02)}
	engine := newTestEngine(data)
	strat := fundingStrategy()
	strat.MaxLeverage = 1

	plain, err := engine.Run(context.Background(), strat, jan1, jan31)
	require.NoError(t, err)
	enhanced, err := engine.Run(context.Background(), strat, jan1, jan31, WithAIEnhancement())
	require.NoError(t, err)

	assert.Nil(t, plain.AI)
	require.NotNil(t, enhanced.AI)
	assert.Equal(t, 31, enhanced.AI.Predictions)
	assert.Equal(t, 30, enhanced.AI.Evaluated)
	assert.Equal(t, 1.0, enhanced.AI.PredictionAccuracy)
	assert.Greater(t, enhanced.FinalValue, plain.FinalValue)
	assertCompounds(t, enhanced)
}

func TestCancelledRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEngine(&scriptedProvider{rate: constantRate(0.0005)}).Run(ctx, fundingStrategy(), jan1, jan31)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCancelled))
}

type runRecorder struct {
	statuses []string
}

func (r *runRecorder) ObserveRun(_ strategy.Kind, status string, _ time.Duration) {
	r.statuses = append(r.statuses, status)
}

func TestObserverSeesOutcomes(t *testing.T) {
	rec := &runRecorder{}
	engine := NewEngine(&scriptedProvider{rate: constantRate(0.0005)}, DefaultConfig(),
		WithObserver(rec), WithLogger(logger.NewNopLogger()))

	_, _ = engine.Run(context.Background(), fundingStrategy(), jan1, jan31)
	_, _ = engine.Run(context.Background(), fundingStrategy(), jan31, jan1)
	assert.Equal(t, []string{"success", "invalid"}, rec.statuses)
}
