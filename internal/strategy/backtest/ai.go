package backtest

import (
	"context"
	"math"
	"time"

	"deltayield/internal/market"
	"deltayield/internal/predictor"
	"deltayield/internal/strategy"
	"deltayield/internal/strategy/simulator"
)

// aiBlender adjusts simulated returns with predictor guidance and keeps the
// accuracy tally. Predictions only see data up to the current period.
type aiBlender struct {
	predictor predictor.Predictor
	weight    float64
	lookback  time.Duration

	pendingDir  int // direction predicted last period, 0 when none
	predictions int
	evaluated   int
	correct     int
}

func newAIBlender(p predictor.Predictor, weight float64, lookback time.Duration) *aiBlender {
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return &aiBlender{predictor: p, weight: weight, lookback: lookback}
}

// apply returns r' = r + w x confidence x alignment x |r|
func (a *aiBlender) apply(ctx context.Context, strat *strategy.Config, series *market.Series, t time.Time, out simulator.Output) (float64, error) {
	r := out.Return

	// score last period's call against the realized rate
	if a.pendingDir != 0 && out.FundingRate != 0 {
		a.evaluated++
		if sign(out.FundingRate) == a.pendingDir {
			a.correct++
		}
	}
	a.pendingDir = 0

	snap := predictor.Snapshot{
		Asset:     strat.PrimaryAsset(),
		Exchange:  exchangeOf(series),
		Rate:      out.FundingRate,
		Timestamp: t,
	}
	features := predictor.Features{Asset: snap.Asset, Price: out.Price}
	if series != nil {
		features.Volatility = series.Volatility(t.Add(-a.lookback), t.Add(time.Millisecond))
		if v, ok := series.AverageVolume(t.Add(-a.lookback), t.Add(time.Millisecond)); ok {
			features.Volume = v
		}
	}

	preds, err := a.predictor.Predict(ctx, []predictor.Snapshot{snap}, []predictor.Features{features})
	a.predictor.Observe(snap)
	if err != nil {
		return 0, err
	}
	if len(preds) == 0 {
		return r, nil
	}

	pred := preds[0]
	a.predictions++
	a.pendingDir = pred.Action.Direction()

	return r + a.weight*pred.Confidence*alignment(pred.Action, out.Stance)*math.Abs(r), nil
}

// skip drops the pending call when the next period has no funding data
func (a *aiBlender) skip() {
	a.pendingDir = 0
}

func (a *aiBlender) stats() *AIStats {
	s := &AIStats{
		Predictions: a.predictions,
		Evaluated:   a.evaluated,
		Correct:     a.correct,
	}
	if a.evaluated > 0 {
		s.PredictionAccuracy = float64(a.correct) / float64(a.evaluated)
	}
	return s
}

// alignment is +1 when the predicted direction agrees with the held stance,
// -1 when it opposes it and -0.5 for avoid
func alignment(action predictor.Action, stance simulator.Stance) float64 {
	if action == predictor.ActionAvoid {
		return -0.5
	}
	dir := action.Direction()
	held := 0
	switch stance {
	case simulator.StanceShort:
		held = 1
	case simulator.StanceLong:
		held = -1
	}
	switch {
	case dir == 0 || held == 0:
		return 0
	case dir == held:
		return 1
	default:
		return -1
	}
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func exchangeOf(s *market.Series) string {
	if s == nil {
		return string(market.SourceSynthetic)
	}
	for _, sample := range s.Samples {
		if sample.Exchange != "" {
			return sample.Exchange
		}
	}
	return string(s.Source)
}
