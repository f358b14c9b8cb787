package predictor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	apperrors "deltayield/internal/errors"
	"deltayield/internal/market/funding"
	"deltayield/internal/rng"
)

// Statistical forecasts funding rates with a mean reverting random walk over the
// recorded history. It is safe for concurrent use when rnd is.
type Statistical struct {
	config   Config
	history  *funding.History
	rnd      rng.Source
	observer Observer
}

// NewStatistical creates the statistical predictor. A nil history starts empty.
func NewStatistical(cfg Config, rnd rng.Source, history *funding.History) *Statistical {
	if cfg.Horizon <= 0 {
		cfg.Horizon = 24
	}
	if history == nil {
		history = funding.NewHistory(cfg.HistoryLimit)
	}
	return &Statistical{config: cfg, history: history, rnd: rnd}
}

// History returns the underlying funding history
func (s *Statistical) History() *funding.History {
	return s.history
}

// Observe appends a rate to the history
func (s *Statistical) Observe(rate Snapshot) {
	s.history.Append(rate)
}

// Predict implements Predictor
func (s *Statistical) Predict(ctx context.Context, rates []Snapshot, features []Features) ([]Prediction, error) {
	byAsset := indexFeatures(features)

	out := make([]Prediction, 0, len(rates))
	for _, rate := range rates {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrCodeCancelled, "prediction cancelled", err)
		}
		if _, ok := byAsset[strings.ToUpper(rate.Asset)]; !ok {
			continue
		}
		began := time.Now()
		out = append(out, s.Forecast(rate))
		if s.observer != nil {
			s.observer.ObservePrediction(ModelStatistical, time.Since(began))
		}
	}
	return out, nil
}

// Forecast produces the statistical prediction for one rate
func (s *Statistical) Forecast(rate Snapshot) Prediction {
	mean, variance, lastDelta := rate.Rate, s.config.SeedVariance, 0.0
	if stats, ok := s.history.Stats(rate.Asset, rate.Exchange); ok {
		mean, variance, lastDelta = stats.Mean, stats.Variance, stats.LastDelta
	}
	vol := math.Sqrt(variance)

	path := make([]float64, s.config.Horizon)
	current, delta := rate.Rate, lastDelta
	for i := range path {
		noise := (s.rnd.Float64() - 0.5) * 2 * vol * s.config.NoiseScale
		next := current + s.config.ReversionSpeed*(mean-current) + noise + s.config.TrendWeight*delta
		delta = next - current
		current = next
		path[i] = next
	}

	p := Prediction{
		Asset:           rate.Asset,
		Exchange:        rate.Exchange,
		CurrentRate:     rate.Rate,
		Predictions:     path,
		Confidence:      1 / (1 + vol*10),
		VolatilityScore: math.Min(10, vol*1000),
		Model:           ModelStatistical,
		GeneratedAt:     rate.Timestamp,
	}
	predictedMean := p.MeanRate()
	p.ExpectedAnnualYield = math.Abs(predictedMean) * funding.SettlementsPerYear
	p.Action = s.recommend(predictedMean, vol)
	p.Reasoning = fmt.Sprintf("mean reverting forecast toward %.6f (volatility %.6f): predicted mean %.6f, recommend %s",
		mean, vol, predictedMean, p.Action)
	return p
}

// recommend checks direction before volatility
func (s *Statistical) recommend(predictedMean, vol float64) Action {
	switch {
	case predictedMean > s.config.ShortThreshold:
		return ActionShort
	case predictedMean < s.config.LongThreshold:
		return ActionLong
	case vol > s.config.AvoidVolatility:
		return ActionAvoid
	default:
		return ActionNeutral
	}
}

func indexFeatures(features []Features) map[string]Features {
	byAsset := make(map[string]Features, len(features))
	for _, f := range features {
		byAsset[strings.ToUpper(f.Asset)] = f
	}
	return byAsset
}
