package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"deltayield/internal/breaker"
	apperrors "deltayield/internal/errors"
	"deltayield/internal/logger"
	"deltayield/internal/market/funding"
)

// ExternalRequest is the body posted to the external model
type ExternalRequest struct {
	Asset             string  `json:"asset"`
	Exchange          string  `json:"exchange"`
	CurrentRate       float64 `json:"current_rate"`
	HistoryMean       float64 `json:"history_mean"`
	HistoryVolatility float64 `json:"history_volatility"`
	Price             float64 `json:"price"`
	Volatility        float64 `json:"volatility"`
	Volume            float64 `json:"volume"`
	Horizon           int     `json:"horizon"`
}

// ExternalResponse is the expected reply of the external model
type ExternalResponse struct {
	Predictions       []float64 `json:"predictions"`
	Confidence        *float64  `json:"confidence"`
	VolatilityScore   *float64  `json:"volatility_score"`
	RecommendedAction Action    `json:"recommended_action"`
	Reasoning         string    `json:"reasoning"`
}

// External asks an HTTP model for forecasts and falls back to the statistical
// model on any failure. Failures are logged and counted, never returned.
type External struct {
	config     Config
	httpClient *http.Client
	breaker    *breaker.Breaker
	fallback   *Statistical
	observer   Observer
	log        logger.Logger
}

// Predict implements Predictor
func (e *External) Predict(ctx context.Context, rates []Snapshot, features []Features) ([]Prediction, error) {
	byAsset := indexFeatures(features)

	out := make([]Prediction, 0, len(rates))
	for _, rate := range rates {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrCodeCancelled, "prediction cancelled", err)
		}
		feat, ok := byAsset[strings.ToUpper(rate.Asset)]
		if !ok {
			continue
		}

		began := time.Now()
		p, err := breaker.Do(e.breaker, func() (Prediction, error) {
			return e.call(ctx, rate, feat)
		})
		if err == nil {
			if e.observer != nil {
				e.observer.ObservePrediction(ModelExternal, time.Since(began))
			}
			out = append(out, p)
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperrors.NewAppError(apperrors.ErrCodeCancelled, "prediction cancelled", ctxErr)
		}
		e.log.Warn("External predictor unavailable, using statistical model", "asset", rate.Asset, "error", err.Error())
		if e.observer != nil {
			e.observer.ObserveFallback(fallbackReason(err))
		}
		out = append(out, e.fallback.Forecast(rate))
	}
	return out, nil
}

// Observe implements Predictor
func (e *External) Observe(rate Snapshot) {
	e.fallback.Observe(rate)
}

func (e *External) call(ctx context.Context, rate Snapshot, feat Features) (Prediction, error) {
	reqBody := ExternalRequest{
		Asset:       rate.Asset,
		Exchange:    rate.Exchange,
		CurrentRate: rate.Rate,
		HistoryMean: rate.Rate,
		Price:       feat.Price,
		Volatility:  feat.Volatility,
		Volume:      feat.Volume,
		Horizon:     e.config.Horizon,
	}
	if stats, ok := e.fallback.History().Stats(rate.Asset, rate.Exchange); ok {
		reqBody.HistoryMean = stats.Mean
		reqBody.HistoryVolatility = stats.StdDev
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.External.URL, bytes.NewReader(payload))
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.External.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.External.APIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Prediction{}, apperrors.NewAppError(apperrors.ErrCodePredictorUnavailable, "external predictor request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Prediction{}, apperrors.NewAppError(apperrors.ErrCodePredictorUnavailable, "failed to read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Prediction{}, apperrors.NewAppErrorWithDetails(apperrors.ErrCodePredictorUnavailable,
			"external predictor returned an error", fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	var decoded ExternalResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Prediction{}, apperrors.NewAppError(apperrors.ErrCodePredictorInvalid, "malformed response", err)
	}
	if err := e.validate(decoded); err != nil {
		return Prediction{}, err
	}

	p := Prediction{
		Asset:           rate.Asset,
		Exchange:        rate.Exchange,
		CurrentRate:     rate.Rate,
		Predictions:     decoded.Predictions,
		Confidence:      *decoded.Confidence,
		VolatilityScore: *decoded.VolatilityScore,
		Action:          decoded.RecommendedAction,
		Reasoning:       decoded.Reasoning,
		Model:           ModelExternal,
		GeneratedAt:     rate.Timestamp,
	}
	p.ExpectedAnnualYield = math.Abs(p.MeanRate()) * funding.SettlementsPerYear
	return p, nil
}

func (e *External) validate(r ExternalResponse) error {
	invalid := func(details string) error {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodePredictorInvalid, "invalid response", details, nil)
	}
	if len(r.Predictions) != e.config.Horizon {
		return invalid(fmt.Sprintf("got %d predictions, want %d", len(r.Predictions), e.config.Horizon))
	}
	for _, v := range r.Predictions {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return invalid("non-finite prediction")
		}
	}
	if r.Confidence == nil || *r.Confidence < 0 || *r.Confidence > 1 || math.IsNaN(*r.Confidence) {
		return invalid("confidence missing or outside [0,1]")
	}
	if r.VolatilityScore == nil || *r.VolatilityScore < 0 || *r.VolatilityScore > 10 || math.IsNaN(*r.VolatilityScore) {
		return invalid("volatility_score missing or outside [0,10]")
	}
	if !r.RecommendedAction.IsValid() {
		return invalid("unknown recommended_action " + string(r.RecommendedAction))
	}
	return nil
}

func fallbackReason(err error) string {
	if breaker.IsOpenError(err) {
		return "breaker_open"
	}
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return strings.ToLower(string(appErr.Code))
	}
	return "error"
}
