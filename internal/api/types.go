package api

import (
	"deltayield/internal/market/funding"
	"deltayield/internal/predictor"
	"deltayield/internal/strategy"
)

// DateLayout is the wire format of backtest dates
const DateLayout = "2006-01-02"

// Response is the success envelope of every JSON endpoint
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// BacktestRequest represents a backtest request
type BacktestRequest struct {
	Strategy         *strategy.Config `json:"strategy"`
	StartDate        string           `json:"start_date"`
	EndDate          string           `json:"end_date"`
	UseAIEnhancement bool             `json:"use_ai_enhancement"`
	Seed             *int64           `json:"seed,omitempty"`
}

// PredictionRequest represents a prediction request. Features are matched to rates by asset.
type PredictionRequest struct {
	Rates    []funding.Rate       `json:"rates"`
	Features []predictor.Features `json:"features"`
}
