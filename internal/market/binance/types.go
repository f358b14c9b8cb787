package binance

import "time"

// Config represents the live market data source configuration
type Config struct {
	BaseURL         string            `yaml:"base_url" json:"base_url"`
	Interval        string            `yaml:"interval" json:"interval"`
	KlineLimit      int               `yaml:"kline_limit" json:"kline_limit"`
	FundingLimit    int               `yaml:"funding_limit" json:"funding_limit"`
	RequestsPerSec  float64           `yaml:"requests_per_second" json:"requests_per_second"`
	Burst           int               `yaml:"burst" json:"burst"`
	Timeout         time.Duration     `yaml:"timeout" json:"timeout"`
	QuoteAsset      string            `yaml:"quote_asset" json:"quote_asset"`
	Symbols         map[string]string `yaml:"symbols" json:"symbols"` // asset -> contract symbol override
	Retry           RetryConfig       `yaml:"retry" json:"retry"`
	BreakerFailures uint32            `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerTimeout  time.Duration     `yaml:"breaker_timeout" json:"breaker_timeout"`
}

// DefaultConfig returns the default USDⓈ-M futures configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://fapi.binance.com",
		Interval:        "1h",
		KlineLimit:      1500,
		FundingLimit:    1000,
		RequestsPerSec:  10,
		Burst:           5,
		Timeout:         15 * time.Second,
		QuoteAsset:      "USDT",
		Symbols:         map[string]string{},
		Retry:           DefaultRetryConfig(),
		BreakerFailures: 3,
		BreakerTimeout:  60 * time.Second,
	}
}

// Kline is one parsed futures candle
type Kline struct {
	OpenTime    int64
	Close       float64
	Volume      float64
	QuoteVolume float64
}

// FundingRate is one settled funding event
type FundingRate struct {
	Symbol      string `json:"symbol"`
	FundingRate string `json:"fundingRate"`
	FundingTime int64  `json:"fundingTime"`
	MarkPrice   string `json:"markPrice"`
}
