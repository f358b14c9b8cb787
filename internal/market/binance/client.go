package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"deltayield/internal/breaker"
	apperrors "deltayield/internal/errors"
	"deltayield/internal/market"
)

const exchangeName = "binance"

// Client is a read-only Binance USDⓈ-M futures client for historical klines and
// funding rates. It implements market.Source.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *breaker.Breaker
}

// NewClient creates a new Binance futures client
func NewClient(cfg Config, listeners ...breaker.StateListener) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	if cfg.KlineLimit <= 0 {
		cfg.KlineLimit = 1500
	}
	if cfg.FundingLimit <= 0 {
		cfg.FundingLimit = 1000
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		breaker: breaker.New("binance", breaker.Config{
			ConsecutiveFailures: cfg.BreakerFailures,
			Timeout:             cfg.BreakerTimeout,
		}, listeners...),
	}
}

// Name implements market.Source
func (c *Client) Name() string {
	return exchangeName
}

// BreakerState reports the circuit breaker guarding the REST endpoints
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// Symbol maps an asset to its perpetual contract symbol
func (c *Client) Symbol(asset string) (string, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if s, ok := c.config.Symbols[asset]; ok && s != "" {
		return strings.ToUpper(s), nil
	}
	if asset == "" || asset == strings.ToUpper(c.config.QuoteAsset) {
		return "", apperrors.NewAppErrorWithDetails(apperrors.ErrCodeMarketDataUnavailable,
			"no perpetual market", "asset "+asset, nil)
	}
	return asset + strings.ToUpper(c.config.QuoteAsset), nil
}

// FetchSeries implements market.Source: hourly closes and volumes merged with
// settled funding rates over [start, end].
func (c *Client) FetchSeries(ctx context.Context, asset string, start, end time.Time) ([]market.Sample, error) {
	symbol, err := c.Symbol(asset)
	if err != nil {
		return nil, err
	}

	return breaker.Do(c.breaker, func() ([]market.Sample, error) {
		klines, err := c.GetKlines(ctx, symbol, start, end)
		if err != nil {
			return nil, err
		}
		rates, err := c.GetFundingRates(ctx, symbol, start, end)
		if err != nil {
			return nil, err
		}
		return mergeSamples(strings.ToUpper(asset), klines, rates)
	})
}

// GetKlines fetches historical klines, paging until end is covered
func (c *Client) GetKlines(ctx context.Context, symbol string, start, end time.Time) ([]Kline, error) {
	var out []Kline
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()

	for cursor <= endMs {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("interval", c.config.Interval)
		params.Set("startTime", strconv.FormatInt(cursor, 10))
		params.Set("endTime", strconv.FormatInt(endMs, 10))
		params.Set("limit", strconv.Itoa(c.config.KlineLimit))

		var raw [][]interface{}
		if err := c.getJSON(ctx, "/fapi/v1/klines", params, &raw); err != nil {
			return nil, fmt.Errorf("failed to get klines: %w", err)
		}

		page, err := parseKlines(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)

		if len(page) < c.config.KlineLimit {
			break
		}
		next := page[len(page)-1].OpenTime + 1
		if next <= cursor {
			break
		}
		cursor = next
	}

	return out, nil
}

// GetFundingRates fetches settled funding rates, paging until end is covered
func (c *Client) GetFundingRates(ctx context.Context, symbol string, start, end time.Time) ([]FundingRate, error) {
	var out []FundingRate
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()

	for cursor <= endMs {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("startTime", strconv.FormatInt(cursor, 10))
		params.Set("endTime", strconv.FormatInt(endMs, 10))
		params.Set("limit", strconv.Itoa(c.config.FundingLimit))

		var page []FundingRate
		if err := c.getJSON(ctx, "/fapi/v1/fundingRate", params, &page); err != nil {
			return nil, fmt.Errorf("failed to get funding rates: %w", err)
		}
		out = append(out, page...)

		if len(page) < c.config.FundingLimit {
			break
		}
		next := page[len(page)-1].FundingTime + 1
		if next <= cursor {
			break
		}
		cursor = next
	}

	return out, nil
}

// getJSON performs a rate limited, retried GET and decodes the body
func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, dest interface{}) error {
	body, err := RetryWithResult(ctx, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return c.doGet(ctx, endpoint, params)
	}, c.config.Retry)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeMarketDataInvalid, "failed to decode "+endpoint+" response", err)
	}
	return nil
}

func (c *Client) doGet(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	reqURL := strings.TrimRight(c.config.BaseURL, "/") + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		apiErr.StatusCode = resp.StatusCode
		return nil, apiErr
	}

	return body, nil
}

// parseKlines converts raw [openTime, open, high, low, close, volume, closeTime, quoteVolume, ...] rows
func parseKlines(raw [][]interface{}) ([]Kline, error) {
	klines := make([]Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 8 {
			return nil, apperrors.NewAppError(apperrors.ErrCodeMarketDataInvalid, "malformed kline row", nil)
		}
		openTime, ok := row[0].(float64)
		if !ok {
			return nil, apperrors.NewAppError(apperrors.ErrCodeMarketDataInvalid, "malformed kline open time", nil)
		}
		closePrice, err := parseField(row[4])
		if err != nil {
			return nil, err
		}
		volume, err := parseField(row[5])
		if err != nil {
			return nil, err
		}
		quoteVolume, err := parseField(row[7])
		if err != nil {
			return nil, err
		}
		klines = append(klines, Kline{
			OpenTime:    int64(openTime),
			Close:       closePrice,
			Volume:      volume,
			QuoteVolume: quoteVolume,
		})
	}
	return klines, nil
}

func parseField(v interface{}) (float64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, apperrors.NewAppError(apperrors.ErrCodeMarketDataInvalid, "malformed numeric field", nil)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, apperrors.NewAppError(apperrors.ErrCodeMarketDataInvalid, "malformed numeric field", err)
	}
	return f, nil
}

// mergeSamples builds one sample per kline plus one per funding settlement.
// Funding samples take the mark price, or the latest kline close when absent.
func mergeSamples(asset string, klines []Kline, rates []FundingRate) ([]market.Sample, error) {
	samples := make([]market.Sample, 0, len(klines)+len(rates))
	for _, k := range klines {
		samples = append(samples, market.Sample{
			Timestamp: k.OpenTime,
			Price:     k.Close,
			Volume:    market.Float(k.QuoteVolume),
			Asset:     asset,
			Exchange:  exchangeName,
		})
	}

	ki := 0
	for _, r := range rates {
		fr, err := strconv.ParseFloat(r.FundingRate, 64)
		if err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrCodeMarketDataInvalid, "malformed funding rate", err)
		}
		for ki+1 < len(klines) && klines[ki+1].OpenTime <= r.FundingTime {
			ki++
		}
		price, _ := strconv.ParseFloat(r.MarkPrice, 64)
		if price <= 0 && len(klines) > 0 {
			price = klines[ki].Close
		}
		samples = append(samples, market.Sample{
			Timestamp:   r.FundingTime,
			Price:       price,
			FundingRate: market.Float(fr),
			Asset:       asset,
			Exchange:    exchangeName,
		})
	}

	return samples, nil
}
