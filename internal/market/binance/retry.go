package binance

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig represents retry configuration
type RetryConfig struct {
	MaxRetries  int           `yaml:"max_retries" json:"max_retries"`
	InitialWait time.Duration `yaml:"initial_wait" json:"initial_wait"`
	MaxWait     time.Duration `yaml:"max_wait" json:"max_wait"`
	Factor      float64       `yaml:"factor" json:"factor"`
	Jitter      float64       `yaml:"jitter" json:"jitter"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Factor:      2.0,
		Jitter:      0.1,
	}
}

// APIError represents a non-2xx exchange response
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       int    `json:"code"`
	Message    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance API error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

// IsRetryableError determines if an error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if e, ok := err.(*APIError); ok {
		switch e.StatusCode {
		case 418, // IP auto-banned, back off
			429, // Too Many Requests
			500, // Internal Server Error
			502, // Bad Gateway
			503, // Service Unavailable
			504: // Gateway Timeout
			return true
		}
	}

	return false
}

// RetryWithResult wraps a function that returns a result with retry logic
func RetryWithResult[T any](ctx context.Context, fn func(context.Context) (T, error), config RetryConfig) (T, error) {
	var (
		result T
		err    error
		wait   = config.InitialWait
	)

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}

		if !IsRetryableError(err) {
			return result, err
		}

		if attempt == config.MaxRetries {
			return result, fmt.Errorf("max retries exceeded: %w", err)
		}

		// 指数退避加抖动
		jitter := 1.0 + (config.Jitter * (2*rand.Float64() - 1))
		sleep := time.Duration(float64(wait) * jitter)
		if sleep > config.MaxWait {
			sleep = config.MaxWait
		}
		wait = time.Duration(float64(wait) * config.Factor)

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(sleep):
		}
	}

	return result, err
}
