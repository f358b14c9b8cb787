package predictor

import (
	"net/http"

	"deltayield/internal/breaker"
	"deltayield/internal/logger"
	"deltayield/internal/market/funding"
	"deltayield/internal/rng"
)

// Option configures a predictor built by New
type Option func(*options)

type options struct {
	history    *funding.History
	observer   Observer
	log        logger.Logger
	httpClient *http.Client
	breaker    *breaker.Breaker
}

// WithHistory shares an existing funding history
func WithHistory(h *funding.History) Option {
	return func(o *options) { o.history = h }
}

// WithObserver registers a metrics observer
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithLogger overrides the predictor logger
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithHTTPClient overrides the external model HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithBreaker shares a circuit breaker between external predictor instances
func WithBreaker(b *breaker.Breaker) Option {
	return func(o *options) { o.breaker = b }
}

// New returns the external predictor when it is enabled and configured, otherwise
// the statistical one.
func New(cfg Config, rnd rng.Source, opts ...Option) Predictor {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.Named("predictor")
	}

	stat := NewStatistical(cfg, rnd, o.history)
	stat.observer = o.observer
	if !cfg.External.Enabled || cfg.External.URL == "" {
		return stat
	}

	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.External.Timeout}
	}
	if o.breaker == nil {
		o.breaker = NewBreaker(cfg.External)
	}
	return &External{
		config:     stat.config,
		httpClient: o.httpClient,
		breaker:    o.breaker,
		fallback:   stat,
		observer:   o.observer,
		log:        o.log,
	}
}

// NewBreaker creates the circuit breaker guarding the external model
func NewBreaker(cfg ExternalConfig, listeners ...breaker.StateListener) *breaker.Breaker {
	return breaker.New("external_predictor", breaker.Config{
		ConsecutiveFailures: cfg.BreakerFailures,
		Timeout:             cfg.BreakerTimeout,
	}, listeners...)
}
