package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"deltayield/internal/cache"
	apperrors "deltayield/internal/errors"
	"deltayield/internal/logger"

	"golang.org/x/sync/errgroup"
)

// Source supplies raw samples for an asset over [start, end]
type Source interface {
	Name() string
	FetchSeries(ctx context.Context, asset string, start, end time.Time) ([]Sample, error)
}

// DataProvider is what the backtest engine consumes
type DataProvider interface {
	GetSeries(ctx context.Context, asset string, start, end time.Time) (*Series, error)
	LoadAll(ctx context.Context, assets []string, start, end time.Time) (map[string]*Series, error)
}

// Observer receives provider events, typically for metrics
type Observer interface {
	ObserveFetch(source string, asset string, duration time.Duration, err error)
	ObserveFallback(asset string, reason string)
	ObserveCache(hit bool)
}

// Mode selects where series come from
type Mode string

const (
	ModeLive      Mode = "live"
	ModeSynthetic Mode = "synthetic"
)

// Config represents data provider configuration
type Config struct {
	Mode             Mode          `yaml:"mode" json:"mode"`
	MinSamples       int           `yaml:"min_samples" json:"min_samples"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	CacheTTL         time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	FallbackCacheTTL time.Duration `yaml:"fallback_cache_ttl" json:"fallback_cache_ttl"`
}

// DefaultConfig returns default provider configuration
func DefaultConfig() Config {
	return Config{
		Mode:             ModeSynthetic,
		MinSamples:       24,
		FetchTimeout:     30 * time.Second,
		CacheTTL:         time.Hour,
		FallbackCacheTTL: 5 * time.Minute,
	}
}

// Provider resolves series through a read-through cache, the live source and the
// synthetic generator. Live failures never reach the caller; they degrade to
// synthetic data and are reported through Series.Source, the log and the Observer.
type Provider struct {
	config    Config
	live      Source
	synthetic Source
	cache     cache.Store
	observer  Observer
	log       logger.Logger
}

// ProviderOption configures a Provider
type ProviderOption func(*Provider)

// WithLiveSource sets the live source used in live mode
func WithLiveSource(src Source) ProviderOption {
	return func(p *Provider) { p.live = src }
}

// WithCache enables the read-through cache
func WithCache(store cache.Store) ProviderOption {
	return func(p *Provider) { p.cache = store }
}

// WithObserver registers a metrics observer
func WithObserver(o Observer) ProviderOption {
	return func(p *Provider) { p.observer = o }
}

// WithLogger overrides the provider logger
func WithLogger(l logger.Logger) ProviderOption {
	return func(p *Provider) { p.log = l }
}

// NewProvider creates a provider. synthetic is mandatory, it is the fallback of last resort.
func NewProvider(cfg Config, synthetic Source, opts ...ProviderOption) *Provider {
	p := &Provider{
		config:    cfg,
		synthetic: synthetic,
		log:       logger.Named("market"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetSeries returns the series for asset over [start, end]. The only errors are
// cancellation and a failing synthetic generator.
func (p *Provider) GetSeries(ctx context.Context, asset string, start, end time.Time) (*Series, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	key := p.cacheKey(asset, start, end)

	if s, ok := p.cacheGet(ctx, key); ok {
		return s, nil
	}

	var (
		series *Series
		ttl    = p.config.CacheTTL
	)

	if p.config.Mode == ModeLive && p.live != nil {
		s, err := p.fetchLive(ctx, asset, start, end)
		if err == nil {
			series = s
		} else {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, apperrors.NewAppError(apperrors.ErrCodeCancelled, "data fetch cancelled", ctxErr)
			}
			p.log.Warn("Live market data unavailable, using synthetic data",
				"asset", asset, "reason", err.Error(), "source", p.live.Name())
			if p.observer != nil {
				p.observer.ObserveFallback(asset, fallbackReason(err))
			}
			ttl = p.config.FallbackCacheTTL
		}
	}

	if series == nil {
		samples, err := p.fetch(ctx, p.synthetic, asset, start, end)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, apperrors.NewAppError(apperrors.ErrCodeCancelled, "data fetch cancelled", ctxErr)
			}
			return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "synthetic generator failed")
		}
		series = NewSeries(asset, SourceSynthetic, samples)
	}

	p.cacheSet(ctx, key, series, ttl)
	return series, nil
}

// LoadAll fetches every asset concurrently and joins before returning. The first
// error cancels the remaining fetches.
func (p *Provider) LoadAll(ctx context.Context, assets []string, start, end time.Time) (map[string]*Series, error) {
	var (
		mu  sync.Mutex
		out = make(map[string]*Series, len(assets))
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, asset := range assets {
		asset := asset
		g.Go(func() error {
			s, err := p.GetSeries(gctx, asset, start, end)
			if err != nil {
				return err
			}
			mu.Lock()
			out[asset] = s
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Provider) fetchLive(ctx context.Context, asset string, start, end time.Time) (*Series, error) {
	fetchCtx := ctx
	if p.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.config.FetchTimeout)
		defer cancel()
	}

	samples, err := p.fetch(fetchCtx, p.live, asset, start, end)
	if err != nil {
		return nil, err
	}

	series := NewSeries(asset, SourceLive, samples)
	if series.Len() < p.config.MinSamples {
		return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeMarketDataInvalid, "insufficient data",
			fmt.Sprintf("%d samples, need %d", series.Len(), p.config.MinSamples), nil)
	}
	if series.FundingCount() == 0 {
		return nil, apperrors.NewAppError(apperrors.ErrCodeMarketDataInvalid, "no funding rate samples", nil)
	}
	return series, nil
}

func (p *Provider) fetch(ctx context.Context, src Source, asset string, start, end time.Time) ([]Sample, error) {
	began := time.Now()
	samples, err := src.FetchSeries(ctx, asset, start, end)
	if p.observer != nil {
		p.observer.ObserveFetch(src.Name(), asset, time.Since(began), err)
	}
	return samples, err
}

func (p *Provider) cacheKey(asset string, start, end time.Time) string {
	mode := p.config.Mode
	if mode == "" {
		mode = ModeSynthetic
	}
	return fmt.Sprintf("series:%s:%s:%d:%d", mode, asset, start.UnixMilli(), end.UnixMilli())
}

func (p *Provider) cacheGet(ctx context.Context, key string) (*Series, bool) {
	if p.cache == nil {
		return nil, false
	}
	data, err := p.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			p.log.Debug("Series cache read failed", "key", key, "error", err)
		}
		p.observeCache(false)
		return nil, false
	}

	var decoded Series
	if err := json.Unmarshal(data, &decoded); err != nil {
		p.log.Warn("Discarding undecodable cached series", "key", key, "error", err)
		p.observeCache(false)
		return nil, false
	}
	p.observeCache(true)
	return NewSeries(decoded.Asset, decoded.Source, decoded.Samples), true
}

func (p *Provider) cacheSet(ctx context.Context, key string, s *Series, ttl time.Duration) {
	if p.cache == nil {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		p.log.Warn("Failed to encode series for cache", "key", key, "error", err)
		return
	}
	if err := p.cache.Set(ctx, key, data, ttl); err != nil {
		p.log.Debug("Series cache write failed", "key", key, "error", err)
	}
}

func (p *Provider) observeCache(hit bool) {
	if p.observer != nil {
		p.observer.ObserveCache(hit)
	}
}

func fallbackReason(err error) string {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return strings.ToLower(string(appErr.Code))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "fetch_error"
}
