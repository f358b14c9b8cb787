package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"deltayield/internal/logger"
)

// Config represents circuit breaker settings
type Config struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" json:"consecutive_failures"`
	Interval            time.Duration `yaml:"interval" json:"interval"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
}

// StateListener is notified on state transitions, e.g. for metrics
type StateListener func(name string, from, to gobreaker.State)

// Breaker wraps gobreaker with typed execution
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a breaker that opens after cfg.ConsecutiveFailures failures in a row.
// Context cancellation is not counted as a failure.
func New(name string, cfg Config, listeners ...StateListener) *Breaker {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	log := logger.Named("breaker")
	st := gobreaker.Settings{Name: name}
	st.Interval = cfg.Interval
	st.Timeout = cfg.Timeout
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
	}
	st.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, context.Canceled)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		for _, l := range listeners {
			l(name, from, to)
		}
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.cb.Name()
}

// State returns the current breaker state
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// IsOpenError reports whether err came from a rejecting breaker
func IsOpenError(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}

// Do runs fn through the breaker
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out.(T), nil
}
