package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"xyz-agents/internal/domain"
	"xyz-agents/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerModel guards a model with a circuit breaker. After
// MaxFailures consecutive inference failures it fails fast with
// ErrModelUnavailable until the timeout elapses. Invalid input does not
// count as a failure.
type CircuitBreakerModel struct {
	inner   domain.Model
	breaker *gobreaker.CircuitBreaker[[]float64]
}

// NewCircuitBreakerModel wraps inner. Zero fields in cfg use the defaults.
func NewCircuitBreakerModel(inner domain.Model, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerModel {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[[]float64](gobreaker.Settings{
		Name:        "model:" + inner.ID(),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrInvalidInput)
		},
	})

	return &CircuitBreakerModel{inner: inner, breaker: cb}
}

// ID implements domain.Model.
func (m *CircuitBreakerModel) ID() string { return m.inner.ID() }

// Type implements domain.Model.
func (m *CircuitBreakerModel) Type() domain.ModelType { return m.inner.Type() }

// Inference implements domain.Model. Calls are routed through the breaker.
func (m *CircuitBreakerModel) Inference(ctx context.Context, input []float64) ([]float64, error) {
	out, err := m.breaker.Execute(func() ([]float64, error) {
		return m.inner.Inference(ctx, input)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: model %q circuit open: %v", domain.ErrModelUnavailable, m.inner.ID(), err)
		}
		return nil, err
	}
	return out, nil
}

// State returns the current breaker state for monitoring.
func (m *CircuitBreakerModel) State() gobreaker.State {
	return m.breaker.State()
}

// Counts returns the current breaker failure/success counts.
func (m *CircuitBreakerModel) Counts() gobreaker.Counts {
	return m.breaker.Counts()
}

var _ domain.Model = (*CircuitBreakerModel)(nil)
