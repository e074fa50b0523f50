// Package generation talks to text-generation backends.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"docrag/internal/domain"
)

// Prompt is a system instruction plus the user turn.
type Prompt struct {
	System string
	User   string
}

// Generator produces a completion for a prompt.
type Generator interface {
	Name() string
	Generate(ctx context.Context, p Prompt) (string, error)
}

// BreakerSettings configures WithBreaker.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker. Defaults to 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open. Defaults to 30s.
	OpenTimeout time.Duration
	// HalfOpenRequests are let through while probing. Defaults to 1.
	HalfOpenRequests uint32
	Logger           *slog.Logger
}

type breakerGenerator struct {
	inner Generator
	cb    *gobreaker.CircuitBreaker
}

// WithBreaker stops calling g after repeated failures. While the breaker is
// open calls fail fast with ErrNetwork. Caller mistakes such as a missing
// credential do not count as failures.
func WithBreaker(g Generator, s BreakerSettings) Generator {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout == 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if s.HalfOpenRequests == 0 {
		s.HalfOpenRequests = 1
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	logger := s.Logger
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        g.Name(),
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrAuthentication) || errors.Is(err, domain.ErrConfiguration)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("generator circuit breaker state change", "generator", name, "from", from.String(), "to", to.String())
		},
	})
	return &breakerGenerator{inner: g, cb: cb}
}

func (b *breakerGenerator) Name() string { return b.inner.Name() }

func (b *breakerGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Generate(ctx, p)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %s: %w", domain.ErrNetwork, b.inner.Name(), err)
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}
