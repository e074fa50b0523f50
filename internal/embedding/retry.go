package embedding

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"docrag/internal/domain"
)

// RetryPolicy bounds how often transient failures are retried.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy mirrors the usual embedding API guidance: a few
// exponential retries capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, InitialInterval: 200 * time.Millisecond, MaxInterval: 5 * time.Second}
}

// RetryProvider retries rate-limited and network failures with exponential
// backoff. Authentication, model and dimension errors fail immediately.
type RetryProvider struct {
	inner  Provider
	policy RetryPolicy
	logger *slog.Logger
}

func WithRetry(inner Provider, policy RetryPolicy, logger *slog.Logger) *RetryProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryProvider{inner: inner, policy: policy, logger: logger}
}

func (r *RetryProvider) Name() string { return r.inner.Name() }
func (r *RetryProvider) Dimension() int { return r.inner.Dimension() }
func (r *RetryProvider) Unwrap() Provider { return r.inner }

func (r *RetryProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	embs, err := r.EmbedBatchTagged(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embs[0].Vector, nil
}

func (r *RetryProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embs, err := r.EmbedBatchTagged(ctx, texts)
	if err != nil {
		return nil, err
	}
	return vectors(embs), nil
}

func (r *RetryProvider) EmbedBatchTagged(ctx context.Context, texts []string) ([]Embedding, error) {
	var out []Embedding
	op := func() error {
		embs, err := EmbedTagged(ctx, r.inner, texts)
		if err != nil {
			if Retryable(err) && ctx.Err() == nil {
				return err
			}
			return backoff.Permanent(err)
		}
		out = embs
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("embedding request failed, retrying", "provider", r.inner.Name(), "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, r.backOff(ctx), notify); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RetryProvider) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		b.InitialInterval = r.policy.InitialInterval
	}
	if r.policy.MaxInterval > 0 {
		b.MaxInterval = r.policy.MaxInterval
	}
	b.MaxElapsedTime = 0
	retries := r.policy.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrNetwork)
}
