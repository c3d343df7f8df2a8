package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// RetryPolicy configures exponential backoff between attempts.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy returns the policy used by the pipeline.
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    maxRetries,
		InitialDelay:  time.Second,
		MaxDelay:      20 * time.Second,
		BackoffFactor: 2.0,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}
	d := float64(p.InitialDelay) * math.Pow(factor, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// Retry runs fn until it succeeds, the context ends, or the policy is
// exhausted. Context errors are never retried.
func Retry[T any](ctx context.Context, p RetryPolicy, logger *slog.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			d := p.delay(attempt)
			logger.Debug("retrying", "op", op, "attempt", attempt, "delay", d)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(d):
			}
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err
		logger.Warn("attempt failed", "op", op, "attempt", attempt, "error", err)
	}
	return zero, fmt.Errorf("%s failed after %d retries: %w", op, p.MaxRetries, lastErr)
}

// RetryClient wraps a Client with exponential-backoff retry on transport errors.
type RetryClient struct {
	inner  Client
	policy RetryPolicy
	logger *slog.Logger
}

var _ Client = (*RetryClient)(nil)

// NewRetryClient creates a retrying wrapper around inner.
func NewRetryClient(inner Client, policy RetryPolicy, logger *slog.Logger) *RetryClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryClient{inner: inner, policy: policy, logger: logger.With("component", "llm_retry")}
}

// Complete forwards to the inner client, retrying failures.
func (r *RetryClient) Complete(ctx context.Context, req Request) (*Response, error) {
	return Retry(ctx, r.policy, r.logger, "completion", func(ctx context.Context) (*Response, error) {
		return r.inner.Complete(ctx, req)
	})
}
