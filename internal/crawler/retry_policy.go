package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"
)

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// RetryPolicy bounds the attempts made for one page and paces them: a short
// random jitter after every success and a longer backoff after a failure.
type RetryPolicy struct {
	MaxAttempts   int
	JitterMin     time.Duration
	JitterMax     time.Duration
	BackoffFactor int

	sleep Sleeper
}

// DefaultRetryPolicy returns 3 attempts, 1-3s jitter and a 10x backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{}.withDefaults()
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.JitterMin <= 0 && p.JitterMax <= 0 {
		p.JitterMin = time.Second
		p.JitterMax = 3 * time.Second
	}
	if p.JitterMax < p.JitterMin {
		p.JitterMax = p.JitterMin
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = 10
	}
	return p
}

// WithSleeper returns a copy of the policy that pauses through fn.
func (p RetryPolicy) WithSleeper(fn Sleeper) RetryPolicy {
	p.sleep = fn
	return p
}

// Jitter returns a uniformly distributed delay in [JitterMin, JitterMax].
func (p RetryPolicy) Jitter() time.Duration {
	return p.JitterMin + randomJitter(p.JitterMax-p.JitterMin)
}

// Backoff returns the delay applied after a failed attempt.
func (p RetryPolicy) Backoff() time.Duration {
	return p.Jitter() * time.Duration(p.BackoffFactor)
}

// Wait sleeps for d using the configured sleeper.
func (p RetryPolicy) Wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// SleepContext blocks for d or until ctx is canceled.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Attempt performs one try. Returning ErrEmptyContent moves straight to the
// next attempt; any other error is a transport failure and triggers backoff.
type Attempt[T any] func(ctx context.Context, attempt int) (T, error)

// Retry runs fn under policy. It reports false once MaxAttempts tries have
// failed or ctx is canceled; failures are logged, never returned.
func Retry[T any](ctx context.Context, policy RetryPolicy, logger *zap.Logger, fn Attempt[T]) (T, bool) {
	var zero T
	policy = policy.withDefaults()
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		value, err := fn(ctx, attempt)
		if err == nil {
			if waitErr := policy.Wait(ctx, policy.Jitter()); waitErr != nil {
				logger.Warn("jitter interrupted", zap.Error(waitErr))
			}
			return value, true
		}
		final := attempt >= policy.MaxAttempts
		if errors.Is(err, ErrEmptyContent) {
			logger.Warn("attempt returned no content",
				zap.Int("attempt", attempt),
				zap.Bool("final", final),
			)
			continue
		}
		logger.Warn("attempt failed",
			zap.Int("attempt", attempt),
			zap.Bool("final", final),
			zap.Error(err),
		)
		if final {
			break
		}
		if waitErr := policy.Wait(ctx, policy.Backoff()); waitErr != nil {
			logger.Warn("backoff interrupted", zap.Error(waitErr))
			return zero, false
		}
	}
	return zero, false
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit) + 1)
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
