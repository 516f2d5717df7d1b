// Package retry provides a jittered exponential backoff retryer used by
// the embedding adapters to retry safe-transient transport errors.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy configures a Retryer.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	// IsRetryable classifies an error as safe to retry. Nil retries every
	// non-nil error.
	IsRetryable func(err error) bool
	OnRetry     func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy matches spec §4.2: at most 2 retries, exponential jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   2,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer executes a function with retries under a Policy.
type Retryer interface {
	Do(ctx context.Context, fn func() error) error
}

type backoffRetryer struct {
	policy Policy
	logger *zap.Logger
}

// NewRetryer builds a Retryer from policy, normalizing invalid fields to
// DefaultPolicy's values.
func NewRetryer(policy Policy, logger *zap.Logger) Retryer {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 200 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 5 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &backoffRetryer{policy: policy, logger: logger.With(zap.String("component", "retry"))}
}

func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateDelay(attempt)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}
			r.logger.Debug("retrying", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(lastErr))

			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if IsNotRetryable(lastErr) || (r.policy.IsRetryable != nil && !r.policy.IsRetryable(lastErr)) {
			return lastErr
		}
		if attempt >= r.policy.MaxRetries {
			break
		}
	}

	return fmt.Errorf("retries exhausted after %d attempts: %w", r.policy.MaxRetries+1, lastErr)
}

func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	d := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if d > float64(r.policy.MaxDelay) {
		d = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		d = d*0.5 + rand.Float64()*d*0.5
	}
	return time.Duration(d)
}

// ErrNotRetryable wraps an error to mark it permanent regardless of the
// policy's classifier.
type ErrNotRetryable struct{ Err error }

func (e *ErrNotRetryable) Error() string { return e.Err.Error() }
func (e *ErrNotRetryable) Unwrap() error { return e.Err }

func IsNotRetryable(err error) bool {
	var nr *ErrNotRetryable
	return errors.As(err, &nr)
}
