package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryerSucceedsWithoutRetry(t *testing.T) {
	r := NewRetryer(DefaultPolicy(), nil)
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryerRetriesThenSucceeds(t *testing.T) {
	r := NewRetryer(Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2}, nil)
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryerExhaustsRetries(t *testing.T) {
	r := NewRetryer(Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2}, nil)
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryerSkipsNonRetryable(t *testing.T) {
	r := NewRetryer(Policy{
		MaxRetries:  2,
		IsRetryable: func(err error) bool { return !IsNotRetryable(err) },
	}, nil)
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return &ErrNotRetryable{Err: errors.New("misconfiguration")}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryerRespectsContextCancellation(t *testing.T) {
	r := NewRetryer(Policy{MaxRetries: 3, InitialDelay: 50 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Do(ctx, func() error { return errors.New("fail") })
	require.Error(t, err)
}
