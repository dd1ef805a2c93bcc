package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(retries int) Policy {
	return Policy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
	assert.Equal(t, 200*time.Millisecond, p.Delay(0))
	assert.Equal(t, 400*time.Millisecond, p.Delay(1))
	assert.Equal(t, 3200*time.Millisecond, p.Delay(4))
	assert.Equal(t, 5*time.Second, p.Delay(5))
	assert.Equal(t, 5*time.Second, p.Delay(100))
}

func TestDo_RetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("busy"), 0)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), fastPolicy(3), nil, func(context.Context) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustedReturnsUnwrappedError(t *testing.T) {
	busy := errors.New("busy")
	calls := 0
	err := Do(context.Background(), fastPolicy(2), nil, func(context.Context) error {
		calls++
		return Retryable(busy, 0)
	})
	assert.Same(t, busy, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ZeroRetriesCallsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(0), nil, func(context.Context) error {
		calls++
		return Retryable(errors.New("busy"), 0)
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := Do(ctx, Policy{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}, nil, func(context.Context) error {
		cancel()
		return Retryable(errors.New("busy"), 0)
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_WithLimiter(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(1), NewLimiter(1000), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Nil(t, NewLimiter(0))
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	assert.Zero(t, RetryAfter(h))
	h.Set("Retry-After", "2")
	assert.Equal(t, 2*time.Second, RetryAfter(h))
	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	assert.Zero(t, RetryAfter(h))
}

func TestRetryableStatus(t *testing.T) {
	assert.True(t, RetryableStatus(http.StatusTooManyRequests))
	assert.True(t, RetryableStatus(http.StatusBadGateway))
	assert.False(t, RetryableStatus(http.StatusBadRequest))
}
