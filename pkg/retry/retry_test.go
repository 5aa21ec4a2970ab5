package retry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-task-lease/pkg/retry"
)

func fastPolicy(maxRetries int) retry.Policy {
	return retry.Policy{MaxRetries: maxRetries, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestShouldRetry(t *testing.T) {
	p := retry.DefaultPolicy()
	assert.True(t, p.ShouldRetry(0))
	assert.True(t, p.ShouldRetry(2))
	assert.False(t, p.ShouldRetry(3))
	assert.False(t, retry.Policy{}.ShouldRetry(0), "zero policy never retries")
}

func TestBackoff_MonotonicAndCapped(t *testing.T) {
	p := retry.DefaultPolicy()
	var prev time.Duration
	for n := 0; n <= 10; n++ {
		d := p.Backoff(n)
		assert.GreaterOrEqual(t, d, prev, "Backoff(%d) < Backoff(%d)", n, n-1)
		assert.LessOrEqual(t, d, 60*time.Second, "Backoff(%d) exceeds cap", n)
		prev = d
	}
	assert.Equal(t, 60*time.Second, p.Backoff(10))
}

func TestBackoff_JitterBounds(t *testing.T) {
	low := retry.Policy{BaseDelay: time.Second, MaxDelay: time.Minute, Rand: func() float64 { return 0 }}
	high := low
	high.Rand = func() float64 { return 0.999999 }

	for n, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		assert.Equal(t, want, low.Backoff(n))
		assert.InDelta(t, float64(want)*1.1, float64(high.Backoff(n)), float64(time.Millisecond))
	}
}

func TestBackoff_NoOverflow(t *testing.T) {
	p := retry.DefaultPolicy()
	assert.Equal(t, 60*time.Second, p.Backoff(1000))
	assert.Equal(t, time.Second, retry.Policy{BaseDelay: time.Second, MaxDelay: time.Minute, Rand: func() float64 { return 0 }}.Backoff(-5))
}

func TestDo_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "fn should be called exactly once on immediate success")
}

func TestDo_RetriesOnTransientError(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient error")
		}
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "fn should be called twice: fail then succeed")
}

func TestDo_ReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	sentinel := errors.New("permanent error")
	err := retry.Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		return sentinel
	}, nil)
	assert.Equal(t, sentinel, err)
	assert.Equal(t, 4, calls, "one attempt plus MaxRetries retries")
}

func TestDo_OnRetryReportsRetryNumberAndDelay(t *testing.T) {
	var retries []int
	p := retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second, Rand: func() float64 { return 0 }}
	_ = retry.Do(context.Background(), p, func(context.Context) error {
		return errors.New("fail")
	}, func(n int, err error, delay time.Duration) {
		retries = append(retries, n)
		assert.EqualError(t, err, "fail")
		assert.Equal(t, p.Backoff(n-1), delay)
	})
	assert.Equal(t, []int{1, 2, 3}, retries)
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	p := retry.Policy{MaxRetries: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	err := retry.Do(ctx, p, func(context.Context) error {
		return errors.New("always fails")
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDo_ZeroPolicyCallsOnce(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Policy{}, func(context.Context) error {
		calls++
		return errors.New("fail")
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

type phaseError struct{ phase string }

func (e *phaseError) Error() string { return "no executor for phase " + e.phase }

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	calls, retried := 0, 0
	cause := &phaseError{phase: "unknown"}
	err := retry.Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return retry.Permanent(fmt.Errorf("execute: %w", cause))
	}, func(int, error, time.Duration) { retried++ })

	assert.Equal(t, 1, calls)
	assert.Zero(t, retried)
	assert.EqualError(t, err, "execute: no executor for phase unknown")

	var target *phaseError
	require.True(t, errors.As(err, &target))
	assert.Same(t, cause, target)
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, retry.Permanent(nil))
}
