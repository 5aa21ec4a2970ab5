package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

const jitterFactor = 0.1

// Policy decides whether a failed attempt is retried and how long to wait.
// The zero value never retries.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the wait before the first retry; it doubles each retry.
	BaseDelay time.Duration
	// MaxDelay caps every wait, jitter included.
	MaxDelay time.Duration
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultPolicy returns 3 retries with 1s base and 60s cap.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 60 * time.Second}
}

// ShouldRetry reports whether another attempt is allowed after n retries.
func (p Policy) ShouldRetry(n int) bool {
	return n < p.MaxRetries
}

// Backoff returns the wait before retry n (0-indexed):
//
//	min(BaseDelay*2^n + U[0, 0.1*BaseDelay*2^n], MaxDelay)
//
// It never overflows for large n.
func (p Policy) Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	limit := float64(p.MaxDelay)
	d := float64(p.BaseDelay) * math.Pow(2, float64(n))
	if p.MaxDelay > 0 && d >= limit {
		return p.MaxDelay
	}

	r := rand.Float64
	if p.Rand != nil {
		r = p.Rand
	}
	d += r() * jitterFactor * d

	if p.MaxDelay > 0 && d > limit {
		return p.MaxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// at once. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, the policy gives up, or ctx is done.
//
// onRetry, if non-nil, is called after a failed attempt that will be retried,
// with the retry number (1-indexed), the error, and the wait that follows.
//
// Returns nil on success, or the last error once retries are exhausted. An
// error wrapped with Permanent ends the loop immediately and is returned
// unwrapped.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, onRetry func(retries int, err error, delay time.Duration)) error {
	for retries := 0; ; retries++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if !p.ShouldRetry(retries) {
			return err
		}

		delay := p.Backoff(retries)
		if onRetry != nil {
			onRetry(retries+1, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled after %d attempts: %w", retries+1, ctx.Err())
		}
	}
}
