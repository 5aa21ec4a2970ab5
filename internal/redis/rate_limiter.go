package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/go-task-lease/internal/domain"
)

// slidingWindow evicts expired entries, then records the call only if the
// window still has room. Returns 1 when admitted.
var slidingWindow = redis.NewScript(`
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
	if redis.call("ZCARD", KEYS[1]) >= limit then
		return 0
	end
	redis.call("ZADD", KEYS[1], now, ARGV[4])
	redis.call("PEXPIRE", KEYS[1], window * 2)
	return 1
`)

// PhaseLimiter caps how many executions of a phase may start per window,
// across every worker sharing the store.
type PhaseLimiter interface {
	// Check admits one execution of phase or returns *domain.RateLimitExceededError.
	Check(ctx context.Context, phase string) error
}

type phaseLimiter struct {
	store     LeaseStore
	limit     int
	overrides map[string]int
	window    time.Duration
}

// NewPhaseLimiter returns a Redis-backed sliding-window limiter. limit applies
// to every phase without an entry in overrides; a limit <= 0 disables limiting.
func NewPhaseLimiter(store LeaseStore, limit int, window time.Duration, overrides map[string]int) PhaseLimiter {
	return &phaseLimiter{store: store, limit: limit, window: window, overrides: overrides}
}

func (l *phaseLimiter) limitFor(phase string) int {
	if n, ok := l.overrides[phase]; ok {
		return n
	}
	return l.limit
}

func (l *phaseLimiter) Check(ctx context.Context, phase string) error {
	limit := l.limitFor(phase)
	if limit <= 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	admitted, err := l.store.Eval(ctx, slidingWindow,
		[]string{"ratelimit:phase:" + phase},
		now, l.window.Milliseconds(), limit, fmt.Sprintf("%d-%s", now, uuid.NewString()),
	)
	if err != nil {
		return fmt.Errorf("rate limit check for phase %q: %w", phase, err)
	}
	if admitted == 0 {
		return &domain.RateLimitExceededError{Phase: phase, Limit: limit}
	}
	return nil
}
