package redis

import (
	"context"
	"time"
)

// DefaultLockTTL bounds how long a crashed owner can block a task.
const DefaultLockTTL = 300 * time.Second

func lockKey(resourceID string) string {
	return "lock:task:" + resourceID
}

// Locker grants exclusive, expiring ownership of a resource id.
type Locker interface {
	// Acquire takes the lock if it is free. Contention returns false, not an error.
	Acquire(ctx context.Context, resourceID, ownerID string, ttl time.Duration) (bool, error)
	// Release deletes the lock only while ownerID still holds it.
	Release(ctx context.Context, resourceID, ownerID string) (bool, error)
	// Renew resets the lock TTL. Returns false when the lock no longer exists.
	Renew(ctx context.Context, resourceID string, ttl time.Duration) (bool, error)
	// Owner returns the current holder, if any.
	Owner(ctx context.Context, resourceID string) (string, bool, error)
}

type locker struct {
	store LeaseStore
}

// NewLocker returns a Locker backed by store.
func NewLocker(store LeaseStore) Locker {
	return &locker{store: store}
}

func (l *locker) Acquire(ctx context.Context, resourceID, ownerID string, ttl time.Duration) (bool, error) {
	return l.store.SetNX(ctx, lockKey(resourceID), ownerID, ttl)
}

func (l *locker) Release(ctx context.Context, resourceID, ownerID string) (bool, error) {
	return l.store.CompareAndDelete(ctx, lockKey(resourceID), ownerID)
}

func (l *locker) Renew(ctx context.Context, resourceID string, ttl time.Duration) (bool, error) {
	return l.store.Expire(ctx, lockKey(resourceID), ttl)
}

func (l *locker) Owner(ctx context.Context, resourceID string) (string, bool, error) {
	return l.store.Get(ctx, lockKey(resourceID))
}
