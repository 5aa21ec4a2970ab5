package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// refreshIfHolder extends KEYS[1] by ARGV[2] milliseconds only while it still
// holds ARGV[1].
var refreshIfHolder = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

func registrationKey(workerID string) string {
	return "worker:" + workerID + ":instance"
}

// Registrar binds a worker id to a single live process. The processing list
// and lock identity of a worker id are only safe to reuse while one process
// holds its registration.
type Registrar interface {
	// Register claims workerID for instanceID if no live process holds it.
	Register(ctx context.Context, workerID, instanceID string, ttl time.Duration) (bool, error)
	// Refresh extends the registration. Returns false once instanceID no
	// longer holds it.
	Refresh(ctx context.Context, workerID, instanceID string, ttl time.Duration) (bool, error)
	// Deregister drops the registration only while instanceID holds it.
	Deregister(ctx context.Context, workerID, instanceID string) (bool, error)
	// Holder returns the instance currently registered under workerID.
	Holder(ctx context.Context, workerID string) (string, bool, error)
}

type registrar struct {
	store LeaseStore
}

// NewRegistrar returns a Registrar backed by store.
func NewRegistrar(store LeaseStore) Registrar {
	return &registrar{store: store}
}

func (r *registrar) Register(ctx context.Context, workerID, instanceID string, ttl time.Duration) (bool, error) {
	return r.store.SetNX(ctx, registrationKey(workerID), instanceID, ttl)
}

func (r *registrar) Refresh(ctx context.Context, workerID, instanceID string, ttl time.Duration) (bool, error) {
	n, err := r.store.Eval(ctx, refreshIfHolder, []string{registrationKey(workerID)}, instanceID, ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("refresh registration of %s: %w", workerID, err)
	}
	return n == 1, nil
}

func (r *registrar) Deregister(ctx context.Context, workerID, instanceID string) (bool, error) {
	return r.store.CompareAndDelete(ctx, registrationKey(workerID), instanceID)
}

func (r *registrar) Holder(ctx context.Context, workerID string) (string, bool, error) {
	return r.store.Get(ctx, registrationKey(workerID))
}
