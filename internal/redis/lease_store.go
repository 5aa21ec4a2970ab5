package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// LeaseStore is the set of atomic primitives the worker needs from the
// shared key-value store. It carries no business logic.
type LeaseStore interface {
	// SetNX sets key to value with expiry only if key does not exist.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Get returns the value of key; ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// CompareAndDelete deletes key only if its value equals expected.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	// Expire resets the TTL of key. Returns false if key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Eval runs script atomically and returns its integer reply. A nil reply
	// reads as 0.
	Eval(ctx context.Context, script *redis.Script, keys []string, args ...any) (int64, error)

	// Move atomically pops the tail of src and pushes it onto the head of dst.
	// Returns nil bytes when src is empty.
	Move(ctx context.Context, src, dst string) ([]byte, error)
	// Push prepends value to the list at key.
	Push(ctx context.Context, key string, value []byte) error
	// Range returns every element of the list at key, head first.
	Range(ctx context.Context, key string) ([][]byte, error)
	// Remove deletes one occurrence of value from the list at key.
	Remove(ctx context.Context, key string, value []byte) (int64, error)

	// HSet writes fields into the hash at key.
	HSet(ctx context.Context, key string, fields map[string]any) error
	// HGetAll reads the hash at key. An absent key yields an empty map.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// HSetPublish writes fields, deletes drop, and publishes msg on channel
	// in a single MULTI/EXEC.
	HSetPublish(ctx context.Context, key string, fields map[string]any, drop []string, channel string, msg []byte) error
	// Subscribe returns a confirmed subscription to channel.
	Subscribe(ctx context.Context, channel string) (*redis.PubSub, error)
}

type leaseStore struct {
	client *redis.Client
}

// NewLeaseStore wraps a Redis client with the LeaseStore primitives.
func NewLeaseStore(client *redis.Client) LeaseStore {
	return &leaseStore{client: client}
}

func (s *leaseStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

func (s *leaseStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

func (s *leaseStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	n, err := s.Eval(ctx, compareAndDelete, []string{key}, expected)
	if err != nil {
		return false, fmt.Errorf("compare-and-delete: %w", err)
	}
	return n == 1, nil
}

func (s *leaseStore) Eval(ctx context.Context, script *redis.Script, keys []string, args ...any) (int64, error) {
	n, err := script.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis eval %v: %w", keys, err)
	}
	return n, nil
}

func (s *leaseStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.PExpire(ctx, key, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis pexpire %s: %w", key, err)
	}
	return ok, nil
}

func (s *leaseStore) Move(ctx context.Context, src, dst string) ([]byte, error) {
	data, err := s.client.LMove(ctx, src, dst, "RIGHT", "LEFT").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis lmove %s -> %s: %w", src, dst, err)
	}
	return data, nil
}

func (s *leaseStore) Push(ctx context.Context, key string, value []byte) error {
	if err := s.client.LPush(ctx, key, value).Err(); err != nil {
		return fmt.Errorf("redis lpush %s: %w", key, err)
	}
	return nil
}

func (s *leaseStore) Range(ctx context.Context, key string) ([][]byte, error) {
	vals, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", key, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (s *leaseStore) Remove(ctx context.Context, key string, value []byte) (int64, error) {
	n, err := s.client.LRem(ctx, key, 1, value).Result()
	if err != nil {
		return 0, fmt.Errorf("redis lrem %s: %w", key, err)
	}
	return n, nil
}

func (s *leaseStore) HSet(ctx context.Context, key string, fields map[string]any) error {
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", key, err)
	}
	return nil
}

func (s *leaseStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", key, err)
	}
	return vals, nil
}

func (s *leaseStore) HSetPublish(ctx context.Context, key string, fields map[string]any, drop []string, channel string, msg []byte) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if len(drop) > 0 {
		pipe.HDel(ctx, key, drop...)
	}
	pipe.Publish(ctx, channel, msg)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis hset+publish %s: %w", key, err)
	}
	return nil
}

func (s *leaseStore) Subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	sub := s.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so no event published after
	// Subscribe returns can be missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	return sub, nil
}
