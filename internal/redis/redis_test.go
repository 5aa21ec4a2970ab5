package redis

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

// newTestStore starts an in-memory Redis and returns a LeaseStore on top of it.
func newTestStore(t *testing.T) (LeaseStore, *goredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewClient(mr.Addr())
	t.Cleanup(func() { _ = client.Close() })
	return NewLeaseStore(client), client, mr
}
