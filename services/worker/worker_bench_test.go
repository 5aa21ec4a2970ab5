package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/ramiqadoumi/go-task-lease/internal/domain"
	"github.com/ramiqadoumi/go-task-lease/internal/executor"
	redisstore "github.com/ramiqadoumi/go-task-lease/internal/redis"
	"github.com/ramiqadoumi/go-task-lease/pkg/retry"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newBenchWorker(b *testing.B, id string) (*Worker, redisstore.Queue) {
	b.Helper()
	mr := miniredis.RunT(b)
	client := redisstore.NewClient(mr.Addr())
	b.Cleanup(func() { _ = client.Close() })

	store := redisstore.NewLeaseStore(client)
	queue := redisstore.NewQueue(store, nil)
	noop := executor.Func(func(context.Context, *domain.Task) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	w := NewWorker(id, queue, redisstore.NewLocker(store), redisstore.NewStatePublisher(store), noop, nil,
		WithLogger(discardLogger),
		WithRetryPolicy(retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}),
		WithHeartbeatInterval(time.Minute),
	)
	return w, queue
}

// BenchmarkWorker_HandleTask measures one full fetch, claim, execute, publish
// and ack cycle against an in-memory store with a no-op executor.
func BenchmarkWorker_HandleTask(b *testing.B) {
	w, queue := newBenchWorker(b, "bench-worker")
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		// Fresh id per iteration so the completed-state guard doesn't short-circuit.
		task := &domain.Task{ID: "bench-" + strconv.Itoa(i), Phase: "noop"}
		if _, err := queue.Enqueue(ctx, "tasks:default", task); err != nil {
			b.Fatal(err)
		}
		d, err := queue.Fetch(ctx, w.processing)
		if err != nil || d == nil {
			b.Fatalf("fetch: %v", err)
		}
		b.StartTimer()

		w.handle(ctx, d)
	}
}
