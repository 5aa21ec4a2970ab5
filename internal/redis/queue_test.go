package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-task-lease/internal/domain"
)

const testProcessing = "tasks:processing:w1"

func TestQueue_FetchHonoursPriority(t *testing.T) {
	store, _, _ := newTestStore(t)
	q := NewQueue(store, []string{"high", "default", "low"})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "low", &domain.Task{ID: "t-low", Phase: "p"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "default", &domain.Task{ID: "t-default", Phase: "p"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "high", &domain.Task{ID: "t-high", Phase: "p"})
	require.NoError(t, err)

	var got []string
	for i := 0; i < 3; i++ {
		d, err := q.Fetch(ctx, testProcessing)
		require.NoError(t, err)
		require.NotNil(t, d)
		got = append(got, d.TaskID)
	}
	assert.Equal(t, []string{"t-high", "t-default", "t-low"}, got)

	d, err := q.Fetch(ctx, testProcessing)
	require.NoError(t, err)
	assert.Nil(t, d, "every queue is empty")
}

func TestQueue_FetchIsFIFOWithinQueue(t *testing.T) {
	store, _, _ := newTestStore(t)
	q := NewQueue(store, []string{"default"})
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, "default", &domain.Task{ID: id})
		require.NoError(t, err)
	}
	for _, want := range []string{"a", "b", "c"} {
		d, err := q.Fetch(ctx, testProcessing)
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, want, d.TaskID)
		assert.Equal(t, "default", d.Queue)
	}
}

func TestQueue_FetchMovesIntoProcessing(t *testing.T) {
	store, _, mr := newTestStore(t)
	q := NewQueue(store, []string{"default"})
	ctx := context.Background()

	raw, err := q.Enqueue(ctx, "default", &domain.Task{ID: "t1", Phase: "x", Payload: map[string]any{"n": 1.0}})
	require.NoError(t, err)

	d, err := q.Fetch(ctx, testProcessing)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "t1", d.TaskID)
	assert.Equal(t, raw, d.Raw)
	assert.Equal(t, map[string]any{"n": 1.0}, d.Task.Payload)

	assert.False(t, mr.Exists("default"), "task must leave the source queue")
	processing, err := mr.List(testProcessing)
	require.NoError(t, err)
	assert.Equal(t, []string{string(raw)}, processing)
}

func TestQueue_MalformedRecordIsDropped(t *testing.T) {
	store, _, mr := newTestStore(t)

	var dropped []string
	q := NewQueue(store, []string{"high", "default"},
		WithMalformedHook(func(queue string, err error) {
			dropped = append(dropped, queue)
			var malformed *domain.MalformedTaskError
			assert.True(t, errors.As(err, &malformed))
		}),
	)
	ctx := context.Background()

	mr.Lpush("high", "not-json")
	_, err := q.Enqueue(ctx, "default", &domain.Task{ID: "good"})
	require.NoError(t, err)

	d, err := q.Fetch(ctx, testProcessing)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "good", d.TaskID, "fetch continues with the next queue")
	assert.Equal(t, []string{"high"}, dropped)

	processing, err := mr.List(testProcessing)
	require.NoError(t, err)
	assert.Equal(t, []string{string(d.Raw)}, processing, "malformed record must not stay in processing")
}

func TestQueue_AckRemovesExactlyOnce(t *testing.T) {
	store, _, mr := newTestStore(t)
	q := NewQueue(store, []string{"default"})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "default", &domain.Task{ID: "t1"})
	require.NoError(t, err)
	d, err := q.Fetch(ctx, testProcessing)
	require.NoError(t, err)
	require.NotNil(t, d)

	require.NoError(t, q.Ack(ctx, testProcessing, d.Raw))
	assert.False(t, mr.Exists(testProcessing))

	err = q.Ack(ctx, testProcessing, d.Raw)
	assert.ErrorIs(t, err, ErrNotAcked)
}

func TestQueue_FetchWaitTimesOut(t *testing.T) {
	store, _, _ := newTestStore(t)
	q := NewQueue(store, []string{"default"}, WithScanInterval(10*time.Millisecond))

	start := time.Now()
	d, err := q.FetchWait(context.Background(), testProcessing, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestQueue_FetchWaitPicksUpLateArrival(t *testing.T) {
	store, _, _ := newTestStore(t)
	q := NewQueue(store, []string{"default"}, WithScanInterval(10*time.Millisecond))
	ctx := context.Background()

	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = q.Enqueue(ctx, "default", &domain.Task{ID: "late"})
	}()

	d, err := q.FetchWait(ctx, testProcessing, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "late", d.TaskID)
}

func TestQueue_FetchWaitHonoursCancellation(t *testing.T) {
	store, _, _ := newTestStore(t)
	q := NewQueue(store, []string{"default"}, WithScanInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := q.FetchWait(ctx, testProcessing, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_LeftoversSurviveCrash(t *testing.T) {
	store, _, mr := newTestStore(t)
	ctx := context.Background()

	// First run fetches two tasks and dies before acking either.
	first := NewQueue(store, []string{"default"})
	for _, id := range []string{"t1", "t2"} {
		_, err := first.Enqueue(ctx, "default", &domain.Task{ID: id})
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		d, err := first.Fetch(ctx, testProcessing)
		require.NoError(t, err)
		require.NotNil(t, d)
	}
	mr.Lpush(testProcessing, "{broken")

	restarted := NewQueue(store, []string{"default"})
	var ids []string
	for d, err := range restarted.Leftovers(ctx, testProcessing) {
		require.NoError(t, err)
		ids = append(ids, d.TaskID)
		assert.Empty(t, d.Queue, "a leftover's source queue is unknown")
		require.NoError(t, restarted.Ack(ctx, testProcessing, d.Raw))
	}
	assert.Equal(t, []string{"t1", "t2"}, ids, "leftovers come back oldest first")
	assert.False(t, mr.Exists(testProcessing), "no task left behind")
}

func TestQueue_LeftoversStopsEarly(t *testing.T) {
	store, _, mr := newTestStore(t)
	q := NewQueue(store, nil)
	mr.Lpush(testProcessing, `{"id":"a"}`)
	mr.Lpush(testProcessing, `{"id":"b"}`)

	n := 0
	for range q.Leftovers(context.Background(), testProcessing) {
		n++
		break
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, DefaultQueues, q.Queues())
}

func TestProcessingKey(t *testing.T) {
	assert.Equal(t, "tasks:processing:worker-7", ProcessingKey("worker-7"))
	assert.True(t, IsProcessingKey(ProcessingKey("worker-7")))
	assert.False(t, IsProcessingKey(FallbackQueue))
	assert.False(t, IsProcessingKey("tasks:high"))
}

func TestQueue_RequeueKeepsBytes(t *testing.T) {
	store, _, mr := newTestStore(t)
	q := NewQueue(store, []string{"default"})
	ctx := context.Background()

	raw := []byte(`{"id":"t1","phase":"research","topic":"go"}`)
	require.NoError(t, q.Requeue(ctx, "default", raw))

	list, err := mr.List("default")
	require.NoError(t, err)
	assert.Equal(t, []string{string(raw)}, list)

	var malformed *domain.MalformedTaskError
	assert.True(t, errors.As(q.Requeue(ctx, "default", []byte("junk")), &malformed))
}
