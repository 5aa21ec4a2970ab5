package redis

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/ramiqadoumi/go-task-lease/internal/domain"
)

// ErrNotAcked is returned by Ack when the processing list held no matching entry.
var ErrNotAcked = errors.New("entry not found in processing list")

// DefaultQueues is the priority chain scanned by Fetch, highest first.
var DefaultQueues = []string{"tasks:high", "tasks:medium", "tasks:low", FallbackQueue}

// FallbackQueue receives tasks whose source queue is unknown.
const FallbackQueue = "tasks:default"

const defaultScanInterval = 200 * time.Millisecond

const processingPrefix = "tasks:processing:"

// ProcessingKey returns the processing list owned by a worker.
func ProcessingKey(workerID string) string {
	return processingPrefix + workerID
}

// IsProcessingKey reports whether name is a worker's processing list rather
// than a queue that Fetch reads.
func IsProcessingKey(name string) bool {
	return strings.HasPrefix(name, processingPrefix)
}

// Delivery is a task moved into a processing list. Raw holds the exact bytes
// that were moved and must be passed back to Ack unchanged. Queue is the
// priority queue it came from, empty for a leftover recovered after a crash.
type Delivery struct {
	TaskID string
	Task   *domain.Task
	Queue  string
	Raw    []byte
}

// Queue moves tasks from priority queues into per-worker processing lists.
type Queue interface {
	// Fetch scans the queues in priority order and moves the first available
	// task into processing. Returns (nil, nil) when every queue is empty.
	Fetch(ctx context.Context, processing string) (*Delivery, error)
	// FetchWait behaves like Fetch but keeps re-scanning until a task arrives
	// or timeout elapses.
	FetchWait(ctx context.Context, processing string, timeout time.Duration) (*Delivery, error)
	// Ack removes exactly one occurrence of raw from processing.
	Ack(ctx context.Context, processing string, raw []byte) error
	// Leftovers yields the entries already sitting in processing, typically
	// left behind by a crashed run of the same worker.
	Leftovers(ctx context.Context, processing string) iter.Seq2[*Delivery, error]
	// Enqueue pushes task onto queue and returns the bytes written.
	Enqueue(ctx context.Context, queue string, task *domain.Task) ([]byte, error)
	// Requeue pushes an already-serialised record onto queue unchanged.
	Requeue(ctx context.Context, queue string, raw []byte) error
	// Queues returns the configured priority chain.
	Queues() []string
}

// QueueOption configures a Queue.
type QueueOption func(*queue)

// WithQueueLogger sets the logger used to report dropped records.
func WithQueueLogger(l *slog.Logger) QueueOption {
	return func(q *queue) { q.logger = l }
}

// WithScanInterval sets how long FetchWait sleeps between empty scans.
func WithScanInterval(d time.Duration) QueueOption {
	return func(q *queue) {
		if d > 0 {
			q.scanInterval = d
		}
	}
}

// WithMalformedHook registers fn to be called for every dropped record.
func WithMalformedHook(fn func(queue string, err error)) QueueOption {
	return func(q *queue) { q.onMalformed = fn }
}

type queue struct {
	store        LeaseStore
	queues       []string
	scanInterval time.Duration
	logger       *slog.Logger
	onMalformed  func(queue string, err error)
}

// NewQueue returns a Queue scanning queues in the given order. An empty
// slice falls back to DefaultQueues.
func NewQueue(store LeaseStore, queues []string, opts ...QueueOption) Queue {
	if len(queues) == 0 {
		queues = DefaultQueues
	}
	q := &queue{
		store:        store,
		queues:       append([]string(nil), queues...),
		scanInterval: defaultScanInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *queue) Queues() []string { return append([]string(nil), q.queues...) }

func (q *queue) Fetch(ctx context.Context, processing string) (*Delivery, error) {
	for _, name := range q.queues {
		raw, err := q.store.Move(ctx, name, processing)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}

		task, err := domain.ParseTask(raw)
		if err != nil {
			q.drop(ctx, name, processing, raw, err)
			continue
		}
		return &Delivery{TaskID: task.ID, Task: task, Queue: name, Raw: raw}, nil
	}
	return nil, nil
}

func (q *queue) FetchWait(ctx context.Context, processing string, timeout time.Duration) (*Delivery, error) {
	deadline := time.Now().Add(timeout)
	for {
		d, err := q.Fetch(ctx, processing)
		if err != nil || d != nil {
			return d, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := min(q.scanInterval, remaining)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (q *queue) Ack(ctx context.Context, processing string, raw []byte) error {
	n, err := q.store.Remove(ctx, processing, raw)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("ack %s: %w", processing, ErrNotAcked)
	}
	return nil
}

func (q *queue) Leftovers(ctx context.Context, processing string) iter.Seq2[*Delivery, error] {
	return func(yield func(*Delivery, error) bool) {
		entries, err := q.store.Range(ctx, processing)
		if err != nil {
			yield(nil, err)
			return
		}
		// Oldest entries sit at the tail.
		for i := len(entries) - 1; i >= 0; i-- {
			raw := entries[i]
			task, err := domain.ParseTask(raw)
			if err != nil {
				q.drop(ctx, processing, processing, raw, err)
				continue
			}
			if !yield(&Delivery{TaskID: task.ID, Task: task, Raw: raw}, nil) {
				return
			}
		}
	}
}

func (q *queue) Enqueue(ctx context.Context, name string, task *domain.Task) ([]byte, error) {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	raw, err := task.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	if err := q.store.Push(ctx, name, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (q *queue) Requeue(ctx context.Context, name string, raw []byte) error {
	if _, err := domain.ParseTask(raw); err != nil {
		return err
	}
	return q.store.Push(ctx, name, raw)
}

// drop removes a malformed record from processing. Malformed records are
// never retried.
func (q *queue) drop(ctx context.Context, source, processing string, raw []byte, cause error) {
	q.logger.Warn("dropping malformed task",
		slog.String("queue", source),
		slog.Int("bytes", len(raw)),
		slog.String("error", cause.Error()),
	)
	if _, err := q.store.Remove(ctx, processing, raw); err != nil {
		q.logger.Error("failed to remove malformed task",
			slog.String("queue", source),
			slog.String("error", err.Error()),
		)
	}
	if q.onMalformed != nil {
		q.onMalformed(source, cause)
	}
}
