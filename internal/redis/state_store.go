package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ramiqadoumi/go-task-lease/internal/domain"
)

// StatusChannel is the pub/sub channel carrying every state transition.
const StatusChannel = "task_status_updates"

const (
	fieldStatus     = "status"
	fieldLastUpdate = "last_update"
	fieldRetryCount = "retry_count"
	fieldOwnerID    = "owner_id"
	fieldResult     = "result"
	fieldError      = "error"
)

func stateKey(taskID string) string {
	return "task:" + taskID + ":state"
}

// StateFields carries the optional fields written alongside a status.
// Result and Error are only meaningful on terminal statuses.
type StateFields struct {
	RetryCount int
	OwnerID    string
	Result     string
	Error      string
}

// StatePublisher records task state and broadcasts transitions.
type StatePublisher interface {
	// SyncState writes the state hash and publishes a StateEvent atomically.
	SyncState(ctx context.Context, taskID string, status domain.Status, fields StateFields) error
	// GetState returns the stored state or *domain.TaskNotFoundError.
	GetState(ctx context.Context, taskID string) (*domain.TaskState, error)
	// Touch refreshes last_update without emitting an event.
	Touch(ctx context.Context, taskID string) error
	// Watch streams state events until ctx is cancelled.
	Watch(ctx context.Context) (<-chan domain.StateEvent, error)
}

// PublisherOption configures a StatePublisher.
type PublisherOption func(*statePublisher)

// WithPublisherLogger sets the logger used for undecodable events.
func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *statePublisher) { p.logger = l }
}

// WithClock overrides the time source used for last_update and events.
func WithClock(now func() time.Time) PublisherOption {
	return func(p *statePublisher) { p.now = now }
}

type statePublisher struct {
	store  LeaseStore
	logger *slog.Logger
	now    func() time.Time
}

// NewStatePublisher returns a StatePublisher backed by store.
func NewStatePublisher(store LeaseStore, opts ...PublisherOption) StatePublisher {
	p := &statePublisher{
		store:  store,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *statePublisher) SyncState(ctx context.Context, taskID string, status domain.Status, fields StateFields) error {
	now := p.now()
	values := map[string]any{
		fieldStatus:     string(status),
		fieldLastUpdate: now.Format(time.RFC3339Nano),
		fieldRetryCount: fields.RetryCount,
		fieldOwnerID:    fields.OwnerID,
	}
	var drop []string
	switch status {
	case domain.StatusCompleted:
		values[fieldResult] = fields.Result
		drop = append(drop, fieldError)
	case domain.StatusFailed:
		values[fieldError] = fields.Error
		drop = append(drop, fieldResult)
	default:
		// A new attempt cycle must not carry a previous cycle's outcome.
		drop = append(drop, fieldResult, fieldError)
	}

	event, err := json.Marshal(domain.StateEvent{TaskID: taskID, Status: status, Timestamp: now})
	if err != nil {
		return fmt.Errorf("marshal state event for %s: %w", taskID, err)
	}
	if err := p.store.HSetPublish(ctx, stateKey(taskID), values, drop, StatusChannel, event); err != nil {
		return fmt.Errorf("sync state %s for %s: %w", status, taskID, err)
	}
	return nil
}

func (p *statePublisher) GetState(ctx context.Context, taskID string) (*domain.TaskState, error) {
	vals, err := p.store.HGetAll(ctx, stateKey(taskID))
	if err != nil {
		return nil, fmt.Errorf("get state for %s: %w", taskID, err)
	}
	if len(vals) == 0 {
		return nil, &domain.TaskNotFoundError{TaskID: taskID}
	}

	state := &domain.TaskState{
		TaskID:  taskID,
		Status:  domain.Status(vals[fieldStatus]),
		OwnerID: vals[fieldOwnerID],
		Result:  vals[fieldResult],
		Error:   vals[fieldError],
	}
	if v := vals[fieldRetryCount]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse retry_count for %s: %w", taskID, err)
		}
		state.RetryCount = n
	}
	if v := vals[fieldLastUpdate]; v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("parse last_update for %s: %w", taskID, err)
		}
		state.LastUpdate = ts
	}
	return state, nil
}

func (p *statePublisher) Touch(ctx context.Context, taskID string) error {
	return p.store.HSet(ctx, stateKey(taskID), map[string]any{
		fieldLastUpdate: p.now().Format(time.RFC3339Nano),
	})
}

func (p *statePublisher) Watch(ctx context.Context) (<-chan domain.StateEvent, error) {
	sub, err := p.store.Subscribe(ctx, StatusChannel)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.StateEvent)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev domain.StateEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					p.logger.Warn("undecodable state event",
						slog.String("channel", msg.Channel),
						slog.String("error", err.Error()),
					)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
