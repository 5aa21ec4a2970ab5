package domain

import "time"

// Status is the published lifecycle status of a task. Queued is implicit:
// a task with no state record has not been picked up yet.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal returns true if no further transitions happen within the
// current attempt cycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusRetrying, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// TaskState is the last known state of a task as stored in the shared store.
type TaskState struct {
	TaskID     string    `json:"task_id"`
	Status     Status    `json:"status"`
	RetryCount int       `json:"retry_count"`
	OwnerID    string    `json:"owner_id"`
	LastUpdate time.Time `json:"last_update"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// StateEvent is the change notification emitted on every transition.
type StateEvent struct {
	TaskID    string    `json:"task_id"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
