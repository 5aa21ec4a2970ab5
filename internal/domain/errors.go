package domain

import "fmt"

// TaskNotFoundError is returned when a task has no state record.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// MalformedTaskError is returned when a queued record cannot be parsed.
// Malformed records are dropped, never retried.
type MalformedTaskError struct {
	TaskID string
	Reason string
	Err    error
}

func (e *MalformedTaskError) Error() string {
	if e.TaskID == "" {
		if e.Err != nil {
			return fmt.Sprintf("malformed task: %s: %v", e.Reason, e.Err)
		}
		return fmt.Sprintf("malformed task: %s", e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("malformed task %s: %s: %v", e.TaskID, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed task %s: %s", e.TaskID, e.Reason)
}

func (e *MalformedTaskError) Unwrap() error { return e.Err }

// RateLimitExceededError is returned when a phase exceeds its rate limit.
type RateLimitExceededError struct {
	Phase string
	Limit int
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for phase %q: limit is %d", e.Phase, e.Limit)
}

// InvalidPhaseError is returned when no executor is registered for a phase.
type InvalidPhaseError struct {
	Phase string
}

func (e *InvalidPhaseError) Error() string {
	return fmt.Sprintf("no executor registered for phase %q", e.Phase)
}

// TaskAlreadyProcessedError describes a re-delivered task that already completed.
type TaskAlreadyProcessedError struct {
	TaskID string
	Status Status
}

func (e *TaskAlreadyProcessedError) Error() string {
	return fmt.Sprintf("task %s already processed with status %s", e.TaskID, e.Status)
}

// ExecutionPanicError wraps a panic recovered while handling a task.
type ExecutionPanicError struct {
	TaskID string
	Value  any
}

func (e *ExecutionPanicError) Error() string {
	return fmt.Sprintf("panic while handling task %s: %v", e.TaskID, e.Value)
}
