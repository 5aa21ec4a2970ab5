package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Task is a unit of work as held in a priority queue. It is immutable once
// enqueued; identity is ID.
type Task struct {
	ID         string         `json:"id"`
	Phase      string         `json:"phase"`
	Payload    map[string]any `json:"payload,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// Fields recognised at the top level of a serialized task. Anything else is
// folded into Payload so that flat producer records keep their data.
var knownTaskFields = map[string]struct{}{
	"id": {}, "phase": {}, "kind": {}, "payload": {}, "enqueued_at": {}, "timestamp": {},
}

// ParseTask decodes the raw serialized form of a task.
// The raw bytes themselves are never re-derived from the result.
func ParseTask(raw []byte) (*Task, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &MalformedTaskError{Reason: "invalid json", Err: err}
	}

	var task Task
	if v, ok := fields["id"]; ok {
		if err := json.Unmarshal(v, &task.ID); err != nil {
			return nil, &MalformedTaskError{Reason: "id is not a string", Err: err}
		}
	}
	if task.ID == "" {
		return nil, &MalformedTaskError{Reason: "missing id"}
	}

	for _, key := range []string{"phase", "kind"} {
		v, ok := fields[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, &task.Phase); err != nil {
			return nil, &MalformedTaskError{TaskID: task.ID, Reason: key + " is not a string", Err: err}
		}
		if task.Phase != "" {
			break
		}
	}

	if v, ok := fields["payload"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &task.Payload); err != nil {
			return nil, &MalformedTaskError{TaskID: task.ID, Reason: "payload is not an object", Err: err}
		}
	} else {
		for key, v := range fields {
			if _, known := knownTaskFields[key]; known {
				continue
			}
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return nil, &MalformedTaskError{TaskID: task.ID, Reason: fmt.Sprintf("field %q", key), Err: err}
			}
			if task.Payload == nil {
				task.Payload = make(map[string]any)
			}
			task.Payload[key] = val
		}
	}

	switch {
	case fields["enqueued_at"] != nil:
		if err := json.Unmarshal(fields["enqueued_at"], &task.EnqueuedAt); err != nil {
			return nil, &MalformedTaskError{TaskID: task.ID, Reason: "enqueued_at is not a timestamp", Err: err}
		}
	case fields["timestamp"] != nil:
		var secs float64
		if err := json.Unmarshal(fields["timestamp"], &secs); err != nil {
			return nil, &MalformedTaskError{TaskID: task.ID, Reason: "timestamp is not a number", Err: err}
		}
		task.EnqueuedAt = time.Unix(0, int64(secs*float64(time.Second))).UTC()
	}

	return &task, nil
}

// Marshal serializes the task for enqueueing. Only producers call this;
// workers always keep the bytes they fetched.
func (t *Task) Marshal() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	return data, nil
}

// Execution records a single handling pass of a task.
type Execution struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	WorkerID   string    `json:"worker_id"`
	Phase      string    `json:"phase"`
	Queue      string    `json:"queue"`
	Attempts   int       `json:"attempts"`
	Status     Status    `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}
