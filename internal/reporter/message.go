// Package reporter delivers task outcomes to a remote ResultCollector over a
// bidirectional gRPC stream encoded as JSON.
package reporter

import "time"

// ResultStatus is the outcome carried by a Result.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "SUCCESS"
	StatusFailure ResultStatus = "FAILURE"
)

// Result is the message a worker sends once a task reaches a terminal state.
type Result struct {
	TaskID     string       `json:"task_id"`
	Status     ResultStatus `json:"status"`
	ResultData []byte       `json:"result_data,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}

// Ack is the collector's reply to a Result.
type Ack struct {
	TaskID   string `json:"task_id"`
	Received bool   `json:"received"`
}
