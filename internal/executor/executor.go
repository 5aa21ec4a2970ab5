// Package executor turns a task's phase and payload into a result. Executors
// are looked up by phase in an immutable Registry built at startup.
package executor

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/ramiqadoumi/go-task-lease/internal/domain"
)

// Executor runs one task and returns its JSON result.
type Executor interface {
	Execute(ctx context.Context, task *domain.Task) (json.RawMessage, error)
}

// Func adapts a plain function to Executor.
type Func func(ctx context.Context, task *domain.Task) (json.RawMessage, error)

func (f Func) Execute(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	return f(ctx, task)
}

// Registry maps phases to executors. It is read-only once built.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry builds a Registry from executors keyed by phase.
func NewRegistry(executors map[string]Executor) *Registry {
	m := make(map[string]Executor, len(executors))
	for phase, e := range executors {
		m[phase] = e
	}
	return &Registry{executors: m}
}

// Get returns the executor for phase, or *domain.InvalidPhaseError.
func (r *Registry) Get(phase string) (Executor, error) {
	e, ok := r.executors[phase]
	if !ok {
		return nil, &domain.InvalidPhaseError{Phase: phase}
	}
	return e, nil
}

// Phases lists the registered phases in sorted order.
func (r *Registry) Phases() []string {
	out := make([]string, 0, len(r.executors))
	for phase := range r.executors {
		out = append(out, phase)
	}
	sort.Strings(out)
	return out
}

// Execute dispatches task to the executor registered for its phase.
func (r *Registry) Execute(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	e, err := r.Get(task.Phase)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, task)
}
