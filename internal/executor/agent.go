package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-task-lease/internal/domain"
	"github.com/ramiqadoumi/go-task-lease/pkg/telemetry"
)

var jsonFence = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// AgentExecutor renders a phase prompt from the task payload and asks a
// language model to complete it.
type AgentExecutor struct {
	phase     string
	prompt    *prompt
	completer Completer
}

// NewAgentExecutors compiles one AgentExecutor per phase in roles.
func NewAgentExecutors(roles *Roles, completer Completer) (map[string]Executor, error) {
	out := make(map[string]Executor, len(roles.Phases))
	for phase := range roles.Phases {
		p, err := roles.compile(phase)
		if err != nil {
			return nil, err
		}
		out[phase] = &AgentExecutor{phase: phase, prompt: p, completer: completer}
	}
	return out, nil
}

type agentResult struct {
	Result any   `json:"result"`
	Parsed *bool `json:"parsed,omitempty"`
}

func (a *AgentExecutor) Execute(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	ctx, span := telemetry.Tracer("executor").Start(ctx, "executor.agent")
	defer span.End()
	span.SetAttributes(telemetry.AttrTaskID.String(task.ID), telemetry.AttrTaskPhase.String(a.phase))

	user, err := a.prompt.render(task.Payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render prompt failed")
		return nil, fmt.Errorf("render %s prompt: %w", a.phase, err)
	}

	text, err := a.completer.Complete(ctx, a.prompt.system, user)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return nil, err
	}
	text = strings.TrimSpace(text)

	res := agentResult{Result: text}
	if a.prompt.parseJSON {
		parsed := false
		if obj, ok := extractJSON(text); ok {
			res.Result = obj
			parsed = true
		}
		res.Parsed = &parsed
	}
	return json.Marshal(res)
}

// extractJSON decodes the first ```json fenced block in text, falling back to
// the first bare ``` block and then to the whole text.
func extractJSON(text string) (any, bool) {
	candidate := text
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		candidate = m[1]
	} else if parts := strings.Split(text, "```"); len(parts) >= 3 {
		candidate = strings.TrimSpace(parts[1])
	}

	var v any
	if err := json.Unmarshal([]byte(candidate), &v); err != nil {
		return nil, false
	}
	return v, true
}
