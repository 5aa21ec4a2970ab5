package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-task-lease/internal/domain"
	"github.com/ramiqadoumi/go-task-lease/pkg/telemetry"
)

// WebhookPhase is the phase served by WebhookExecutor.
const WebhookPhase = "webhook"

const maxWebhookBody = 64 << 10

type webhookPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

type webhookResult struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body,omitempty"`
}

// WebhookExecutor makes an outbound HTTP call described by the task payload.
type WebhookExecutor struct {
	client *http.Client
}

// NewWebhookExecutor creates a WebhookExecutor.
func NewWebhookExecutor() *WebhookExecutor {
	return &WebhookExecutor{client: &http.Client{Timeout: 15 * time.Second}}
}

func (h *WebhookExecutor) Execute(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	ctx, span := telemetry.Tracer("executor").Start(ctx, "executor.webhook")
	defer span.End()
	span.SetAttributes(telemetry.AttrTaskID.String(task.ID))

	p, err := decodeWebhookPayload(task.Payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid payload")
		return nil, err
	}
	if p.Method == "" {
		p.Method = http.MethodPost
	}

	span.SetAttributes(
		attribute.String("webhook.url", p.URL),
		attribute.String("webhook.method", p.Method),
	)

	var bodyReader io.Reader
	if p.Body != "" {
		bodyReader = strings.NewReader(p.Body)
	}
	req, err := http.NewRequestWithContext(ctx, p.Method, p.URL, bodyReader)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request failed")
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "http call failed")
		return nil, fmt.Errorf("webhook call to %s: %w", p.URL, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("webhook %s returned status %d", p.URL, resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad status code")
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookBody))
	if err != nil {
		return nil, fmt.Errorf("read webhook response: %w", err)
	}
	return json.Marshal(webhookResult{StatusCode: resp.StatusCode, Body: string(body)})
}

func decodeWebhookPayload(payload map[string]any) (*webhookPayload, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	var p webhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if p.URL == "" {
		return nil, errors.New("webhook payload missing required field 'url'")
	}
	return &p, nil
}
