package executor_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-task-lease/internal/domain"
	"github.com/ramiqadoumi/go-task-lease/internal/executor"
)

func webhookTask(payload map[string]any) *domain.Task {
	return &domain.Task{ID: "w1", Phase: executor.WebhookPhase, Payload: payload}
}

func TestWebhookExecutor_MissingURL(t *testing.T) {
	_, err := executor.NewWebhookExecutor().Execute(context.Background(), webhookTask(map[string]any{"method": "POST"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")
}

func TestWebhookExecutor_InvalidPayloadShape(t *testing.T) {
	_, err := executor.NewWebhookExecutor().Execute(context.Background(), webhookTask(map[string]any{"url": 42}))
	require.Error(t, err)
}

func TestWebhookExecutor_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("queued"))
	}))
	defer srv.Close()

	out, err := executor.NewWebhookExecutor().Execute(context.Background(), webhookTask(map[string]any{
		"url": srv.URL, "method": "POST", "body": "ping",
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status_code":202,"body":"queued"}`, string(out))
}

func TestWebhookExecutor_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := executor.NewWebhookExecutor().Execute(context.Background(), webhookTask(map[string]any{"url": srv.URL, "method": "GET"}))
	require.Error(t, err, "status 500 should produce an error")
}

func TestWebhookExecutor_DefaultsMethodToPOST(t *testing.T) {
	var receivedMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := executor.NewWebhookExecutor().Execute(context.Background(), webhookTask(map[string]any{"url": srv.URL}))
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, receivedMethod)
}

func TestWebhookExecutor_SetsCustomHeaders(t *testing.T) {
	var receivedHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeader = r.Header.Get("X-Secret")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := executor.NewWebhookExecutor().Execute(context.Background(), webhookTask(map[string]any{
		"url": srv.URL, "headers": map[string]any{"X-Secret": "token123"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "token123", receivedHeader)
}
