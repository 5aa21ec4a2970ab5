package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-task-lease/internal/domain"
)

func TestStatusConstants(t *testing.T) {
	tests := []struct {
		status domain.Status
		want   string
	}{
		{domain.StatusQueued, "queued"},
		{domain.StatusRunning, "running"},
		{domain.StatusRetrying, "retrying"},
		{domain.StatusCompleted, "completed"},
		{domain.StatusFailed, "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if string(tt.status) != tt.want {
				t.Errorf("Status value = %q, want %q", tt.status, tt.want)
			}
			if !tt.status.Valid() {
				t.Errorf("Valid(%q) = false, want true", tt.status)
			}
		})
	}
	assert.False(t, domain.Status("DONE").Valid())
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []domain.Status{domain.StatusCompleted, domain.StatusFailed} {
		assert.True(t, s.IsTerminal(), "IsTerminal(%q)", s)
	}
	for _, s := range []domain.Status{domain.StatusQueued, domain.StatusRunning, domain.StatusRetrying} {
		assert.False(t, s.IsTerminal(), "IsTerminal(%q)", s)
	}
}

func TestParseTask_Structured(t *testing.T) {
	raw := []byte(`{"id":"t1","phase":"outline","payload":{"topic":"go"},"enqueued_at":"2026-01-02T03:04:05Z"}`)

	task, err := domain.ParseTask(raw)
	require.NoError(t, err)
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, "outline", task.Phase)
	assert.Equal(t, map[string]any{"topic": "go"}, task.Payload)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), task.EnqueuedAt)
}

func TestParseTask_FlatRecordFoldsIntoPayload(t *testing.T) {
	raw := []byte(`{"id":"t2","phase":"research","topic":"async","requirements":"beginners","timestamp":1700000000}`)

	task, err := domain.ParseTask(raw)
	require.NoError(t, err)
	assert.Equal(t, "research", task.Phase)
	assert.Equal(t, "async", task.Payload["topic"])
	assert.Equal(t, "beginners", task.Payload["requirements"])
	assert.NotContains(t, task.Payload, "timestamp")
	assert.Equal(t, int64(1700000000), task.EnqueuedAt.Unix())
}

func TestParseTask_KindAlias(t *testing.T) {
	task, err := domain.ParseTask([]byte(`{"id":"t3","kind":"webhook"}`))
	require.NoError(t, err)
	assert.Equal(t, "webhook", task.Phase)
}

func TestParseTask_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":       `not-json`,
		"missing id":     `{"phase":"x"}`,
		"empty id":       `{"id":""}`,
		"numeric id":     `{"id":42}`,
		"payload scalar": `{"id":"t","payload":"nope"}`,
		"bad timestamp":  `{"id":"t","enqueued_at":"yesterday"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := domain.ParseTask([]byte(raw))
			require.Error(t, err)
			var malformed *domain.MalformedTaskError
			assert.True(t, errors.As(err, &malformed), "expected MalformedTaskError, got %T", err)
		})
	}
}

func TestTask_MarshalParses(t *testing.T) {
	in := &domain.Task{ID: "t4", Phase: "chapter", Payload: map[string]any{"chapter_index": 2.0}}
	raw, err := in.Marshal()
	require.NoError(t, err)

	out, err := domain.ParseTask(raw)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Phase, out.Phase)
	assert.Equal(t, in.Payload, out.Payload)
}
