package telemetry_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ramiqadoumi/go-task-lease/pkg/telemetry"
)

func TestRouter_HealthAndMetrics(t *testing.T) {
	r := telemetry.NewRouter(nil)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRouter_ReadyzReportsFailingCheck(t *testing.T) {
	r := telemetry.NewRouter(map[string]telemetry.ReadyFunc{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis: connection refused")
}

func TestInitTracer_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := telemetry.InitTracer(context.Background(), "worker", "")
	assert.NoError(t, err)
	shutdown()
}
