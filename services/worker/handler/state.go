package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ramiqadoumi/go-task-lease/internal/domain"
	"github.com/ramiqadoumi/go-task-lease/internal/postgres"
	redisstore "github.com/ramiqadoumi/go-task-lease/internal/redis"
)

const defaultHistoryLimit = 20

// State serves read-only task state over HTTP for operators and producers
// that cannot subscribe to the status channel.
type State struct {
	states  redisstore.StatePublisher
	history postgres.ExecutionRepository
	logger  *slog.Logger
}

// NewState creates a State handler. history may be nil when Postgres is not
// configured; the executions route then answers 404.
func NewState(states redisstore.StatePublisher, history postgres.ExecutionRepository, logger *slog.Logger) *State {
	return &State{states: states, history: history, logger: logger}
}

// Mount registers the task routes on r.
func (h *State) Mount(r chi.Router) {
	r.Get("/v1/tasks/{id}/state", h.GetTaskState)
	r.Get("/v1/tasks/{id}/executions", h.ListExecutions)
}

// TaskStateResponse is the GET /v1/tasks/{id}/state response body.
type TaskStateResponse struct {
	TaskID     string          `json:"task_id"`
	Status     string          `json:"status"`
	RetryCount int             `json:"retry_count"`
	OwnerID    string          `json:"owner_id,omitempty"`
	LastUpdate time.Time       `json:"last_update"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// GetTaskState handles GET /v1/tasks/{id}/state.
func (h *State) GetTaskState(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	st, err := h.states.GetState(r.Context(), taskID)
	if err != nil {
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("state lookup failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve task state")
		return
	}

	resp := TaskStateResponse{
		TaskID:     st.TaskID,
		Status:     string(st.Status),
		RetryCount: st.RetryCount,
		OwnerID:    st.OwnerID,
		LastUpdate: st.LastUpdate,
		Error:      st.Error,
	}
	if st.Result != "" {
		if json.Valid([]byte(st.Result)) {
			resp.Result = json.RawMessage(st.Result)
		} else {
			resp.Result, _ = json.Marshal(st.Result)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListExecutions handles GET /v1/tasks/{id}/executions?limit=N.
func (h *State) ListExecutions(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "execution history is not enabled")
		return
	}
	taskID := chi.URLParam(r, "id")

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	execs, err := h.history.ListByTask(r.Context(), taskID, limit)
	if err != nil {
		h.logger.Error("history lookup failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve executions")
		return
	}
	if execs == nil {
		execs = []*domain.Execution{}
	}
	writeJSON(w, http.StatusOK, execs)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
