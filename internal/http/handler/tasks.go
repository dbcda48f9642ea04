package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskforge/internal/task"

	"github.com/go-chi/chi/v5"
)

type TaskHandler struct {
	Svc *task.Service
}

type createTaskReq struct {
	Type        string `json:"type"`
	Payload     string `json:"payload"`
	MaxAttempts int    `json:"max_attempts"`
}

type taskResponse struct {
	ID           int64      `json:"id"`
	Type         string     `json:"type"`
	Payload      string     `json:"payload"`
	Status       string     `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	MaxAttempts  int        `json:"max_attempts"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
	LastError    *string    `json:"last_error,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func toResponse(t *task.Task) taskResponse {
	return taskResponse{
		ID:           t.ID,
		Type:         t.Type,
		Payload:      t.Payload,
		Status:       string(t.Status),
		AttemptCount: t.AttemptCount,
		MaxAttempts:  t.MaxAttempts,
		ScheduledFor: t.ScheduledFor,
		NextRunAt:    t.NextRunAt,
		LastError:    t.LastError,
		CompletedAt:  t.CompletedAt,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	req.Type = strings.TrimSpace(req.Type)
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type required")
		return
	}
	if req.MaxAttempts < 0 {
		writeError(w, http.StatusBadRequest, "max_attempts must be positive")
		return
	}

	t, err := h.Svc.Create(r.Context(), task.CreateInput{
		Type:        req.Type,
		Payload:     req.Payload,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(t))
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	t, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		respondTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(t))
}

func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	t, err := h.Svc.Cancel(r.Context(), id)
	if err != nil {
		respondTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(t))
}

// Not-found and invalid-state are the two externally visible error
// categories; worker-side concurrency failures never reach API callers.
func respondTaskError(w http.ResponseWriter, err error) {
	var nf *task.NotFoundError
	if errors.As(err, &nf) {
		writeError(w, http.StatusNotFound, nf.Error())
		return
	}
	var is *task.InvalidStateError
	if errors.As(err, &is) {
		writeError(w, http.StatusConflict, is.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "server error")
}
