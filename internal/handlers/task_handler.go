package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/irisblue-leo/denexus-sub000/internal/admission"
	"github.com/irisblue-leo/denexus-sub000/internal/ledger"
	"github.com/irisblue-leo/denexus-sub000/internal/middleware"
	"github.com/irisblue-leo/denexus-sub000/internal/models"
	"github.com/irisblue-leo/denexus-sub000/internal/orchestrator"
)

// TaskService is the orchestrator surface the handler needs.
type TaskService interface {
	CreateTask(ctx context.Context, userID uuid.UUID, jobType models.JobType, payload json.RawMessage) (*models.GenerationTask, error)
	GetTask(ctx context.Context, userID, taskID uuid.UUID) (*models.GenerationTask, error)
	ListTasks(ctx context.Context, userID uuid.UUID) ([]*models.GenerationTask, error)
	DeleteTask(ctx context.Context, userID, taskID uuid.UUID) error
}

// TaskHandler serves /v1/tasks endpoints.
type TaskHandler struct {
	Tasks  TaskService
	Logger *slog.Logger
}

// --- POST /v1/tasks ---

type createTaskRequest struct {
	JobType models.JobType  `json:"job_type"`
	Input   json.RawMessage `json:"input"`
}

type createTaskResponse struct {
	TaskID      string `json:"task_id"`
	Status      string `json:"status"`
	CreditsCost int    `json:"credits_cost"`
}

// CreateTask handles POST /v1/tasks.
// Auth (via middleware) -> Validate Input -> Reserve Credits -> Enqueue -> 202.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.JobType == "" {
		http.Error(w, `{"error":"job_type is required"}`, http.StatusUnprocessableEntity)
		return
	}
	if len(req.Input) == 0 {
		req.Input = json.RawMessage("{}")
	}

	task, err := h.Tasks.CreateTask(r.Context(), user.ID, req.JobType, req.Input)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrValidation):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		case errors.Is(err, ledger.ErrInsufficientCredits):
			http.Error(w, `{"error":"insufficient credits"}`, http.StatusPaymentRequired)
		case errors.Is(err, admission.ErrTooManyTasks):
			http.Error(w, `{"error":"too many tasks in flight, retry later"}`, http.StatusTooManyRequests)
		default:
			h.Logger.Error("create task", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, createTaskResponse{
		TaskID:      task.ID.String(),
		Status:      task.Status,
		CreditsCost: task.CreditsCost,
	})
}

// GetTask handles GET /v1/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, ok := extractPathID(r, "/v1/tasks/")
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}

	task, err := h.Tasks.GetTask(r.Context(), user.ID, taskID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrTaskNotFound) {
			http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("get task", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListTasks handles GET /v1/tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	tasks, err := h.Tasks.ListTasks(r.Context(), user.ID)
	if err != nil {
		h.Logger.Error("list tasks", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*models.GenerationTask{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// DeleteTask handles DELETE /v1/tasks/{id}. Only terminal tasks can go.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, ok := extractPathID(r, "/v1/tasks/")
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}

	if err := h.Tasks.DeleteTask(r.Context(), user.ID, taskID); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrTaskNotFound):
			http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
		case errors.Is(err, orchestrator.ErrTaskActive):
			http.Error(w, `{"error":"task is still running"}`, http.StatusConflict)
		default:
			h.Logger.Error("delete task", "task_id", taskID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
