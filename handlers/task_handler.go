package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/middleware"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/services/graph"
	"github.com/upb/compliance-ledger/utils"
	"go.uber.org/zap"
)

// TaskService manages remediation tasks
type TaskService interface {
	ListTasks(ctx context.Context, actor models.Actor, controlID uuid.UUID) ([]*models.Task, error)
	CreateTask(ctx context.Context, actor models.Actor, controlID uuid.UUID, input graph.TaskInput) (*models.Task, error)
	UpdateTask(ctx context.Context, actor models.Actor, taskID uuid.UUID, input graph.TaskInput) (*models.Task, error)
	SetTaskStatus(ctx context.Context, actor models.Actor, taskID uuid.UUID, status models.TaskStatus) (*models.Task, error)
	DeleteTask(ctx context.Context, actor models.Actor, taskID uuid.UUID) error
}

// TaskHandler handles remediation task requests
type TaskHandler struct {
	service TaskService
	logger  *zap.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(service TaskService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{service: service, logger: logger}
}

// HandleListTasks handles GET /api/v1/controls/{controlID}/tasks
func (h *TaskHandler) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	controlID, err := utils.ParseUUID(chi.URLParam(r, "controlID"), "control_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	tasks, err := h.service.ListTasks(ctx, middleware.ActorFromContext(ctx), controlID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, tasks)
}

// HandleCreateTask handles POST /api/v1/controls/{controlID}/tasks
func (h *TaskHandler) HandleCreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	controlID, err := utils.ParseUUID(chi.URLParam(r, "controlID"), "control_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	var req TaskRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	task, err := h.service.CreateTask(ctx, middleware.ActorFromContext(ctx), controlID, req.input())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, task)
}

// HandleUpdateTask handles PUT /api/v1/tasks/{taskID}
func (h *TaskHandler) HandleUpdateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID, err := utils.ParseUUID(chi.URLParam(r, "taskID"), "task_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	var req TaskRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	task, err := h.service.UpdateTask(ctx, middleware.ActorFromContext(ctx), taskID, req.input())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, task)
}

// HandleSetStatus handles PATCH /api/v1/tasks/{taskID}/status
func (h *TaskHandler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID, err := utils.ParseUUID(chi.URLParam(r, "taskID"), "task_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	var req TaskStatusRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	task, err := h.service.SetTaskStatus(ctx, middleware.ActorFromContext(ctx), taskID, req.Status)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, task)
}

// HandleDeleteTask handles DELETE /api/v1/tasks/{taskID}
func (h *TaskHandler) HandleDeleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID, err := utils.ParseUUID(chi.URLParam(r, "taskID"), "task_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := h.service.DeleteTask(ctx, middleware.ActorFromContext(ctx), taskID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	utils.WriteNoContent(w)
}
