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

// ControlService is the read side of the compliance graph plus overrides
type ControlService interface {
	ListFrameworks(ctx context.Context, actor models.Actor) ([]*models.Framework, error)
	ListControls(ctx context.Context, actor models.Actor, frameworkID *uuid.UUID) ([]*graph.ControlView, error)
	GetControl(ctx context.Context, actor models.Actor, controlID uuid.UUID) (*graph.ControlView, error)
	ControlRollup(ctx context.Context, actor models.Actor, controlID uuid.UUID) (*models.ControlRollup, error)
	OrganizationStats(ctx context.Context, actor models.Actor, frameworkID *uuid.UUID) (*models.OrganizationStats, error)
	SetOverride(ctx context.Context, actor models.Actor, controlID uuid.UUID, status *models.CompletionStatus) (*graph.ControlView, error)
}

// ControlHandler handles frameworks, controls and readiness stats
type ControlHandler struct {
	service ControlService
	logger  *zap.Logger
}

// NewControlHandler creates a new ControlHandler
func NewControlHandler(service ControlService, logger *zap.Logger) *ControlHandler {
	return &ControlHandler{service: service, logger: logger}
}

// HandleListFrameworks handles GET /api/v1/frameworks
func (h *ControlHandler) HandleListFrameworks(w http.ResponseWriter, r *http.Request) {
	frameworks, err := h.service.ListFrameworks(r.Context(), middleware.ActorFromContext(r.Context()))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, frameworks)
}

// HandleListControls handles GET /api/v1/controls?framework_id=
func (h *ControlHandler) HandleListControls(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	frameworkID, err := utils.ParseOptionalUUID(r.URL.Query().Get("framework_id"), "framework_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	controls, err := h.service.ListControls(ctx, middleware.ActorFromContext(ctx), frameworkID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, controls)
}

// HandleGetControl handles GET /api/v1/controls/{controlID}
func (h *ControlHandler) HandleGetControl(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	controlID, err := utils.ParseUUID(chi.URLParam(r, "controlID"), "control_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	control, err := h.service.GetControl(ctx, middleware.ActorFromContext(ctx), controlID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, control)
}

// HandleGetRollup handles GET /api/v1/controls/{controlID}/rollup
func (h *ControlHandler) HandleGetRollup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	controlID, err := utils.ParseUUID(chi.URLParam(r, "controlID"), "control_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	rollup, err := h.service.ControlRollup(ctx, middleware.ActorFromContext(ctx), controlID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, rollup)
}

// HandleSetOverride handles PUT /api/v1/controls/{controlID}/override
func (h *ControlHandler) HandleSetOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	controlID, err := utils.ParseUUID(chi.URLParam(r, "controlID"), "control_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	var req OverrideRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	control, err := h.service.SetOverride(ctx, middleware.ActorFromContext(ctx), controlID, &req.Status)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, control)
}

// HandleClearOverride handles DELETE /api/v1/controls/{controlID}/override
func (h *ControlHandler) HandleClearOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	controlID, err := utils.ParseUUID(chi.URLParam(r, "controlID"), "control_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	control, err := h.service.SetOverride(ctx, middleware.ActorFromContext(ctx), controlID, nil)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, control)
}

// HandleStats handles GET /api/v1/stats?framework_id=
func (h *ControlHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	frameworkID, err := utils.ParseOptionalUUID(r.URL.Query().Get("framework_id"), "framework_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	stats, err := h.service.OrganizationStats(ctx, middleware.ActorFromContext(ctx), frameworkID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, stats)
}
