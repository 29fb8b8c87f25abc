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

// PolicyService manages policy documents
type PolicyService interface {
	ListPolicies(ctx context.Context, actor models.Actor, frameworkID *uuid.UUID) ([]*models.Policy, error)
	GetPolicy(ctx context.Context, actor models.Actor, policyID uuid.UUID) (*models.Policy, error)
	CreatePolicy(ctx context.Context, actor models.Actor, input graph.PolicyInput) (*models.Policy, error)
	UpdatePolicy(ctx context.Context, actor models.Actor, policyID uuid.UUID, input graph.PolicyInput) (*models.Policy, error)
}

// PolicyHandler handles policy-related HTTP requests
type PolicyHandler struct {
	service PolicyService
	logger  *zap.Logger
}

// NewPolicyHandler creates a new PolicyHandler
func NewPolicyHandler(service PolicyService, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{service: service, logger: logger}
}

// HandleListPolicies handles GET /api/v1/policies?framework_id=
func (h *PolicyHandler) HandleListPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	frameworkID, err := utils.ParseOptionalUUID(r.URL.Query().Get("framework_id"), "framework_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	policies, err := h.service.ListPolicies(ctx, middleware.ActorFromContext(ctx), frameworkID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, policies)
}

// HandleGetPolicy handles GET /api/v1/policies/{policyID}
func (h *PolicyHandler) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policyID, err := utils.ParseUUID(chi.URLParam(r, "policyID"), "policy_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	policy, err := h.service.GetPolicy(ctx, middleware.ActorFromContext(ctx), policyID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, policy)
}

// HandleCreatePolicy handles POST /api/v1/policies
func (h *PolicyHandler) HandleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreatePolicyRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	frameworkID, err := utils.ParseUUID(req.FrameworkID, "framework_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	policy, err := h.service.CreatePolicy(ctx, middleware.ActorFromContext(ctx), graph.PolicyInput{
		FrameworkID: frameworkID,
		Title:       req.Title,
		Content:     req.Content,
		Status:      req.Status,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, policy)
}

// HandleUpdatePolicy handles PUT /api/v1/policies/{policyID}
func (h *PolicyHandler) HandleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policyID, err := utils.ParseUUID(chi.URLParam(r, "policyID"), "policy_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	var req UpdatePolicyRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	policy, err := h.service.UpdatePolicy(ctx, middleware.ActorFromContext(ctx), policyID, graph.PolicyInput{
		Title:   req.Title,
		Content: req.Content,
		Status:  req.Status,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, policy)
}
