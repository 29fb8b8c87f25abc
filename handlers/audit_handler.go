package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/middleware"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/utils"
	"go.uber.org/zap"
)

// AuditLogReader reads the activity log of an organization
type AuditLogReader interface {
	List(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.AuditLog, error)
	Trail(ctx context.Context, orgID, resourceID uuid.UUID) ([]*models.AuditLog, error)
}

// AuditHandler serves the activity log to reviewers
type AuditHandler struct {
	reader AuditLogReader
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(reader AuditLogReader, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{reader: reader, logger: logger}
}

// HandleList handles GET /api/v1/audit-logs?limit=&offset=
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.authorize(w, r)
	if !ok {
		return
	}
	limit, offset, err := parsePage(r)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	logs, err := h.reader.List(ctx, actor.OrgID, limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, logs)
}

// HandleTrail handles GET /api/v1/audit-logs/resources/{resourceID}
func (h *AuditHandler) HandleTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.authorize(w, r)
	if !ok {
		return
	}
	resourceID, err := utils.ParseUUID(chi.URLParam(r, "resourceID"), "resource_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	logs, err := h.reader.Trail(ctx, actor.OrgID, resourceID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, logs)
}

func (h *AuditHandler) authorize(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor := middleware.ActorFromContext(r.Context())
	if actor.OrgID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return actor, false
	}
	if !actor.Role.CanReviewEvidence() {
		_ = utils.WriteForbidden(w, "Insufficient permissions", map[string]interface{}{
			"role": string(actor.Role),
		})
		return actor, false
	}
	return actor, true
}
