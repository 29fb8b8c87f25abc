package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/middleware"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/utils"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ExportService requests and serves audit exports
type ExportService interface {
	RequestExport(ctx context.Context, actor models.Actor, frameworkID uuid.UUID, exportType models.ExportType) (*models.AuditExport, error)
	GetExport(ctx context.Context, actor models.Actor, exportID uuid.UUID) (*models.AuditExport, error)
	ListExports(ctx context.Context, actor models.Actor, limit, offset int) ([]*models.AuditExport, error)
	DownloadArtifact(ctx context.Context, actor models.Actor, exportID uuid.UUID) (*models.AuditExport, []byte, error)
}

// ExportHandler handles audit export requests
type ExportHandler struct {
	service ExportService
	logger  *zap.Logger
}

// NewExportHandler creates a new ExportHandler
func NewExportHandler(service ExportService, logger *zap.Logger) *ExportHandler {
	return &ExportHandler{service: service, logger: logger}
}

// HandleRequestExport handles POST /api/v1/exports.
// The export is built asynchronously; the response is 202 with the Queued row.
func (h *ExportHandler) HandleRequestExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateExportRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	frameworkID, err := utils.ParseUUID(req.FrameworkID, "framework_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	export, err := h.service.RequestExport(ctx, middleware.ActorFromContext(ctx), frameworkID, req.Type)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	w.Header().Set("Location", "/api/v1/exports/"+export.ID.String())
	_ = utils.WriteAccepted(w, export)
}

// HandleListExports handles GET /api/v1/exports?limit=&offset=
func (h *ExportHandler) HandleListExports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset, err := parsePage(r)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	exports, err := h.service.ListExports(ctx, middleware.ActorFromContext(ctx), limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, exports)
}

// HandleGetExport handles GET /api/v1/exports/{exportID}
func (h *ExportHandler) HandleGetExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	exportID, err := utils.ParseUUID(chi.URLParam(r, "exportID"), "export_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	export, err := h.service.GetExport(ctx, middleware.ActorFromContext(ctx), exportID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, export)
}

// HandleDownload handles GET /api/v1/exports/{exportID}/download
func (h *ExportHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	exportID, err := utils.ParseUUID(chi.URLParam(r, "exportID"), "export_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	export, data, err := h.service.DownloadArtifact(ctx, middleware.ActorFromContext(ctx), exportID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	w.Header().Set("X-Manifest-Digest", export.ManifestDigest)
	writeAttachment(w, export.ExportType.ContentType(), export.Filename(), export.ArtifactDigest, data)
}

// parsePage reads limit and offset query parameters
func parsePage(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	limit, err := utils.ParseIntQuery(q.Get("limit"), "limit", defaultPageSize)
	if err != nil {
		return 0, 0, err
	}
	offset, err := utils.ParseIntQuery(q.Get("offset"), "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	if limit == 0 || limit > maxPageSize {
		return 0, 0, &utils.ValidationError{
			Message: "invalid limit",
			Fields:  map[string]string{"limit": fmt.Sprintf("limit must be between 1 and %d", maxPageSize)},
		}
	}
	return limit, offset, nil
}
