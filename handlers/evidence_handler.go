package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/middleware"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/services/ledger"
	"github.com/upb/compliance-ledger/utils"
	"go.uber.org/zap"
)

// multipartOverhead is the allowance for form fields and boundaries on top of the file
const multipartOverhead = 1 << 20

// EvidenceLedger is the evidence slot and version API
type EvidenceLedger interface {
	CreateSlot(ctx context.Context, actor models.Actor, controlID uuid.UUID, slotKey, title string) (*models.EvidenceSlot, error)
	ListSlots(ctx context.Context, actor models.Actor, controlID uuid.UUID) ([]*models.EvidenceSlot, error)
	DeactivateSlot(ctx context.Context, actor models.Actor, slotID uuid.UUID) (*models.EvidenceSlot, error)
	UploadVersion(ctx context.Context, actor models.Actor, req ledger.UploadRequest) (*models.EvidenceVersion, error)
	ListVersions(ctx context.Context, actor models.Actor, slotID uuid.UUID) ([]*models.EvidenceVersion, error)
	CurrentVersion(ctx context.Context, actor models.Actor, slotID uuid.UUID) (*models.EvidenceVersion, error)
	GetVersion(ctx context.Context, actor models.Actor, versionID uuid.UUID) (*models.EvidenceVersion, error)
	ReviewHistory(ctx context.Context, actor models.Actor, versionID uuid.UUID) ([]*models.ReviewEvent, error)
	SetReviewStatus(ctx context.Context, actor models.Actor, versionID uuid.UUID, status models.ReviewStatus, note string) (*models.EvidenceVersion, error)
	DownloadVersion(ctx context.Context, actor models.Actor, versionID uuid.UUID) (*models.EvidenceVersion, []byte, error)
}

// EvidenceHandler handles evidence slots, uploads and reviews
type EvidenceHandler struct {
	ledger         EvidenceLedger
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewEvidenceHandler creates a new EvidenceHandler
func NewEvidenceHandler(ledger EvidenceLedger, maxUploadBytes int64, logger *zap.Logger) *EvidenceHandler {
	return &EvidenceHandler{ledger: ledger, maxUploadBytes: maxUploadBytes, logger: logger}
}

// HandleListSlots handles GET /api/v1/controls/{controlID}/slots
func (h *EvidenceHandler) HandleListSlots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	controlID, err := utils.ParseUUID(chi.URLParam(r, "controlID"), "control_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	slots, err := h.ledger.ListSlots(ctx, middleware.ActorFromContext(ctx), controlID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, slots)
}

// HandleCreateSlot handles POST /api/v1/controls/{controlID}/slots
func (h *EvidenceHandler) HandleCreateSlot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	controlID, err := utils.ParseUUID(chi.URLParam(r, "controlID"), "control_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	var req CreateSlotRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	slot, err := h.ledger.CreateSlot(ctx, middleware.ActorFromContext(ctx), controlID, req.SlotKey, req.Title)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, slot)
}

// HandleDeactivateSlot handles DELETE /api/v1/slots/{slotID}
func (h *EvidenceHandler) HandleDeactivateSlot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slotID, err := utils.ParseUUID(chi.URLParam(r, "slotID"), "slot_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	slot, err := h.ledger.DeactivateSlot(ctx, middleware.ActorFromContext(ctx), slotID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, slot)
}

// HandleUpload handles POST /api/v1/slots/{slotID}/versions.
// The multipart form carries the bytes in "file" plus optional
// "description" and "mime_type" fields.
func (h *EvidenceHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	slotID, err := utils.ParseUUID(chi.URLParam(r, "slotID"), "slot_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = utils.WriteRequestTooLarge(w, h.maxUploadBytes)
			return
		}
		HandleValidationError(w, err, h.logger)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		_ = utils.WriteBadRequest(w, "Multipart field \"file\" is required", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		h.logger.Warn("failed to read upload",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Failed to read uploaded file", nil)
		return
	}
	if int64(len(data)) > h.maxUploadBytes {
		_ = utils.WriteRequestTooLarge(w, h.maxUploadBytes)
		return
	}

	version, err := h.ledger.UploadVersion(ctx, middleware.ActorFromContext(ctx), ledger.UploadRequest{
		SlotID:      slotID,
		Data:        data,
		Filename:    header.Filename,
		MimeType:    r.FormValue("mime_type"),
		Description: r.FormValue("description"),
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, version)
}

// HandleListVersions handles GET /api/v1/slots/{slotID}/versions
func (h *EvidenceHandler) HandleListVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slotID, err := utils.ParseUUID(chi.URLParam(r, "slotID"), "slot_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	versions, err := h.ledger.ListVersions(ctx, middleware.ActorFromContext(ctx), slotID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, versions)
}

// HandleCurrentVersion handles GET /api/v1/slots/{slotID}/current
func (h *EvidenceHandler) HandleCurrentVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slotID, err := utils.ParseUUID(chi.URLParam(r, "slotID"), "slot_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	version, err := h.ledger.CurrentVersion(ctx, middleware.ActorFromContext(ctx), slotID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, version)
}

// HandleGetVersion handles GET /api/v1/versions/{versionID}
func (h *EvidenceHandler) HandleGetVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	versionID, err := utils.ParseUUID(chi.URLParam(r, "versionID"), "version_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	version, err := h.ledger.GetVersion(ctx, middleware.ActorFromContext(ctx), versionID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, version)
}

// HandleReviewHistory handles GET /api/v1/versions/{versionID}/reviews
func (h *EvidenceHandler) HandleReviewHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	versionID, err := utils.ParseUUID(chi.URLParam(r, "versionID"), "version_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	events, err := h.ledger.ReviewHistory(ctx, middleware.ActorFromContext(ctx), versionID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, events)
}

// HandleReview handles PUT /api/v1/versions/{versionID}/review
func (h *EvidenceHandler) HandleReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	versionID, err := utils.ParseUUID(chi.URLParam(r, "versionID"), "version_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	var req ReviewRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	version, err := h.ledger.SetReviewStatus(ctx, middleware.ActorFromContext(ctx), versionID, req.Status, req.Note)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, version)
}

// HandleDownload handles GET /api/v1/versions/{versionID}/content
func (h *EvidenceHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	versionID, err := utils.ParseUUID(chi.URLParam(r, "versionID"), "version_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	version, data, err := h.ledger.DownloadVersion(ctx, middleware.ActorFromContext(ctx), versionID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeAttachment(w, version.MimeType, version.Filename, version.Digest, data)
}

// writeAttachment serves immutable content addressed by digest
func writeAttachment(w http.ResponseWriter, contentType, filename, digest string, data []byte) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("X-Content-Digest", digest)
	w.Header().Set("ETag", strconv.Quote(digest))
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
