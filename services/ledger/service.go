// Package ledger keeps the append-only history of evidence uploaded into
// control slots and the review state of every version.
package ledger

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/internal/observability"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/repositories"
	"github.com/upb/compliance-ledger/services"
	"go.uber.org/zap"
)

const (
	maxSlotKeyLength  = 100
	maxFilenameLength = 255
)

// ContentStore stores evidence bytes by digest
type ContentStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, digest string) ([]byte, error)
}

// Auditor records ledger activity in the organization trail
type Auditor interface {
	LogSlotCreated(ctx context.Context, slot *models.EvidenceSlot, userID uuid.UUID)
	LogSlotDeactivated(ctx context.Context, slot *models.EvidenceSlot, userID uuid.UUID)
	LogEvidenceUploaded(ctx context.Context, version *models.EvidenceVersion)
	LogEvidenceReviewed(ctx context.Context, event *models.ReviewEvent)
}

// Config holds ledger limits
type Config struct {
	MaxUploadBytes int64
}

// UploadRequest is one new version of evidence for a slot
type UploadRequest struct {
	SlotID      uuid.UUID
	Data        []byte
	Filename    string
	MimeType    string // sniffed from the content when empty
	Description string
}

// Service handles evidence slots and versions
type Service struct {
	controls  repositories.ControlRepository
	evidence  repositories.EvidenceRepository
	txManager repositories.TransactionManager
	content   ContentStore
	audit     Auditor
	metrics   *observability.Metrics
	config    Config
	logger    *zap.Logger
}

// NewService creates a new ledger Service
func NewService(
	repos *repositories.Repositories,
	txManager repositories.TransactionManager,
	content ContentStore,
	audit Auditor,
	metrics *observability.Metrics,
	config Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		controls:  repos.Controls,
		evidence:  repos.Evidence,
		txManager: txManager,
		content:   content,
		audit:     audit,
		metrics:   metrics,
		config:    config,
		logger:    logger,
	}
}

// CreateSlot adds a named evidence requirement to a control
func (s *Service) CreateSlot(ctx context.Context, actor models.Actor, controlID uuid.UUID, slotKey, title string) (*models.EvidenceSlot, error) {
	if err := services.ValidateActor(actor); err != nil {
		return nil, err
	}
	slotKey = strings.TrimSpace(slotKey)
	if err := validateSlotKey(slotKey); err != nil {
		return nil, err
	}
	if _, err := s.controls.GetByID(ctx, actor.OrgID, controlID); err != nil {
		return nil, services.FromRepository(err, services.ErrControlNotFound)
	}

	slot := models.NewEvidenceSlot(actor.OrgID, controlID, slotKey, strings.TrimSpace(title))
	if err := s.evidence.CreateSlot(ctx, slot); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, services.NewDomainError(services.ErrorTypeConflict, services.ErrDuplicateSlot.Message, err).
				WithDetail("slot_key", slotKey)
		}
		return nil, services.FromRepository(err, services.ErrSlotNotFound)
	}

	s.logger.Info("evidence slot created",
		zap.String("org_id", actor.OrgID.String()),
		zap.String("control_id", controlID.String()),
		zap.String("slot_key", slotKey))
	s.audit.LogSlotCreated(ctx, slot, actor.UserID)
	return slot, nil
}

// EnsureSlot returns the slot with slotKey, creating it when missing
func (s *Service) EnsureSlot(ctx context.Context, actor models.Actor, controlID uuid.UUID, slotKey, title string) (*models.EvidenceSlot, error) {
	if err := services.ValidateActor(actor); err != nil {
		return nil, err
	}
	slot, err := s.evidence.GetSlotByKey(ctx, actor.OrgID, controlID, strings.TrimSpace(slotKey))
	if err == nil {
		return slot, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, services.FromRepository(err, services.ErrSlotNotFound)
	}

	slot, err = s.CreateSlot(ctx, actor, controlID, slotKey, title)
	if services.IsConflictError(err) {
		// lost a creation race
		slot, err = s.evidence.GetSlotByKey(ctx, actor.OrgID, controlID, strings.TrimSpace(slotKey))
		return slot, services.FromRepository(err, services.ErrSlotNotFound)
	}
	return slot, err
}

// GetSlot returns a slot of the caller's organization
func (s *Service) GetSlot(ctx context.Context, actor models.Actor, slotID uuid.UUID) (*models.EvidenceSlot, error) {
	if err := services.ValidateActor(actor); err != nil {
		return nil, err
	}
	slot, err := s.evidence.GetSlot(ctx, actor.OrgID, slotID)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrSlotNotFound)
	}
	return slot, nil
}

// ListSlots returns every slot of a control ordered by key, inactive ones included
func (s *Service) ListSlots(ctx context.Context, actor models.Actor, controlID uuid.UUID) ([]*models.EvidenceSlot, error) {
	if err := services.ValidateActor(actor); err != nil {
		return nil, err
	}
	if _, err := s.controls.GetByID(ctx, actor.OrgID, controlID); err != nil {
		return nil, services.FromRepository(err, services.ErrControlNotFound)
	}
	slots, err := s.evidence.ListSlots(ctx, actor.OrgID, controlID)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrSlotNotFound)
	}
	return slots, nil
}

// DeactivateSlot retires a slot. Its versions stay in the ledger and in
// snapshots taken before the deactivation.
func (s *Service) DeactivateSlot(ctx context.Context, actor models.Actor, slotID uuid.UUID) (*models.EvidenceSlot, error) {
	if err := services.RequirePermission(actor, actor.Role.CanManageEvidence(), "deactivate_slot"); err != nil {
		return nil, err
	}

	before, err := s.evidence.GetSlot(ctx, actor.OrgID, slotID)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrSlotNotFound)
	}

	slot, err := s.evidence.DeactivateSlot(ctx, actor.OrgID, slotID)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrSlotNotFound)
	}
	if before.Active {
		s.logger.Info("evidence slot deactivated",
			zap.String("org_id", actor.OrgID.String()),
			zap.String("slot_id", slotID.String()))
		s.audit.LogSlotDeactivated(ctx, slot, actor.UserID)
	}
	return slot, nil
}

// UploadVersion stores the bytes and appends the next version of the slot.
// The content is written before the version row, so a version never
// references bytes that are not stored.
func (s *Service) UploadVersion(ctx context.Context, actor models.Actor, req UploadRequest) (*models.EvidenceVersion, error) {
	if err := services.ValidateActor(actor); err != nil {
		return nil, err
	}
	filename, err := s.validateUpload(req)
	if err != nil {
		return nil, err
	}

	slot, err := s.evidence.GetSlot(ctx, actor.OrgID, req.SlotID)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrSlotNotFound)
	}
	if !slot.Active {
		return nil, inactiveSlot(slot.ID, nil)
	}

	digest, err := s.content.Put(ctx, req.Data)
	if err != nil {
		s.metrics.StorageError(ctx, "content")
		s.logger.Error("failed to store evidence content",
			zap.Error(err),
			zap.String("slot_id", slot.ID.String()))
		return nil, err
	}

	mimeType := detectMimeType(filename, req.MimeType, req.Data)
	version := models.NewEvidenceVersion(slot, digest, int64(len(req.Data)), filename, mimeType, strings.TrimSpace(req.Description), actor.UserID)

	err = services.WithTransaction(ctx, s.txManager, func(ctx context.Context, _ repositories.Transaction) error {
		return s.evidence.AppendVersion(ctx, version)
	})
	if err != nil {
		if errors.Is(err, repositories.ErrInactive) {
			return nil, inactiveSlot(slot.ID, err)
		}
		return nil, services.FromRepository(err, services.ErrSlotNotFound)
	}

	s.logger.Info("evidence version uploaded",
		zap.String("org_id", actor.OrgID.String()),
		zap.String("slot_id", slot.ID.String()),
		zap.Int("version", version.Version),
		zap.String("digest", digest),
		zap.Int64("revision", int64(version.CreatedRev)))
	s.metrics.EvidenceUploaded(ctx, version.SizeBytes)
	s.audit.LogEvidenceUploaded(ctx, version)
	return version, nil
}

// SetReviewStatus moves a Pending version to Accepted or Rejected. Reviewed
// versions never change; corrected evidence is uploaded as a new version.
func (s *Service) SetReviewStatus(ctx context.Context, actor models.Actor, versionID uuid.UUID, status models.ReviewStatus, note string) (*models.EvidenceVersion, error) {
	if err := services.RequirePermission(actor, actor.Role.CanReviewEvidence(), "review_evidence"); err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "invalid review status", nil).
			WithDetail("status", status)
	}

	current, err := s.evidence.GetVersion(ctx, actor.OrgID, versionID)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrVersionNotFound)
	}
	if !current.ReviewStatus.CanTransitionTo(status) {
		return nil, invalidTransition(current.ReviewStatus, status, nil)
	}

	event := &models.ReviewEvent{
		ID:         uuid.New(),
		OrgID:      actor.OrgID,
		VersionID:  versionID,
		FromStatus: current.ReviewStatus,
		ToStatus:   status,
		ReviewerID: actor.UserID,
		Note:       strings.TrimSpace(note),
		CreatedAt:  time.Now().UTC(),
	}

	updated, err := services.WithTransactionResult(ctx, s.txManager, func(ctx context.Context, _ repositories.Transaction) (*models.EvidenceVersion, error) {
		return s.evidence.TransitionReview(ctx, event)
	})
	if err != nil {
		if errors.Is(err, repositories.ErrStaleState) {
			// another reviewer moved the version first
			return nil, invalidTransition(current.ReviewStatus, status, err)
		}
		return nil, services.FromRepository(err, services.ErrVersionNotFound)
	}

	s.logger.Info("evidence review status changed",
		zap.String("org_id", actor.OrgID.String()),
		zap.String("version_id", versionID.String()),
		zap.String("from", string(event.FromStatus)),
		zap.String("to", string(event.ToStatus)))
	s.metrics.ReviewTransition(ctx, string(event.FromStatus), string(event.ToStatus))
	s.audit.LogEvidenceReviewed(ctx, event)
	return updated, nil
}

// ListVersions returns the versions of a slot, oldest first
func (s *Service) ListVersions(ctx context.Context, actor models.Actor, slotID uuid.UUID) ([]*models.EvidenceVersion, error) {
	if err := services.ValidateActor(actor); err != nil {
		return nil, err
	}
	versions, err := s.evidence.ListVersions(ctx, actor.OrgID, slotID)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrSlotNotFound)
	}
	return versions, nil
}

// CurrentVersion returns the highest version of the slot regardless of its
// review status, or nil when nothing was uploaded yet
func (s *Service) CurrentVersion(ctx context.Context, actor models.Actor, slotID uuid.UUID) (*models.EvidenceVersion, error) {
	if err := services.ValidateActor(actor); err != nil {
		return nil, err
	}
	if _, err := s.evidence.GetSlot(ctx, actor.OrgID, slotID); err != nil {
		return nil, services.FromRepository(err, services.ErrSlotNotFound)
	}
	version, err := s.evidence.CurrentVersion(ctx, actor.OrgID, slotID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, services.FromRepository(err, services.ErrVersionNotFound)
	}
	return version, nil
}

// GetVersion returns one version
func (s *Service) GetVersion(ctx context.Context, actor models.Actor, versionID uuid.UUID) (*models.EvidenceVersion, error) {
	if err := services.ValidateActor(actor); err != nil {
		return nil, err
	}
	version, err := s.evidence.GetVersion(ctx, actor.OrgID, versionID)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrVersionNotFound)
	}
	return version, nil
}

// ReviewHistory returns the review events of a version, oldest first
func (s *Service) ReviewHistory(ctx context.Context, actor models.Actor, versionID uuid.UUID) ([]*models.ReviewEvent, error) {
	if _, err := s.GetVersion(ctx, actor, versionID); err != nil {
		return nil, err
	}
	events, err := s.evidence.ListReviewEvents(ctx, actor.OrgID, versionID)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrVersionNotFound)
	}
	return events, nil
}

// DownloadVersion returns a version with its bytes, verified against the digest
func (s *Service) DownloadVersion(ctx context.Context, actor models.Actor, versionID uuid.UUID) (*models.EvidenceVersion, []byte, error) {
	version, err := s.GetVersion(ctx, actor, versionID)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.content.Get(ctx, version.Digest)
	if err != nil {
		if services.IsIntegrityViolationError(err) || services.IsNotFoundError(err) {
			s.logger.Error("evidence content unavailable",
				zap.Error(err),
				zap.String("version_id", versionID.String()),
				zap.String("digest", version.Digest))
		}
		return nil, nil, err
	}
	return version, data, nil
}

func (s *Service) validateUpload(req UploadRequest) (string, error) {
	if len(req.Data) == 0 {
		return "", services.ErrEmptyContent
	}
	if s.config.MaxUploadBytes > 0 && int64(len(req.Data)) > s.config.MaxUploadBytes {
		return "", services.NewDomainError(services.ErrorTypeValidation, "content exceeds the maximum upload size", nil).
			WithDetail("max_bytes", s.config.MaxUploadBytes)
	}
	filename := SanitizeFilename(req.Filename)
	if filename == "" {
		return "", services.NewDomainError(services.ErrorTypeValidation, "filename is required", nil)
	}
	if len(filename) > maxFilenameLength {
		return "", services.NewDomainError(services.ErrorTypeValidation, "filename is too long", nil).
			WithDetail("max_length", maxFilenameLength)
	}
	return filename, nil
}

func validateSlotKey(key string) error {
	if key == "" {
		return services.NewDomainError(services.ErrorTypeValidation, "slot key is required", nil)
	}
	if len(key) > maxSlotKeyLength {
		return services.NewDomainError(services.ErrorTypeValidation, "slot key is too long", nil).
			WithDetail("max_length", maxSlotKeyLength)
	}
	if strings.ContainsAny(key, "/\\") {
		return services.NewDomainError(services.ErrorTypeValidation, "slot key cannot contain path separators", nil).
			WithDetail("slot_key", key)
	}
	return nil
}

// SanitizeFilename keeps the base name of an uploaded file
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	base := filepath.Base("/" + name)
	if base == "/" || base == "." || base == ".." {
		return ""
	}
	return base
}

func detectMimeType(filename, declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
			return mediaType
		}
	}
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
			return mediaType
		}
	}
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return sniffed
}

func inactiveSlot(slotID uuid.UUID, err error) error {
	return services.NewDomainError(services.ErrorTypeValidation, services.ErrSlotInactive.Message, err).
		WithDetail("slot_id", slotID)
}

func invalidTransition(from, to models.ReviewStatus, err error) error {
	return services.NewDomainError(services.ErrorTypeInvalidStateTransition, services.ErrInvalidStateTransition.Message, err).
		WithDetail("from", from).
		WithDetail("to", to)
}
