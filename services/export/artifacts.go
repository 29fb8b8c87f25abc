package export

import (
	"context"
	"crypto/subtle"
	"errors"
	"path"

	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/services"
	"github.com/upb/compliance-ledger/services/contentstore"
	"github.com/upb/compliance-ledger/services/snapshot"
	"go.uber.org/zap"
)

// ArtifactStore publishes packaged exports under a key derived from the export id.
// Published artifacts are never overwritten.
type ArtifactStore struct {
	backend contentstore.Backend
	logger  *zap.Logger
}

// NewArtifactStore creates an ArtifactStore over backend
func NewArtifactStore(backend contentstore.Backend, logger *zap.Logger) *ArtifactStore {
	return &ArtifactStore{backend: backend, logger: logger}
}

// ArtifactKey is exports/<org>/<export id>.<ext>
func ArtifactKey(export *models.AuditExport) string {
	return path.Join("exports", export.OrgID.String(), export.ID.String()+export.ExportType.Extension())
}

// Publish writes the artifact of export and returns its key. Backends write
// atomically, so a reader never sees a partial artifact.
func (s *ArtifactStore) Publish(ctx context.Context, export *models.AuditExport, artifact *Artifact) (string, error) {
	key := ArtifactKey(export)
	exists, err := s.backend.Exists(ctx, key)
	if err != nil {
		return "", storageError("failed to check artifact", err)
	}
	if exists {
		return "", services.NewDomainError(services.ErrorTypeConflict, "artifact already published", nil).
			WithDetail("export_id", export.ID)
	}
	if err := s.backend.Write(ctx, key, artifact.Data); err != nil {
		return "", storageError("failed to write artifact", err)
	}

	s.logger.Debug("artifact published",
		zap.String("export_id", export.ID.String()),
		zap.String("key", key),
		zap.Int("size", len(artifact.Data)))
	return key, nil
}

// Open reads the artifact of a Ready export and checks it against the recorded digest
func (s *ArtifactStore) Open(ctx context.Context, export *models.AuditExport) ([]byte, error) {
	key := export.ArtifactKey
	if key == "" {
		key = ArtifactKey(export)
	}
	data, err := s.backend.Read(ctx, key)
	if err != nil {
		if errors.Is(err, contentstore.ErrBlobNotFound) {
			return nil, services.NewDomainError(services.ErrorTypeNotFound, "export artifact not found", err).
				WithDetail("export_id", export.ID)
		}
		return nil, storageError("failed to read artifact", err)
	}

	got := snapshot.DigestOf(data)
	if subtle.ConstantTimeCompare([]byte(got), []byte(export.ArtifactDigest)) != 1 {
		s.logger.Error("artifact digest mismatch",
			zap.String("export_id", export.ID.String()),
			zap.String("expected", export.ArtifactDigest),
			zap.String("actual", got))
		return nil, services.NewDomainError(services.ErrorTypeIntegrityViolation, services.ErrIntegrityViolation.Message, nil).
			WithDetail("export_id", export.ID)
	}
	return data, nil
}

func storageError(message string, err error) error {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return services.WrapStorage(message, err)
}
