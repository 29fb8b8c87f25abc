package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/repositories"
	"go.uber.org/zap"
)

// ExportRepository implements the repositories.ExportRepository interface
type ExportRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewExportRepository creates a new export repository
func NewExportRepository(db *DB, logger *zap.Logger) repositories.ExportRepository {
	return &ExportRepository{db: db, logger: logger}
}

const exportColumns = `id, org_id, framework_id, export_type, status, as_of_revision, requested_by,
	created_at, started_at, completed_at, error_reason, artifact_key, artifact_digest,
	artifact_size, manifest_digest`

// Create inserts a new export request
func (r *ExportRepository) Create(ctx context.Context, export *models.AuditExport) error {
	query := `
		INSERT INTO audit_exports (` + exportColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		export.ID,
		export.OrgID,
		export.FrameworkID,
		export.ExportType,
		export.Status,
		export.AsOf,
		export.RequestedBy,
		export.CreatedAt,
		export.StartedAt,
		export.CompletedAt,
		export.ErrorReason,
		export.ArtifactKey,
		export.ArtifactDigest,
		export.ArtifactSize,
		export.ManifestDigest,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("audit export %s: %w", export.ID, repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to create audit export: %w", err)
	}

	r.logger.Debug("audit export created",
		zap.String("id", export.ID.String()),
		zap.String("type", string(export.ExportType)),
		zap.Int64("as_of", int64(export.AsOf)))
	return nil
}

// GetByID retrieves an export of the organization
func (r *ExportRepository) GetByID(ctx context.Context, orgID, id uuid.UUID) (*models.AuditExport, error) {
	query := `SELECT ` + exportColumns + ` FROM audit_exports WHERE id = $1 AND org_id = $2`

	e, err := scanExport(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, id, orgID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("audit export %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get audit export: %w", err)
	}
	return e, nil
}

// ListByOrg returns the exports of an organization, newest first
func (r *ExportRepository) ListByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.AuditExport, error) {
	query := `
		SELECT ` + exportColumns + `
		FROM audit_exports
		WHERE org_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	return r.queryExports(ctx, query, orgID, limit, offset)
}

// ListByStatus returns exports of every organization in the given status, oldest first
func (r *ExportRepository) ListByStatus(ctx context.Context, status models.ExportStatus) ([]*models.AuditExport, error) {
	query := `
		SELECT ` + exportColumns + `
		FROM audit_exports
		WHERE status = $1
		ORDER BY created_at ASC
	`
	return r.queryExports(ctx, query, status)
}

// Transition applies a compare-and-set status change
func (r *ExportRepository) Transition(ctx context.Context, orgID, id uuid.UUID, from, to models.ExportStatus, completion *models.ExportCompletion) (*models.AuditExport, error) {
	var export *models.AuditExport
	err := runInTx(ctx, r.db, r.logger, func(ctx context.Context, exec Executor) error {
		var (
			res sql.Result
			err error
		)
		switch {
		case completion == nil:
			res, err = exec.ExecContext(ctx,
				`UPDATE audit_exports SET status = $1 WHERE id = $2 AND org_id = $3 AND status = $4`,
				to, id, orgID, from)
		case to == models.ExportProcessing:
			res, err = exec.ExecContext(ctx,
				`UPDATE audit_exports SET status = $1, started_at = $2 WHERE id = $3 AND org_id = $4 AND status = $5`,
				to, completion.At, id, orgID, from)
		default:
			res, err = exec.ExecContext(ctx, `
				UPDATE audit_exports
				SET status = $1, completed_at = $2, error_reason = $3, artifact_key = $4,
					artifact_digest = $5, artifact_size = $6, manifest_digest = $7
				WHERE id = $8 AND org_id = $9 AND status = $10`,
				to, completion.At, completion.ErrorReason, completion.ArtifactKey,
				completion.ArtifactDigest, completion.ArtifactSize, completion.ManifestDigest,
				id, orgID, from)
		}
		if err != nil {
			return fmt.Errorf("failed to transition audit export: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}

		export, err = r.GetByID(ctx, orgID, id)
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("audit export %s is %s: %w", id, export.Status, repositories.ErrStaleState)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("audit export transitioned",
		zap.String("id", id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return export, nil
}

func (r *ExportRepository) queryExports(ctx context.Context, query string, args ...interface{}) ([]*models.AuditExport, error) {
	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit exports: %w", err)
	}
	defer rows.Close()

	var exports []*models.AuditExport
	for rows.Next() {
		e, err := scanExport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit export: %w", err)
		}
		exports = append(exports, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit exports: %w", err)
	}
	return exports, nil
}

func scanExport(row rowScanner) (*models.AuditExport, error) {
	e := &models.AuditExport{}
	err := row.Scan(
		&e.ID,
		&e.OrgID,
		&e.FrameworkID,
		&e.ExportType,
		&e.Status,
		&e.AsOf,
		&e.RequestedBy,
		&e.CreatedAt,
		&e.StartedAt,
		&e.CompletedAt,
		&e.ErrorReason,
		&e.ArtifactKey,
		&e.ArtifactDigest,
		&e.ArtifactSize,
		&e.ManifestDigest,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (
			id, org_id, user_id, action, resource_type, resource_id,
			details, request_id, timestamp, error_message
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	details := string(log.Details)
	if details == "" {
		details = "{}"
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now().UTC()
	}

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		log.ID,
		log.OrgID,
		log.UserID,
		log.Action,
		log.ResourceType,
		log.ResourceID,
		details,
		log.RequestID,
		log.Timestamp,
		log.ErrorMessage,
	)

	if err != nil {
		r.logger.Error("failed to insert audit log",
			zap.Error(err),
			zap.String("org_id", log.OrgID.String()),
			zap.String("action", string(log.Action)),
		)
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted",
		zap.String("id", log.ID.String()),
		zap.String("action", string(log.Action)),
	)

	return nil
}

// GetByOrgID retrieves audit logs for an organization with pagination, newest first
func (r *AuditRepository) GetByOrgID(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, org_id, user_id, action, resource_type, resource_id,
			details, request_id, timestamp, error_message
		FROM audit_logs
		WHERE org_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`
	return r.queryAuditLogs(ctx, query, orgID, limit, offset)
}

// GetByResource retrieves the trail of one resource, oldest first
func (r *AuditRepository) GetByResource(ctx context.Context, orgID, resourceID uuid.UUID) ([]*models.AuditLog, error) {
	query := `
		SELECT id, org_id, user_id, action, resource_type, resource_id,
			details, request_id, timestamp, error_message
		FROM audit_logs
		WHERE org_id = $1 AND resource_id = $2
		ORDER BY timestamp ASC
	`
	return r.queryAuditLogs(ctx, query, orgID, resourceID)
}

// queryAuditLogs is a helper function to query audit logs
func (r *AuditRepository) queryAuditLogs(ctx context.Context, query string, args ...interface{}) ([]*models.AuditLog, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log := &models.AuditLog{}
		var details string
		err := rows.Scan(
			&log.ID,
			&log.OrgID,
			&log.UserID,
			&log.Action,
			&log.ResourceType,
			&log.ResourceID,
			&details,
			&log.RequestID,
			&log.Timestamp,
			&log.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		log.Details = []byte(details)
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return logs, nil
}
