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

// EvidenceRepository implements the repositories.EvidenceRepository interface.
// Versions are append-only; review transitions are recorded as events so any
// past review state can be reconstructed.
type EvidenceRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewEvidenceRepository creates a new evidence repository
func NewEvidenceRepository(db *DB, logger *zap.Logger) repositories.EvidenceRepository {
	return &EvidenceRepository{db: db, logger: logger}
}

const slotColumns = `id, org_id, control_id, slot_key, title, active, version_count,
	created_revision, deactivated_revision, created_at`

const versionColumns = `id, org_id, slot_id, control_id, version, digest, size_bytes, filename,
	mime_type, description, uploaded_by, created_at, created_revision, review_status,
	reviewed_by, reviewed_at, review_note, review_revision`

// CreateSlot inserts an active slot
func (r *EvidenceRepository) CreateSlot(ctx context.Context, slot *models.EvidenceSlot) error {
	query := `
		INSERT INTO evidence_slots (` + slotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	return runInTx(ctx, r.db, r.logger, func(ctx context.Context, exec Executor) error {
		rev, err := tick(ctx, exec)
		if err != nil {
			return err
		}

		_, err = exec.ExecContext(ctx, query,
			slot.ID,
			slot.OrgID,
			slot.ControlID,
			slot.SlotKey,
			slot.Title,
			true,
			0,
			rev,
			0,
			slot.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("evidence slot %s: %w", slot.SlotKey, repositories.ErrDuplicate)
			}
			return fmt.Errorf("failed to create evidence slot: %w", err)
		}

		slot.Active = true
		slot.VersionCount = 0
		slot.CreatedRev = rev
		slot.DeactivatedRev = 0
		r.logger.Debug("evidence slot created",
			zap.String("id", slot.ID.String()),
			zap.String("slot_key", slot.SlotKey))
		return nil
	})
}

// GetSlot returns a slot
func (r *EvidenceRepository) GetSlot(ctx context.Context, orgID, slotID uuid.UUID) (*models.EvidenceSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM evidence_slots WHERE id = $1 AND org_id = $2`
	return r.querySlot(ctx, slotID.String(), query, slotID, orgID)
}

// GetSlotByKey returns a slot by control and key
func (r *EvidenceRepository) GetSlotByKey(ctx context.Context, orgID, controlID uuid.UUID, slotKey string) (*models.EvidenceSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM evidence_slots WHERE org_id = $1 AND control_id = $2 AND slot_key = $3`
	return r.querySlot(ctx, slotKey, query, orgID, controlID, slotKey)
}

// ListSlots returns the slots of a control ordered by key
func (r *EvidenceRepository) ListSlots(ctx context.Context, orgID, controlID uuid.UUID) ([]*models.EvidenceSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM evidence_slots WHERE org_id = $1 AND control_id = $2 ORDER BY slot_key`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, orgID, controlID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence slots: %w", err)
	}
	defer rows.Close()

	var slots []*models.EvidenceSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evidence slots: %w", err)
	}
	return slots, nil
}

// DeactivateSlot marks a slot inactive; already inactive slots are returned as is
func (r *EvidenceRepository) DeactivateSlot(ctx context.Context, orgID, slotID uuid.UUID) (*models.EvidenceSlot, error) {
	query := `
		UPDATE evidence_slots SET active = $3, deactivated_revision = $4
		WHERE id = $1 AND org_id = $2 AND active
	`

	var slot *models.EvidenceSlot
	err := runInTx(ctx, r.db, r.logger, func(ctx context.Context, exec Executor) error {
		var err error
		slot, err = r.GetSlot(ctx, orgID, slotID)
		if err != nil || !slot.Active {
			return err
		}

		rev, err := tick(ctx, exec)
		if err != nil {
			return err
		}
		if _, err := exec.ExecContext(ctx, query, slotID, orgID, false, rev); err != nil {
			return fmt.Errorf("failed to deactivate evidence slot: %w", err)
		}

		slot.Active = false
		slot.DeactivatedRev = rev
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("evidence slot deactivated", zap.String("id", slotID.String()))
	return slot, nil
}

// AppendVersion allocates the next version number and inserts the version.
// Appends hold the clock row for the whole transaction, so appends to one slot
// take version numbers in revision order.
func (r *EvidenceRepository) AppendVersion(ctx context.Context, version *models.EvidenceVersion) error {
	bump := `
		UPDATE evidence_slots SET version_count = version_count + 1
		WHERE id = $1 AND org_id = $2 AND active
		RETURNING version_count
	`
	insert := `
		INSERT INTO evidence_versions (` + versionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	return runInTx(ctx, r.db, r.logger, func(ctx context.Context, exec Executor) error {
		rev, err := tick(ctx, exec)
		if err != nil {
			return err
		}

		var number int
		err = exec.QueryRowContext(ctx, bump, version.SlotID, version.OrgID).Scan(&number)
		if errors.Is(err, sql.ErrNoRows) {
			var active bool
			err = exec.QueryRowContext(ctx,
				`SELECT active FROM evidence_slots WHERE id = $1 AND org_id = $2`,
				version.SlotID, version.OrgID).Scan(&active)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("evidence slot %s: %w", version.SlotID, repositories.ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("failed to get evidence slot: %w", err)
			}
			return fmt.Errorf("evidence slot %s: %w", version.SlotID, repositories.ErrInactive)
		}
		if err != nil {
			return fmt.Errorf("failed to allocate version number: %w", err)
		}

		_, err = exec.ExecContext(ctx, insert,
			version.ID,
			version.OrgID,
			version.SlotID,
			version.ControlID,
			number,
			version.Digest,
			version.SizeBytes,
			version.Filename,
			version.MimeType,
			version.Description,
			version.UploadedBy,
			version.CreatedAt,
			rev,
			models.ReviewPending,
			nil,
			nil,
			"",
			rev,
		)
		if err != nil {
			return fmt.Errorf("failed to insert evidence version: %w", err)
		}

		version.Version = number
		version.CreatedRev = rev
		version.ReviewStatus = models.ReviewPending
		version.ReviewedBy = nil
		version.ReviewedAt = nil
		version.ReviewNote = ""
		version.ReviewRev = rev

		r.logger.Debug("evidence version appended",
			zap.String("slot_id", version.SlotID.String()),
			zap.Int("version", number),
			zap.Int64("revision", int64(rev)))
		return nil
	})
}

// GetVersion returns a version
func (r *EvidenceRepository) GetVersion(ctx context.Context, orgID, versionID uuid.UUID) (*models.EvidenceVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM evidence_versions WHERE id = $1 AND org_id = $2`

	v, err := scanVersion(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, versionID, orgID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("evidence version %s: %w", versionID, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get evidence version: %w", err)
	}
	return v, nil
}

// ListVersions returns the versions of a slot, oldest first
func (r *EvidenceRepository) ListVersions(ctx context.Context, orgID, slotID uuid.UUID) ([]*models.EvidenceVersion, error) {
	if _, err := r.GetSlot(ctx, orgID, slotID); err != nil {
		return nil, err
	}

	query := `SELECT ` + versionColumns + ` FROM evidence_versions WHERE slot_id = $1 AND org_id = $2 ORDER BY version`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, slotID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence versions: %w", err)
	}
	defer rows.Close()

	versions := make([]*models.EvidenceVersion, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evidence version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evidence versions: %w", err)
	}
	return versions, nil
}

// CurrentVersion returns the highest version of a slot
func (r *EvidenceRepository) CurrentVersion(ctx context.Context, orgID, slotID uuid.UUID) (*models.EvidenceVersion, error) {
	if _, err := r.GetSlot(ctx, orgID, slotID); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + versionColumns + ` FROM evidence_versions
		WHERE slot_id = $1 AND org_id = $2
		ORDER BY version DESC
		LIMIT 1
	`

	v, err := scanVersion(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, slotID, orgID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("evidence slot %s has no versions: %w", slotID, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get current evidence version: %w", err)
	}
	return v, nil
}

// TransitionReview applies a compare-and-set review transition and appends the event
func (r *EvidenceRepository) TransitionReview(ctx context.Context, event *models.ReviewEvent) (*models.EvidenceVersion, error) {
	update := `
		UPDATE evidence_versions
		SET review_status = $1, reviewed_by = $2, reviewed_at = $3, review_note = $4, review_revision = $5
		WHERE id = $6 AND org_id = $7 AND review_status = $8
	`
	insert := `
		INSERT INTO evidence_review_events (id, org_id, version_id, from_status, to_status,
			reviewer_id, note, revision, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var version *models.EvidenceVersion
	err := runInTx(ctx, r.db, r.logger, func(ctx context.Context, exec Executor) error {
		rev, err := tick(ctx, exec)
		if err != nil {
			return err
		}

		res, err := exec.ExecContext(ctx, update,
			event.ToStatus,
			event.ReviewerID,
			event.CreatedAt,
			event.Note,
			rev,
			event.VersionID,
			event.OrgID,
			event.FromStatus,
		)
		if err != nil {
			return fmt.Errorf("failed to update review status: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if affected == 0 {
			current, err := r.GetVersion(ctx, event.OrgID, event.VersionID)
			if err != nil {
				return err
			}
			return fmt.Errorf("evidence version %s is %s: %w", current.ID, current.ReviewStatus, repositories.ErrStaleState)
		}

		_, err = exec.ExecContext(ctx, insert,
			event.ID,
			event.OrgID,
			event.VersionID,
			event.FromStatus,
			event.ToStatus,
			event.ReviewerID,
			event.Note,
			rev,
			event.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert review event: %w", err)
		}
		event.Revision = rev

		version, err = r.GetVersion(ctx, event.OrgID, event.VersionID)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("evidence review transitioned",
		zap.String("version_id", event.VersionID.String()),
		zap.String("from", string(event.FromStatus)),
		zap.String("to", string(event.ToStatus)))
	return version, nil
}

// ListReviewEvents returns the review history of a version, oldest first
func (r *EvidenceRepository) ListReviewEvents(ctx context.Context, orgID, versionID uuid.UUID) ([]*models.ReviewEvent, error) {
	if _, err := r.GetVersion(ctx, orgID, versionID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, org_id, version_id, from_status, to_status, reviewer_id, note, revision, created_at
		FROM evidence_review_events
		WHERE version_id = $1 AND org_id = $2
		ORDER BY revision
	`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, versionID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list review events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.ReviewEvent, 0)
	for rows.Next() {
		e := &models.ReviewEvent{}
		err := rows.Scan(&e.ID, &e.OrgID, &e.VersionID, &e.FromStatus, &e.ToStatus,
			&e.ReviewerID, &e.Note, &e.Revision, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating review events: %w", err)
	}
	return events, nil
}

// CurrentEvidence resolves, in one query, the current version of every slot
// active at asOf together with the last review event at or before asOf.
func (r *EvidenceRepository) CurrentEvidence(ctx context.Context, orgID uuid.UUID, controlID *uuid.UUID, asOf models.Revision) ([]*models.EvidenceAsOf, error) {
	query := `
		SELECT s.id, s.org_id, s.control_id, s.slot_key, s.title, s.active, s.version_count,
			s.created_revision, s.deactivated_revision, s.created_at,
			v.id, v.version, v.digest, v.size_bytes, v.filename, v.mime_type, v.description,
			v.uploaded_by, v.created_at, v.created_revision,
			e.to_status, e.reviewer_id, e.note, e.revision, e.created_at
		FROM evidence_slots s
		LEFT JOIN evidence_versions v ON v.slot_id = s.id AND v.version = (
			SELECT MAX(v2.version) FROM evidence_versions v2
			WHERE v2.slot_id = s.id AND v2.created_revision <= $2
		)
		LEFT JOIN evidence_review_events e ON e.version_id = v.id AND e.revision = (
			SELECT MAX(e2.revision) FROM evidence_review_events e2
			WHERE e2.version_id = v.id AND e2.revision <= $2
		)
		WHERE s.org_id = $1
			AND s.created_revision <= $2
			AND (s.deactivated_revision = 0 OR s.deactivated_revision > $2)`
	args := []interface{}{orgID, asOf}
	if controlID != nil {
		query += ` AND s.control_id = $3`
		args = append(args, *controlID)
	}
	query += ` ORDER BY s.control_id, s.slot_key`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve current evidence: %w", err)
	}
	defer rows.Close()

	var out []*models.EvidenceAsOf
	for rows.Next() {
		item, err := scanEvidenceAsOf(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating current evidence: %w", err)
	}
	return out, nil
}

func (r *EvidenceRepository) querySlot(ctx context.Context, key, query string, args ...interface{}) (*models.EvidenceSlot, error) {
	s, err := scanSlot(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("evidence slot %s: %w", key, repositories.ErrNotFound)
		}
		return nil, err
	}
	return s, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSlot(row rowScanner) (*models.EvidenceSlot, error) {
	s := &models.EvidenceSlot{}
	err := row.Scan(
		&s.ID,
		&s.OrgID,
		&s.ControlID,
		&s.SlotKey,
		&s.Title,
		&s.Active,
		&s.VersionCount,
		&s.CreatedRev,
		&s.DeactivatedRev,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan evidence slot: %w", err)
	}
	return s, nil
}

func scanVersion(row rowScanner) (*models.EvidenceVersion, error) {
	v := &models.EvidenceVersion{}
	err := row.Scan(
		&v.ID,
		&v.OrgID,
		&v.SlotID,
		&v.ControlID,
		&v.Version,
		&v.Digest,
		&v.SizeBytes,
		&v.Filename,
		&v.MimeType,
		&v.Description,
		&v.UploadedBy,
		&v.CreatedAt,
		&v.CreatedRev,
		&v.ReviewStatus,
		&v.ReviewedBy,
		&v.ReviewedAt,
		&v.ReviewNote,
		&v.ReviewRev,
	)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func scanEvidenceAsOf(rows *sql.Rows) (*models.EvidenceAsOf, error) {
	var (
		s           models.EvidenceSlot
		versionID   uuid.NullUUID
		number      sql.NullInt64
		digest      sql.NullString
		size        sql.NullInt64
		filename    sql.NullString
		mimeType    sql.NullString
		description sql.NullString
		uploadedBy  uuid.NullUUID
		createdAt   sql.NullTime
		createdRev  sql.NullInt64
		toStatus    sql.NullString
		reviewer    uuid.NullUUID
		note        sql.NullString
		reviewRev   sql.NullInt64
		reviewedAt  sql.NullTime
	)
	err := rows.Scan(
		&s.ID, &s.OrgID, &s.ControlID, &s.SlotKey, &s.Title, &s.Active, &s.VersionCount,
		&s.CreatedRev, &s.DeactivatedRev, &s.CreatedAt,
		&versionID, &number, &digest, &size, &filename, &mimeType, &description,
		&uploadedBy, &createdAt, &createdRev,
		&toStatus, &reviewer, &note, &reviewRev, &reviewedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan current evidence: %w", err)
	}

	item := &models.EvidenceAsOf{Slot: s}
	if !versionID.Valid {
		return item, nil
	}

	v := &models.EvidenceVersion{
		ID:           versionID.UUID,
		OrgID:        s.OrgID,
		SlotID:       s.ID,
		ControlID:    s.ControlID,
		Version:      int(number.Int64),
		Digest:       digest.String,
		SizeBytes:    size.Int64,
		Filename:     filename.String,
		MimeType:     mimeType.String,
		Description:  description.String,
		UploadedBy:   uploadedBy.UUID,
		CreatedAt:    createdAt.Time,
		CreatedRev:   models.Revision(createdRev.Int64),
		ReviewStatus: models.ReviewPending,
		ReviewRev:    models.Revision(createdRev.Int64),
	}
	if toStatus.Valid {
		by := reviewer.UUID
		at := reviewedAt.Time
		v.ReviewStatus = models.ReviewStatus(toStatus.String)
		v.ReviewedBy = &by
		v.ReviewedAt = &at
		v.ReviewNote = note.String
		v.ReviewRev = models.Revision(reviewRev.Int64)
	}
	item.Current = v
	return item, nil
}
