package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/repositories"
	"go.uber.org/zap"
)

// ControlRepository implements the repositories.ControlRepository interface.
// Manual overrides are append-only rows in control_overrides.
type ControlRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewControlRepository creates a new control repository
func NewControlRepository(db *DB, logger *zap.Logger) repositories.ControlRepository {
	return &ControlRepository{db: db, logger: logger}
}

// controlSelect resolves the override in effect at $2 for every control row
const controlSelect = `
	SELECT c.id, c.org_id, c.framework_id, c.code, c.title, c.description, c.category,
		c.severity, c.guidance, c.created_revision, c.created_at, o.status, o.revision
	FROM controls c
	LEFT JOIN control_overrides o ON o.control_id = c.id AND o.revision = (
		SELECT MAX(o2.revision) FROM control_overrides o2
		WHERE o2.control_id = c.id AND o2.revision <= $2
	)
	WHERE c.org_id = $1`

// Create inserts a control and stamps its creation revision
func (r *ControlRepository) Create(ctx context.Context, control *models.Control) error {
	query := `
		INSERT INTO controls (id, org_id, framework_id, code, title, description, category,
			severity, guidance, created_revision, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	return runInTx(ctx, r.db, r.logger, func(ctx context.Context, exec Executor) error {
		rev, err := tick(ctx, exec)
		if err != nil {
			return err
		}

		_, err = exec.ExecContext(ctx, query,
			control.ID,
			control.OrgID,
			control.FrameworkID,
			control.Code,
			control.Title,
			control.Description,
			control.Category,
			control.Severity,
			control.Guidance,
			rev,
			control.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("control %s: %w", control.Code, repositories.ErrDuplicate)
			}
			return fmt.Errorf("failed to create control: %w", err)
		}

		control.CreatedRev = rev
		r.logger.Debug("control created",
			zap.String("id", control.ID.String()),
			zap.String("code", control.Code),
			zap.Int64("revision", int64(rev)))
		return nil
	})
}

// GetByID returns the live control
func (r *ControlRepository) GetByID(ctx context.Context, orgID, id uuid.UUID) (*models.Control, error) {
	query := controlSelect + ` AND c.id = $3`
	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, orgID, models.RevisionLatest, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get control: %w", err)
	}
	return r.one(rows, id.String())
}

// GetByCode returns the live control with the given code
func (r *ControlRepository) GetByCode(ctx context.Context, orgID, frameworkID uuid.UUID, code string) (*models.Control, error) {
	query := controlSelect + ` AND c.framework_id = $3 AND c.code = $4`
	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, orgID, models.RevisionLatest, frameworkID, code)
	if err != nil {
		return nil, fmt.Errorf("failed to get control: %w", err)
	}
	return r.one(rows, code)
}

// ListByOrg returns the controls visible at asOf ordered by code
func (r *ControlRepository) ListByOrg(ctx context.Context, orgID uuid.UUID, frameworkID *uuid.UUID, asOf models.Revision) ([]*models.Control, error) {
	query := controlSelect + ` AND c.created_revision <= $2`
	args := []interface{}{orgID, asOf}
	if frameworkID != nil {
		query += ` AND c.framework_id = $3`
		args = append(args, *frameworkID)
	}
	query += ` ORDER BY c.code`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list controls: %w", err)
	}
	return r.scanAll(rows)
}

// SetOverride records a manual override revision; nil clears it
func (r *ControlRepository) SetOverride(ctx context.Context, orgID, id uuid.UUID, status *models.CompletionStatus) (*models.Control, error) {
	query := `
		INSERT INTO control_overrides (control_id, org_id, status, revision, created_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
	`

	var control *models.Control
	err := runInTx(ctx, r.db, r.logger, func(ctx context.Context, exec Executor) error {
		var exists int
		err := exec.QueryRowContext(ctx, `SELECT 1 FROM controls WHERE id = $1 AND org_id = $2`, id, orgID).Scan(&exists)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("control %s: %w", id, repositories.ErrNotFound)
			}
			return fmt.Errorf("failed to get control: %w", err)
		}

		rev, err := tick(ctx, exec)
		if err != nil {
			return err
		}

		var value sql.NullString
		if status != nil {
			value = sql.NullString{String: string(*status), Valid: true}
		}
		if _, err := exec.ExecContext(ctx, query, id, orgID, value, rev); err != nil {
			return fmt.Errorf("failed to record control override: %w", err)
		}

		control, err = r.GetByID(ctx, orgID, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("control override recorded",
		zap.String("id", id.String()),
		zap.Bool("cleared", status == nil))
	return control, nil
}

func (r *ControlRepository) one(rows *sql.Rows, key string) (*models.Control, error) {
	controls, err := r.scanAll(rows)
	if err != nil {
		return nil, err
	}
	if len(controls) == 0 {
		return nil, fmt.Errorf("control %s: %w", key, repositories.ErrNotFound)
	}
	return controls[0], nil
}

func (r *ControlRepository) scanAll(rows *sql.Rows) ([]*models.Control, error) {
	defer rows.Close()

	var controls []*models.Control
	for rows.Next() {
		c := &models.Control{}
		var (
			override    sql.NullString
			overrideRev sql.NullInt64
		)
		err := rows.Scan(
			&c.ID,
			&c.OrgID,
			&c.FrameworkID,
			&c.Code,
			&c.Title,
			&c.Description,
			&c.Category,
			&c.Severity,
			&c.Guidance,
			&c.CreatedRev,
			&c.CreatedAt,
			&override,
			&overrideRev,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan control: %w", err)
		}
		if override.Valid {
			status := models.CompletionStatus(override.String)
			c.StatusOverride = &status
		}
		c.OverrideRev = models.Revision(overrideRev.Int64)
		controls = append(controls, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating controls: %w", err)
	}
	return controls, nil
}
