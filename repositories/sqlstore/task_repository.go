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

// TaskRepository implements the repositories.TaskRepository interface.
// Every change is a new row in task_revisions; deletion writes a tombstone.
type TaskRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *DB, logger *zap.Logger) repositories.TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

const taskColumns = `task_id, revision, org_id, control_id, title, description, owner_id,
	due_date, priority, status, notes, deleted, updated_at`

// Create stores the first revision of a task
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	return runInTx(ctx, r.db, r.logger, func(ctx context.Context, exec Executor) error {
		var exists int
		err := exec.QueryRowContext(ctx, `SELECT 1 FROM task_revisions WHERE task_id = $1 LIMIT 1`, task.ID).Scan(&exists)
		if err == nil {
			return fmt.Errorf("task %s: %w", task.ID, repositories.ErrDuplicate)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check task: %w", err)
		}

		task.Deleted = false
		if err := r.appendRevision(ctx, exec, task); err != nil {
			return err
		}
		r.logger.Debug("task created", zap.String("id", task.ID.String()), zap.String("title", task.Title))
		return nil
	})
}

// Update stores a new revision of a live task. The control a task belongs to never changes.
func (r *TaskRepository) Update(ctx context.Context, task *models.Task) error {
	return runInTx(ctx, r.db, r.logger, func(ctx context.Context, exec Executor) error {
		latest, err := r.latest(ctx, exec, task.OrgID, task.ID)
		if err != nil {
			return err
		}

		task.ControlID = latest.ControlID
		task.Deleted = false
		if err := r.appendRevision(ctx, exec, task); err != nil {
			return err
		}
		r.logger.Debug("task updated",
			zap.String("id", task.ID.String()),
			zap.String("status", string(task.Status)),
			zap.Int64("revision", int64(task.Revision)))
		return nil
	})
}

// Delete writes a tombstone revision
func (r *TaskRepository) Delete(ctx context.Context, orgID, taskID uuid.UUID) error {
	return runInTx(ctx, r.db, r.logger, func(ctx context.Context, exec Executor) error {
		tombstone, err := r.latest(ctx, exec, orgID, taskID)
		if err != nil {
			return err
		}

		tombstone.Deleted = true
		if err := r.appendRevision(ctx, exec, tombstone); err != nil {
			return err
		}
		r.logger.Debug("task deleted", zap.String("id", taskID.String()))
		return nil
	})
}

// GetByID returns the live task
func (r *TaskRepository) GetByID(ctx context.Context, orgID, taskID uuid.UUID) (*models.Task, error) {
	return r.latest(ctx, GetExecutor(ctx, r.db), orgID, taskID)
}

// ListByOrg returns task states at asOf ordered by title
func (r *TaskRepository) ListByOrg(ctx context.Context, orgID uuid.UUID, controlID *uuid.UUID, asOf models.Revision) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM task_revisions t
		WHERE t.org_id = $1
			AND t.revision = (
				SELECT MAX(t2.revision) FROM task_revisions t2
				WHERE t2.task_id = t.task_id AND t2.revision <= $2
			)
			AND NOT t.deleted`
	args := []interface{}{orgID, asOf}
	if controlID != nil {
		query += ` AND t.control_id = $3`
		args = append(args, *controlID)
	}
	query += ` ORDER BY t.title, t.task_id`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) latest(ctx context.Context, exec Executor, orgID, taskID uuid.UUID) (*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM task_revisions
		WHERE task_id = $1 AND org_id = $2
		ORDER BY revision DESC
		LIMIT 1
	`

	t, err := scanTask(exec.QueryRowContext(ctx, query, taskID, orgID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", taskID, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	if t.Deleted {
		return nil, fmt.Errorf("task %s: %w", taskID, repositories.ErrNotFound)
	}
	return t, nil
}

func (r *TaskRepository) appendRevision(ctx context.Context, exec Executor, task *models.Task) error {
	query := `
		INSERT INTO task_revisions (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	rev, err := tick(ctx, exec)
	if err != nil {
		return err
	}
	updatedAt := time.Now().UTC()

	_, err = exec.ExecContext(ctx, query,
		task.ID,
		rev,
		task.OrgID,
		task.ControlID,
		task.Title,
		task.Description,
		task.OwnerID,
		task.DueDate,
		task.Priority,
		task.Status,
		task.Notes,
		task.Deleted,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task revision: %w", err)
	}

	task.Revision = rev
	task.UpdatedAt = updatedAt
	return nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	t := &models.Task{}
	err := row.Scan(
		&t.ID,
		&t.Revision,
		&t.OrgID,
		&t.ControlID,
		&t.Title,
		&t.Description,
		&t.OwnerID,
		&t.DueDate,
		&t.Priority,
		&t.Status,
		&t.Notes,
		&t.Deleted,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// PolicyRepository implements the repositories.PolicyRepository interface
type PolicyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *DB, logger *zap.Logger) repositories.PolicyRepository {
	return &PolicyRepository{db: db, logger: logger}
}

const policyColumns = `policy_id, revision, org_id, framework_id, title, content, version,
	status, updated_by, updated_at`

// Create stores the first revision of a policy
func (r *PolicyRepository) Create(ctx context.Context, policy *models.Policy) error {
	return runInTx(ctx, r.db, r.logger, func(ctx context.Context, exec Executor) error {
		var exists int
		err := exec.QueryRowContext(ctx, `SELECT 1 FROM policy_revisions WHERE policy_id = $1 LIMIT 1`, policy.ID).Scan(&exists)
		if err == nil {
			return fmt.Errorf("policy %s: %w", policy.ID, repositories.ErrDuplicate)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check policy: %w", err)
		}

		if policy.Version == 0 {
			policy.Version = 1
		}
		if err := r.appendRevision(ctx, exec, policy); err != nil {
			return err
		}
		r.logger.Debug("policy created", zap.String("id", policy.ID.String()), zap.String("title", policy.Title))
		return nil
	})
}

// Update stores a new revision with the next document version
func (r *PolicyRepository) Update(ctx context.Context, policy *models.Policy) error {
	return runInTx(ctx, r.db, r.logger, func(ctx context.Context, exec Executor) error {
		latest, err := r.latest(ctx, exec, policy.OrgID, policy.ID)
		if err != nil {
			return err
		}

		policy.FrameworkID = latest.FrameworkID
		policy.Version = latest.Version + 1
		if err := r.appendRevision(ctx, exec, policy); err != nil {
			return err
		}
		r.logger.Debug("policy updated",
			zap.String("id", policy.ID.String()),
			zap.Int("version", policy.Version))
		return nil
	})
}

// GetByID returns the live policy
func (r *PolicyRepository) GetByID(ctx context.Context, orgID, policyID uuid.UUID) (*models.Policy, error) {
	return r.latest(ctx, GetExecutor(ctx, r.db), orgID, policyID)
}

// ListByOrg returns every policy as of asOf ordered by title
func (r *PolicyRepository) ListByOrg(ctx context.Context, orgID uuid.UUID, frameworkID *uuid.UUID, asOf models.Revision) ([]*models.Policy, error) {
	query := `
		SELECT ` + policyColumns + `
		FROM policy_revisions p
		WHERE p.org_id = $1
			AND p.revision = (
				SELECT MAX(p2.revision) FROM policy_revisions p2
				WHERE p2.policy_id = p.policy_id AND p2.revision <= $2
			)`
	args := []interface{}{orgID, asOf}
	if frameworkID != nil {
		query += ` AND p.framework_id = $3`
		args = append(args, *frameworkID)
	}
	query += ` ORDER BY p.title, p.policy_id`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	var policies []*models.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policies: %w", err)
	}
	return policies, nil
}

func (r *PolicyRepository) latest(ctx context.Context, exec Executor, orgID, policyID uuid.UUID) (*models.Policy, error) {
	query := `
		SELECT ` + policyColumns + `
		FROM policy_revisions
		WHERE policy_id = $1 AND org_id = $2
		ORDER BY revision DESC
		LIMIT 1
	`

	p, err := scanPolicy(exec.QueryRowContext(ctx, query, policyID, orgID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("policy %s: %w", policyID, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	return p, nil
}

func (r *PolicyRepository) appendRevision(ctx context.Context, exec Executor, policy *models.Policy) error {
	query := `
		INSERT INTO policy_revisions (` + policyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	rev, err := tick(ctx, exec)
	if err != nil {
		return err
	}
	updatedAt := time.Now().UTC()

	_, err = exec.ExecContext(ctx, query,
		policy.ID,
		rev,
		policy.OrgID,
		policy.FrameworkID,
		policy.Title,
		policy.Content,
		policy.Version,
		policy.Status,
		policy.UpdatedBy,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert policy revision: %w", err)
	}

	policy.Revision = rev
	policy.UpdatedAt = updatedAt
	return nil
}

func scanPolicy(row rowScanner) (*models.Policy, error) {
	p := &models.Policy{}
	err := row.Scan(
		&p.ID,
		&p.Revision,
		&p.OrgID,
		&p.FrameworkID,
		&p.Title,
		&p.Content,
		&p.Version,
		&p.Status,
		&p.UpdatedBy,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
