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

// OrganizationRepository implements the repositories.OrganizationRepository interface
type OrganizationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *DB, logger *zap.Logger) repositories.OrganizationRepository {
	return &OrganizationRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new organization
func (r *OrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	query := `
		INSERT INTO organizations (id, name, slug, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		org.ID,
		org.Name,
		org.Slug,
		org.CreatedAt,
		org.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("organization slug %q: %w", org.Slug, repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to create organization: %w", err)
	}

	r.logger.Debug("organization created", zap.String("id", org.ID.String()), zap.String("slug", org.Slug))
	return nil
}

// GetByID retrieves an organization by ID
func (r *OrganizationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	query := `
		SELECT id, name, slug, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`
	return r.queryOne(ctx, query, id)
}

// GetBySlug retrieves an organization by slug
func (r *OrganizationRepository) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	query := `
		SELECT id, name, slug, created_at, updated_at
		FROM organizations
		WHERE slug = $1
	`
	return r.queryOne(ctx, query, slug)
}

// List returns every organization ordered by name
func (r *OrganizationRepository) List(ctx context.Context) ([]*models.Organization, error) {
	query := `
		SELECT id, name, slug, created_at, updated_at
		FROM organizations
		ORDER BY name
	`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		org := &models.Organization{}
		if err := rows.Scan(&org.ID, &org.Name, &org.Slug, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating organizations: %w", err)
	}
	return orgs, nil
}

func (r *OrganizationRepository) queryOne(ctx context.Context, query string, arg interface{}) (*models.Organization, error) {
	org := &models.Organization{}
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, arg).Scan(
		&org.ID,
		&org.Name,
		&org.Slug,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("organization %v: %w", arg, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// FrameworkRepository implements the repositories.FrameworkRepository interface
type FrameworkRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewFrameworkRepository creates a new framework repository
func NewFrameworkRepository(db *DB, logger *zap.Logger) repositories.FrameworkRepository {
	return &FrameworkRepository{db: db, logger: logger}
}

// Upsert inserts the framework or refreshes its version and description
func (r *FrameworkRepository) Upsert(ctx context.Context, fw *models.Framework) error {
	query := `
		INSERT INTO frameworks (id, name, version, description, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET version = excluded.version, description = excluded.description
	`

	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, fw.ID, fw.Name, fw.Version, fw.Description, fw.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert framework: %w", err)
	}

	r.logger.Debug("framework upserted", zap.String("name", fw.Name), zap.String("version", fw.Version))
	return nil
}

// GetByID retrieves a framework by ID
func (r *FrameworkRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Framework, error) {
	query := `
		SELECT id, name, version, description, created_at
		FROM frameworks
		WHERE id = $1
	`

	fw := &models.Framework{}
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, id).Scan(
		&fw.ID, &fw.Name, &fw.Version, &fw.Description, &fw.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("framework %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get framework: %w", err)
	}
	return fw, nil
}

// List returns the catalog ordered by name
func (r *FrameworkRepository) List(ctx context.Context) ([]*models.Framework, error) {
	query := `
		SELECT id, name, version, description, created_at
		FROM frameworks
		ORDER BY name
	`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list frameworks: %w", err)
	}
	defer rows.Close()

	var fws []*models.Framework
	for rows.Next() {
		fw := &models.Framework{}
		if err := rows.Scan(&fw.ID, &fw.Name, &fw.Version, &fw.Description, &fw.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan framework: %w", err)
		}
		fws = append(fws, fw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating frameworks: %w", err)
	}
	return fws, nil
}
