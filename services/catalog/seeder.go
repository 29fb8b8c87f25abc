package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/repositories"
	"github.com/upb/compliance-ledger/services"
	"go.uber.org/zap"
)

// Auditor records seeding in the organization trail
type Auditor interface {
	LogOrganizationSeeded(ctx context.Context, orgID, frameworkID uuid.UUID, created int)
}

// Seeder keeps frameworks and per-organization controls in line with the catalog.
// Seeding is additive and idempotent: existing controls are never modified.
type Seeder struct {
	repos   *repositories.Repositories
	audit   Auditor
	logger  *zap.Logger
	mu      sync.Mutex
	catalog *Catalog
}

// NewSeeder creates a new Seeder
func NewSeeder(repos *repositories.Repositories, catalog *Catalog, audit Auditor, logger *zap.Logger) *Seeder {
	return &Seeder{repos: repos, catalog: catalog, audit: audit, logger: logger}
}

// Catalog returns the catalog in use
func (s *Seeder) Catalog() *Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog
}

// SyncFrameworks upserts every framework of the catalog
func (s *Seeder) SyncFrameworks(ctx context.Context) error {
	for _, spec := range s.Catalog().Frameworks {
		fw := models.NewFramework(spec.Name, spec.Version, spec.Description)
		if err := s.repos.Frameworks.Upsert(ctx, fw); err != nil {
			return services.WrapStorage("failed to upsert framework", err)
		}
	}
	return nil
}

// CreateOrganization registers a new organization and seeds its controls
func (s *Seeder) CreateOrganization(ctx context.Context, name, slug string) (*models.Organization, int, error) {
	name = strings.TrimSpace(name)
	slug = strings.TrimSpace(strings.ToLower(slug))
	if name == "" || slug == "" {
		return nil, 0, services.NewDomainError(services.ErrorTypeValidation, "organization name and slug are required", nil)
	}
	org := models.NewOrganization(name, slug)
	if err := s.repos.Organizations.Create(ctx, org); err != nil {
		return nil, 0, services.FromRepository(err, services.ErrOrganizationNotFound)
	}
	created, err := s.SeedOrganization(ctx, org.ID)
	if err != nil {
		return nil, 0, err
	}
	return org, created, nil
}

// SeedOrganization creates the controls the organization is missing and
// returns how many were created
func (s *Seeder) SeedOrganization(ctx context.Context, orgID uuid.UUID) (int, error) {
	if _, err := s.repos.Organizations.GetByID(ctx, orgID); err != nil {
		return 0, services.FromRepository(err, services.ErrOrganizationNotFound)
	}

	total := 0
	for _, spec := range s.Catalog().Frameworks {
		fwID := models.FrameworkID(spec.Name)
		created := 0
		for _, ctl := range spec.Controls {
			ok, err := s.ensureControl(ctx, orgID, fwID, ctl)
			if err != nil {
				return total, err
			}
			if ok {
				created++
			}
		}
		if created > 0 {
			s.logger.Info("seeded organization controls",
				zap.String("org_id", orgID.String()),
				zap.String("framework", spec.Name),
				zap.Int("created", created))
			s.audit.LogOrganizationSeeded(ctx, orgID, fwID, created)
		}
		total += created
	}
	return total, nil
}

// ensureControl creates one control unless it exists; true means it was created
func (s *Seeder) ensureControl(ctx context.Context, orgID, fwID uuid.UUID, spec ControlSpec) (bool, error) {
	_, err := s.repos.Controls.GetByCode(ctx, orgID, fwID, spec.Code)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return false, services.WrapStorage("failed to look up control", err)
	}

	control := models.NewControl(orgID, fwID, spec.Code, spec.Title, spec.Severity)
	control.Category = spec.Category
	control.Description = spec.Description
	control.Guidance = spec.Guidance
	if err := s.repos.Controls.Create(ctx, control); err != nil {
		// another replica seeded it first
		if errors.Is(err, repositories.ErrDuplicate) {
			return false, nil
		}
		return false, services.WrapStorage("failed to create control", err)
	}
	return true, nil
}

// SeedAll seeds every organization and returns the number of controls created
func (s *Seeder) SeedAll(ctx context.Context) (int, error) {
	orgs, err := s.repos.Organizations.List(ctx)
	if err != nil {
		return 0, services.WrapStorage("failed to list organizations", err)
	}
	total := 0
	for _, org := range orgs {
		n, err := s.SeedOrganization(ctx, org.ID)
		if err != nil {
			return total, fmt.Errorf("seed organization %s: %w", org.Slug, err)
		}
		total += n
	}
	return total, nil
}

// Reload swaps in a new catalog and applies it to every organization
func (s *Seeder) Reload(ctx context.Context, catalog *Catalog) (int, error) {
	s.mu.Lock()
	s.catalog = catalog
	s.mu.Unlock()

	if err := s.SyncFrameworks(ctx); err != nil {
		return 0, err
	}
	return s.SeedAll(ctx)
}
