package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/repositories"
)

// OrganizationRepository keeps organizations in a map
type OrganizationRepository struct {
	mu   sync.RWMutex
	orgs map[uuid.UUID]models.Organization
}

// NewOrganizationRepository creates an empty organization repository
func NewOrganizationRepository() *OrganizationRepository {
	return &OrganizationRepository{orgs: make(map[uuid.UUID]models.Organization)}
}

// Create inserts an organization
func (r *OrganizationRepository) Create(_ context.Context, org *models.Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.orgs {
		if existing.Slug == org.Slug {
			return fmt.Errorf("organization slug %q: %w", org.Slug, repositories.ErrDuplicate)
		}
	}
	r.orgs[org.ID] = *org
	return nil
}

// GetByID returns an organization
func (r *OrganizationRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	org, ok := r.orgs[id]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", id, repositories.ErrNotFound)
	}
	return &org, nil
}

// GetBySlug returns an organization by slug
func (r *OrganizationRepository) GetBySlug(_ context.Context, slug string) (*models.Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, org := range r.orgs {
		if org.Slug == slug {
			org := org
			return &org, nil
		}
	}
	return nil, fmt.Errorf("organization %q: %w", slug, repositories.ErrNotFound)
}

// List returns every organization ordered by slug
func (r *OrganizationRepository) List(_ context.Context) ([]*models.Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Organization, 0, len(r.orgs))
	for _, org := range r.orgs {
		org := org
		out = append(out, &org)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// FrameworkRepository keeps the framework catalog in a map
type FrameworkRepository struct {
	mu         sync.RWMutex
	frameworks map[uuid.UUID]models.Framework
}

// NewFrameworkRepository creates an empty framework repository
func NewFrameworkRepository() *FrameworkRepository {
	return &FrameworkRepository{frameworks: make(map[uuid.UUID]models.Framework)}
}

// Upsert inserts or refreshes a framework
func (r *FrameworkRepository) Upsert(_ context.Context, fw *models.Framework) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.frameworks[fw.ID]; ok {
		existing.Version = fw.Version
		existing.Description = fw.Description
		r.frameworks[fw.ID] = existing
		return nil
	}
	r.frameworks[fw.ID] = *fw
	return nil
}

// GetByID returns a framework
func (r *FrameworkRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Framework, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fw, ok := r.frameworks[id]
	if !ok {
		return nil, fmt.Errorf("framework %s: %w", id, repositories.ErrNotFound)
	}
	return &fw, nil
}

// List returns every framework ordered by name
func (r *FrameworkRepository) List(_ context.Context) ([]*models.Framework, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Framework, 0, len(r.frameworks))
	for _, fw := range r.frameworks {
		fw := fw
		out = append(out, &fw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
