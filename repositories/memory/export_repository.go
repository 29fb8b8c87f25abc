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

// ExportRepository keeps audit export rows
type ExportRepository struct {
	mu      sync.RWMutex
	exports map[uuid.UUID]models.AuditExport
}

// NewExportRepository creates an empty export repository
func NewExportRepository() *ExportRepository {
	return &ExportRepository{exports: make(map[uuid.UUID]models.AuditExport)}
}

// Create inserts an export
func (r *ExportRepository) Create(_ context.Context, export *models.AuditExport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.exports[export.ID]; ok {
		return fmt.Errorf("audit export %s: %w", export.ID, repositories.ErrDuplicate)
	}
	r.exports[export.ID] = *export
	return nil
}

// GetByID returns an export
func (r *ExportRepository) GetByID(_ context.Context, orgID, id uuid.UUID) (*models.AuditExport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.exports[id]
	if !ok || e.OrgID != orgID {
		return nil, fmt.Errorf("audit export %s: %w", id, repositories.ErrNotFound)
	}
	return &e, nil
}

// ListByOrg returns exports newest first
func (r *ExportRepository) ListByOrg(_ context.Context, orgID uuid.UUID, limit, offset int) ([]*models.AuditExport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*models.AuditExport
	for _, e := range r.exports {
		if e.OrgID == orgID {
			e := e
			all = append(all, &e)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return page(all, limit, offset), nil
}

// ListByStatus returns exports in a status, oldest first
func (r *ExportRepository) ListByStatus(_ context.Context, status models.ExportStatus) ([]*models.AuditExport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.AuditExport
	for _, e := range r.exports {
		if e.Status == status {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Transition applies a compare-and-set status change
func (r *ExportRepository) Transition(_ context.Context, orgID, id uuid.UUID, from, to models.ExportStatus, completion *models.ExportCompletion) (*models.AuditExport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.exports[id]
	if !ok || e.OrgID != orgID {
		return nil, fmt.Errorf("audit export %s: %w", id, repositories.ErrNotFound)
	}
	if e.Status != from {
		return nil, fmt.Errorf("audit export %s is %s: %w", id, e.Status, repositories.ErrStaleState)
	}
	e.Status = to
	if completion != nil {
		at := completion.At
		if to == models.ExportProcessing {
			e.StartedAt = &at
		} else {
			e.CompletedAt = &at
		}
		e.ErrorReason = completion.ErrorReason
		e.ArtifactKey = completion.ArtifactKey
		e.ArtifactDigest = completion.ArtifactDigest
		e.ArtifactSize = completion.ArtifactSize
		e.ManifestDigest = completion.ManifestDigest
	}
	r.exports[id] = e
	return &e, nil
}

// AuditRepository keeps activity log entries
type AuditRepository struct {
	mu   sync.RWMutex
	logs []models.AuditLog
}

// NewAuditRepository creates an empty audit repository
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

// Insert appends an entry
func (r *AuditRepository) Insert(_ context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, *log)
	return nil
}

// GetByOrgID returns entries newest first
func (r *AuditRepository) GetByOrgID(_ context.Context, orgID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.AuditLog
	for i := len(r.logs) - 1; i >= 0; i-- {
		if r.logs[i].OrgID == orgID {
			l := r.logs[i]
			out = append(out, &l)
		}
	}
	return page(out, limit, offset), nil
}

// GetByResource returns the trail of one resource, oldest first
func (r *AuditRepository) GetByResource(_ context.Context, orgID, resourceID uuid.UUID) ([]*models.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.AuditLog
	for i := range r.logs {
		l := r.logs[i]
		if l.OrgID == orgID && l.ResourceID != nil && *l.ResourceID == resourceID {
			out = append(out, &l)
		}
	}
	return out, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
