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

type overrideRevision struct {
	status *models.CompletionStatus
	rev    models.Revision
}

// ControlRepository keeps controls and their override history
type ControlRepository struct {
	mu        sync.RWMutex
	clock     *Clock
	controls  map[uuid.UUID]models.Control
	overrides map[uuid.UUID][]overrideRevision
}

// NewControlRepository creates an empty control repository
func NewControlRepository(clock *Clock) *ControlRepository {
	return &ControlRepository{
		clock:     clock,
		controls:  make(map[uuid.UUID]models.Control),
		overrides: make(map[uuid.UUID][]overrideRevision),
	}
}

// Create inserts a control
func (r *ControlRepository) Create(_ context.Context, control *models.Control) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.controls {
		if c.OrgID == control.OrgID && c.FrameworkID == control.FrameworkID && c.Code == control.Code {
			return fmt.Errorf("control %s: %w", control.Code, repositories.ErrDuplicate)
		}
	}
	control.CreatedRev = r.clock.tick()
	r.controls[control.ID] = *control
	return nil
}

// GetByID returns the live control
func (r *ControlRepository) GetByID(_ context.Context, orgID, id uuid.UUID) (*models.Control, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controls[id]
	if !ok || c.OrgID != orgID {
		return nil, fmt.Errorf("control %s: %w", id, repositories.ErrNotFound)
	}
	return r.withOverride(c, models.RevisionLatest), nil
}

// GetByCode returns the live control with the given code
func (r *ControlRepository) GetByCode(_ context.Context, orgID, frameworkID uuid.UUID, code string) (*models.Control, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.controls {
		if c.OrgID == orgID && c.FrameworkID == frameworkID && c.Code == code {
			return r.withOverride(c, models.RevisionLatest), nil
		}
	}
	return nil, fmt.Errorf("control %s: %w", code, repositories.ErrNotFound)
}

// ListByOrg returns the controls visible at asOf ordered by code
func (r *ControlRepository) ListByOrg(_ context.Context, orgID uuid.UUID, frameworkID *uuid.UUID, asOf models.Revision) ([]*models.Control, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Control
	for _, c := range r.controls {
		if c.OrgID != orgID || c.CreatedRev > asOf {
			continue
		}
		if frameworkID != nil && c.FrameworkID != *frameworkID {
			continue
		}
		out = append(out, r.withOverride(c, asOf))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// SetOverride records a manual override revision
func (r *ControlRepository) SetOverride(_ context.Context, orgID, id uuid.UUID, status *models.CompletionStatus) (*models.Control, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controls[id]
	if !ok || c.OrgID != orgID {
		return nil, fmt.Errorf("control %s: %w", id, repositories.ErrNotFound)
	}
	var copied *models.CompletionStatus
	if status != nil {
		s := *status
		copied = &s
	}
	r.overrides[id] = append(r.overrides[id], overrideRevision{status: copied, rev: r.clock.tick()})
	return r.withOverride(c, models.RevisionLatest), nil
}

func (r *ControlRepository) withOverride(c models.Control, asOf models.Revision) *models.Control {
	c.StatusOverride = nil
	c.OverrideRev = 0
	history := r.overrides[c.ID]
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].rev <= asOf {
			if history[i].status != nil {
				s := *history[i].status
				c.StatusOverride = &s
			}
			c.OverrideRev = history[i].rev
			break
		}
	}
	return &c
}
