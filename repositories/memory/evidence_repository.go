package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/repositories"
)

// EvidenceRepository keeps slots, versions and review events. Version numbers are
// allocated under the write lock, so a slot never hands out the same number twice.
type EvidenceRepository struct {
	mu       sync.RWMutex
	clock    *Clock
	slots    map[uuid.UUID]models.EvidenceSlot
	versions map[uuid.UUID]models.EvidenceVersion
	bySlot   map[uuid.UUID][]uuid.UUID
	events   map[uuid.UUID][]models.ReviewEvent
}

// NewEvidenceRepository creates an empty evidence repository
func NewEvidenceRepository(clock *Clock) *EvidenceRepository {
	return &EvidenceRepository{
		clock:    clock,
		slots:    make(map[uuid.UUID]models.EvidenceSlot),
		versions: make(map[uuid.UUID]models.EvidenceVersion),
		bySlot:   make(map[uuid.UUID][]uuid.UUID),
		events:   make(map[uuid.UUID][]models.ReviewEvent),
	}
}

// CreateSlot inserts an active slot
func (r *EvidenceRepository) CreateSlot(_ context.Context, slot *models.EvidenceSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s.OrgID == slot.OrgID && s.ControlID == slot.ControlID && s.SlotKey == slot.SlotKey {
			return fmt.Errorf("evidence slot %s: %w", slot.SlotKey, repositories.ErrDuplicate)
		}
	}
	slot.Active = true
	slot.VersionCount = 0
	slot.CreatedRev = r.clock.tick()
	r.slots[slot.ID] = *slot
	return nil
}

// GetSlot returns a slot
func (r *EvidenceRepository) GetSlot(_ context.Context, orgID, slotID uuid.UUID) (*models.EvidenceSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[slotID]
	if !ok || s.OrgID != orgID {
		return nil, fmt.Errorf("evidence slot %s: %w", slotID, repositories.ErrNotFound)
	}
	return &s, nil
}

// GetSlotByKey returns a slot by control and key
func (r *EvidenceRepository) GetSlotByKey(_ context.Context, orgID, controlID uuid.UUID, slotKey string) (*models.EvidenceSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.slots {
		if s.OrgID == orgID && s.ControlID == controlID && s.SlotKey == slotKey {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("evidence slot %s: %w", slotKey, repositories.ErrNotFound)
}

// ListSlots returns the slots of a control ordered by key
func (r *EvidenceRepository) ListSlots(_ context.Context, orgID, controlID uuid.UUID) ([]*models.EvidenceSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.EvidenceSlot
	for _, s := range r.slots {
		if s.OrgID == orgID && s.ControlID == controlID {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotKey < out[j].SlotKey })
	return out, nil
}

// DeactivateSlot marks a slot inactive; already inactive slots are returned as is
func (r *EvidenceRepository) DeactivateSlot(_ context.Context, orgID, slotID uuid.UUID) (*models.EvidenceSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[slotID]
	if !ok || s.OrgID != orgID {
		return nil, fmt.Errorf("evidence slot %s: %w", slotID, repositories.ErrNotFound)
	}
	if s.Active {
		s.Active = false
		s.DeactivatedRev = r.clock.tick()
		r.slots[slotID] = s
	}
	return &s, nil
}

// AppendVersion allocates the next version number and inserts the version
func (r *EvidenceRepository) AppendVersion(_ context.Context, version *models.EvidenceVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[version.SlotID]
	if !ok || s.OrgID != version.OrgID {
		return fmt.Errorf("evidence slot %s: %w", version.SlotID, repositories.ErrNotFound)
	}
	if !s.Active {
		return fmt.Errorf("evidence slot %s: %w", version.SlotID, repositories.ErrInactive)
	}
	s.VersionCount++
	r.slots[s.ID] = s

	version.Version = s.VersionCount
	version.CreatedRev = r.clock.tick()
	version.ReviewStatus = models.ReviewPending
	version.ReviewRev = version.CreatedRev
	r.versions[version.ID] = *version
	r.bySlot[s.ID] = append(r.bySlot[s.ID], version.ID)
	return nil
}

// GetVersion returns a version
func (r *EvidenceRepository) GetVersion(_ context.Context, orgID, versionID uuid.UUID) (*models.EvidenceVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.versions[versionID]
	if !ok || v.OrgID != orgID {
		return nil, fmt.Errorf("evidence version %s: %w", versionID, repositories.ErrNotFound)
	}
	return &v, nil
}

// ListVersions returns the versions of a slot, oldest first
func (r *EvidenceRepository) ListVersions(_ context.Context, orgID, slotID uuid.UUID) ([]*models.EvidenceVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[slotID]
	if !ok || s.OrgID != orgID {
		return nil, fmt.Errorf("evidence slot %s: %w", slotID, repositories.ErrNotFound)
	}
	ids := r.bySlot[slotID]
	out := make([]*models.EvidenceVersion, 0, len(ids))
	for _, id := range ids {
		v := r.versions[id]
		out = append(out, &v)
	}
	return out, nil
}

// CurrentVersion returns the highest version of a slot
func (r *EvidenceRepository) CurrentVersion(_ context.Context, orgID, slotID uuid.UUID) (*models.EvidenceVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[slotID]
	if !ok || s.OrgID != orgID {
		return nil, fmt.Errorf("evidence slot %s: %w", slotID, repositories.ErrNotFound)
	}
	ids := r.bySlot[slotID]
	if len(ids) == 0 {
		return nil, fmt.Errorf("evidence slot %s has no versions: %w", slotID, repositories.ErrNotFound)
	}
	v := r.versions[ids[len(ids)-1]]
	return &v, nil
}

// TransitionReview applies a compare-and-set review transition
func (r *EvidenceRepository) TransitionReview(_ context.Context, event *models.ReviewEvent) (*models.EvidenceVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.versions[event.VersionID]
	if !ok || v.OrgID != event.OrgID {
		return nil, fmt.Errorf("evidence version %s: %w", event.VersionID, repositories.ErrNotFound)
	}
	if v.ReviewStatus != event.FromStatus {
		return nil, fmt.Errorf("evidence version %s is %s: %w", v.ID, v.ReviewStatus, repositories.ErrStaleState)
	}
	event.Revision = r.clock.tick()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	reviewer := event.ReviewerID
	at := event.CreatedAt
	v.ReviewStatus = event.ToStatus
	v.ReviewedBy = &reviewer
	v.ReviewedAt = &at
	v.ReviewNote = event.Note
	v.ReviewRev = event.Revision
	r.versions[v.ID] = v
	r.events[v.ID] = append(r.events[v.ID], *event)
	return &v, nil
}

// ListReviewEvents returns the review history of a version, oldest first
func (r *EvidenceRepository) ListReviewEvents(_ context.Context, orgID, versionID uuid.UUID) ([]*models.ReviewEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.versions[versionID]
	if !ok || v.OrgID != orgID {
		return nil, fmt.Errorf("evidence version %s: %w", versionID, repositories.ErrNotFound)
	}
	events := r.events[versionID]
	out := make([]*models.ReviewEvent, 0, len(events))
	for i := range events {
		e := events[i]
		out = append(out, &e)
	}
	return out, nil
}

// CurrentEvidence resolves the current version of every slot active at asOf
func (r *EvidenceRepository) CurrentEvidence(_ context.Context, orgID uuid.UUID, controlID *uuid.UUID, asOf models.Revision) ([]*models.EvidenceAsOf, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.EvidenceAsOf
	for _, s := range r.slots {
		if s.OrgID != orgID || !s.ActiveAt(asOf) {
			continue
		}
		if controlID != nil && s.ControlID != *controlID {
			continue
		}
		item := &models.EvidenceAsOf{Slot: s}
		ids := r.bySlot[s.ID]
		for i := len(ids) - 1; i >= 0; i-- {
			v := r.versions[ids[i]]
			if v.CreatedRev <= asOf {
				r.reviewAsOf(&v, asOf)
				item.Current = &v
				break
			}
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Slot.ControlID != out[j].Slot.ControlID {
			return out[i].Slot.ControlID.String() < out[j].Slot.ControlID.String()
		}
		return out[i].Slot.SlotKey < out[j].Slot.SlotKey
	})
	return out, nil
}

// reviewAsOf rewinds the review fields of v to their value at asOf
func (r *EvidenceRepository) reviewAsOf(v *models.EvidenceVersion, asOf models.Revision) {
	v.ReviewStatus = models.ReviewPending
	v.ReviewedBy = nil
	v.ReviewedAt = nil
	v.ReviewNote = ""
	v.ReviewRev = v.CreatedRev
	events := r.events[v.ID]
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.Revision <= asOf {
			reviewer := e.ReviewerID
			at := e.CreatedAt
			v.ReviewStatus = e.ToStatus
			v.ReviewedBy = &reviewer
			v.ReviewedAt = &at
			v.ReviewNote = e.Note
			v.ReviewRev = e.Revision
			return
		}
	}
}
