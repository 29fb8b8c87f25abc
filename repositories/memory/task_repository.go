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

// TaskRepository keeps every revision of every task
type TaskRepository struct {
	mu        sync.RWMutex
	clock     *Clock
	revisions map[uuid.UUID][]models.Task
}

// NewTaskRepository creates an empty task repository
func NewTaskRepository(clock *Clock) *TaskRepository {
	return &TaskRepository{clock: clock, revisions: make(map[uuid.UUID][]models.Task)}
}

// Create stores the first revision of a task
func (r *TaskRepository) Create(_ context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.revisions[task.ID]; ok {
		return fmt.Errorf("task %s: %w", task.ID, repositories.ErrDuplicate)
	}
	r.appendLocked(task)
	return nil
}

// Update stores a new revision of a live task
func (r *TaskRepository) Update(_ context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest, ok := r.latestLocked(task.ID, models.RevisionLatest)
	if !ok || latest.OrgID != task.OrgID || latest.Deleted {
		return fmt.Errorf("task %s: %w", task.ID, repositories.ErrNotFound)
	}
	task.ControlID = latest.ControlID
	r.appendLocked(task)
	return nil
}

// Delete writes a tombstone revision
func (r *TaskRepository) Delete(_ context.Context, orgID, taskID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest, ok := r.latestLocked(taskID, models.RevisionLatest)
	if !ok || latest.OrgID != orgID || latest.Deleted {
		return fmt.Errorf("task %s: %w", taskID, repositories.ErrNotFound)
	}
	tombstone := latest
	tombstone.Deleted = true
	r.appendLocked(&tombstone)
	return nil
}

// GetByID returns the live task
func (r *TaskRepository) GetByID(_ context.Context, orgID, taskID uuid.UUID) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	latest, ok := r.latestLocked(taskID, models.RevisionLatest)
	if !ok || latest.OrgID != orgID || latest.Deleted {
		return nil, fmt.Errorf("task %s: %w", taskID, repositories.ErrNotFound)
	}
	return &latest, nil
}

// ListByOrg returns task states at asOf ordered by title
func (r *TaskRepository) ListByOrg(_ context.Context, orgID uuid.UUID, controlID *uuid.UUID, asOf models.Revision) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Task
	for id := range r.revisions {
		t, ok := r.latestLocked(id, asOf)
		if !ok || t.OrgID != orgID || t.Deleted {
			continue
		}
		if controlID != nil && t.ControlID != *controlID {
			continue
		}
		out = append(out, &t)
	}
	sortTasks(out)
	return out, nil
}

func (r *TaskRepository) appendLocked(task *models.Task) {
	task.Revision = r.clock.tick()
	task.UpdatedAt = time.Now().UTC()
	r.revisions[task.ID] = append(r.revisions[task.ID], *task)
}

func (r *TaskRepository) latestLocked(id uuid.UUID, asOf models.Revision) (models.Task, bool) {
	revs := r.revisions[id]
	for i := len(revs) - 1; i >= 0; i-- {
		if revs[i].Revision <= asOf {
			return revs[i], true
		}
	}
	return models.Task{}, false
}

func sortTasks(tasks []*models.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Title != tasks[j].Title {
			return tasks[i].Title < tasks[j].Title
		}
		return tasks[i].ID.String() < tasks[j].ID.String()
	})
}

// PolicyRepository keeps every revision of every policy
type PolicyRepository struct {
	mu        sync.RWMutex
	clock     *Clock
	revisions map[uuid.UUID][]models.Policy
}

// NewPolicyRepository creates an empty policy repository
func NewPolicyRepository(clock *Clock) *PolicyRepository {
	return &PolicyRepository{clock: clock, revisions: make(map[uuid.UUID][]models.Policy)}
}

// Create stores the first revision of a policy
func (r *PolicyRepository) Create(_ context.Context, policy *models.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.revisions[policy.ID]; ok {
		return fmt.Errorf("policy %s: %w", policy.ID, repositories.ErrDuplicate)
	}
	if policy.Version == 0 {
		policy.Version = 1
	}
	r.appendLocked(policy)
	return nil
}

// Update stores a new revision with the next document version
func (r *PolicyRepository) Update(_ context.Context, policy *models.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	revs := r.revisions[policy.ID]
	if len(revs) == 0 || revs[len(revs)-1].OrgID != policy.OrgID {
		return fmt.Errorf("policy %s: %w", policy.ID, repositories.ErrNotFound)
	}
	latest := revs[len(revs)-1]
	policy.FrameworkID = latest.FrameworkID
	policy.Version = latest.Version + 1
	r.appendLocked(policy)
	return nil
}

// GetByID returns the live policy
func (r *PolicyRepository) GetByID(_ context.Context, orgID, policyID uuid.UUID) (*models.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	revs := r.revisions[policyID]
	if len(revs) == 0 || revs[len(revs)-1].OrgID != orgID {
		return nil, fmt.Errorf("policy %s: %w", policyID, repositories.ErrNotFound)
	}
	p := revs[len(revs)-1]
	return &p, nil
}

// ListByOrg returns policy states at asOf ordered by title
func (r *PolicyRepository) ListByOrg(_ context.Context, orgID uuid.UUID, frameworkID *uuid.UUID, asOf models.Revision) ([]*models.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Policy
	for _, revs := range r.revisions {
		for i := len(revs) - 1; i >= 0; i-- {
			p := revs[i]
			if p.Revision > asOf {
				continue
			}
			if p.OrgID == orgID && (frameworkID == nil || p.FrameworkID == *frameworkID) {
				out = append(out, &p)
			}
			break
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *PolicyRepository) appendLocked(policy *models.Policy) {
	policy.Revision = r.clock.tick()
	policy.UpdatedAt = time.Now().UTC()
	r.revisions[policy.ID] = append(r.revisions[policy.ID], *policy)
}
