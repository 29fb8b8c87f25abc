package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/repositories"
)

// State is the compliance graph of one organization read at a single revision.
// Every record in it was written at or before AsOf.
type State struct {
	AsOf     models.Revision
	Controls []*models.Control
	Tasks    map[uuid.UUID][]*models.Task
	Evidence map[uuid.UUID][]*models.EvidenceAsOf
	Policies []*models.Policy
}

// ReadState loads controls, tasks, current evidence and policies as of asOf.
// frameworkID may be nil to read every framework.
func ReadState(ctx context.Context, repos *repositories.Repositories, orgID uuid.UUID, frameworkID *uuid.UUID, asOf models.Revision) (*State, error) {
	controls, err := repos.Controls.ListByOrg(ctx, orgID, frameworkID, asOf)
	if err != nil {
		return nil, fmt.Errorf("list controls: %w", err)
	}
	tasks, err := repos.Tasks.ListByOrg(ctx, orgID, nil, asOf)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	evidence, err := repos.Evidence.CurrentEvidence(ctx, orgID, nil, asOf)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	policies, err := repos.Policies.ListByOrg(ctx, orgID, frameworkID, asOf)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}

	state := &State{
		AsOf:     asOf,
		Controls: controls,
		Tasks:    make(map[uuid.UUID][]*models.Task, len(controls)),
		Evidence: make(map[uuid.UUID][]*models.EvidenceAsOf, len(controls)),
		Policies: policies,
	}
	known := make(map[uuid.UUID]bool, len(controls))
	for _, c := range controls {
		known[c.ID] = true
	}
	for _, t := range tasks {
		if known[t.ControlID] {
			state.Tasks[t.ControlID] = append(state.Tasks[t.ControlID], t)
		}
	}
	for _, e := range evidence {
		if known[e.Slot.ControlID] {
			state.Evidence[e.Slot.ControlID] = append(state.Evidence[e.Slot.ControlID], e)
		}
	}
	return state, nil
}

// Rollup derives the readiness of control from this state
func (s *State) Rollup(control *models.Control) models.ControlRollup {
	return Rollup(control, s.Tasks[control.ID], s.Evidence[control.ID])
}

// Stats aggregates the state into organization counters
func (s *State) Stats() *models.OrganizationStats {
	stats := &models.OrganizationStats{
		TotalControls: len(s.Controls),
		TotalPolicies: len(s.Policies),
	}

	for _, c := range s.Controls {
		switch s.Rollup(c).CompletionStatus {
		case models.CompletionCompleted:
			stats.ControlsCompleted++
		case models.CompletionInProgress:
			stats.ControlsInProgress++
		default:
			stats.ControlsNotStarted++
		}

		for _, t := range s.Tasks[c.ID] {
			stats.TotalTasks++
			switch t.Status {
			case models.TaskPending:
				stats.PendingTasks++
			case models.TaskCompleted:
				stats.CompletedTasks++
			}
		}

		for _, e := range s.Evidence[c.ID] {
			if e.Current == nil {
				continue
			}
			stats.TotalEvidence++
			switch e.Current.ReviewStatus {
			case models.ReviewAccepted:
				stats.AcceptedEvidence++
			case models.ReviewPending:
				stats.PendingEvidence++
			}
		}
	}

	for _, p := range s.Policies {
		if p.Status == models.PolicyApproved {
			stats.ApprovedPolicies++
		}
	}

	stats.CompletionPercentage = Percentage(stats.ControlsCompleted, stats.TotalControls)
	stats.TaskCompletionPercentage = Percentage(stats.CompletedTasks, stats.TotalTasks)
	return stats
}
