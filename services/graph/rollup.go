// Package graph derives control readiness from tasks, evidence and manual
// overrides, and owns the task and policy records of an organization.
package graph

import (
	"math"

	"github.com/upb/compliance-ledger/models"
)

// Rollup derives the readiness of one control.
//
// Completed requires every task to be Completed and the current version of
// every active slot to be Accepted, and at least one task or slot to exist.
// InProgress means some task moved past Pending or some evidence was uploaded.
// A manual override replaces the derived status.
func Rollup(control *models.Control, tasks []*models.Task, evidence []*models.EvidenceAsOf) models.ControlRollup {
	rollup := models.ControlRollup{
		ControlID: control.ID,
		TaskCount: len(tasks),
	}

	allTasksDone := true
	started := false
	for _, t := range tasks {
		if t.Status != models.TaskCompleted {
			allTasksDone = false
		}
		if t.Status != models.TaskPending {
			started = true
		}
	}

	allAccepted := true
	for _, e := range evidence {
		if e.Current == nil {
			allAccepted = false
			continue
		}
		rollup.EvidenceCount++
		started = true
		if e.Current.ReviewStatus != models.ReviewAccepted {
			allAccepted = false
		}
	}

	switch {
	case allTasksDone && allAccepted && len(tasks)+len(evidence) > 0:
		rollup.CompletionStatus = models.CompletionCompleted
	case started:
		rollup.CompletionStatus = models.CompletionInProgress
	default:
		rollup.CompletionStatus = models.CompletionNotStarted
	}

	if control.StatusOverride != nil {
		rollup.CompletionStatus = *control.StatusOverride
		rollup.Overridden = true
	}
	return rollup
}

// Percentage returns part/total as a percentage rounded to one decimal, or 0 when total is 0
func Percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)*1000/float64(total)) / 10
}
