package models

import (
	"time"

	"github.com/google/uuid"
)

// Severity ranks how critical a control is
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// CompletionStatus is the derived readiness of a control
type CompletionStatus string

const (
	CompletionNotStarted CompletionStatus = "NotStarted"
	CompletionInProgress CompletionStatus = "InProgress"
	CompletionCompleted  CompletionStatus = "Completed"
)

// IsValid reports whether s is a known completion status
func (s CompletionStatus) IsValid() bool {
	switch s {
	case CompletionNotStarted, CompletionInProgress, CompletionCompleted:
		return true
	}
	return false
}

// Control is a compliance requirement instantiated for one organization.
// Completion status is never stored; see graph.Rollup.
type Control struct {
	ID             uuid.UUID         `json:"id" db:"id"`
	OrgID          uuid.UUID         `json:"org_id" db:"org_id"`
	FrameworkID    uuid.UUID         `json:"framework_id" db:"framework_id"`
	Code           string            `json:"code" db:"code"`
	Title          string            `json:"title" db:"title"`
	Description    string            `json:"description" db:"description"`
	Category       string            `json:"category" db:"category"`
	Severity       Severity          `json:"severity" db:"severity"`
	Guidance       string            `json:"guidance,omitempty" db:"guidance"`
	StatusOverride *CompletionStatus `json:"status_override,omitempty" db:"status_override"`
	OverrideRev    Revision          `json:"-" db:"override_revision"`
	CreatedRev     Revision          `json:"-" db:"created_revision"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Control model
func (Control) TableName() string {
	return "controls"
}

// NewControl creates a new Control instance
func NewControl(orgID, frameworkID uuid.UUID, code, title string, severity Severity) *Control {
	return &Control{
		ID:          uuid.New(),
		OrgID:       orgID,
		FrameworkID: frameworkID,
		Code:        code,
		Title:       title,
		Severity:    severity,
		CreatedAt:   time.Now().UTC(),
	}
}

// ControlRollup is the readiness summary of one control
type ControlRollup struct {
	ControlID        uuid.UUID        `json:"control_id"`
	CompletionStatus CompletionStatus `json:"completion_status"`
	EvidenceCount    int              `json:"evidence_count"`
	TaskCount        int              `json:"task_count"`
	Overridden       bool             `json:"overridden,omitempty"`
}

// OrganizationStats aggregates rollups over every control of an organization
type OrganizationStats struct {
	TotalControls            int     `json:"total_controls"`
	ControlsCompleted        int     `json:"controls_completed"`
	ControlsInProgress       int     `json:"controls_in_progress"`
	ControlsNotStarted       int     `json:"controls_not_started"`
	TotalPolicies            int     `json:"total_policies"`
	ApprovedPolicies         int     `json:"approved_policies"`
	TotalEvidence            int     `json:"total_evidence"`
	AcceptedEvidence         int     `json:"accepted_evidence"`
	PendingEvidence          int     `json:"pending_evidence"`
	TotalTasks               int     `json:"total_tasks"`
	PendingTasks             int     `json:"pending_tasks"`
	CompletedTasks           int     `json:"completed_tasks"`
	CompletionPercentage     float64 `json:"completion_percentage"`
	TaskCompletionPercentage float64 `json:"task_completion_percentage"`
}
