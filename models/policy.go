package models

import (
	"time"

	"github.com/google/uuid"
)

// PolicyStatus is the approval state of a policy document
type PolicyStatus string

const (
	PolicyDraft       PolicyStatus = "Draft"
	PolicyUnderReview PolicyStatus = "UnderReview"
	PolicyApproved    PolicyStatus = "Approved"
)

// IsValid reports whether s is a known policy status
func (s PolicyStatus) IsValid() bool {
	switch s {
	case PolicyDraft, PolicyUnderReview, PolicyApproved:
		return true
	}
	return false
}

// Policy is an organization's markdown policy document for a framework.
// Like tasks, every edit is stored as a new revision row.
type Policy struct {
	ID          uuid.UUID    `json:"id" db:"policy_id"`
	OrgID       uuid.UUID    `json:"org_id" db:"org_id"`
	FrameworkID uuid.UUID    `json:"framework_id" db:"framework_id"`
	Title       string       `json:"title" db:"title"`
	Content     string       `json:"content" db:"content"` // markdown
	Version     int          `json:"version" db:"version"`
	Status      PolicyStatus `json:"status" db:"status"`
	Revision    Revision     `json:"revision" db:"revision"`
	UpdatedBy   uuid.UUID    `json:"updated_by" db:"updated_by"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Policy model
func (Policy) TableName() string {
	return "policy_revisions"
}

// NewPolicy creates a new Draft policy at version 1
func NewPolicy(orgID, frameworkID uuid.UUID, title, content string, author uuid.UUID) *Policy {
	return &Policy{
		ID:          uuid.New(),
		OrgID:       orgID,
		FrameworkID: frameworkID,
		Title:       title,
		Content:     content,
		Version:     1,
		Status:      PolicyDraft,
		UpdatedBy:   author,
		UpdatedAt:   time.Now().UTC(),
	}
}
