package models

import (
	"github.com/google/uuid"
)

// UserRole represents the role of a user within an organization
type UserRole string

const (
	RoleFounder     UserRole = "Founder"
	RoleAdmin       UserRole = "Admin"
	RoleContributor UserRole = "Contributor"
	RoleAuditor     UserRole = "Auditor"
)

// IsValid reports whether r is one of the known roles.
func (r UserRole) IsValid() bool {
	switch r {
	case RoleFounder, RoleAdmin, RoleContributor, RoleAuditor:
		return true
	}
	return false
}

// CanReviewEvidence returns true if the role may accept or reject evidence
func (r UserRole) CanReviewEvidence() bool {
	return r == RoleFounder || r == RoleAdmin || r == RoleAuditor
}

// CanManageEvidence returns true if the role may deactivate evidence slots
// and set manual control overrides
func (r UserRole) CanManageEvidence() bool {
	return r == RoleFounder || r == RoleAdmin
}

// CanEditRecords returns true if the role may change tasks and policies.
// Auditors have read-only access to the graph.
func (r UserRole) CanEditRecords() bool {
	return r == RoleFounder || r == RoleAdmin || r == RoleContributor
}

// CanExport returns true if the role may request audit exports
func (r UserRole) CanExport() bool {
	return r == RoleFounder || r == RoleAdmin
}

// Actor is the already-authenticated caller of a core operation.
// Every read and write is scoped to OrgID.
type Actor struct {
	OrgID  uuid.UUID
	UserID uuid.UUID
	Role   UserRole
}
