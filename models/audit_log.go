package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionEvidenceUploaded   AuditAction = "evidence_uploaded"
	AuditActionEvidenceReviewed   AuditAction = "evidence_reviewed"
	AuditActionSlotCreated        AuditAction = "evidence_slot_created"
	AuditActionSlotDeactivated    AuditAction = "evidence_slot_deactivated"
	AuditActionTaskCreated        AuditAction = "task_created"
	AuditActionTaskUpdated        AuditAction = "task_updated"
	AuditActionTaskDeleted        AuditAction = "task_deleted"
	AuditActionPolicyCreated      AuditAction = "policy_created"
	AuditActionPolicyUpdated      AuditAction = "policy_updated"
	AuditActionControlOverridden  AuditAction = "control_overridden"
	AuditActionExportRequested    AuditAction = "export_requested"
	AuditActionExportReady        AuditAction = "export_ready"
	AuditActionExportFailed       AuditAction = "export_failed"
	AuditActionExportDownloaded   AuditAction = "export_downloaded"
	AuditActionOrganizationSeeded AuditAction = "organization_seeded"
)

// AuditLog represents an activity trail entry
type AuditLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	OrgID        uuid.UUID       `json:"org_id" db:"org_id"`
	UserID       *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	Action       AuditAction     `json:"action" db:"action"`
	ResourceType string          `json:"resource_type" db:"resource_type"` // evidence_version, task, export, etc.
	ResourceID   *uuid.UUID      `json:"resource_id,omitempty" db:"resource_id"`
	Details      json.RawMessage `json:"details" db:"details"`
	RequestID    string          `json:"request_id" db:"request_id"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(orgID uuid.UUID, action AuditAction, resourceType string) *AuditLog {
	return &AuditLog{
		ID:           uuid.New(),
		OrgID:        orgID,
		Action:       action,
		ResourceType: resourceType,
		Timestamp:    time.Now().UTC(),
	}
}

// WithUser sets the user ID
func (a *AuditLog) WithUser(userID uuid.UUID) *AuditLog {
	a.UserID = &userID
	return a
}

// WithResource sets the resource ID
func (a *AuditLog) WithResource(resourceID uuid.UUID) *AuditLog {
	a.ResourceID = &resourceID
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets the request id
func (a *AuditLog) WithRequest(requestID string) *AuditLog {
	a.RequestID = requestID
	return a
}

// WithError sets error information
func (a *AuditLog) WithError(errorMessage string) *AuditLog {
	a.ErrorMessage = &errorMessage
	return a
}
