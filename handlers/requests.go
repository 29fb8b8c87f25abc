package handlers

import (
	"time"

	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/services/graph"
)

// OverrideRequest sets a manual completion status on a control
type OverrideRequest struct {
	Status models.CompletionStatus `json:"status" validate:"required,oneof=NotStarted InProgress Completed"`
}

// CreateSlotRequest adds an evidence slot to a control
type CreateSlotRequest struct {
	SlotKey string `json:"slot_key" validate:"required,max=100"`
	Title   string `json:"title" validate:"max=200"`
}

// ReviewRequest moves a version to a new review status
type ReviewRequest struct {
	Status models.ReviewStatus `json:"status" validate:"required,oneof=Pending Accepted Rejected"`
	Note   string              `json:"note" validate:"max=2000"`
}

// TaskRequest creates or replaces a task
type TaskRequest struct {
	Title       string            `json:"title" validate:"required,max=200"`
	Description string            `json:"description" validate:"max=5000"`
	OwnerID     *uuid.UUID        `json:"owner_id,omitempty"`
	DueDate     *time.Time        `json:"due_date,omitempty"`
	Priority    models.Priority   `json:"priority" validate:"omitempty,oneof=Low Medium High"`
	Status      models.TaskStatus `json:"status" validate:"omitempty,oneof=Pending InProgress Blocked Completed"`
	Notes       string            `json:"notes" validate:"max=5000"`
}

func (r TaskRequest) input() graph.TaskInput {
	return graph.TaskInput{
		Title:       r.Title,
		Description: r.Description,
		OwnerID:     r.OwnerID,
		DueDate:     r.DueDate,
		Priority:    r.Priority,
		Status:      r.Status,
		Notes:       r.Notes,
	}
}

// TaskStatusRequest changes only the status of a task
type TaskStatusRequest struct {
	Status models.TaskStatus `json:"status" validate:"required,oneof=Pending InProgress Blocked Completed"`
}

// CreatePolicyRequest creates a policy document for a framework
type CreatePolicyRequest struct {
	FrameworkID string              `json:"framework_id" validate:"required,uuid"`
	Title       string              `json:"title" validate:"required,max=200"`
	Content     string              `json:"content"`
	Status      models.PolicyStatus `json:"status" validate:"omitempty,oneof=Draft UnderReview Approved"`
}

// UpdatePolicyRequest replaces the editable fields of a policy
type UpdatePolicyRequest struct {
	Title   string              `json:"title" validate:"required,max=200"`
	Content string              `json:"content"`
	Status  models.PolicyStatus `json:"status" validate:"omitempty,oneof=Draft UnderReview Approved"`
}

// CreateExportRequest requests an audit export
type CreateExportRequest struct {
	FrameworkID string            `json:"framework_id" validate:"required,uuid"`
	Type        models.ExportType `json:"type" validate:"required,oneof=Report Archive"`
}
