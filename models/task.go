package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the progress of a remediation task
type TaskStatus string

const (
	TaskPending    TaskStatus = "Pending"
	TaskInProgress TaskStatus = "InProgress"
	TaskBlocked    TaskStatus = "Blocked"
	TaskCompleted  TaskStatus = "Completed"
)

// IsValid reports whether s is a known task status
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskBlocked, TaskCompleted:
		return true
	}
	return false
}

// Priority of a task
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// IsValid reports whether p is a known priority
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task is a remediation item attached to one control. Each change is stored as a
// new revision row; Revision identifies the state this value reflects.
type Task struct {
	ID          uuid.UUID  `json:"id" db:"task_id"`
	OrgID       uuid.UUID  `json:"org_id" db:"org_id"`
	ControlID   uuid.UUID  `json:"control_id" db:"control_id"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description,omitempty" db:"description"`
	OwnerID     *uuid.UUID `json:"owner_id,omitempty" db:"owner_id"`
	DueDate     *time.Time `json:"due_date,omitempty" db:"due_date"`
	Priority    Priority   `json:"priority" db:"priority"`
	Status      TaskStatus `json:"status" db:"status"`
	Notes       string     `json:"notes,omitempty" db:"notes"`
	Deleted     bool       `json:"-" db:"deleted"`
	Revision    Revision   `json:"revision" db:"revision"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Task model
func (Task) TableName() string {
	return "task_revisions"
}

// NewTask creates a new Pending task
func NewTask(orgID, controlID uuid.UUID, title string, priority Priority) *Task {
	if priority == "" {
		priority = PriorityMedium
	}
	return &Task{
		ID:        uuid.New(),
		OrgID:     orgID,
		ControlID: controlID,
		Title:     title,
		Priority:  priority,
		Status:    TaskPending,
		UpdatedAt: time.Now().UTC(),
	}
}
