package models

import (
	"time"

	"github.com/google/uuid"
)

// ReviewStatus is the review state of one evidence version
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "Pending"
	ReviewAccepted ReviewStatus = "Accepted"
	ReviewRejected ReviewStatus = "Rejected"
)

// IsValid reports whether s is a known review status
func (s ReviewStatus) IsValid() bool {
	switch s {
	case ReviewPending, ReviewAccepted, ReviewRejected:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is legal.
// Only Pending moves; Accepted and Rejected are final and a resubmission is a
// new version.
func (s ReviewStatus) CanTransitionTo(next ReviewStatus) bool {
	return s == ReviewPending && (next == ReviewAccepted || next == ReviewRejected)
}

// EvidenceSlot is a named evidence requirement within a control
type EvidenceSlot struct {
	ID           uuid.UUID `json:"id" db:"id"`
	OrgID        uuid.UUID `json:"org_id" db:"org_id"`
	ControlID    uuid.UUID `json:"control_id" db:"control_id"`
	SlotKey      string    `json:"slot_key" db:"slot_key"`
	Title        string    `json:"title" db:"title"`
	Active       bool      `json:"active" db:"active"`
	VersionCount int       `json:"version_count" db:"version_count"`
	CreatedRev   Revision  `json:"-" db:"created_revision"`
	// DeactivatedRev is zero while the slot is active.
	DeactivatedRev Revision  `json:"-" db:"deactivated_revision"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the EvidenceSlot model
func (EvidenceSlot) TableName() string {
	return "evidence_slots"
}

// NewEvidenceSlot creates a new active EvidenceSlot
func NewEvidenceSlot(orgID, controlID uuid.UUID, slotKey, title string) *EvidenceSlot {
	return &EvidenceSlot{
		ID:        uuid.New(),
		OrgID:     orgID,
		ControlID: controlID,
		SlotKey:   slotKey,
		Title:     title,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
}

// ActiveAt reports whether the slot existed and was active at rev
func (s *EvidenceSlot) ActiveAt(rev Revision) bool {
	if s.CreatedRev > rev {
		return false
	}
	return s.DeactivatedRev == 0 || s.DeactivatedRev > rev
}

// EvidenceVersion is one immutable upload into a slot. Only the review fields change.
type EvidenceVersion struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	OrgID        uuid.UUID    `json:"org_id" db:"org_id"`
	SlotID       uuid.UUID    `json:"slot_id" db:"slot_id"`
	ControlID    uuid.UUID    `json:"control_id" db:"control_id"`
	Version      int          `json:"version" db:"version"`
	Digest       string       `json:"digest" db:"digest"`
	SizeBytes    int64        `json:"size_bytes" db:"size_bytes"`
	Filename     string       `json:"filename" db:"filename"`
	MimeType     string       `json:"mime_type" db:"mime_type"`
	Description  string       `json:"description,omitempty" db:"description"`
	UploadedBy   uuid.UUID    `json:"uploaded_by" db:"uploaded_by"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	CreatedRev   Revision     `json:"revision" db:"created_revision"`
	ReviewStatus ReviewStatus `json:"review_status" db:"review_status"`
	ReviewedBy   *uuid.UUID   `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt   *time.Time   `json:"reviewed_at,omitempty" db:"reviewed_at"`
	ReviewNote   string       `json:"review_note,omitempty" db:"review_note"`
	ReviewRev    Revision     `json:"-" db:"review_revision"`
}

// TableName returns the table name for the EvidenceVersion model
func (EvidenceVersion) TableName() string {
	return "evidence_versions"
}

// NewEvidenceVersion creates a Pending version. The version number is assigned by
// the repository when the row is appended.
func NewEvidenceVersion(slot *EvidenceSlot, digest string, size int64, filename, mimeType, description string, uploader uuid.UUID) *EvidenceVersion {
	return &EvidenceVersion{
		ID:           uuid.New(),
		OrgID:        slot.OrgID,
		SlotID:       slot.ID,
		ControlID:    slot.ControlID,
		Digest:       digest,
		SizeBytes:    size,
		Filename:     filename,
		MimeType:     mimeType,
		Description:  description,
		UploadedBy:   uploader,
		CreatedAt:    time.Now().UTC(),
		ReviewStatus: ReviewPending,
	}
}

// ReviewEvent records one review transition of a version
type ReviewEvent struct {
	ID         uuid.UUID    `json:"id" db:"id"`
	OrgID      uuid.UUID    `json:"org_id" db:"org_id"`
	VersionID  uuid.UUID    `json:"version_id" db:"version_id"`
	FromStatus ReviewStatus `json:"from_status" db:"from_status"`
	ToStatus   ReviewStatus `json:"to_status" db:"to_status"`
	ReviewerID uuid.UUID    `json:"reviewer_id" db:"reviewer_id"`
	Note       string       `json:"note,omitempty" db:"note"`
	Revision   Revision     `json:"revision" db:"revision"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the ReviewEvent model
func (ReviewEvent) TableName() string {
	return "evidence_review_events"
}

// EvidenceAsOf is the current version of a slot at a given revision, with the
// review status it had at that revision.
type EvidenceAsOf struct {
	Slot    EvidenceSlot
	Current *EvidenceVersion
}
