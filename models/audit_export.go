package models

import (
	"time"

	"github.com/google/uuid"
)

// ExportType selects the delivery format of an audit export
type ExportType string

const (
	ExportTypeReport  ExportType = "Report"
	ExportTypeArchive ExportType = "Archive"
)

// IsValid reports whether t is a known export type
func (t ExportType) IsValid() bool {
	return t == ExportTypeReport || t == ExportTypeArchive
}

// ContentType is the media type of the packaged artifact
func (t ExportType) ContentType() string {
	if t == ExportTypeArchive {
		return "application/zip"
	}
	return "text/html; charset=utf-8"
}

// Extension is the artifact file extension
func (t ExportType) Extension() string {
	if t == ExportTypeArchive {
		return ".zip"
	}
	return ".html"
}

// ExportStatus is the lifecycle state of an audit export
type ExportStatus string

const (
	ExportQueued     ExportStatus = "Queued"
	ExportProcessing ExportStatus = "Processing"
	ExportReady      ExportStatus = "Ready"
	ExportFailed     ExportStatus = "Failed"
)

// IsTerminal reports whether the export can no longer change
func (s ExportStatus) IsTerminal() bool {
	return s == ExportReady || s == ExportFailed
}

// CanTransitionTo reports whether moving from s to next is legal
func (s ExportStatus) CanTransitionTo(next ExportStatus) bool {
	switch s {
	case ExportQueued:
		return next == ExportProcessing
	case ExportProcessing:
		return next == ExportReady || next == ExportFailed
	}
	return false
}

// AuditExport is one export request. Once Ready, the artifact and the manifest
// it was built from are frozen.
type AuditExport struct {
	ID             uuid.UUID    `json:"id" db:"id"`
	OrgID          uuid.UUID    `json:"org_id" db:"org_id"`
	FrameworkID    uuid.UUID    `json:"framework_id" db:"framework_id"`
	ExportType     ExportType   `json:"export_type" db:"export_type"`
	Status         ExportStatus `json:"status" db:"status"`
	AsOf           Revision     `json:"as_of" db:"as_of_revision"`
	RequestedBy    uuid.UUID    `json:"requested_by" db:"requested_by"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	StartedAt      *time.Time   `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
	ErrorReason    string       `json:"error_reason,omitempty" db:"error_reason"`
	ArtifactKey    string       `json:"-" db:"artifact_key"`
	ArtifactDigest string       `json:"artifact_digest,omitempty" db:"artifact_digest"`
	ArtifactSize   int64        `json:"artifact_size,omitempty" db:"artifact_size"`
	ManifestDigest string       `json:"manifest_digest,omitempty" db:"manifest_digest"`
}

// TableName returns the table name for the AuditExport model
func (AuditExport) TableName() string {
	return "audit_exports"
}

// NewAuditExport creates a Queued export pinned to the logical time asOf
func NewAuditExport(orgID, frameworkID uuid.UUID, exportType ExportType, asOf Revision, requestedBy uuid.UUID) *AuditExport {
	return &AuditExport{
		ID:          uuid.New(),
		OrgID:       orgID,
		FrameworkID: frameworkID,
		ExportType:  exportType,
		Status:      ExportQueued,
		AsOf:        asOf,
		RequestedBy: requestedBy,
		CreatedAt:   time.Now().UTC(),
	}
}

// Filename is the download name of the artifact
func (e *AuditExport) Filename() string {
	return "audit-export-" + e.ID.String() + e.ExportType.Extension()
}

// ExportCompletion carries the outcome recorded on a terminal transition
type ExportCompletion struct {
	ArtifactKey    string
	ArtifactDigest string
	ArtifactSize   int64
	ManifestDigest string
	ErrorReason    string
	At             time.Time
}
