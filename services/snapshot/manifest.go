// Package snapshot assembles the point-in-time manifest an audit export is
// built from.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/upb/compliance-ledger/models"
)

// Manifest is the frozen compliance state of one organization and framework at
// a logical revision. It holds no references into live records.
type Manifest struct {
	Organization         OrganizationRef `json:"organization"`
	Framework            FrameworkRef    `json:"framework"`
	AsOf                 models.Revision `json:"as_of"`
	GeneratedAt          time.Time       `json:"generated_at"`
	CompletionPercentage float64         `json:"completion_percentage"`
	Controls             []ControlEntry  `json:"controls"`
	Policies             []PolicyEntry   `json:"policies"`
}

// OrganizationRef identifies the exported organization
type OrganizationRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// FrameworkRef identifies the exported framework
type FrameworkRef struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Version string    `json:"version"`
}

// ControlEntry is one control with the rollup computed at the manifest revision
type ControlEntry struct {
	Code          string                  `json:"code"`
	Title         string                  `json:"title"`
	Category      string                  `json:"category"`
	Severity      models.Severity         `json:"severity"`
	Status        models.CompletionStatus `json:"status"`
	Overridden    bool                    `json:"overridden"`
	EvidenceCount int                     `json:"evidence_count"`
	TaskCount     int                     `json:"task_count"`
	Evidence      []EvidenceEntry         `json:"evidence"`
	Tasks         []TaskEntry             `json:"tasks"`
}

// EvidenceEntry describes the current version of one slot
type EvidenceEntry struct {
	SlotKey      string              `json:"slot_key"`
	Version      int                 `json:"version"`
	Filename     string              `json:"filename"`
	Digest       string              `json:"digest"`
	SizeBytes    int64               `json:"size_bytes"`
	MimeType     string              `json:"mime_type"`
	ReviewStatus models.ReviewStatus `json:"review_status"`
	UploadedBy   uuid.UUID           `json:"uploaded_by"`
	UploadedAt   time.Time           `json:"uploaded_at"`
	ArchivePath  string              `json:"archive_path"`
}

// TaskEntry is the state of a task at the manifest revision
type TaskEntry struct {
	Title    string            `json:"title"`
	Status   models.TaskStatus `json:"status"`
	Priority models.Priority   `json:"priority"`
	DueDate  *time.Time        `json:"due_date,omitempty"`
}

// PolicyEntry is the revision of a policy in effect at the manifest revision
type PolicyEntry struct {
	Title       string              `json:"title"`
	Version     int                 `json:"version"`
	Status      models.PolicyStatus `json:"status"`
	Content     string              `json:"content"`
	ArchivePath string              `json:"archive_path"`
}

// Canonical returns the RFC 8785 canonical JSON encoding of the manifest.
// It is the exact content of manifest.json in archives.
func (m *Manifest) Canonical() ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize manifest: %w", err)
	}
	return canonical, nil
}

// Digest returns the sha256 digest of the canonical encoding
func (m *Manifest) Digest() (string, error) {
	canonical, err := m.Canonical()
	if err != nil {
		return "", err
	}
	return DigestOf(canonical), nil
}

// DigestOf formats the sha256 of data the way evidence digests are formatted
func DigestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Index maps every control code to the archive paths of its evidence, sorted
func (m *Manifest) Index() map[string][]string {
	index := make(map[string][]string, len(m.Controls))
	for _, c := range m.Controls {
		paths := make([]string, 0, len(c.Evidence))
		for _, e := range c.Evidence {
			paths = append(paths, e.ArchivePath)
		}
		sort.Strings(paths)
		index[c.Code] = paths
	}
	return index
}
