package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/models"
)

// Sentinel errors returned by every repository implementation. Callers match them
// with errors.Is; rows of another organization are reported as ErrNotFound.
var (
	ErrNotFound   = errors.New("record not found")
	ErrDuplicate  = errors.New("record already exists")
	ErrStaleState = errors.New("record state changed concurrently")
	ErrInactive   = errors.New("record is inactive")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns a context carrying the transaction. Repositories called with
	// it run their statements inside the transaction.
	Context() context.Context
}

// Clock is the logical clock stamping every mutation.
type Clock interface {
	// Tick allocates the next revision
	Tick(ctx context.Context) (models.Revision, error)

	// Current returns the highest revision allocated so far
	Current(ctx context.Context) (models.Revision, error)
}

// OrganizationRepository handles organization data operations
type OrganizationRepository interface {
	Create(ctx context.Context, org *models.Organization) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	GetBySlug(ctx context.Context, slug string) (*models.Organization, error)
	List(ctx context.Context) ([]*models.Organization, error)
}

// FrameworkRepository handles the global framework catalog
type FrameworkRepository interface {
	// Upsert inserts the framework or refreshes its version and description
	Upsert(ctx context.Context, fw *models.Framework) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Framework, error)
	List(ctx context.Context) ([]*models.Framework, error)
}

// ControlRepository handles per-organization controls
type ControlRepository interface {
	// Create inserts a control and stamps its creation revision.
	// Returns ErrDuplicate when the code already exists for the framework.
	Create(ctx context.Context, control *models.Control) error

	// GetByID returns the live control
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*models.Control, error)

	// GetByCode returns the live control with the given code
	GetByCode(ctx context.Context, orgID, frameworkID uuid.UUID, code string) (*models.Control, error)

	// ListByOrg returns controls created at or before asOf, ordered by code, with
	// the manual override that was in effect at asOf. frameworkID may be nil.
	ListByOrg(ctx context.Context, orgID uuid.UUID, frameworkID *uuid.UUID, asOf models.Revision) ([]*models.Control, error)

	// SetOverride records a manual status override; nil clears it
	SetOverride(ctx context.Context, orgID, id uuid.UUID, status *models.CompletionStatus) (*models.Control, error)
}

// EvidenceRepository handles evidence slots, versions and review history
type EvidenceRepository interface {
	// CreateSlot inserts an active slot. Returns ErrDuplicate when the slot key is taken.
	CreateSlot(ctx context.Context, slot *models.EvidenceSlot) error

	GetSlot(ctx context.Context, orgID, slotID uuid.UUID) (*models.EvidenceSlot, error)
	GetSlotByKey(ctx context.Context, orgID, controlID uuid.UUID, slotKey string) (*models.EvidenceSlot, error)

	// ListSlots returns every slot of the control, active or not, ordered by key
	ListSlots(ctx context.Context, orgID, controlID uuid.UUID) ([]*models.EvidenceSlot, error)

	// DeactivateSlot marks the slot inactive. Versions are kept.
	DeactivateSlot(ctx context.Context, orgID, slotID uuid.UUID) (*models.EvidenceSlot, error)

	// AppendVersion assigns the next version number of the slot and a fresh
	// revision, then inserts the row. Allocation is serialized per slot.
	// Returns ErrInactive when the slot has been deactivated.
	AppendVersion(ctx context.Context, version *models.EvidenceVersion) error

	GetVersion(ctx context.Context, orgID, versionID uuid.UUID) (*models.EvidenceVersion, error)

	// ListVersions returns the versions of a slot, oldest first
	ListVersions(ctx context.Context, orgID, slotID uuid.UUID) ([]*models.EvidenceVersion, error)

	// CurrentVersion returns the highest version of the slot or ErrNotFound
	CurrentVersion(ctx context.Context, orgID, slotID uuid.UUID) (*models.EvidenceVersion, error)

	// TransitionReview moves a version from one review status to another and
	// appends a review event. Returns ErrStaleState when the stored status is not from.
	TransitionReview(ctx context.Context, event *models.ReviewEvent) (*models.EvidenceVersion, error)

	ListReviewEvents(ctx context.Context, orgID, versionID uuid.UUID) ([]*models.ReviewEvent, error)

	// CurrentEvidence returns, for every slot active at asOf, the highest version
	// created at or before asOf with the review status it had at asOf.
	// controlID may be nil to cover the whole organization.
	CurrentEvidence(ctx context.Context, orgID uuid.UUID, controlID *uuid.UUID, asOf models.Revision) ([]*models.EvidenceAsOf, error)
}

// TaskRepository handles revisioned remediation tasks
type TaskRepository interface {
	// Create stores the first revision of a task
	Create(ctx context.Context, task *models.Task) error

	// Update stores a new revision. Returns ErrNotFound if the task is missing or deleted.
	Update(ctx context.Context, task *models.Task) error

	// Delete writes a tombstone revision
	Delete(ctx context.Context, orgID, taskID uuid.UUID) error

	// GetByID returns the live task
	GetByID(ctx context.Context, orgID, taskID uuid.UUID) (*models.Task, error)

	// ListByOrg returns the state of every task at asOf, excluding deleted ones.
	// controlID may be nil.
	ListByOrg(ctx context.Context, orgID uuid.UUID, controlID *uuid.UUID, asOf models.Revision) ([]*models.Task, error)
}

// PolicyRepository handles revisioned policy documents
type PolicyRepository interface {
	Create(ctx context.Context, policy *models.Policy) error

	// Update stores a new revision and bumps the document version
	Update(ctx context.Context, policy *models.Policy) error

	GetByID(ctx context.Context, orgID, policyID uuid.UUID) (*models.Policy, error)

	// ListByOrg returns every policy as of asOf ordered by title. frameworkID may be nil.
	ListByOrg(ctx context.Context, orgID uuid.UUID, frameworkID *uuid.UUID, asOf models.Revision) ([]*models.Policy, error)
}

// ExportRepository handles audit export jobs
type ExportRepository interface {
	Create(ctx context.Context, export *models.AuditExport) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*models.AuditExport, error)
	ListByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.AuditExport, error)

	// ListByStatus returns exports of every organization in the given status,
	// oldest first. Used by the export workers on startup.
	ListByStatus(ctx context.Context, status models.ExportStatus) ([]*models.AuditExport, error)

	// Transition moves an export from one status to another, recording the
	// completion fields on terminal transitions. Returns ErrStaleState when the
	// stored status is not from.
	Transition(ctx context.Context, orgID, id uuid.UUID, from, to models.ExportStatus, completion *models.ExportCompletion) (*models.AuditExport, error)
}

// AuditRepository handles activity log entries
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetByOrgID retrieves audit logs for an organization with pagination, newest first
	GetByOrgID(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.AuditLog, error)

	// GetByResource retrieves the trail of one resource, oldest first
	GetByResource(ctx context.Context, orgID, resourceID uuid.UUID) ([]*models.AuditLog, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Clock         Clock
	Organizations OrganizationRepository
	Frameworks    FrameworkRepository
	Controls      ControlRepository
	Evidence      EvidenceRepository
	Tasks         TaskRepository
	Policies      PolicyRepository
	Exports       ExportRepository
	AuditLogs     AuditRepository
}
