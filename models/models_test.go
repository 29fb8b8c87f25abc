package models

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrganization(t *testing.T) {
	org := NewOrganization("Acme Inc", "acme")

	assert.NotEqual(t, uuid.Nil, org.ID)
	assert.Equal(t, "Acme Inc", org.Name)
	assert.Equal(t, "acme", org.Slug)
	assert.False(t, org.CreatedAt.IsZero())
	assert.Equal(t, org.CreatedAt, org.UpdatedAt)
	assert.Equal(t, "organizations", org.TableName())
}

func TestFrameworkID_IsStable(t *testing.T) {
	assert.Equal(t, FrameworkID("SOC 2"), FrameworkID("SOC 2"))
	assert.NotEqual(t, FrameworkID("SOC 2"), FrameworkID("GDPR"))
	assert.Equal(t, FrameworkID("GDPR"), NewFramework("GDPR", "2018", "").ID)
}

func TestReviewStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from ReviewStatus
		to   ReviewStatus
		want bool
	}{
		{ReviewPending, ReviewAccepted, true},
		{ReviewPending, ReviewRejected, true},
		{ReviewRejected, ReviewPending, false},
		{ReviewPending, ReviewPending, false},
		{ReviewAccepted, ReviewPending, false},
		{ReviewAccepted, ReviewRejected, false},
		{ReviewAccepted, ReviewAccepted, false},
		{ReviewRejected, ReviewAccepted, false},
		{ReviewRejected, ReviewRejected, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestExportStatus_Transitions(t *testing.T) {
	assert.True(t, ExportQueued.CanTransitionTo(ExportProcessing))
	assert.False(t, ExportQueued.CanTransitionTo(ExportReady))
	assert.True(t, ExportProcessing.CanTransitionTo(ExportReady))
	assert.True(t, ExportProcessing.CanTransitionTo(ExportFailed))
	assert.False(t, ExportReady.CanTransitionTo(ExportFailed))
	assert.False(t, ExportFailed.CanTransitionTo(ExportProcessing))

	assert.True(t, ExportReady.IsTerminal())
	assert.True(t, ExportFailed.IsTerminal())
	assert.False(t, ExportProcessing.IsTerminal())
}

func TestEvidenceSlot_ActiveAt(t *testing.T) {
	slot := NewEvidenceSlot(uuid.New(), uuid.New(), "access-review", "Access review")
	slot.CreatedRev = 5

	assert.False(t, slot.ActiveAt(4))
	assert.True(t, slot.ActiveAt(5))
	assert.True(t, slot.ActiveAt(RevisionLatest))

	slot.DeactivatedRev = 9
	assert.True(t, slot.ActiveAt(8))
	assert.False(t, slot.ActiveAt(9))
}

func TestNewEvidenceVersion(t *testing.T) {
	slot := NewEvidenceSlot(uuid.New(), uuid.New(), "access-review", "")
	uploader := uuid.New()

	v := NewEvidenceVersion(slot, "sha256:abc", 500, "policy.pdf", "application/pdf", "", uploader)

	assert.Equal(t, slot.OrgID, v.OrgID)
	assert.Equal(t, slot.ControlID, v.ControlID)
	assert.Equal(t, ReviewPending, v.ReviewStatus)
	assert.Zero(t, v.Version)
	assert.Equal(t, uploader, v.UploadedBy)
}

func TestUserRole_Permissions(t *testing.T) {
	assert.True(t, RoleAuditor.CanReviewEvidence())
	assert.False(t, RoleContributor.CanReviewEvidence())
	assert.True(t, RoleFounder.CanExport())
	assert.False(t, RoleAuditor.CanExport())
	assert.True(t, RoleAdmin.CanManageEvidence())
	assert.False(t, UserRole("Owner").IsValid())
}

func TestNewTask_DefaultsPriority(t *testing.T) {
	task := NewTask(uuid.New(), uuid.New(), "Rotate keys", "")

	assert.Equal(t, PriorityMedium, task.Priority)
	assert.Equal(t, TaskPending, task.Status)
}

func TestAuditExport_Filename(t *testing.T) {
	e := NewAuditExport(uuid.New(), uuid.New(), ExportTypeArchive, 42, uuid.New())

	assert.Equal(t, ExportQueued, e.Status)
	assert.Equal(t, Revision(42), e.AsOf)
	assert.Equal(t, "audit-export-"+e.ID.String()+".zip", e.Filename())
	assert.Equal(t, "application/zip", e.ExportType.ContentType())
}

func TestAuditLog_Builders(t *testing.T) {
	userID := uuid.New()
	resourceID := uuid.New()

	log := NewAuditLog(uuid.New(), AuditActionEvidenceUploaded, "evidence_version").
		WithUser(userID).
		WithResource(resourceID).
		WithDetails(map[string]interface{}{"version": 2}).
		WithRequest("req-1")

	require.NotNil(t, log.UserID)
	assert.Equal(t, userID, *log.UserID)
	assert.Equal(t, resourceID, *log.ResourceID)
	assert.Equal(t, "req-1", log.RequestID)

	var details map[string]interface{}
	require.NoError(t, json.Unmarshal(log.Details, &details))
	assert.Equal(t, float64(2), details["version"])
}
