package graph

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/repositories"
	"github.com/upb/compliance-ledger/repositories/memory"
	"github.com/upb/compliance-ledger/services"
	"go.uber.org/zap"
)

type recordingAuditor struct {
	mu      sync.Mutex
	actions []models.AuditAction
}

func (a *recordingAuditor) record(action models.AuditAction) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

func (a *recordingAuditor) LogControlOverridden(context.Context, *models.Control, uuid.UUID) {
	a.record(models.AuditActionControlOverridden)
}

func (a *recordingAuditor) LogTaskChanged(_ context.Context, action models.AuditAction, _ *models.Task, _ uuid.UUID) {
	a.record(action)
}

func (a *recordingAuditor) LogPolicyChanged(_ context.Context, action models.AuditAction, _ *models.Policy, _ uuid.UUID) {
	a.record(action)
}

type fixture struct {
	svc       *Service
	repos     *repositories.Repositories
	audit     *recordingAuditor
	framework *models.Framework
	control   *models.Control
	owner     models.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	repos := memory.NewRepositories()
	fw := models.NewFramework("SOC 2", "2017", "Trust services criteria")
	require.NoError(t, repos.Frameworks.Upsert(ctx, fw))

	org := models.NewOrganization("Acme", "acme")
	require.NoError(t, repos.Organizations.Create(ctx, org))
	control := models.NewControl(org.ID, fw.ID, "AC-01", "Access control policy", models.SeverityHigh)
	require.NoError(t, repos.Controls.Create(ctx, control))

	auditor := &recordingAuditor{}
	return &fixture{
		svc:       NewService(repos, auditor, zap.NewNop()),
		repos:     repos,
		audit:     auditor,
		framework: fw,
		control:   control,
		owner:     models.Actor{OrgID: org.ID, UserID: uuid.New(), Role: models.RoleFounder},
	}
}

func (f *fixture) as(role models.UserRole) models.Actor {
	return models.Actor{OrgID: f.owner.OrgID, UserID: uuid.New(), Role: role}
}

// addEvidence appends a version to a fresh slot and moves it to status
func (f *fixture) addEvidence(t *testing.T, controlID uuid.UUID, key string, status models.ReviewStatus) *models.EvidenceVersion {
	t.Helper()
	ctx := context.Background()
	slot := models.NewEvidenceSlot(f.owner.OrgID, controlID, key, "")
	require.NoError(t, f.repos.Evidence.CreateSlot(ctx, slot))
	v := models.NewEvidenceVersion(slot, "sha256:"+key, 1, key+".txt", "text/plain", "", f.owner.UserID)
	require.NoError(t, f.repos.Evidence.AppendVersion(ctx, v))
	if status != models.ReviewPending {
		v, err := f.repos.Evidence.TransitionReview(ctx, &models.ReviewEvent{
			ID: uuid.New(), OrgID: f.owner.OrgID, VersionID: v.ID,
			FromStatus: models.ReviewPending, ToStatus: status, ReviewerID: f.owner.UserID,
		})
		require.NoError(t, err)
		return v
	}
	return v
}

func TestService_ListControls_DerivesRollups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	views, err := f.svc.ListControls(ctx, f.owner, nil)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, models.CompletionNotStarted, views[0].Rollup.CompletionStatus)

	task, err := f.svc.CreateTask(ctx, f.owner, f.control.ID, TaskInput{Title: "Write policy"})
	require.NoError(t, err)
	f.addEvidence(t, f.control.ID, "policy-doc", models.ReviewAccepted)

	view, err := f.svc.GetControl(ctx, f.owner, f.control.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompletionInProgress, view.Rollup.CompletionStatus)
	assert.Equal(t, 1, view.Rollup.TaskCount)
	assert.Equal(t, 1, view.Rollup.EvidenceCount)

	_, err = f.svc.SetTaskStatus(ctx, f.owner, task.ID, models.TaskCompleted)
	require.NoError(t, err)

	rollup, err := f.svc.ControlRollup(ctx, f.owner, f.control.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompletionCompleted, rollup.CompletionStatus)
}

func TestService_ListControls_FiltersByFramework(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := models.NewFramework("GDPR", "2016/679", "")
	require.NoError(t, f.repos.Frameworks.Upsert(ctx, other))
	require.NoError(t, f.repos.Controls.Create(ctx, models.NewControl(f.owner.OrgID, other.ID, "ART-32", "Security of processing", models.SeverityHigh)))

	all, err := f.svc.ListControls(ctx, f.owner, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	soc2, err := f.svc.ListControls(ctx, f.owner, &f.framework.ID)
	require.NoError(t, err)
	require.Len(t, soc2, 1)
	assert.Equal(t, "AC-01", soc2[0].Code)
}

func TestService_SetOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	completed := models.CompletionCompleted

	view, err := f.svc.SetOverride(ctx, f.owner, f.control.ID, &completed)
	require.NoError(t, err)
	assert.Equal(t, models.CompletionCompleted, view.Rollup.CompletionStatus)
	assert.True(t, view.Rollup.Overridden)

	view, err = f.svc.SetOverride(ctx, f.owner, f.control.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.CompletionNotStarted, view.Rollup.CompletionStatus)
	assert.False(t, view.Rollup.Overridden)

	_, err = f.svc.SetOverride(ctx, f.as(models.RoleContributor), f.control.ID, &completed)
	assert.True(t, services.IsForbiddenError(err))

	bogus := models.CompletionStatus("Done")
	_, err = f.svc.SetOverride(ctx, f.owner, f.control.ID, &bogus)
	assert.True(t, services.IsValidationError(err))

	assert.Equal(t, []models.AuditAction{models.AuditActionControlOverridden, models.AuditActionControlOverridden}, f.audit.actions)
}

func TestService_TaskLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contributor := f.as(models.RoleContributor)

	task, err := f.svc.CreateTask(ctx, contributor, f.control.ID, TaskInput{Title: "  Enable MFA ", Priority: models.PriorityHigh})
	require.NoError(t, err)
	assert.Equal(t, "Enable MFA", task.Title)
	assert.Equal(t, models.TaskPending, task.Status)

	updated, err := f.svc.UpdateTask(ctx, contributor, task.ID, TaskInput{Title: "Enable MFA everywhere", Notes: "IdP first"})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityHigh, updated.Priority)
	assert.Equal(t, models.TaskPending, updated.Status)
	assert.Greater(t, updated.Revision, task.Revision)

	tasks, err := f.svc.ListTasks(ctx, contributor, f.control.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Enable MFA everywhere", tasks[0].Title)

	require.NoError(t, f.svc.DeleteTask(ctx, contributor, task.ID))
	_, err = f.svc.GetTask(ctx, contributor, task.ID)
	assert.True(t, services.IsNotFoundError(err))

	// the deleted task is still part of earlier states
	state, err := ReadState(ctx, f.repos, f.owner.OrgID, nil, updated.Revision)
	require.NoError(t, err)
	assert.Len(t, state.Tasks[f.control.ID], 1)

	assert.Equal(t, []models.AuditAction{
		models.AuditActionTaskCreated,
		models.AuditActionTaskUpdated,
		models.AuditActionTaskDeleted,
	}, f.audit.actions)
}

func TestService_TaskValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		actor models.Actor
		input TaskInput
		check func(error) bool
	}{
		{"missing title", f.owner, TaskInput{Title: "  "}, services.IsValidationError},
		{"bad priority", f.owner, TaskInput{Title: "t", Priority: "Urgent"}, services.IsValidationError},
		{"bad status", f.owner, TaskInput{Title: "t", Status: "Done"}, services.IsValidationError},
		{"auditor cannot edit", f.as(models.RoleAuditor), TaskInput{Title: "t"}, services.IsForbiddenError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateTask(ctx, tt.actor, f.control.ID, tt.input)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error %v", err)
		})
	}

	_, err := f.svc.CreateTask(ctx, f.owner, uuid.New(), TaskInput{Title: "t"})
	assert.True(t, services.IsNotFoundError(err))
}

func TestService_PolicyLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contributor := f.as(models.RoleContributor)

	policy, err := f.svc.CreatePolicy(ctx, contributor, PolicyInput{
		FrameworkID: f.framework.ID,
		Title:       "Access Control Policy",
		Content:     "# Access\n\nAll access is reviewed quarterly.",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, policy.Version)
	assert.Equal(t, models.PolicyDraft, policy.Status)

	_, err = f.svc.UpdatePolicy(ctx, contributor, policy.ID, PolicyInput{Title: policy.Title, Status: models.PolicyApproved})
	assert.True(t, services.IsForbiddenError(err))

	approved, err := f.svc.UpdatePolicy(ctx, f.owner, policy.ID, PolicyInput{
		Title:   policy.Title,
		Content: policy.Content + "\n\nRevised.",
		Status:  models.PolicyApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, approved.Version)
	assert.Equal(t, f.owner.UserID, approved.UpdatedBy)

	got, err := f.svc.GetPolicy(ctx, contributor, policy.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PolicyApproved, got.Status)

	list, err := f.svc.ListPolicies(ctx, contributor, &f.framework.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.svc.CreatePolicy(ctx, contributor, PolicyInput{FrameworkID: uuid.New(), Title: "x"})
	assert.True(t, services.IsNotFoundError(err))
}

func TestService_OrganizationStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	second := models.NewControl(f.owner.OrgID, f.framework.ID, "AC-02", "Access reviews", models.SeverityMedium)
	require.NoError(t, f.repos.Controls.Create(ctx, second))
	third := models.NewControl(f.owner.OrgID, f.framework.ID, "AC-03", "Offboarding", models.SeverityLow)
	require.NoError(t, f.repos.Controls.Create(ctx, third))

	// AC-01 completed, AC-02 in progress, AC-03 untouched
	done, err := f.svc.CreateTask(ctx, f.owner, f.control.ID, TaskInput{Title: "done", Status: models.TaskCompleted})
	require.NoError(t, err)
	require.Equal(t, models.TaskCompleted, done.Status)
	f.addEvidence(t, f.control.ID, "a", models.ReviewAccepted)
	f.addEvidence(t, second.ID, "b", models.ReviewPending)
	_, err = f.svc.CreateTask(ctx, f.owner, second.ID, TaskInput{Title: "open"})
	require.NoError(t, err)
	_, err = f.svc.CreatePolicy(ctx, f.owner, PolicyInput{FrameworkID: f.framework.ID, Title: "P", Status: models.PolicyApproved})
	require.NoError(t, err)

	stats, err := f.svc.OrganizationStats(ctx, f.as(models.RoleAuditor), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalControls)
	assert.Equal(t, 1, stats.ControlsCompleted)
	assert.Equal(t, 1, stats.ControlsInProgress)
	assert.Equal(t, 1, stats.ControlsNotStarted)
	assert.Equal(t, 2, stats.TotalEvidence)
	assert.Equal(t, 1, stats.AcceptedEvidence)
	assert.Equal(t, 1, stats.PendingEvidence)
	assert.Equal(t, 2, stats.TotalTasks)
	assert.Equal(t, 1, stats.PendingTasks)
	assert.Equal(t, 1, stats.CompletedTasks)
	assert.Equal(t, 1, stats.TotalPolicies)
	assert.Equal(t, 1, stats.ApprovedPolicies)
	assert.Equal(t, 33.3, stats.CompletionPercentage)
	assert.Equal(t, 50.0, stats.TaskCompletionPercentage)

	other := models.NewFramework("ISO 27001", "2022", "")
	require.NoError(t, f.repos.Frameworks.Upsert(ctx, other))
	empty, err := f.svc.OrganizationStats(ctx, f.owner, &other.ID)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalControls)
	assert.Zero(t, empty.TotalEvidence)
	assert.Zero(t, empty.CompletionPercentage)
}

func TestService_TenantIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.svc.CreateTask(ctx, f.owner, f.control.ID, TaskInput{Title: "secret"})
	require.NoError(t, err)
	f.addEvidence(t, f.control.ID, "secret", models.ReviewAccepted)

	otherOrg := models.NewOrganization("Globex", "globex")
	require.NoError(t, f.repos.Organizations.Create(ctx, otherOrg))
	outsider := models.Actor{OrgID: otherOrg.ID, UserID: uuid.New(), Role: models.RoleFounder}

	_, err = f.svc.GetControl(ctx, outsider, f.control.ID)
	assert.True(t, services.IsNotFoundError(err))
	_, err = f.svc.GetTask(ctx, outsider, task.ID)
	assert.True(t, services.IsNotFoundError(err))
	_, err = f.svc.SetTaskStatus(ctx, outsider, task.ID, models.TaskCompleted)
	assert.True(t, services.IsNotFoundError(err))
	assert.True(t, services.IsNotFoundError(f.svc.DeleteTask(ctx, outsider, task.ID)))

	views, err := f.svc.ListControls(ctx, outsider, nil)
	require.NoError(t, err)
	assert.Empty(t, views)

	stats, err := f.svc.OrganizationStats(ctx, outsider, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalEvidence)
	assert.Zero(t, stats.TotalTasks)
}

func TestService_RequiresActor(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListControls(context.Background(), models.Actor{}, nil)
	assert.True(t, services.IsUnauthorizedError(err))
}
