package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/services/graph"
)

func TestControlHandler_ListAndGet(t *testing.T) {
	f := newAPIFixture(t)
	h := f.router(f.actor(models.RoleAuditor))

	w := doJSON(t, h, http.MethodGet, "/frameworks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var frameworks []models.Framework
	decodeData(t, w, &frameworks)
	require.Len(t, frameworks, 1)
	assert.Equal(t, "SOC 2", frameworks[0].Name)

	w = doJSON(t, h, http.MethodGet, "/controls?framework_id="+f.framework.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var controls []graph.ControlView
	decodeData(t, w, &controls)
	require.Len(t, controls, 1)
	assert.Equal(t, "CC6.1", controls[0].Code)
	assert.Equal(t, models.CompletionNotStarted, controls[0].Rollup.CompletionStatus)

	w = doJSON(t, h, http.MethodGet, "/controls?framework_id=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodGet, "/controls/"+f.control.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/controls/00000000-0000-0000-0000-000000000001", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestControlHandler_Override(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.router(f.actor(models.RoleAdmin))
	contributor := f.router(f.actor(models.RoleContributor))
	path := "/controls/" + f.control.ID.String() + "/override"

	w := doJSON(t, contributor, http.MethodPut, path, OverrideRequest{Status: models.CompletionCompleted})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, admin, http.MethodPut, path, OverrideRequest{Status: "Done"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, admin, http.MethodPut, path, OverrideRequest{Status: models.CompletionCompleted})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view graph.ControlView
	decodeData(t, w, &view)
	assert.Equal(t, models.CompletionCompleted, view.Rollup.CompletionStatus)
	assert.True(t, view.Rollup.Overridden)

	w = doJSON(t, admin, http.MethodGet, "/controls/"+f.control.ID.String()+"/rollup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rollup models.ControlRollup
	decodeData(t, w, &rollup)
	assert.Equal(t, models.CompletionCompleted, rollup.CompletionStatus)

	w = doJSON(t, admin, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.OrganizationStats
	decodeData(t, w, &stats)
	assert.Equal(t, 1, stats.TotalControls)
	assert.Equal(t, 1, stats.ControlsCompleted)

	w = doJSON(t, admin, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cleared graph.ControlView
	decodeData(t, w, &cleared)
	assert.Equal(t, models.CompletionNotStarted, cleared.Rollup.CompletionStatus)
	assert.False(t, cleared.Rollup.Overridden)
}

func TestTaskHandler_Lifecycle(t *testing.T) {
	f := newAPIFixture(t)
	h := f.router(f.actor(models.RoleContributor))
	tasksPath := "/controls/" + f.control.ID.String() + "/tasks"

	w := doJSON(t, h, http.MethodPost, tasksPath, TaskRequest{Title: "Enable MFA", Priority: models.PriorityHigh})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var task models.Task
	decodeData(t, w, &task)
	assert.Equal(t, models.TaskPending, task.Status)
	assert.Equal(t, models.PriorityHigh, task.Priority)

	w = doJSON(t, h, http.MethodPost, tasksPath, TaskRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPut, "/tasks/"+task.ID.String(), TaskRequest{Title: "Enable MFA for admins", Notes: "start with owners"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decodeData(t, w, &task)
	assert.Equal(t, "Enable MFA for admins", task.Title)
	assert.Equal(t, models.PriorityHigh, task.Priority)

	w = doJSON(t, h, http.MethodPatch, "/tasks/"+task.ID.String()+"/status", TaskStatusRequest{Status: models.TaskCompleted})
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &task)
	assert.Equal(t, models.TaskCompleted, task.Status)

	w = doJSON(t, h, http.MethodGet, tasksPath, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tasks []models.Task
	decodeData(t, w, &tasks)
	assert.Len(t, tasks, 1)

	w = doJSON(t, h, http.MethodDelete, "/tasks/"+task.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, h, http.MethodDelete, "/tasks/"+task.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, h, http.MethodGet, tasksPath, nil)
	require.Equal(t, http.StatusOK, w.Code)
	tasks = nil
	decodeData(t, w, &tasks)
	assert.Empty(t, tasks)
}

func TestTaskHandler_AuditorCannotEdit(t *testing.T) {
	f := newAPIFixture(t)
	h := f.router(f.actor(models.RoleAuditor))

	w := doJSON(t, h, http.MethodPost, "/controls/"+f.control.ID.String()+"/tasks", TaskRequest{Title: "Rotate keys"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPolicyHandler_Lifecycle(t *testing.T) {
	f := newAPIFixture(t)
	contributor := f.router(f.actor(models.RoleContributor))
	founder := f.router(f.actor(models.RoleFounder))

	w := doJSON(t, contributor, http.MethodPost, "/policies", CreatePolicyRequest{
		FrameworkID: f.framework.ID.String(),
		Title:       "Access Control Policy",
		Content:     "# Access\n\nLeast privilege.",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var policy models.Policy
	decodeData(t, w, &policy)
	assert.Equal(t, models.PolicyDraft, policy.Status)
	assert.Equal(t, 1, policy.Version)

	w = doJSON(t, contributor, http.MethodPost, "/policies", CreatePolicyRequest{FrameworkID: "nope", Title: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, contributor, http.MethodPut, "/policies/"+policy.ID.String(), UpdatePolicyRequest{
		Title:  "Access Control Policy",
		Status: models.PolicyApproved,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, founder, http.MethodPut, "/policies/"+policy.ID.String(), UpdatePolicyRequest{
		Title:   "Access Control Policy",
		Content: "# Access\n\nLeast privilege, reviewed quarterly.",
		Status:  models.PolicyApproved,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decodeData(t, w, &policy)
	assert.Equal(t, models.PolicyApproved, policy.Status)
	assert.Equal(t, 2, policy.Version)

	w = doJSON(t, contributor, http.MethodGet, "/policies/"+policy.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, contributor, http.MethodGet, "/policies?framework_id="+f.framework.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var policies []models.Policy
	decodeData(t, w, &policies)
	require.Len(t, policies, 1)
	assert.Equal(t, 2, policies[0].Version)
}
