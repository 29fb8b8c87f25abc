package graph

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/repositories"
	"github.com/upb/compliance-ledger/services"
	"go.uber.org/zap"
)

// Auditor records graph mutations in the organization trail
type Auditor interface {
	LogControlOverridden(ctx context.Context, control *models.Control, userID uuid.UUID)
	LogTaskChanged(ctx context.Context, action models.AuditAction, task *models.Task, userID uuid.UUID)
	LogPolicyChanged(ctx context.Context, action models.AuditAction, policy *models.Policy, userID uuid.UUID)
}

// ControlView is a control with its derived readiness
type ControlView struct {
	*models.Control
	Rollup models.ControlRollup `json:"rollup"`
}

// TaskInput holds the editable fields of a task
type TaskInput struct {
	Title       string
	Description string
	OwnerID     *uuid.UUID
	DueDate     *time.Time
	Priority    models.Priority
	Status      models.TaskStatus
	Notes       string
}

// PolicyInput holds the editable fields of a policy
type PolicyInput struct {
	FrameworkID uuid.UUID // ignored on update
	Title       string
	Content     string
	Status      models.PolicyStatus
}

// Service handles controls, tasks and policies and derives their rollups
type Service struct {
	repos  *repositories.Repositories
	audit  Auditor
	logger *zap.Logger
}

// NewService creates a new graph Service
func NewService(repos *repositories.Repositories, audit Auditor, logger *zap.Logger) *Service {
	return &Service{repos: repos, audit: audit, logger: logger}
}

// readPoint pins live reads to the current clock value so that every query of
// one request sees the same state
func (s *Service) readPoint(ctx context.Context) (models.Revision, error) {
	rev, err := s.repos.Clock.Current(ctx)
	if err != nil {
		return 0, services.WrapStorage("failed to read logical clock", err)
	}
	return rev, nil
}

// ListFrameworks returns the framework catalog
func (s *Service) ListFrameworks(ctx context.Context, actor models.Actor) ([]*models.Framework, error) {
	if err := services.ValidateActor(actor); err != nil {
		return nil, err
	}
	frameworks, err := s.repos.Frameworks.List(ctx)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrFrameworkNotFound)
	}
	return frameworks, nil
}

// ListControls returns the controls of the organization with their rollups.
// frameworkID may be nil.
func (s *Service) ListControls(ctx context.Context, actor models.Actor, frameworkID *uuid.UUID) ([]*ControlView, error) {
	if err := services.ValidateActor(actor); err != nil {
		return nil, err
	}
	asOf, err := s.readPoint(ctx)
	if err != nil {
		return nil, err
	}
	state, err := ReadState(ctx, s.repos, actor.OrgID, frameworkID, asOf)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrControlNotFound)
	}

	views := make([]*ControlView, 0, len(state.Controls))
	for _, c := range state.Controls {
		views = append(views, &ControlView{Control: c, Rollup: state.Rollup(c)})
	}
	return views, nil
}

// GetControl returns one control with its rollup
func (s *Service) GetControl(ctx context.Context, actor models.Actor, controlID uuid.UUID) (*ControlView, error) {
	if err := services.ValidateActor(actor); err != nil {
		return nil, err
	}
	control, err := s.repos.Controls.GetByID(ctx, actor.OrgID, controlID)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrControlNotFound)
	}
	rollup, err := s.rollup(ctx, control)
	if err != nil {
		return nil, err
	}
	return &ControlView{Control: control, Rollup: rollup}, nil
}

// ControlRollup derives the live readiness of one control
func (s *Service) ControlRollup(ctx context.Context, actor models.Actor, controlID uuid.UUID) (*models.ControlRollup, error) {
	view, err := s.GetControl(ctx, actor, controlID)
	if err != nil {
		return nil, err
	}
	return &view.Rollup, nil
}

func (s *Service) rollup(ctx context.Context, control *models.Control) (models.ControlRollup, error) {
	asOf, err := s.readPoint(ctx)
	if err != nil {
		return models.ControlRollup{}, err
	}
	tasks, err := s.repos.Tasks.ListByOrg(ctx, control.OrgID, &control.ID, asOf)
	if err != nil {
		return models.ControlRollup{}, services.FromRepository(err, services.ErrTaskNotFound)
	}
	evidence, err := s.repos.Evidence.CurrentEvidence(ctx, control.OrgID, &control.ID, asOf)
	if err != nil {
		return models.ControlRollup{}, services.FromRepository(err, services.ErrSlotNotFound)
	}
	return Rollup(control, tasks, evidence), nil
}

// OrganizationStats aggregates rollups and record counts. frameworkID may be nil.
func (s *Service) OrganizationStats(ctx context.Context, actor models.Actor, frameworkID *uuid.UUID) (*models.OrganizationStats, error) {
	if err := services.ValidateActor(actor); err != nil {
		return nil, err
	}
	asOf, err := s.readPoint(ctx)
	if err != nil {
		return nil, err
	}
	state, err := ReadState(ctx, s.repos, actor.OrgID, frameworkID, asOf)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrOrganizationNotFound)
	}
	return state.Stats(), nil
}

// SetOverride pins the completion status of a control. A nil status clears
// the override and restores the derived status.
func (s *Service) SetOverride(ctx context.Context, actor models.Actor, controlID uuid.UUID, status *models.CompletionStatus) (*ControlView, error) {
	if err := services.RequirePermission(actor, actor.Role.CanManageEvidence(), "override_control"); err != nil {
		return nil, err
	}
	if status != nil && !status.IsValid() {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "invalid completion status", nil).
			WithDetail("status", *status)
	}

	control, err := s.repos.Controls.SetOverride(ctx, actor.OrgID, controlID, status)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrControlNotFound)
	}

	s.logger.Info("control override changed",
		zap.String("org_id", actor.OrgID.String()),
		zap.String("control_id", controlID.String()),
		zap.Bool("cleared", status == nil))
	s.audit.LogControlOverridden(ctx, control, actor.UserID)

	rollup, err := s.rollup(ctx, control)
	if err != nil {
		return nil, err
	}
	return &ControlView{Control: control, Rollup: rollup}, nil
}

// ListTasks returns the live tasks of a control ordered by title
func (s *Service) ListTasks(ctx context.Context, actor models.Actor, controlID uuid.UUID) ([]*models.Task, error) {
	if err := services.ValidateActor(actor); err != nil {
		return nil, err
	}
	if _, err := s.repos.Controls.GetByID(ctx, actor.OrgID, controlID); err != nil {
		return nil, services.FromRepository(err, services.ErrControlNotFound)
	}
	tasks, err := s.repos.Tasks.ListByOrg(ctx, actor.OrgID, &controlID, models.RevisionLatest)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrTaskNotFound)
	}
	return tasks, nil
}

// GetTask returns a live task
func (s *Service) GetTask(ctx context.Context, actor models.Actor, taskID uuid.UUID) (*models.Task, error) {
	if err := services.ValidateActor(actor); err != nil {
		return nil, err
	}
	task, err := s.repos.Tasks.GetByID(ctx, actor.OrgID, taskID)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrTaskNotFound)
	}
	return task, nil
}

// CreateTask attaches a remediation task to a control
func (s *Service) CreateTask(ctx context.Context, actor models.Actor, controlID uuid.UUID, input TaskInput) (*models.Task, error) {
	if err := services.RequirePermission(actor, actor.Role.CanEditRecords(), "create_task"); err != nil {
		return nil, err
	}
	if input.Status == "" {
		input.Status = models.TaskPending
	}
	if err := validateTask(&input); err != nil {
		return nil, err
	}
	if _, err := s.repos.Controls.GetByID(ctx, actor.OrgID, controlID); err != nil {
		return nil, services.FromRepository(err, services.ErrControlNotFound)
	}

	task := models.NewTask(actor.OrgID, controlID, input.Title, input.Priority)
	applyTaskInput(task, input)
	if err := s.repos.Tasks.Create(ctx, task); err != nil {
		return nil, services.FromRepository(err, services.ErrTaskNotFound)
	}

	s.logger.Info("task created",
		zap.String("org_id", actor.OrgID.String()),
		zap.String("task_id", task.ID.String()),
		zap.Int64("revision", int64(task.Revision)))
	s.audit.LogTaskChanged(ctx, models.AuditActionTaskCreated, task, actor.UserID)
	return task, nil
}

// UpdateTask replaces the editable fields of a task, writing a new revision
func (s *Service) UpdateTask(ctx context.Context, actor models.Actor, taskID uuid.UUID, input TaskInput) (*models.Task, error) {
	if err := services.RequirePermission(actor, actor.Role.CanEditRecords(), "update_task"); err != nil {
		return nil, err
	}
	current, err := s.repos.Tasks.GetByID(ctx, actor.OrgID, taskID)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrTaskNotFound)
	}
	if input.Status == "" {
		input.Status = current.Status
	}
	if input.Priority == "" {
		input.Priority = current.Priority
	}
	if err := validateTask(&input); err != nil {
		return nil, err
	}

	next := *current
	applyTaskInput(&next, input)
	return s.saveTask(ctx, actor, &next)
}

// SetTaskStatus changes only the status of a task
func (s *Service) SetTaskStatus(ctx context.Context, actor models.Actor, taskID uuid.UUID, status models.TaskStatus) (*models.Task, error) {
	if err := services.RequirePermission(actor, actor.Role.CanEditRecords(), "update_task"); err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "invalid task status", nil).
			WithDetail("status", status)
	}
	current, err := s.repos.Tasks.GetByID(ctx, actor.OrgID, taskID)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrTaskNotFound)
	}

	next := *current
	next.Status = status
	return s.saveTask(ctx, actor, &next)
}

func (s *Service) saveTask(ctx context.Context, actor models.Actor, task *models.Task) (*models.Task, error) {
	if err := s.repos.Tasks.Update(ctx, task); err != nil {
		return nil, services.FromRepository(err, services.ErrTaskNotFound)
	}
	s.logger.Info("task updated",
		zap.String("org_id", actor.OrgID.String()),
		zap.String("task_id", task.ID.String()),
		zap.String("status", string(task.Status)),
		zap.Int64("revision", int64(task.Revision)))
	s.audit.LogTaskChanged(ctx, models.AuditActionTaskUpdated, task, actor.UserID)
	return task, nil
}

// DeleteTask removes a task from the live graph. Earlier revisions remain
// visible to snapshots taken before the deletion.
func (s *Service) DeleteTask(ctx context.Context, actor models.Actor, taskID uuid.UUID) error {
	if err := services.RequirePermission(actor, actor.Role.CanEditRecords(), "delete_task"); err != nil {
		return err
	}
	task, err := s.repos.Tasks.GetByID(ctx, actor.OrgID, taskID)
	if err != nil {
		return services.FromRepository(err, services.ErrTaskNotFound)
	}
	if err := s.repos.Tasks.Delete(ctx, actor.OrgID, taskID); err != nil {
		return services.FromRepository(err, services.ErrTaskNotFound)
	}

	s.logger.Info("task deleted",
		zap.String("org_id", actor.OrgID.String()),
		zap.String("task_id", taskID.String()))
	s.audit.LogTaskChanged(ctx, models.AuditActionTaskDeleted, task, actor.UserID)
	return nil
}

// ListPolicies returns the live policies ordered by title. frameworkID may be nil.
func (s *Service) ListPolicies(ctx context.Context, actor models.Actor, frameworkID *uuid.UUID) ([]*models.Policy, error) {
	if err := services.ValidateActor(actor); err != nil {
		return nil, err
	}
	policies, err := s.repos.Policies.ListByOrg(ctx, actor.OrgID, frameworkID, models.RevisionLatest)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrPolicyNotFound)
	}
	return policies, nil
}

// GetPolicy returns the latest revision of a policy
func (s *Service) GetPolicy(ctx context.Context, actor models.Actor, policyID uuid.UUID) (*models.Policy, error) {
	if err := services.ValidateActor(actor); err != nil {
		return nil, err
	}
	policy, err := s.repos.Policies.GetByID(ctx, actor.OrgID, policyID)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrPolicyNotFound)
	}
	return policy, nil
}

// CreatePolicy stores version 1 of a policy document
func (s *Service) CreatePolicy(ctx context.Context, actor models.Actor, input PolicyInput) (*models.Policy, error) {
	if err := services.RequirePermission(actor, actor.Role.CanEditRecords(), "create_policy"); err != nil {
		return nil, err
	}
	if input.Status == "" {
		input.Status = models.PolicyDraft
	}
	if err := s.validatePolicy(actor, input); err != nil {
		return nil, err
	}
	if _, err := s.repos.Frameworks.GetByID(ctx, input.FrameworkID); err != nil {
		return nil, services.FromRepository(err, services.ErrFrameworkNotFound)
	}

	policy := models.NewPolicy(actor.OrgID, input.FrameworkID, strings.TrimSpace(input.Title), input.Content, actor.UserID)
	policy.Status = input.Status
	if err := s.repos.Policies.Create(ctx, policy); err != nil {
		return nil, services.FromRepository(err, services.ErrPolicyNotFound)
	}

	s.logger.Info("policy created",
		zap.String("org_id", actor.OrgID.String()),
		zap.String("policy_id", policy.ID.String()))
	s.audit.LogPolicyChanged(ctx, models.AuditActionPolicyCreated, policy, actor.UserID)
	return policy, nil
}

// UpdatePolicy stores the next version of a policy document
func (s *Service) UpdatePolicy(ctx context.Context, actor models.Actor, policyID uuid.UUID, input PolicyInput) (*models.Policy, error) {
	if err := services.RequirePermission(actor, actor.Role.CanEditRecords(), "update_policy"); err != nil {
		return nil, err
	}
	current, err := s.repos.Policies.GetByID(ctx, actor.OrgID, policyID)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrPolicyNotFound)
	}
	if input.Status == "" {
		input.Status = current.Status
	}
	if err := s.validatePolicy(actor, input); err != nil {
		return nil, err
	}

	next := *current
	next.Title = strings.TrimSpace(input.Title)
	next.Content = input.Content
	next.Status = input.Status
	next.UpdatedBy = actor.UserID
	if err := s.repos.Policies.Update(ctx, &next); err != nil {
		return nil, services.FromRepository(err, services.ErrPolicyNotFound)
	}

	s.logger.Info("policy updated",
		zap.String("org_id", actor.OrgID.String()),
		zap.String("policy_id", policyID.String()),
		zap.Int("version", next.Version))
	s.audit.LogPolicyChanged(ctx, models.AuditActionPolicyUpdated, &next, actor.UserID)
	return &next, nil
}

func (s *Service) validatePolicy(actor models.Actor, input PolicyInput) error {
	if strings.TrimSpace(input.Title) == "" {
		return services.NewDomainError(services.ErrorTypeValidation, "policy title is required", nil)
	}
	if !input.Status.IsValid() {
		return services.NewDomainError(services.ErrorTypeValidation, "invalid policy status", nil).
			WithDetail("status", input.Status)
	}
	// approval is reserved to owners
	if input.Status == models.PolicyApproved && !actor.Role.CanManageEvidence() {
		return services.RequirePermission(actor, false, "approve_policy")
	}
	return nil
}

func validateTask(input *TaskInput) error {
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return services.NewDomainError(services.ErrorTypeValidation, "task title is required", nil)
	}
	if input.Priority == "" {
		input.Priority = models.PriorityMedium
	}
	if !input.Priority.IsValid() {
		return services.NewDomainError(services.ErrorTypeValidation, "invalid task priority", nil).
			WithDetail("priority", input.Priority)
	}
	if !input.Status.IsValid() {
		return services.NewDomainError(services.ErrorTypeValidation, "invalid task status", nil).
			WithDetail("status", input.Status)
	}
	return nil
}

func applyTaskInput(task *models.Task, input TaskInput) {
	task.Title = input.Title
	task.Description = input.Description
	task.OwnerID = input.OwnerID
	task.DueDate = input.DueDate
	task.Priority = input.Priority
	task.Status = input.Status
	task.Notes = input.Notes
}
