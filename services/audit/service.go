// Package audit writes the organization activity trail asynchronously.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/repositories"
	"go.uber.org/zap"
)

// AuditEvent represents an event to be audited
type AuditEvent struct {
	Log *models.AuditLog
}

// AuditService handles asynchronous audit logging
type AuditService struct {
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
	eventChan   chan *AuditEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopped     bool
	mu          sync.Mutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1024,
		WorkerCount: 2,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config) *AuditService {
	ctx, cancel := context.WithCancel(context.Background())

	return &AuditService{
		auditRepo:   auditRepo,
		logger:      logger,
		eventChan:   make(chan *AuditEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the audit service
// Waits for all pending events to be processed
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not running")
	}
	s.stopped = true
	// no more events will be accepted
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent logs an event asynchronously (non-blocking)
// Returns immediately, event is processed in background
func (s *AuditService) LogEvent(event *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return fmt.Errorf("audit service not running")
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(event.Log.Action)),
			zap.String("org_id", event.Log.OrgID.String()))
		return fmt.Errorf("audit event buffer full")
	}
}

// Record queues log and never fails the caller. Mutations must not be rolled
// back because the trail could not keep up.
func (s *AuditService) Record(ctx context.Context, log *models.AuditLog) {
	if log.RequestID == "" {
		log.WithRequest(middleware.GetReqID(ctx))
	}
	if err := s.LogEvent(&AuditEvent{Log: log}); err != nil {
		s.logger.Warn("audit event not recorded",
			zap.Error(err),
			zap.String("action", string(log.Action)),
			zap.String("org_id", log.OrgID.String()))
	}
}

// worker processes events from the channel
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(event.Log.Action)),
				zap.String("org_id", event.Log.OrgID.String()))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// processEvent processes a single audit event
func (s *AuditService) processEvent(event *AuditEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.auditRepo.Insert(ctx, event.Log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// List returns the activity trail of an organization, newest first
func (s *AuditService) List(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	return s.auditRepo.GetByOrgID(ctx, orgID, limit, offset)
}

// Trail returns the entries recorded for one resource, oldest first
func (s *AuditService) Trail(ctx context.Context, orgID, resourceID uuid.UUID) ([]*models.AuditLog, error) {
	return s.auditRepo.GetByResource(ctx, orgID, resourceID)
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}

// Convenience methods for logging common events

// LogSlotCreated logs the creation of an evidence slot
func (s *AuditService) LogSlotCreated(ctx context.Context, slot *models.EvidenceSlot, userID uuid.UUID) {
	log := models.NewAuditLog(slot.OrgID, models.AuditActionSlotCreated, "evidence_slot").
		WithUser(userID).
		WithResource(slot.ID).
		WithDetails(map[string]interface{}{
			"control_id": slot.ControlID,
			"slot_key":   slot.SlotKey,
		})
	s.Record(ctx, log)
}

// LogSlotDeactivated logs the deactivation of an evidence slot
func (s *AuditService) LogSlotDeactivated(ctx context.Context, slot *models.EvidenceSlot, userID uuid.UUID) {
	log := models.NewAuditLog(slot.OrgID, models.AuditActionSlotDeactivated, "evidence_slot").
		WithUser(userID).
		WithResource(slot.ID).
		WithDetails(map[string]interface{}{
			"slot_key":      slot.SlotKey,
			"version_count": slot.VersionCount,
		})
	s.Record(ctx, log)
}

// LogEvidenceUploaded logs a new evidence version
func (s *AuditService) LogEvidenceUploaded(ctx context.Context, version *models.EvidenceVersion) {
	log := models.NewAuditLog(version.OrgID, models.AuditActionEvidenceUploaded, "evidence_version").
		WithUser(version.UploadedBy).
		WithResource(version.ID).
		WithDetails(map[string]interface{}{
			"slot_id":   version.SlotID,
			"version":   version.Version,
			"digest":    version.Digest,
			"filename":  version.Filename,
			"size":      version.SizeBytes,
			"mime_type": version.MimeType,
		})
	s.Record(ctx, log)
}

// LogEvidenceReviewed logs a review transition
func (s *AuditService) LogEvidenceReviewed(ctx context.Context, event *models.ReviewEvent) {
	log := models.NewAuditLog(event.OrgID, models.AuditActionEvidenceReviewed, "evidence_version").
		WithUser(event.ReviewerID).
		WithResource(event.VersionID).
		WithDetails(map[string]interface{}{
			"from": event.FromStatus,
			"to":   event.ToStatus,
			"note": event.Note,
		})
	s.Record(ctx, log)
}

// LogControlOverridden logs setting or clearing a manual status override
func (s *AuditService) LogControlOverridden(ctx context.Context, control *models.Control, userID uuid.UUID) {
	details := map[string]interface{}{"code": control.Code, "override": nil}
	if control.StatusOverride != nil {
		details["override"] = *control.StatusOverride
	}
	log := models.NewAuditLog(control.OrgID, models.AuditActionControlOverridden, "control").
		WithUser(userID).
		WithResource(control.ID).
		WithDetails(details)
	s.Record(ctx, log)
}

// LogTaskChanged logs a task creation, update or deletion
func (s *AuditService) LogTaskChanged(ctx context.Context, action models.AuditAction, task *models.Task, userID uuid.UUID) {
	log := models.NewAuditLog(task.OrgID, action, "task").
		WithUser(userID).
		WithResource(task.ID).
		WithDetails(map[string]interface{}{
			"control_id": task.ControlID,
			"status":     task.Status,
			"revision":   task.Revision,
		})
	s.Record(ctx, log)
}

// LogPolicyChanged logs a policy creation or update
func (s *AuditService) LogPolicyChanged(ctx context.Context, action models.AuditAction, policy *models.Policy, userID uuid.UUID) {
	log := models.NewAuditLog(policy.OrgID, action, "policy").
		WithUser(userID).
		WithResource(policy.ID).
		WithDetails(map[string]interface{}{
			"version": policy.Version,
			"status":  policy.Status,
		})
	s.Record(ctx, log)
}

// LogExport logs an export lifecycle event. userID may be nil for worker transitions.
func (s *AuditService) LogExport(ctx context.Context, action models.AuditAction, export *models.AuditExport, userID *uuid.UUID) {
	log := models.NewAuditLog(export.OrgID, action, "audit_export").
		WithResource(export.ID).
		WithDetails(map[string]interface{}{
			"export_type": export.ExportType,
			"status":      export.Status,
			"as_of":       export.AsOf,
			"digest":      export.ArtifactDigest,
		})
	if userID != nil {
		log.WithUser(*userID)
	}
	if export.ErrorReason != "" {
		log.WithError(export.ErrorReason)
	}
	s.Record(ctx, log)
}

// LogOrganizationSeeded logs the instantiation of a framework's controls
func (s *AuditService) LogOrganizationSeeded(ctx context.Context, orgID, frameworkID uuid.UUID, created int) {
	log := models.NewAuditLog(orgID, models.AuditActionOrganizationSeeded, "framework").
		WithResource(frameworkID).
		WithDetails(map[string]interface{}{"controls_created": created})
	s.Record(ctx, log)
}
