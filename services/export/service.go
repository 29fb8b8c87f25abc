// Package export packages manifests into immutable audit artifacts and runs
// the background workers that process export requests.
package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/internal/observability"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/repositories"
	"github.com/upb/compliance-ledger/services"
	"github.com/upb/compliance-ledger/services/snapshot"
	"go.uber.org/zap"
)

// SnapshotBuilder freezes the graph of an organization at a revision
type SnapshotBuilder interface {
	Build(ctx context.Context, orgID, frameworkID uuid.UUID, asOf models.Revision) (*snapshot.Manifest, error)
}

// Auditor records export lifecycle events
type Auditor interface {
	LogExport(ctx context.Context, action models.AuditAction, export *models.AuditExport, userID *uuid.UUID)
}

// Config holds configuration for the export workers
type Config struct {
	Workers        int
	QueueSize      int
	JobTimeout     time.Duration // per export; zero means no limit
	RescanInterval time.Duration // how often Queued rows are re-enqueued; zero disables
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Workers:        2,
		QueueSize:      64,
		JobTimeout:     5 * time.Minute,
		RescanInterval: time.Minute,
	}
}

type job struct {
	orgID    uuid.UUID
	exportID uuid.UUID
}

// Service accepts export requests and processes them on a worker pool
type Service struct {
	repos     *repositories.Repositories
	builder   SnapshotBuilder
	packager  *Packager
	artifacts *ArtifactStore
	cache     *ArtifactCache
	audit     Auditor
	metrics   *observability.Metrics
	config    Config
	logger    *zap.Logger

	jobs    chan job
	stopCh  chan struct{}
	queued  map[uuid.UUID]bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	mu      sync.Mutex
}

// NewService creates a new export Service. Call Start to run the workers.
func NewService(
	repos *repositories.Repositories,
	builder SnapshotBuilder,
	packager *Packager,
	artifacts *ArtifactStore,
	cache *ArtifactCache,
	audit Auditor,
	metrics *observability.Metrics,
	config Config,
	logger *zap.Logger,
) *Service {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		repos:     repos,
		builder:   builder,
		packager:  packager,
		artifacts: artifacts,
		cache:     cache,
		audit:     audit,
		metrics:   metrics,
		config:    config,
		logger:    logger,
		jobs:      make(chan job, config.QueueSize),
		stopCh:    make(chan struct{}),
		queued:    make(map[uuid.UUID]bool),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start runs the workers and re-enqueues Queued exports left by a previous
// process. Processing rows are left untouched.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("export service already started")
	}
	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("started export service",
		zap.Int("worker_count", s.config.Workers),
		zap.Int("queue_size", s.config.QueueSize))

	if err := s.requeue(ctx); err != nil {
		return err
	}
	if s.config.RescanInterval > 0 {
		s.wg.Add(1)
		go s.rescanLoop()
	}
	return nil
}

// Stop stops accepting jobs and waits for in-flight exports. Exports still
// running after timeout are cancelled and stay in Processing.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("export service not running")
	}
	s.stopped = true
	close(s.jobs)
	close(s.stopCh)
	s.mu.Unlock()

	s.logger.Info("stopping export service", zap.Int("pending_jobs", len(s.jobs)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("export service stopped gracefully")
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("export service stop timeout after %v", timeout)
	}
}

// RequestExport records a Queued export pinned to the current logical time and
// schedules it. Every request creates a new export.
func (s *Service) RequestExport(ctx context.Context, actor models.Actor, frameworkID uuid.UUID, exportType models.ExportType) (*models.AuditExport, error) {
	if err := services.RequirePermission(actor, actor.Role.CanExport(), "request_export"); err != nil {
		return nil, err
	}
	if !exportType.IsValid() {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "invalid export type", nil).
			WithDetail("export_type", exportType)
	}
	if _, err := s.repos.Frameworks.GetByID(ctx, frameworkID); err != nil {
		return nil, services.FromRepository(err, services.ErrFrameworkNotFound)
	}

	asOf, err := s.repos.Clock.Current(ctx)
	if err != nil {
		return nil, services.WrapStorage("failed to read logical clock", err)
	}

	export := models.NewAuditExport(actor.OrgID, frameworkID, exportType, asOf, actor.UserID)
	if err := s.repos.Exports.Create(ctx, export); err != nil {
		return nil, services.FromRepository(err, services.ErrExportNotFound)
	}

	s.logger.Info("export requested",
		zap.String("org_id", actor.OrgID.String()),
		zap.String("export_id", export.ID.String()),
		zap.String("export_type", string(exportType)),
		zap.Int64("as_of", int64(asOf)))
	s.audit.LogExport(ctx, models.AuditActionExportRequested, export, &actor.UserID)

	if !s.enqueue(job{orgID: export.OrgID, exportID: export.ID}) {
		s.logger.Warn("export queue full, export will be picked up by the next rescan",
			zap.String("export_id", export.ID.String()))
	}
	return export, nil
}

// GetExport returns one export of the actor's organization
func (s *Service) GetExport(ctx context.Context, actor models.Actor, exportID uuid.UUID) (*models.AuditExport, error) {
	if err := services.ValidateActor(actor); err != nil {
		return nil, err
	}
	export, err := s.repos.Exports.GetByID(ctx, actor.OrgID, exportID)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrExportNotFound)
	}
	return export, nil
}

// ListExports returns the exports of the actor's organization, newest first
func (s *Service) ListExports(ctx context.Context, actor models.Actor, limit, offset int) ([]*models.AuditExport, error) {
	if err := services.ValidateActor(actor); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	exports, err := s.repos.Exports.ListByOrg(ctx, actor.OrgID, limit, offset)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrExportNotFound)
	}
	return exports, nil
}

// DownloadArtifact returns the published artifact of a Ready export
func (s *Service) DownloadArtifact(ctx context.Context, actor models.Actor, exportID uuid.UUID) (*models.AuditExport, []byte, error) {
	export, err := s.GetExport(ctx, actor, exportID)
	if err != nil {
		return nil, nil, err
	}
	if export.Status != models.ExportReady {
		return nil, nil, services.NewDomainError(services.ErrorTypeConflict, services.ErrExportNotReady.Message, nil).
			WithDetail("status", export.Status)
	}

	data := s.cache.Get(export.ID)
	if data == nil {
		data, err = s.artifacts.Open(ctx, export)
		if err != nil {
			if services.IsStorageUnavailableError(err) {
				s.metrics.StorageError(ctx, "artifact")
			}
			return nil, nil, err
		}
		s.cache.Set(export.ID, data)
	}

	s.audit.LogExport(ctx, models.AuditActionExportDownloaded, export, &actor.UserID)
	return export, data, nil
}

// enqueue schedules a job unless it is already queued; false means the queue is full
func (s *Service) enqueue(j job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return false
	}
	if s.queued[j.exportID] {
		return true
	}
	select {
	case s.jobs <- j:
		s.queued[j.exportID] = true
		return true
	default:
		return false
	}
}

func (s *Service) requeue(ctx context.Context) error {
	pending, err := s.repos.Exports.ListByStatus(ctx, models.ExportQueued)
	if err != nil {
		return services.FromRepository(err, services.ErrExportNotFound)
	}
	scheduled := 0
	for _, e := range pending {
		if !s.enqueue(job{orgID: e.OrgID, exportID: e.ID}) {
			break
		}
		scheduled++
	}
	if len(pending) > 0 {
		s.logger.Info("re-enqueued queued exports",
			zap.Int("queued", len(pending)),
			zap.Int("scheduled", scheduled))
	}
	return nil
}

func (s *Service) rescanLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.requeue(s.ctx); err != nil {
				s.logger.Warn("export rescan failed", zap.Error(err))
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Service) worker(id int) {
	defer s.wg.Done()
	s.logger.Debug("export worker started", zap.Int("worker_id", id))

	for j := range s.jobs {
		s.process(j)
		s.mu.Lock()
		delete(s.queued, j.exportID)
		s.mu.Unlock()
	}

	s.logger.Debug("export worker stopped", zap.Int("worker_id", id))
}

// process claims a Queued export and drives it to Ready or Failed
func (s *Service) process(j job) {
	ctx := s.ctx
	if s.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.JobTimeout)
		defer cancel()
	}
	logger := s.logger.With(
		zap.String("org_id", j.orgID.String()),
		zap.String("export_id", j.exportID.String()))

	started := time.Now().UTC()
	export, err := s.repos.Exports.Transition(ctx, j.orgID, j.exportID, models.ExportQueued, models.ExportProcessing,
		&models.ExportCompletion{At: started})
	if err != nil {
		if errors.Is(err, repositories.ErrStaleState) {
			logger.Debug("export already claimed")
			return
		}
		logger.Error("failed to claim export", zap.Error(err))
		return
	}

	completion, err := s.build(ctx, export)
	if err != nil {
		if s.ctx.Err() != nil {
			logger.Warn("export interrupted by shutdown, left in processing", zap.Error(err))
			return
		}
		s.fail(export, err, started, logger)
		return
	}

	completion.At = time.Now().UTC()
	ready, err := s.repos.Exports.Transition(ctx, export.OrgID, export.ID, models.ExportProcessing, models.ExportReady, completion)
	if err != nil {
		logger.Error("failed to mark export ready", zap.Error(err))
		return
	}

	elapsed := time.Since(started)
	s.metrics.ExportFinished(ctx, string(ready.ExportType), string(ready.Status), elapsed)
	logger.Info("export ready",
		zap.String("artifact_digest", ready.ArtifactDigest),
		zap.Int64("artifact_size", ready.ArtifactSize),
		zap.Duration("elapsed", elapsed))
	s.audit.LogExport(ctx, models.AuditActionExportReady, ready, nil)
}

// build assembles, packages and publishes the artifact of export
func (s *Service) build(ctx context.Context, export *models.AuditExport) (*models.ExportCompletion, error) {
	manifest, err := s.builder.Build(ctx, export.OrgID, export.FrameworkID, export.AsOf)
	if err != nil {
		return nil, fmt.Errorf("build snapshot: %w", err)
	}
	manifestDigest, err := manifest.Digest()
	if err != nil {
		return nil, fmt.Errorf("digest manifest: %w", err)
	}
	artifact, err := s.packager.Package(ctx, manifest, export.ExportType)
	if err != nil {
		if services.IsStorageUnavailableError(err) {
			s.metrics.StorageError(ctx, "content")
		}
		return nil, fmt.Errorf("package %s: %w", export.ExportType, err)
	}
	key, err := s.artifacts.Publish(ctx, export, artifact)
	if err != nil {
		if services.IsStorageUnavailableError(err) {
			s.metrics.StorageError(ctx, "artifact")
		}
		return nil, fmt.Errorf("publish artifact: %w", err)
	}
	s.cache.Set(export.ID, artifact.Data)

	return &models.ExportCompletion{
		ArtifactKey:    key,
		ArtifactDigest: artifact.Digest,
		ArtifactSize:   int64(len(artifact.Data)),
		ManifestDigest: manifestDigest,
	}, nil
}

func (s *Service) fail(export *models.AuditExport, cause error, started time.Time, logger *zap.Logger) {
	// the job context may have expired; recording the outcome must not
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	failed, err := s.repos.Exports.Transition(ctx, export.OrgID, export.ID, models.ExportProcessing, models.ExportFailed,
		&models.ExportCompletion{ErrorReason: cause.Error(), At: time.Now().UTC()})
	if err != nil {
		logger.Error("failed to mark export failed", zap.Error(err), zap.NamedError("cause", cause))
		return
	}

	s.metrics.ExportFinished(ctx, string(failed.ExportType), string(failed.Status), time.Since(started))
	logger.Error("export failed", zap.Error(cause))
	s.audit.LogExport(ctx, models.AuditActionExportFailed, failed, nil)
}
