package export

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/upb/compliance-ledger/internal/observability"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/repositories"
	"github.com/upb/compliance-ledger/repositories/memory"
	"github.com/upb/compliance-ledger/services/audit"
	"github.com/upb/compliance-ledger/services/contentstore"
	"github.com/upb/compliance-ledger/services/graph"
	"github.com/upb/compliance-ledger/services/ledger"
	"github.com/upb/compliance-ledger/services/snapshot"
	"go.uber.org/zap"
)

type recordingAuditor struct {
	mu      sync.Mutex
	actions []models.AuditAction
}

func (a *recordingAuditor) LogExport(_ context.Context, action models.AuditAction, _ *models.AuditExport, _ *uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

func (a *recordingAuditor) recorded() []models.AuditAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.AuditAction(nil), a.actions...)
}

type fixture struct {
	repos     *repositories.Repositories
	content   *contentstore.MemoryBackend
	ledger    *ledger.Service
	graph     *graph.Service
	builder   *snapshot.Builder
	packager  *Packager
	artifacts *contentstore.MemoryBackend
	audit     *recordingAuditor
	framework *models.Framework
	control   *models.Control
	owner     models.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	repos := memory.NewRepositories()
	auditSvc := audit.NewAuditService(repos.AuditLogs, logger, audit.Config{BufferSize: 256, WorkerCount: 1})
	require.NoError(t, auditSvc.Start())
	t.Cleanup(func() { _ = auditSvc.Stop(time.Second) })

	fw := models.NewFramework("SOC 2", "2017", "Trust services criteria")
	require.NoError(t, repos.Frameworks.Upsert(ctx, fw))
	org := models.NewOrganization("Acme", "acme")
	require.NoError(t, repos.Organizations.Create(ctx, org))
	control := models.NewControl(org.ID, fw.ID, "AC-01", "Access control policy", models.SeverityHigh)
	require.NoError(t, repos.Controls.Create(ctx, control))

	content := contentstore.NewMemoryBackend()
	store := contentstore.New(content, logger)

	return &fixture{
		repos:   repos,
		content: content,
		ledger: ledger.NewService(repos, memory.NewTransactionManager(), store, auditSvc,
			observability.NopMetrics(), ledger.Config{MaxUploadBytes: 1 << 20}, logger),
		graph:     graph.NewService(repos, auditSvc, logger),
		builder:   snapshot.NewBuilder(repos, logger),
		packager:  NewPackager(store, logger),
		artifacts: contentstore.NewMemoryBackend(),
		audit:     &recordingAuditor{},
		framework: fw,
		control:   control,
		owner:     models.Actor{OrgID: org.ID, UserID: uuid.New(), Role: models.RoleFounder},
	}
}

func (f *fixture) service(config Config) *Service {
	return NewService(f.repos, f.builder, f.packager,
		NewArtifactStore(f.artifacts, zap.NewNop()), NewArtifactCache(4, time.Minute),
		f.audit, observability.NopMetrics(), config, zap.NewNop())
}

func (f *fixture) upload(t *testing.T, slotKey, filename, data string) *models.EvidenceVersion {
	t.Helper()
	ctx := context.Background()
	slot, err := f.ledger.EnsureSlot(ctx, f.owner, f.control.ID, slotKey, "")
	require.NoError(t, err)
	v, err := f.ledger.UploadVersion(ctx, f.owner, ledger.UploadRequest{
		SlotID:   slot.ID,
		Data:     []byte(data),
		Filename: filename,
	})
	require.NoError(t, err)
	return v
}

func (f *fixture) manifest(t *testing.T) *snapshot.Manifest {
	t.Helper()
	m, err := f.builder.Build(context.Background(), f.owner.OrgID, f.framework.ID, 0)
	require.NoError(t, err)
	return m
}

// readZip returns the archive entries in order with their contents
func readZip(t *testing.T, data []byte) ([]string, map[string][]byte) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	names := make([]string, 0, len(zr.File))
	files := make(map[string][]byte, len(zr.File))
	for _, zf := range zr.File {
		rc, err := zf.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		names = append(names, zf.Name)
		files[zf.Name] = body
	}
	return names, files
}
