package audit

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/compliance-ledger/models"
	"go.uber.org/zap"
)

// MockAuditRepository is a mock implementation of AuditRepository
type MockAuditRepository struct {
	mock.Mock
	mu           sync.Mutex
	insertedLogs []*models.AuditLog
}

func (m *MockAuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	args := m.Called(ctx, log)
	m.insertedLogs = append(m.insertedLogs, log)
	return args.Error(0)
}

func (m *MockAuditRepository) GetByOrgID(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	args := m.Called(ctx, orgID, limit, offset)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) GetByResource(ctx context.Context, orgID, resourceID uuid.UUID) ([]*models.AuditLog, error) {
	args := m.Called(ctx, orgID, resourceID)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) GetInsertedLogs() []*models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AuditLog(nil), m.insertedLogs...)
}

func newStartedService(t *testing.T, repo *MockAuditRepository, cfg Config) *AuditService {
	t.Helper()
	service := NewAuditService(repo, zap.NewNop(), cfg)
	require.NoError(t, service.Start())
	return service
}

func TestAuditService_StartStop(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 2})

	err := service.Start()
	require.NoError(t, err)

	stats := service.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	// Cannot start again
	assert.Error(t, service.Start())

	require.NoError(t, service.Stop(5*time.Second))
	assert.False(t, service.GetStats().Started)

	// Events after stop are rejected instead of panicking on the closed channel
	err = service.LogEvent(&AuditEvent{Log: models.NewAuditLog(uuid.New(), models.AuditActionTaskCreated, "task")})
	assert.Error(t, err)
	assert.Error(t, service.Stop(time.Second))
}

func TestAuditService_StopDrainsPendingEvents(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	service := newStartedService(t, mockRepo, Config{BufferSize: 100, WorkerCount: 3})

	orgID := uuid.New()
	eventCount := 50
	for i := 0; i < eventCount; i++ {
		log := models.NewAuditLog(orgID, models.AuditActionEvidenceUploaded, "evidence_version")
		require.NoError(t, service.LogEvent(&AuditEvent{Log: log}))
	}

	require.NoError(t, service.Stop(5*time.Second))
	assert.Len(t, mockRepo.GetInsertedLogs(), eventCount)
}

func TestAuditService_ConcurrentLogging(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	service := newStartedService(t, mockRepo, Config{BufferSize: 1000, WorkerCount: 5})

	orgID := uuid.New()
	goroutineCount := 10
	eventsPerGoroutine := 10
	var wg sync.WaitGroup

	for i := 0; i < goroutineCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				log := models.NewAuditLog(orgID, models.AuditActionTaskUpdated, "task")
				_ = service.LogEvent(&AuditEvent{Log: log})
			}
		}()
	}
	wg.Wait()

	require.NoError(t, service.Stop(5*time.Second))
	assert.Len(t, mockRepo.GetInsertedLogs(), goroutineCount*eventsPerGoroutine)
}

func TestAuditService_BufferFull(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	// no workers, so the buffer never drains
	service := newStartedService(t, mockRepo, Config{BufferSize: 1, WorkerCount: 0})

	orgID := uuid.New()
	require.NoError(t, service.LogEvent(&AuditEvent{Log: models.NewAuditLog(orgID, models.AuditActionTaskCreated, "task")}))
	assert.Error(t, service.LogEvent(&AuditEvent{Log: models.NewAuditLog(orgID, models.AuditActionTaskCreated, "task")}))

	// Record swallows the failure
	service.Record(context.Background(), models.NewAuditLog(orgID, models.AuditActionTaskCreated, "task"))
}

func TestAuditService_RecordNotStarted(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := NewAuditService(mockRepo, zap.NewNop(), DefaultConfig())

	service.Record(context.Background(), models.NewAuditLog(uuid.New(), models.AuditActionTaskCreated, "task"))
	mockRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestAuditService_LogEvidenceUploaded(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	service := newStartedService(t, mockRepo, DefaultConfig())

	slot := models.NewEvidenceSlot(uuid.New(), uuid.New(), "access-review", "Access review")
	version := models.NewEvidenceVersion(slot, "sha256:abc", 12, "review.pdf", "application/pdf", "", uuid.New())
	version.Version = 3

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	service.LogEvidenceUploaded(ctx, version)
	require.NoError(t, service.Stop(5*time.Second))

	logs := mockRepo.GetInsertedLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditActionEvidenceUploaded, logs[0].Action)
	assert.Equal(t, version.ID, *logs[0].ResourceID)
	assert.Equal(t, version.UploadedBy, *logs[0].UserID)
	assert.Equal(t, "req-42", logs[0].RequestID)

	var details map[string]interface{}
	require.NoError(t, json.Unmarshal(logs[0].Details, &details))
	assert.Equal(t, float64(3), details["version"])
	assert.Equal(t, "sha256:abc", details["digest"])
}

func TestAuditService_LogExportFailed(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	service := newStartedService(t, mockRepo, DefaultConfig())

	export := models.NewAuditExport(uuid.New(), uuid.New(), models.ExportTypeArchive, 7, uuid.New())
	export.Status = models.ExportFailed
	export.ErrorReason = "content not found"

	service.LogExport(context.Background(), models.AuditActionExportFailed, export, nil)
	require.NoError(t, service.Stop(5*time.Second))

	logs := mockRepo.GetInsertedLogs()
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].UserID)
	require.NotNil(t, logs[0].ErrorMessage)
	assert.Equal(t, "content not found", *logs[0].ErrorMessage)
}

func TestAuditService_Queries(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := NewAuditService(mockRepo, zap.NewNop(), DefaultConfig())

	orgID := uuid.New()
	resourceID := uuid.New()
	expected := []*models.AuditLog{models.NewAuditLog(orgID, models.AuditActionTaskCreated, "task")}
	mockRepo.On("GetByOrgID", mock.Anything, orgID, 20, 0).Return(expected, nil)
	mockRepo.On("GetByResource", mock.Anything, orgID, resourceID).Return(expected, nil)

	logs, err := service.List(context.Background(), orgID, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, expected, logs)

	trail, err := service.Trail(context.Background(), orgID, resourceID)
	require.NoError(t, err)
	assert.Equal(t, expected, trail)
}
