package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/upb/compliance-ledger/auth"
	"github.com/upb/compliance-ledger/internal/observability"
	"github.com/upb/compliance-ledger/middleware"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/repositories"
	"github.com/upb/compliance-ledger/repositories/memory"
	"github.com/upb/compliance-ledger/services/audit"
	"github.com/upb/compliance-ledger/services/contentstore"
	"github.com/upb/compliance-ledger/services/export"
	"github.com/upb/compliance-ledger/services/graph"
	"github.com/upb/compliance-ledger/services/ledger"
	"github.com/upb/compliance-ledger/services/snapshot"
	"go.uber.org/zap"
)

const testMaxUpload = 1 << 10

type apiFixture struct {
	repos     *repositories.Repositories
	audit     *audit.AuditService
	ledger    *ledger.Service
	graph     *graph.Service
	exports   *export.Service
	framework *models.Framework
	control   *models.Control
	orgID     uuid.UUID
}

func newAPIFixture(t *testing.T) *apiFixture {
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
	control := models.NewControl(org.ID, fw.ID, "CC6.1", "Logical access security", models.SeverityHigh)
	require.NoError(t, repos.Controls.Create(ctx, control))

	store := contentstore.New(contentstore.NewMemoryBackend(), logger)
	exports := export.NewService(repos, snapshot.NewBuilder(repos, logger), export.NewPackager(store, logger),
		export.NewArtifactStore(contentstore.NewMemoryBackend(), logger), export.NewArtifactCache(4, time.Minute),
		auditSvc, observability.NopMetrics(), export.Config{Workers: 1, QueueSize: 8}, logger)

	return &apiFixture{
		repos: repos,
		audit: auditSvc,
		ledger: ledger.NewService(repos, memory.NewTransactionManager(), store, auditSvc,
			observability.NopMetrics(), ledger.Config{MaxUploadBytes: testMaxUpload}, logger),
		graph:     graph.NewService(repos, auditSvc, logger),
		exports:   exports,
		framework: fw,
		control:   control,
		orgID:     org.ID,
	}
}

func (f *apiFixture) actor(role models.UserRole) models.Actor {
	return models.Actor{OrgID: f.orgID, UserID: uuid.New(), Role: role}
}

// router mounts every handler under the paths the API serves, authenticated as actor
func (f *apiFixture) router(actor models.Actor) http.Handler {
	logger := zap.NewNop()
	controls := NewControlHandler(f.graph, logger)
	evidence := NewEvidenceHandler(f.ledger, testMaxUpload, logger)
	tasks := NewTaskHandler(f.graph, logger)
	policies := NewPolicyHandler(f.graph, logger)
	exports := NewExportHandler(f.exports, logger)
	audits := NewAuditHandler(f.audit, logger)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			claims := &auth.ParsedClaims{UserID: actor.UserID, OrgID: actor.OrgID, Role: actor.Role}
			next.ServeHTTP(w, req.WithContext(middleware.WithClaims(req.Context(), claims)))
		})
	})

	r.Get("/frameworks", controls.HandleListFrameworks)
	r.Get("/stats", controls.HandleStats)
	r.Get("/controls", controls.HandleListControls)
	r.Route("/controls/{controlID}", func(r chi.Router) {
		r.Get("/", controls.HandleGetControl)
		r.Get("/rollup", controls.HandleGetRollup)
		r.Put("/override", controls.HandleSetOverride)
		r.Delete("/override", controls.HandleClearOverride)
		r.Get("/slots", evidence.HandleListSlots)
		r.Post("/slots", evidence.HandleCreateSlot)
		r.Get("/tasks", tasks.HandleListTasks)
		r.Post("/tasks", tasks.HandleCreateTask)
	})
	r.Delete("/slots/{slotID}", evidence.HandleDeactivateSlot)
	r.Post("/slots/{slotID}/versions", evidence.HandleUpload)
	r.Get("/slots/{slotID}/versions", evidence.HandleListVersions)
	r.Get("/slots/{slotID}/current", evidence.HandleCurrentVersion)
	r.Get("/versions/{versionID}", evidence.HandleGetVersion)
	r.Get("/versions/{versionID}/content", evidence.HandleDownload)
	r.Put("/versions/{versionID}/review", evidence.HandleReview)
	r.Get("/versions/{versionID}/reviews", evidence.HandleReviewHistory)
	r.Put("/tasks/{taskID}", tasks.HandleUpdateTask)
	r.Patch("/tasks/{taskID}/status", tasks.HandleSetStatus)
	r.Delete("/tasks/{taskID}", tasks.HandleDeleteTask)
	r.Get("/policies", policies.HandleListPolicies)
	r.Post("/policies", policies.HandleCreatePolicy)
	r.Get("/policies/{policyID}", policies.HandleGetPolicy)
	r.Put("/policies/{policyID}", policies.HandleUpdatePolicy)
	r.Post("/exports", exports.HandleRequestExport)
	r.Get("/exports", exports.HandleListExports)
	r.Get("/exports/{exportID}", exports.HandleGetExport)
	r.Get("/exports/{exportID}/download", exports.HandleDownload)
	r.Get("/audit-logs", audits.HandleList)
	r.Get("/audit-logs/resources/{resourceID}", audits.HandleTrail)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func doUpload(t *testing.T, h http.Handler, path, filename string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// decodeData unwraps the data envelope of a success response
func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}
