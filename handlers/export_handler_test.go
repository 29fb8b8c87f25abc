package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/compliance-ledger/models"
)

func TestExportHandler_RequestAndDownload(t *testing.T) {
	f := newAPIFixture(t)
	founder := f.router(f.actor(models.RoleFounder))
	auditor := f.router(f.actor(models.RoleAuditor))

	w := doJSON(t, founder, http.MethodPost, "/controls/"+f.control.ID.String()+"/slots", CreateSlotRequest{SlotKey: "mfa"})
	require.Equal(t, http.StatusCreated, w.Code)
	var slot models.EvidenceSlot
	decodeData(t, w, &slot)
	w = doUpload(t, founder, "/slots/"+slot.ID.String()+"/versions", "mfa.txt", []byte("mfa enforced"), nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, auditor, http.MethodPost, "/exports", CreateExportRequest{FrameworkID: f.framework.ID.String(), Type: models.ExportTypeArchive})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, founder, http.MethodPost, "/exports", CreateExportRequest{FrameworkID: f.framework.ID.String(), Type: models.ExportTypeArchive})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var export models.AuditExport
	decodeData(t, w, &export)
	assert.Equal(t, models.ExportQueued, export.Status)
	assert.Equal(t, "/api/v1/exports/"+export.ID.String(), w.Header().Get("Location"))

	w = doJSON(t, auditor, http.MethodGet, "/exports/"+export.ID.String()+"/download", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	require.NoError(t, f.exports.Start(t.Context()))
	t.Cleanup(func() { _ = f.exports.Stop(time.Second) })

	require.Eventually(t, func() bool {
		w := doJSON(t, auditor, http.MethodGet, "/exports/"+export.ID.String(), nil)
		if w.Code != http.StatusOK {
			return false
		}
		decodeData(t, w, &export)
		return export.Status == models.ExportReady
	}, 5*time.Second, 20*time.Millisecond)

	w = doJSON(t, auditor, http.MethodGet, "/exports/"+export.ID.String()+"/download", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Equal(t, export.ArtifactDigest, w.Header().Get("X-Content-Digest"))
	assert.Equal(t, export.ManifestDigest, w.Header().Get("X-Manifest-Digest"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), export.Filename())
	assert.NotZero(t, w.Body.Len())

	w = doJSON(t, auditor, http.MethodGet, "/exports?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var exports []models.AuditExport
	decodeData(t, w, &exports)
	require.Len(t, exports, 1)
	assert.Equal(t, export.ID, exports[0].ID)
}

func TestExportHandler_Validation(t *testing.T) {
	f := newAPIFixture(t)
	h := f.router(f.actor(models.RoleAdmin))

	tests := []struct {
		name string
		body interface{}
		code int
	}{
		{"unknown type", map[string]string{"framework_id": f.framework.ID.String(), "type": "Spreadsheet"}, http.StatusBadRequest},
		{"missing framework", map[string]string{"type": "Report"}, http.StatusBadRequest},
		{"unknown field", map[string]string{"framework_id": f.framework.ID.String(), "type": "Report", "extra": "1"}, http.StatusBadRequest},
		{"unknown framework", CreateExportRequest{FrameworkID: "00000000-0000-0000-0000-000000000001", Type: models.ExportTypeReport}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, h, http.MethodPost, "/exports", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}

	for _, query := range []string{"limit=0", "limit=500", "limit=abc", "offset=-1"} {
		w := doJSON(t, h, http.MethodGet, "/exports?"+query, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
	}
}

func TestAuditHandler(t *testing.T) {
	f := newAPIFixture(t)
	founder := f.router(f.actor(models.RoleFounder))
	contributor := f.router(f.actor(models.RoleContributor))

	w := doJSON(t, founder, http.MethodPost, "/controls/"+f.control.ID.String()+"/slots", CreateSlotRequest{SlotKey: "vendor-review"})
	require.Equal(t, http.StatusCreated, w.Code)
	var slot models.EvidenceSlot
	decodeData(t, w, &slot)

	w = doJSON(t, contributor, http.MethodGet, "/audit-logs", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	require.Eventually(t, func() bool {
		w := doJSON(t, founder, http.MethodGet, "/audit-logs/resources/"+slot.ID.String(), nil)
		if w.Code != http.StatusOK {
			return false
		}
		var logs []models.AuditLog
		decodeData(t, w, &logs)
		return len(logs) == 1 && logs[0].Action == models.AuditActionSlotCreated
	}, 2*time.Second, 10*time.Millisecond)

	w = doJSON(t, founder, http.MethodGet, "/audit-logs?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var logs []models.AuditLog
	decodeData(t, w, &logs)
	assert.NotEmpty(t, logs)
}
