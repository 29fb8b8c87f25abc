package cli

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/services/contentstore"
	"github.com/upb/compliance-ledger/services/snapshot"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeArchive builds a one-control archive and lets tamper replace evidence bytes
func writeArchive(t *testing.T, tamper func([]byte) []byte) string {
	t.Helper()
	evidence := []byte("quarterly access review\n")
	manifest := &snapshot.Manifest{
		Organization: snapshot.OrganizationRef{ID: uuid.New(), Name: "Acme"},
		Framework:    snapshot.FrameworkRef{ID: uuid.New(), Name: "SOC 2", Version: "2017"},
		AsOf:         7,
		GeneratedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Controls: []snapshot.ControlEntry{{
			Code:          "CC6.1",
			Title:         "Logical access",
			Status:        models.CompletionCompleted,
			EvidenceCount: 1,
			Evidence: []snapshot.EvidenceEntry{{
				SlotKey:      "access-review",
				Version:      2,
				Filename:     "review.txt",
				Digest:       contentstore.ComputeDigest(evidence),
				SizeBytes:    int64(len(evidence)),
				ReviewStatus: models.ReviewAccepted,
				ArchivePath:  "evidence/CC6.1/review.txt",
			}},
			Tasks: []snapshot.TaskEntry{},
		}},
		Policies: []snapshot.PolicyEntry{},
	}
	canonical, err := manifest.Canonical()
	require.NoError(t, err)
	index, err := json.MarshalIndent(manifest.Index(), "", "  ")
	require.NoError(t, err)
	if tamper != nil {
		evidence = tamper(evidence)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range []struct {
		name string
		body []byte
	}{
		{"manifest.json", canonical},
		{"index.json", index},
		{"evidence/CC6.1/review.txt", evidence},
	} {
		w, err := zw.Create(entry.name)
		require.NoError(t, err)
		_, err = w.Write(entry.body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "export.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestVerifyArchiveCommand(t *testing.T) {
	t.Run("intact archive", func(t *testing.T) {
		out, err := execute(t, "verify-archive", writeArchive(t, nil))
		require.NoError(t, err)
		assert.Contains(t, out, "manifest sha256:")
		assert.Contains(t, out, "evidence files: 1, policies: 0")
		assert.Contains(t, out, "OK")
	})

	t.Run("tampered evidence", func(t *testing.T) {
		out, err := execute(t, "verify-archive", writeArchive(t, func(b []byte) []byte {
			return bytes.ToUpper(b)
		}))
		require.ErrorIs(t, err, ErrArchiveInvalid)
		assert.Contains(t, out, "FAIL CC6.1: evidence/CC6.1/review.txt does not match digest")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := execute(t, "verify-archive", filepath.Join(t.TempDir(), "absent.zip"))
		assert.ErrorContains(t, err, "read archive")
	})

	t.Run("argument required", func(t *testing.T) {
		_, err := execute(t, "verify-archive")
		assert.Error(t, err)
	})
}

func TestMigrateCommand(t *testing.T) {
	t.Run("sqlite up and down", func(t *testing.T) {
		t.Setenv("DATABASE_DRIVER", "sqlite")
		t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "ledger.db"))
		t.Setenv("LOG_LEVEL", "error")

		out, err := execute(t, "migrate")
		require.NoError(t, err)
		assert.NotContains(t, out, "schema version 0\n")
		assert.NotContains(t, out, "dirty")

		out, err = execute(t, "migrate", "version")
		require.NoError(t, err)
		assert.Contains(t, out, "schema version")

		out, err = execute(t, "migrate", "down")
		require.NoError(t, err)
		assert.Equal(t, "schema version 0\n", out)
	})

	t.Run("memory driver rejected", func(t *testing.T) {
		t.Setenv("DATABASE_DRIVER", "memory")
		_, err := execute(t, "migrate")
		assert.ErrorContains(t, err, "needs a SQL database")
	})

	t.Run("unknown direction", func(t *testing.T) {
		_, err := execute(t, "migrate", "sideways")
		assert.Error(t, err)
	})
}

func TestSeedCommand(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "memory")
	t.Setenv("CONTENT_STORE_TYPE", "memory")
	t.Setenv("ARTIFACT_STORE_TYPE", "memory")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "error")

	t.Run("catalog only", func(t *testing.T) {
		out, err := execute(t, "seed")
		require.NoError(t, err)
		assert.Contains(t, out, "catalog: ")
		assert.NotContains(t, out, "organization")
	})

	t.Run("with organization", func(t *testing.T) {
		out, err := execute(t, "seed", "--org-name", "Acme", "--org-slug", "acme")
		require.NoError(t, err)
		assert.Contains(t, out, "organization acme (")
		assert.Contains(t, out, "controls")
	})

	t.Run("slug without name", func(t *testing.T) {
		_, err := execute(t, "seed", "--org-slug", "acme")
		assert.Error(t, err)
	})
}
