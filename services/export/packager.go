package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/services"
	"github.com/upb/compliance-ledger/services/snapshot"
	"go.uber.org/zap"
)

// ContentReader fetches verified evidence bytes by digest
type ContentReader interface {
	Get(ctx context.Context, digest string) ([]byte, error)
}

// Artifact is a packaged export
type Artifact struct {
	Data        []byte
	Digest      string
	ContentType string
}

// Packager serializes manifests into report and archive artifacts.
// The same manifest always yields byte-identical output.
type Packager struct {
	content ContentReader
	report  *reportRenderer
	logger  *zap.Logger
}

// NewPackager creates a new Packager
func NewPackager(content ContentReader, logger *zap.Logger) *Packager {
	return &Packager{
		content: content,
		report:  newReportRenderer(),
		logger:  logger,
	}
}

// Package renders manifest in the requested format
func (p *Packager) Package(ctx context.Context, manifest *snapshot.Manifest, exportType models.ExportType) (*Artifact, error) {
	var (
		data []byte
		err  error
	)
	switch exportType {
	case models.ExportTypeReport:
		data, err = p.report.Render(manifest)
		if err != nil {
			return nil, services.WrapInternal("failed to render report", err)
		}
	case models.ExportTypeArchive:
		data, err = p.archive(ctx, manifest)
		if err != nil {
			return nil, err
		}
	default:
		return nil, services.NewDomainError(services.ErrorTypeValidation, "unknown export type", nil).
			WithDetail("export_type", exportType)
	}

	return &Artifact{
		Data:        data,
		Digest:      snapshot.DigestOf(data),
		ContentType: exportType.ContentType(),
	}, nil
}

type archiveFile struct {
	name string
	data []byte
}

// archive builds the ZIP: manifest.json, index.json, then evidence and policy
// files sorted by path. Every entry carries the manifest's generation time.
func (p *Packager) archive(ctx context.Context, manifest *snapshot.Manifest) ([]byte, error) {
	canonical, err := manifest.Canonical()
	if err != nil {
		return nil, services.WrapInternal("failed to encode manifest", err)
	}
	index, err := json.MarshalIndent(manifest.Index(), "", "  ")
	if err != nil {
		return nil, services.WrapInternal("failed to encode index", err)
	}

	var files []archiveFile
	for _, c := range manifest.Controls {
		for _, e := range c.Evidence {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			data, err := p.content.Get(ctx, e.Digest)
			if err != nil {
				p.logger.Error("evidence unavailable for archive",
					zap.String("control", c.Code),
					zap.String("slot_key", e.SlotKey),
					zap.String("digest", e.Digest),
					zap.Error(err))
				return nil, err
			}
			files = append(files, archiveFile{name: e.ArchivePath, data: data})
		}
	}
	for _, pol := range manifest.Policies {
		files = append(files, archiveFile{name: pol.ArchivePath, data: []byte(pol.Content)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })

	modified := manifest.GeneratedAt.UTC()
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	entries := append([]archiveFile{
		{name: "manifest.json", data: canonical},
		{name: "index.json", data: index},
	}, files...)
	for _, f := range entries {
		if err := writeEntry(zw, f, modified); err != nil {
			return nil, services.WrapInternal("failed to write archive", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, services.WrapInternal("failed to write archive", err)
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, f archiveFile, modified time.Time) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     f.name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", f.name, err)
	}
	if _, err := w.Write(f.data); err != nil {
		return fmt.Errorf("write %s: %w", f.name, err)
	}
	return nil
}
