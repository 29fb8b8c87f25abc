package snapshot

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/repositories"
	"github.com/upb/compliance-ledger/services"
	"github.com/upb/compliance-ledger/services/graph"
	"go.uber.org/zap"
)

// Builder reads the compliance graph at one revision and freezes it into a Manifest
type Builder struct {
	repos  *repositories.Repositories
	logger *zap.Logger
	now    func() time.Time
}

// NewBuilder creates a new snapshot Builder
func NewBuilder(repos *repositories.Repositories, logger *zap.Logger) *Builder {
	return &Builder{
		repos:  repos,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Build assembles the manifest of an organization and framework as of asOf.
// A zero asOf reads at the current clock value. Every record in the manifest
// was written at or before the read revision, so edits made while the build
// runs are not observed.
func (b *Builder) Build(ctx context.Context, orgID, frameworkID uuid.UUID, asOf models.Revision) (*Manifest, error) {
	if asOf <= 0 {
		current, err := b.repos.Clock.Current(ctx)
		if err != nil {
			return nil, services.WrapStorage("failed to read logical clock", err)
		}
		asOf = current
	}

	org, err := b.repos.Organizations.GetByID(ctx, orgID)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrOrganizationNotFound)
	}
	fw, err := b.repos.Frameworks.GetByID(ctx, frameworkID)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrFrameworkNotFound)
	}

	state, err := graph.ReadState(ctx, b.repos, orgID, &frameworkID, asOf)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrControlNotFound)
	}

	manifest := &Manifest{
		Organization: OrganizationRef{ID: org.ID, Name: org.Name},
		Framework:    FrameworkRef{ID: fw.ID, Name: fw.Name, Version: fw.Version},
		AsOf:         asOf,
		GeneratedAt:  b.now().Truncate(time.Second),
		Controls:     make([]ControlEntry, 0, len(state.Controls)),
		Policies:     make([]PolicyEntry, 0, len(state.Policies)),
	}

	alloc := newPathAllocator()
	completed := 0
	for _, c := range state.Controls {
		rollup := state.Rollup(c)
		if rollup.CompletionStatus == models.CompletionCompleted {
			completed++
		}
		entry := ControlEntry{
			Code:          c.Code,
			Title:         c.Title,
			Category:      c.Category,
			Severity:      c.Severity,
			Status:        rollup.CompletionStatus,
			Overridden:    rollup.Overridden,
			EvidenceCount: rollup.EvidenceCount,
			TaskCount:     rollup.TaskCount,
			Evidence:      evidenceEntries(state.Evidence[c.ID]),
			Tasks:         taskEntries(state.Tasks[c.ID]),
		}
		assignEvidencePaths(alloc, c.Code, entry.Evidence)
		manifest.Controls = append(manifest.Controls, entry)
	}
	manifest.CompletionPercentage = graph.Percentage(completed, len(state.Controls))

	for _, p := range state.Policies {
		manifest.Policies = append(manifest.Policies, PolicyEntry{
			Title:   p.Title,
			Version: p.Version,
			Status:  p.Status,
			Content: p.Content,
		})
	}
	assignPolicyPaths(alloc, manifest.Policies)

	canonical, err := manifest.Canonical()
	if err != nil {
		return nil, services.WrapInternal("failed to encode manifest", err)
	}
	if err := ValidateJSON(canonical); err != nil {
		return nil, services.WrapInternal("manifest failed validation", err)
	}

	b.logger.Debug("snapshot built",
		zap.String("org_id", orgID.String()),
		zap.String("framework_id", frameworkID.String()),
		zap.Int64("as_of", int64(asOf)),
		zap.Int("controls", len(manifest.Controls)),
		zap.Int("policies", len(manifest.Policies)))
	return manifest, nil
}

func evidenceEntries(items []*models.EvidenceAsOf) []EvidenceEntry {
	entries := make([]EvidenceEntry, 0, len(items))
	for _, item := range items {
		v := item.Current
		if v == nil {
			continue
		}
		entries = append(entries, EvidenceEntry{
			SlotKey:      item.Slot.SlotKey,
			Version:      v.Version,
			Filename:     v.Filename,
			Digest:       v.Digest,
			SizeBytes:    v.SizeBytes,
			MimeType:     v.MimeType,
			ReviewStatus: v.ReviewStatus,
			UploadedBy:   v.UploadedBy,
			UploadedAt:   v.CreatedAt.UTC(),
		})
	}
	return entries
}

func taskEntries(tasks []*models.Task) []TaskEntry {
	entries := make([]TaskEntry, 0, len(tasks))
	for _, t := range tasks {
		entries = append(entries, TaskEntry{
			Title:    t.Title,
			Status:   t.Status,
			Priority: t.Priority,
			DueDate:  t.DueDate,
		})
	}
	return entries
}
