package graph

import (
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/upb/compliance-ledger/models"
)

func task(status models.TaskStatus) *models.Task {
	t := models.NewTask(uuid.New(), uuid.New(), "task", models.PriorityMedium)
	t.Status = status
	return t
}

func evidence(status models.ReviewStatus) *models.EvidenceAsOf {
	slot := models.NewEvidenceSlot(uuid.New(), uuid.New(), "slot", "")
	if status == "" {
		return &models.EvidenceAsOf{Slot: *slot}
	}
	v := models.NewEvidenceVersion(slot, "sha256:00", 1, "f.txt", "text/plain", "", uuid.New())
	v.ReviewStatus = status
	return &models.EvidenceAsOf{Slot: *slot, Current: v}
}

func TestRollup(t *testing.T) {
	completed := models.CompletionCompleted
	notStarted := models.CompletionNotStarted

	tests := []struct {
		name     string
		override *models.CompletionStatus
		tasks    []*models.Task
		evidence []*models.EvidenceAsOf
		want     models.CompletionStatus
		count    int
	}{
		{
			name: "empty control has not started",
			want: models.CompletionNotStarted,
		},
		{
			name:  "pending tasks only",
			tasks: []*models.Task{task(models.TaskPending)},
			want:  models.CompletionNotStarted,
		},
		{
			name:  "blocked task counts as progress",
			tasks: []*models.Task{task(models.TaskBlocked)},
			want:  models.CompletionInProgress,
		},
		{
			name:     "empty slot keeps the control open",
			tasks:    []*models.Task{task(models.TaskCompleted)},
			evidence: []*models.EvidenceAsOf{evidence("")},
			want:     models.CompletionInProgress,
		},
		{
			name:     "pending evidence is progress",
			evidence: []*models.EvidenceAsOf{evidence(models.ReviewPending)},
			want:     models.CompletionInProgress,
			count:    1,
		},
		{
			name:     "all done and accepted",
			tasks:    []*models.Task{task(models.TaskCompleted), task(models.TaskCompleted)},
			evidence: []*models.EvidenceAsOf{evidence(models.ReviewAccepted)},
			want:     models.CompletionCompleted,
			count:    1,
		},
		{
			name:     "rejected evidence blocks completion",
			tasks:    []*models.Task{task(models.TaskCompleted)},
			evidence: []*models.EvidenceAsOf{evidence(models.ReviewAccepted), evidence(models.ReviewRejected)},
			want:     models.CompletionInProgress,
			count:    2,
		},
		{
			name:     "override wins",
			override: &completed,
			tasks:    []*models.Task{task(models.TaskPending)},
			want:     models.CompletionCompleted,
		},
		{
			name:     "override can hold a finished control back",
			override: &notStarted,
			evidence: []*models.EvidenceAsOf{evidence(models.ReviewAccepted)},
			want:     models.CompletionNotStarted,
			count:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			control := models.NewControl(uuid.New(), uuid.New(), "CC-1", "Control", models.SeverityLow)
			control.StatusOverride = tt.override

			got := Rollup(control, tt.tasks, tt.evidence)

			assert.Equal(t, control.ID, got.ControlID)
			assert.Equal(t, tt.want, got.CompletionStatus)
			assert.Equal(t, tt.count, got.EvidenceCount)
			assert.Equal(t, len(tt.tasks), got.TaskCount)
			assert.Equal(t, tt.override != nil, got.Overridden)
		})
	}
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 0.0, Percentage(0, 0))
	assert.Equal(t, 33.3, Percentage(1, 3))
	assert.Equal(t, 66.7, Percentage(2, 3))
	assert.Equal(t, 100.0, Percentage(4, 4))
}

func TestRollup_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	taskStatuses := []models.TaskStatus{models.TaskPending, models.TaskInProgress, models.TaskBlocked, models.TaskCompleted}
	// "" stands for a slot without any version
	reviewStatuses := []models.ReviewStatus{"", models.ReviewPending, models.ReviewAccepted, models.ReviewRejected}

	build := func(ts []int, rs []int) ([]*models.Task, []*models.EvidenceAsOf) {
		tasks := make([]*models.Task, 0, len(ts))
		for _, i := range ts {
			tasks = append(tasks, task(taskStatuses[i]))
		}
		ev := make([]*models.EvidenceAsOf, 0, len(rs))
		for _, i := range rs {
			ev = append(ev, evidence(reviewStatuses[i]))
		}
		return tasks, ev
	}

	properties.Property("completed iff every task completed and every slot accepted", prop.ForAll(
		func(ts []int, rs []int) bool {
			tasks, ev := build(ts, rs)
			control := models.NewControl(uuid.New(), uuid.New(), "CC-1", "Control", models.SeverityLow)
			got := Rollup(control, tasks, ev)

			done := len(tasks)+len(ev) > 0
			for _, t := range tasks {
				done = done && t.Status == models.TaskCompleted
			}
			for _, e := range ev {
				done = done && e.Current != nil && e.Current.ReviewStatus == models.ReviewAccepted
			}
			return (got.CompletionStatus == models.CompletionCompleted) == done
		},
		gen.SliceOf(gen.IntRange(0, 3)), gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.Property("not started only without activity", prop.ForAll(
		func(ts []int, rs []int) bool {
			tasks, ev := build(ts, rs)
			control := models.NewControl(uuid.New(), uuid.New(), "CC-1", "Control", models.SeverityLow)
			got := Rollup(control, tasks, ev)
			if got.CompletionStatus != models.CompletionNotStarted {
				return true
			}
			for _, t := range tasks {
				if t.Status != models.TaskPending {
					return false
				}
			}
			return got.EvidenceCount == 0
		},
		gen.SliceOf(gen.IntRange(0, 3)), gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}
