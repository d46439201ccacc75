package pipeline

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/prsnl/kgraph/pkg/common"
)

func TestNormalizeSteps(t *testing.T) {
	tests := []struct {
		name    string
		in      []Step
		want    []Step
		wantErr bool
	}{
		{"empty selects defaults", nil, DefaultSteps, false},
		{"keeps caller order", []Step{StepEmbeddings, StepAnalysis}, []Step{StepEmbeddings, StepAnalysis}, false},
		{"drops duplicates", []Step{StepSummarization, StepSummarization}, []Step{StepSummarization}, false},
		{"unknown step", []Step{StepAnalysis, "ocr"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeSteps(tt.in)
			if tt.wantErr {
				if !errors.Is(err, common.ErrValidation) {
					t.Fatalf("normalizeSteps() error = %v, want validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizeSteps() error = %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Fatalf("normalizeSteps() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJobLifecycleHelpers(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j := &Job{ID: "job_1", Steps: slices.Clone(DefaultSteps), MaxRetries: 3}

	j.start(t0)
	j.recordSuccess(StepAnalysis, 1500*time.Microsecond)
	j.recordFailure(StepCategorization, errors.New("boom"), time.Millisecond, t0)
	j.recordSuccess(StepSummarization, 0)
	j.recordFailure(StepEmbeddings, errors.New("slow"), time.Millisecond, t0)
	j.finish(j.outcome(), t0)

	if j.Status != StatusCompleted {
		t.Fatalf("status = %s", j.Status)
	}
	if j.StepDurations[StepAnalysis] != 1.5 {
		t.Fatalf("duration = %v, want 1.5ms", j.StepDurations[StepAnalysis])
	}
	if got := j.pendingSteps(); !slices.Equal(got, []Step{StepCategorization, StepExtraction, StepEmbeddings}) {
		t.Fatalf("pendingSteps() = %v", got)
	}
	if got := j.failedSteps(); !slices.Equal(got, []Step{StepCategorization, StepEmbeddings}) {
		t.Fatalf("failedSteps() = %v", got)
	}
	if !j.retryable() {
		t.Fatalf("completed job with failed steps should be retryable")
	}

	sum := j.Summary()
	if sum.SuccessRate != 0.4 {
		t.Fatalf("success rate = %v, want 0.4", sum.SuccessRate)
	}
	if !slices.Equal(sum.Errors, []string{"categorization: boom", "embeddings: slow"}) {
		t.Fatalf("summary errors = %v", sum.Errors)
	}
	var partial *common.PartialPipelineFailure
	if !errors.As(j.Err(), &partial) || len(partial.FailedSteps) != 2 {
		t.Fatalf("Err() = %v", j.Err())
	}

	steps := j.prepareRetry()
	if !slices.Equal(steps, []Step{StepCategorization, StepEmbeddings}) {
		t.Fatalf("prepareRetry() = %v", steps)
	}
	if j.Status != StatusRetrying || j.RetryCount != 1 || len(j.Errors) != 0 {
		t.Fatalf("after prepareRetry: %+v", j)
	}

	later := t0.Add(time.Hour)
	j.start(later)
	j.finish(StatusCompleted, later)
	if !j.StartedAt.Equal(t0) || !j.CompletedAt.Equal(t0) {
		t.Fatalf("timestamps moved: started %v completed %v", j.StartedAt, j.CompletedAt)
	}
}

func TestJobOutcome(t *testing.T) {
	tests := []struct {
		name      string
		completed []Step
		want      Status
	}{
		{"nothing completed", nil, StatusFailed},
		{"one step completed", []Step{StepEmbeddings}, StatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := Job{Steps: DefaultSteps, StepsCompleted: tt.completed}
			if got := j.outcome(); got != tt.want {
				t.Fatalf("outcome() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestJobRetryable(t *testing.T) {
	failedErr := []StepError{{Step: StepAnalysis, Message: "x"}}
	tests := []struct {
		name string
		job  Job
		want bool
	}{
		{"failed", Job{Status: StatusFailed, Steps: []Step{StepAnalysis}, Errors: failedErr}, true},
		{"completed clean", Job{Status: StatusCompleted, Steps: []Step{StepAnalysis}, StepsCompleted: []Step{StepAnalysis}}, false},
		{"completed with failed steps", Job{
			Status: StatusCompleted, Steps: []Step{StepAnalysis, StepEmbeddings},
			StepsCompleted: []Step{StepAnalysis}, Errors: []StepError{{Step: StepEmbeddings, Message: "x"}},
		}, false},
		{"cancelled", Job{Status: StatusCancelled, Steps: []Step{StepAnalysis}, Errors: failedErr}, false},
		{"processing", Job{Status: StatusProcessing, Steps: []Step{StepAnalysis}, Errors: failedErr}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.job.retryable(); got != tt.want {
				t.Fatalf("retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMemorySinkKeepsEarlierOutputsOfSameJob(t *testing.T) {
	ctx := context.Background()
	first := Summary{JobID: "job_1", Outputs: &Outputs{
		Category: "Programming", Summary: "React basics", Tags: []string{"react"}, EntitiesCreated: 2,
	}}
	resumed := Summary{JobID: "job_1", Outputs: &Outputs{Embedding: []float32{1, 0}}}
	other := Summary{JobID: "job_2", Outputs: &Outputs{Embedding: []float32{0, 1}}}

	tests := []struct {
		name         string
		saves        []Summary
		wantCategory string
		wantEntities int
		wantEmbed    int
	}{
		{"resumed job keeps earlier steps", []Summary{first, resumed}, "Programming", 2, 2},
		{"new job replaces", []Summary{first, other}, "", 0, 2},
		{"run without outputs keeps them", []Summary{first, {JobID: "job_1"}}, "Programming", 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := NewMemorySink()
			for _, sum := range tt.saves {
				if err := sink.SaveSummary(ctx, "c1", sum); err != nil {
					t.Fatalf("SaveSummary() error = %v", err)
				}
			}
			got, _ := sink.Summary("c1")
			if got.Outputs == nil {
				t.Fatalf("outputs dropped")
			}
			if got.Outputs.Category != tt.wantCategory || got.Outputs.EntitiesCreated != tt.wantEntities {
				t.Fatalf("outputs = %+v", got.Outputs)
			}
			if len(got.Outputs.Embedding) != tt.wantEmbed {
				t.Fatalf("embedding = %v", got.Outputs.Embedding)
			}
		})
	}
}

func TestMemoryJobStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := s.Create(ctx, Job{ID: "a", ContentID: "c1", Status: StatusPending, CreatedAt: t0}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Create(ctx, Job{ID: "b", ContentID: "c1", Status: StatusPending, CreatedAt: t0}); !errors.Is(err, ErrContentBusy) {
		t.Fatalf("second active job error = %v, want ErrContentBusy", err)
	}
	if err := s.Create(ctx, Job{ID: "a", ContentID: "c2", Status: StatusPending}); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("duplicate id error = %v", err)
	}

	job, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	job.Status = StatusCompleted
	job.StepsCompleted = append(job.StepsCompleted, StepAnalysis)
	if err := s.Update(ctx, job); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if _, ok, _ := s.Active(ctx, "c1"); ok {
		t.Fatalf("completed job still active")
	}
	if err := s.Create(ctx, Job{ID: "b", ContentID: "c1", Status: StatusPending, CreatedAt: t0.Add(time.Minute)}); err != nil {
		t.Fatalf("Create() after completion error = %v", err)
	}

	// Mutating a returned job must not leak into the store.
	job.StepsCompleted[0] = StepEmbeddings
	stored, _ := s.Get(ctx, "a")
	if stored.StepsCompleted[0] != StepAnalysis {
		t.Fatalf("store shares memory with callers")
	}

	list, _ := s.List(ctx, "", 0)
	if len(list) != 2 || list[0].ID != "b" {
		t.Fatalf("List() = %+v, want newest first", list)
	}
	pending, _ := s.List(ctx, StatusPending, 1)
	if len(pending) != 1 || pending[0].ID != "b" {
		t.Fatalf("List(pending) = %+v", pending)
	}
	counts, _ := s.CountByStatus(ctx)
	if counts[StatusPending] != 1 || counts[StatusCompleted] != 1 || counts[StatusFailed] != 0 {
		t.Fatalf("CountByStatus() = %v", counts)
	}
	if _, err := s.Get(ctx, "zzz"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("Get(unknown) error = %v", err)
	}
	if err := s.Update(ctx, Job{ID: "zzz"}); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("Update(unknown) error = %v", err)
	}
}
