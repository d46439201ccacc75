// Package pipeline runs the per-content processing steps (analysis,
// categorization, summarization, extraction, embeddings) on a bounded worker
// pool and records each job's progress.
package pipeline

import (
	"fmt"
	"slices"
	"time"

	"github.com/prsnl/kgraph/pkg/common"
)

type Step string

const (
	StepAnalysis       Step = "ai_analysis"
	StepCategorization Step = "categorization"
	StepSummarization  Step = "summarization"
	StepExtraction     Step = "entity_extraction"
	StepEmbeddings     Step = "embeddings"
)

// DefaultSteps is the full pipeline in execution order.
var DefaultSteps = []Step{StepAnalysis, StepCategorization, StepSummarization, StepExtraction, StepEmbeddings}

func (s Step) Valid() bool {
	return slices.Contains(DefaultSteps, s)
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
	StatusCancelled  Status = "cancelled"
)

var Statuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRetrying, StatusCancelled}

// Active reports whether a job in status s still holds its content id.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusProcessing || s == StatusRetrying
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StepError is a failure scoped to one step of one attempt.
type StepError struct {
	Step    Step      `json:"step"`
	Message string    `json:"message"`
	Attempt int       `json:"attempt"`
	At      time.Time `json:"at"`
}

func (e StepError) String() string {
	return fmt.Sprintf("%s: %s", e.Step, e.Message)
}

type Job struct {
	ID             string           `json:"job_id"`
	ContentID      string           `json:"content_id"`
	Status         Status           `json:"status"`
	Steps          []Step           `json:"steps"`
	StepsCompleted []Step           `json:"steps_completed"`
	Errors         []StepError      `json:"errors"`
	RetryCount     int              `json:"retry_count"`
	MaxRetries     int              `json:"max_retries"`
	StepDurations  map[Step]float64 `json:"step_durations_ms"`
	CreatedAt      time.Time        `json:"created_at"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

func (j *Job) clone() Job {
	out := *j
	out.Steps = slices.Clone(j.Steps)
	out.StepsCompleted = slices.Clone(j.StepsCompleted)
	out.Errors = slices.Clone(j.Errors)
	if j.StepDurations != nil {
		out.StepDurations = make(map[Step]float64, len(j.StepDurations))
		for k, v := range j.StepDurations {
			out.StepDurations[k] = v
		}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// start moves the job into processing. StartedAt is only ever set once.
func (j *Job) start(now time.Time) {
	j.Status = StatusProcessing
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
}

// finish moves the job into a terminal status. CompletedAt is only ever set
// once, even when a finished job is retried and finishes again.
func (j *Job) finish(status Status, now time.Time) {
	j.Status = status
	if j.CompletedAt == nil {
		j.CompletedAt = &now
	}
}

// outcome is the terminal status after all pending steps were attempted.
func (j *Job) outcome() Status {
	if len(j.StepsCompleted) == 0 {
		return StatusFailed
	}
	return StatusCompleted
}

// pendingSteps lists the configured steps that have not completed, in order.
func (j *Job) pendingSteps() []Step {
	var out []Step
	for _, s := range j.Steps {
		if !slices.Contains(j.StepsCompleted, s) {
			out = append(out, s)
		}
	}
	return out
}

// failedSteps lists the steps with a recorded error that never completed,
// in configured order.
func (j *Job) failedSteps() []Step {
	var out []Step
	for _, s := range j.Steps {
		if slices.Contains(j.StepsCompleted, s) {
			continue
		}
		if slices.ContainsFunc(j.Errors, func(e StepError) bool { return e.Step == s }) {
			out = append(out, s)
		}
	}
	return out
}

func (j *Job) recordSuccess(s Step, d time.Duration) {
	if !slices.Contains(j.StepsCompleted, s) {
		j.StepsCompleted = append(j.StepsCompleted, s)
	}
	j.recordDuration(s, d)
}

func (j *Job) recordFailure(s Step, err error, d time.Duration, now time.Time) {
	j.Errors = append(j.Errors, StepError{Step: s, Message: err.Error(), Attempt: j.RetryCount, At: now})
	j.recordDuration(s, d)
}

func (j *Job) recordDuration(s Step, d time.Duration) {
	if j.StepDurations == nil {
		j.StepDurations = make(map[Step]float64)
	}
	j.StepDurations[s] = float64(d.Microseconds()) / 1000
}

// retryable reports whether Retry may run the job again. Only failed jobs
// qualify; a completed job keeps its partial failures.
func (j *Job) retryable() bool {
	return j.Status == StatusFailed && len(j.failedSteps()) > 0
}

// Summary is the observability record attached to a content item.
type Summary struct {
	JobID          string   `json:"job_id"`
	Status         Status   `json:"status"`
	StepsCompleted []Step   `json:"steps_completed"`
	Errors         []string `json:"errors"`
	SuccessRate    float64  `json:"success_rate"`
	Outputs        *Outputs `json:"outputs,omitempty"`
}

// Outputs are the results of the steps that completed in the latest run.
type Outputs struct {
	Category             string    `json:"category,omitempty"`
	Subcategory          string    `json:"subcategory,omitempty"`
	Tags                 []string  `json:"tags,omitempty"`
	Summary              string    `json:"summary,omitempty"`
	KeyPoints            []string  `json:"key_points,omitempty"`
	Sentiment            string    `json:"sentiment,omitempty"`
	EntitiesCreated      int       `json:"entities_created"`
	EntitiesMerged       int       `json:"entities_merged"`
	RelationshipsCreated int       `json:"relationships_created"`
	Embedding            []float32 `json:"-"`
}

// over fills the fields o left empty from prev. Within one job a step
// succeeds at most once, so the outputs of an earlier attempt never conflict
// with the latest one.
func (o Outputs) over(prev Outputs) Outputs {
	if o.Category == "" {
		o.Category, o.Subcategory = prev.Category, prev.Subcategory
	}
	if len(o.Tags) == 0 {
		o.Tags = prev.Tags
	}
	if o.Summary == "" {
		o.Summary = prev.Summary
	}
	if len(o.KeyPoints) == 0 {
		o.KeyPoints = prev.KeyPoints
	}
	if o.Sentiment == "" {
		o.Sentiment = prev.Sentiment
	}
	if o.EntitiesCreated == 0 && o.EntitiesMerged == 0 && o.RelationshipsCreated == 0 {
		o.EntitiesCreated = prev.EntitiesCreated
		o.EntitiesMerged = prev.EntitiesMerged
		o.RelationshipsCreated = prev.RelationshipsCreated
	}
	if len(o.Embedding) == 0 {
		o.Embedding = prev.Embedding
	}
	return o
}

// mergeSummary folds the outputs of an earlier save of the same job into
// next, so a resumed job does not drop what its first attempt produced.
func mergeSummary(prev, next Summary) Summary {
	if prev.JobID != next.JobID || prev.Outputs == nil {
		return next
	}
	if next.Outputs == nil {
		next.Outputs = prev.Outputs
		return next
	}
	merged := next.Outputs.over(*prev.Outputs)
	next.Outputs = &merged
	return next
}

func (j *Job) Summary() Summary {
	errs := make([]string, len(j.Errors))
	for i, e := range j.Errors {
		errs[i] = e.String()
	}
	rate := 0.0
	if len(j.Steps) > 0 {
		rate = float64(len(j.StepsCompleted)) / float64(len(j.Steps))
	}
	return Summary{
		JobID:          j.ID,
		Status:         j.Status,
		StepsCompleted: slices.Clone(j.StepsCompleted),
		Errors:         errs,
		SuccessRate:    rate,
	}
}

// Err describes a finished job that did not run cleanly: a
// PartialPipelineFailure for a completed job with failed steps, or
// JobExhaustedRetries for a failed job with no retries left.
func (j *Job) Err() error {
	switch j.Status {
	case StatusCompleted:
		failed := j.failedSteps()
		if len(failed) == 0 {
			return nil
		}
		names := make([]string, len(failed))
		for i, s := range failed {
			names[i] = string(s)
		}
		return &common.PartialPipelineFailure{JobID: j.ID, FailedSteps: names}
	case StatusFailed:
		if j.RetryCount >= j.MaxRetries {
			return &common.JobExhaustedRetries{JobID: j.ID, Retries: j.RetryCount}
		}
	}
	return nil
}

// normalizeSteps validates steps and drops duplicates, keeping the given
// order. Empty input selects DefaultSteps.
func normalizeSteps(steps []Step) ([]Step, error) {
	if len(steps) == 0 {
		return slices.Clone(DefaultSteps), nil
	}
	var out []Step
	for _, s := range steps {
		if !s.Valid() {
			return nil, common.NewValidationError("steps", "unknown step %q", s)
		}
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out, nil
}

// prepareRetry clears the errors of the steps about to run again and moves
// the job into retrying.
func (j *Job) prepareRetry() []Step {
	steps := j.failedSteps()
	j.Errors = slices.DeleteFunc(j.Errors, func(e StepError) bool { return slices.Contains(steps, e.Step) })
	j.RetryCount++
	j.Status = StatusRetrying
	return steps
}
