package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/prsnl/kgraph/internal/metrics"
	"github.com/prsnl/kgraph/internal/timing"
	"github.com/prsnl/kgraph/internal/util"
	"github.com/prsnl/kgraph/pkg/ai"
	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/graph"
	"github.com/prsnl/kgraph/pkg/leaselock"
	"github.com/prsnl/kgraph/pkg/logger"
	"github.com/prsnl/kgraph/pkg/store"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultWorkers         = 10
	DefaultQueueSize       = 1000
	DefaultMaxRetries      = 3
	DefaultStepTimeout     = 60 * time.Second
	DefaultSummaryMinChars = 500
	MaxBatchSize           = 100

	defaultEmbedConcurrency = 4
)

var ErrQueueFull = errors.New("processing queue is full")

type Options struct {
	Workers         int
	QueueSize       int
	MaxRetries      int
	StepTimeout     time.Duration
	Budgets         Budgets
	SummaryMinChars int
	// EmbedConcurrency bounds entity embedding calls across all workers.
	EmbedConcurrency int
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.StepTimeout <= 0 {
		o.StepTimeout = DefaultStepTimeout
	}
	if o.Budgets == (Budgets{}) {
		o.Budgets = DefaultBudgets()
	}
	if o.SummaryMinChars < 0 {
		o.SummaryMinChars = 0
	}
	if o.EmbedConcurrency <= 0 {
		o.EmbedConcurrency = defaultEmbedConcurrency
	}
	return o
}

// DefaultOptions returns the pipeline defaults. MaxRetries is only applied
// through here since zero is a valid setting.
func DefaultOptions() Options {
	return Options{
		Workers:         DefaultWorkers,
		QueueSize:       DefaultQueueSize,
		MaxRetries:      DefaultMaxRetries,
		StepTimeout:     DefaultStepTimeout,
		Budgets:         DefaultBudgets(),
		SummaryMinChars: DefaultSummaryMinChars,
	}
}

// Deps are the collaborators of an Orchestrator. Leases, Events, Retries and
// Metrics are optional.
type Deps struct {
	Jobs      JobStore
	Content   ContentSource
	Sink      MetadataSink
	Client    ai.GraphAIClient
	Extractor *graph.Extractor
	Store     store.GraphStorage

	Leases  *leaselock.Client
	Events  Publisher
	Retries RetryScheduler
	Metrics *metrics.Collector
}

// Orchestrator owns the job queue and the worker pool. Job state only
// changes under stateMu, either by the worker holding the job or by
// Cancel/Retry before a worker claimed it.
type Orchestrator struct {
	opts  Options
	deps  Deps
	steps map[Step]stepFunc
	queue chan string

	enqueueMu sync.Mutex
	stateMu   sync.Mutex
	cancelled map[string]bool

	running int
	runMu   sync.Mutex
	timings *timing.Tracker

	now   func() time.Time
	newID func() string
}

func New(opts Options, deps Deps) (*Orchestrator, error) {
	if deps.Jobs == nil || deps.Content == nil || deps.Client == nil || deps.Store == nil {
		return nil, errors.New("pipeline: jobs, content, client and store are required")
	}
	opts = opts.withDefaults()
	if deps.Sink == nil {
		deps.Sink = NewMemorySink()
	}
	if deps.Extractor == nil {
		deps.Extractor = graph.NewExtractor(deps.Store, deps.Client, graph.DefaultOptions())
	}
	runner := &stepRunner{
		client:          deps.Client,
		extractor:       deps.Extractor,
		store:           deps.Store,
		budgets:         opts.Budgets,
		summaryMinChars: opts.SummaryMinChars,
		embedSem:        semaphore.NewWeighted(int64(opts.EmbedConcurrency)),
	}
	return &Orchestrator{
		opts:      opts,
		deps:      deps,
		steps:     runner.funcs(),
		queue:     make(chan string, opts.QueueSize),
		cancelled: make(map[string]bool),
		timings:   timing.NewTracker(timing.DefaultWindow),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return util.NewPrefixedID("job") },
	}, nil
}

// Run starts the workers and blocks until ctx is done. Jobs left pending or
// retrying by an earlier process are queued again first.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.requeue(ctx); err != nil {
		logger.Warn("[Pipeline] Failed to requeue unfinished jobs", "err", err)
	}
	logger.Info("[Pipeline] Starting workers", "workers", o.opts.Workers, "queue_size", o.opts.QueueSize)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < o.opts.Workers; i++ {
		g.Go(func() error {
			o.worker(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) requeue(ctx context.Context) error {
	for _, st := range []Status{StatusPending, StatusRetrying} {
		jobs, err := o.deps.Jobs.List(ctx, st, 0)
		if err != nil {
			return err
		}
		slices.Reverse(jobs)
		for _, j := range jobs {
			select {
			case o.queue <- j.ID:
			default:
				return ErrQueueFull
			}
		}
	}
	return nil
}

func (o *Orchestrator) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-o.queue:
			o.observeQueue()
			o.process(ctx, id)
		}
	}
}

// Enqueue creates a job for contentID. When the content item already has an
// active job that job is returned with coalesced set and nothing is queued.
func (o *Orchestrator) Enqueue(ctx context.Context, contentID string, steps []Step) (Job, bool, error) {
	if contentID == "" {
		return Job{}, false, common.NewValidationError("content_id", "must not be empty")
	}
	steps, err := normalizeSteps(steps)
	if err != nil {
		return Job{}, false, err
	}

	o.enqueueMu.Lock()
	defer o.enqueueMu.Unlock()

	if existing, ok, err := o.deps.Jobs.Active(ctx, contentID); err != nil {
		return Job{}, false, err
	} else if ok {
		o.coalesced(existing)
		return existing, true, nil
	}

	job := Job{
		ID:         o.newID(),
		ContentID:  contentID,
		Status:     StatusPending,
		Steps:      steps,
		MaxRetries: o.opts.MaxRetries,
		CreatedAt:  o.now(),
	}
	if err := o.deps.Jobs.Create(ctx, job); err != nil {
		if !errors.Is(err, ErrContentBusy) {
			return Job{}, false, err
		}
		// Another instance created a job between Active and Create.
		existing, ok, aerr := o.deps.Jobs.Active(ctx, contentID)
		if aerr != nil {
			return Job{}, false, aerr
		}
		if !ok {
			return Job{}, false, err
		}
		o.coalesced(existing)
		return existing, true, nil
	}

	if err := o.push(job.ID); err != nil {
		o.stateMu.Lock()
		job.finish(StatusCancelled, o.now())
		if uerr := o.deps.Jobs.Update(context.WithoutCancel(ctx), job); uerr != nil {
			logger.Error("[Pipeline] Failed to cancel unqueued job", "job_id", job.ID, "err", uerr)
		}
		o.stateMu.Unlock()
		return Job{}, false, err
	}
	logger.Debug("[Pipeline] Job queued", "job_id", job.ID, "content_id", contentID, "steps", len(steps))
	return job, false, nil
}

func (o *Orchestrator) coalesced(j Job) {
	logger.Debug("[Pipeline] Coalesced enqueue", "job_id", j.ID, "content_id", j.ContentID, "status", j.Status)
	if o.deps.Metrics != nil {
		o.deps.Metrics.JobsCoalesced.Inc()
	}
}

func (o *Orchestrator) push(id string) error {
	select {
	case o.queue <- id:
		o.observeQueue()
		return nil
	default:
		return ErrQueueFull
	}
}

func (o *Orchestrator) observeQueue() {
	if o.deps.Metrics != nil {
		o.deps.Metrics.QueueDepth.Set(float64(len(o.queue)))
	}
}

func (o *Orchestrator) Status(ctx context.Context, jobID string) (Job, error) {
	return o.deps.Jobs.Get(ctx, jobID)
}

// Cancel cancels a queued job at once. A processing job stops before its
// next step; the running step finishes first.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (Job, error) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	job, err := o.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	switch job.Status {
	case StatusPending, StatusRetrying:
		job.finish(StatusCancelled, o.now())
		if err := o.deps.Jobs.Update(ctx, job); err != nil {
			return Job{}, err
		}
		logger.Info("[Pipeline] Job cancelled", "job_id", job.ID, "content_id", job.ContentID)
		o.finished(ctx, &job, nil)
		return job, nil
	case StatusProcessing:
		o.cancelled[job.ID] = true
		logger.Info("[Pipeline] Cancellation requested", "job_id", job.ID, "content_id", job.ContentID)
		return job, nil
	default:
		return Job{}, common.NewValidationError("status", "job %s is already %s", job.ID, job.Status)
	}
}

// Retry queues the failed steps of a failed job again.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) (Job, error) {
	o.enqueueMu.Lock()
	defer o.enqueueMu.Unlock()
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	job, err := o.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if !job.retryable() {
		return Job{}, common.NewValidationError("status", "job %s is %s, only failed jobs can be retried", job.ID, job.Status)
	}
	if job.RetryCount >= job.MaxRetries {
		return Job{}, &common.JobExhaustedRetries{JobID: job.ID, Retries: job.RetryCount}
	}
	if other, ok, err := o.deps.Jobs.Active(ctx, job.ContentID); err != nil {
		return Job{}, err
	} else if ok {
		return Job{}, common.NewValidationError("content_id", "content %s already has active job %s", job.ContentID, other.ID)
	}

	steps := job.prepareRetry()
	if err := o.deps.Jobs.Update(ctx, job); err != nil {
		return Job{}, err
	}
	if err := o.push(job.ID); err != nil {
		return Job{}, err
	}
	logger.Info("[Pipeline] Job retry queued", "job_id", job.ID, "attempt", job.RetryCount, "steps", steps)
	return job, nil
}

// claim moves a queued job into processing. It returns false when the job
// was cancelled or picked up elsewhere in the meantime.
func (o *Orchestrator) claim(ctx context.Context, id string) (Job, bool, error) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	job, err := o.deps.Jobs.Get(ctx, id)
	if err != nil {
		return Job{}, false, err
	}
	if job.Status != StatusPending && job.Status != StatusRetrying {
		return job, false, nil
	}
	job.start(o.now())
	if err := o.deps.Jobs.Update(ctx, job); err != nil {
		return Job{}, false, err
	}
	return job, true, nil
}

func (o *Orchestrator) cancelRequested(id string) bool {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.cancelled[id]
}

func (o *Orchestrator) process(ctx context.Context, id string) {
	peek, err := o.deps.Jobs.Get(ctx, id)
	if err != nil {
		logger.Error("[Pipeline] Failed to load job", "job_id", id, "err", err)
		return
	}
	if peek.Status != StatusPending && peek.Status != StatusRetrying {
		return
	}

	jobCtx := ctx
	if o.deps.Leases != nil {
		lease, err := o.deps.Leases.Acquire(ctx, leaselock.ContentKey(peek.ContentID))
		if errors.Is(err, leaselock.ErrBusy) {
			logger.Debug("[Pipeline] Content leased elsewhere, skipping", "job_id", id, "content_id", peek.ContentID)
			return
		}
		if err != nil {
			logger.Error("[Pipeline] Failed to acquire content lease", "job_id", id, "err", err)
			return
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("[Pipeline] Failed to release content lease", "job_id", id, "err", err)
			}
		}()
		// Steps stop on shutdown and on a lost lease alike.
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(lease.Context(), cancel)
		defer stop()
	}

	job, ok, err := o.claim(jobCtx, id)
	if err != nil {
		logger.Error("[Pipeline] Failed to claim job", "job_id", id, "err", err)
		return
	}
	if !ok {
		return
	}

	o.setRunning(1)
	defer o.setRunning(-1)
	o.execute(jobCtx, &job)
}

func (o *Orchestrator) setRunning(delta int) {
	o.runMu.Lock()
	o.running += delta
	n := o.running
	o.runMu.Unlock()
	if o.deps.Metrics != nil {
		o.deps.Metrics.ActiveWorkers.Set(float64(n))
	}
}

func (o *Orchestrator) execute(ctx context.Context, job *Job) {
	logger.Info("[Pipeline] Processing job", "job_id", job.ID, "content_id", job.ContentID, "attempt", job.RetryCount)
	pending := job.pendingSteps()

	item, err := o.deps.Content.Content(ctx, job.ContentID)
	if err != nil {
		if ctx.Err() != nil {
			o.interrupt(job)
			return
		}
		logger.Warn("[Pipeline] Content unavailable", "job_id", job.ID, "content_id", job.ContentID, "err", err)
		now := o.now()
		for _, s := range pending {
			job.recordFailure(s, fmt.Errorf("content unavailable: %w", err), 0, now)
		}
		o.complete(ctx, job, nil, false)
		return
	}

	r := &run{job: job, item: item, text: graph.AnalyzerFor(item.Type).Prepare(item.Text)}
	cancelled := false
	for _, s := range pending {
		if o.cancelRequested(job.ID) {
			cancelled = true
			break
		}
		if ctx.Err() != nil {
			o.interrupt(job)
			return
		}
		if !o.runStep(ctx, r, s) {
			o.interrupt(job)
			return
		}
		if err := o.deps.Jobs.Update(ctx, *job); err != nil {
			logger.Warn("[Pipeline] Failed to save step progress", "job_id", job.ID, "step", s, "err", err)
		}
	}
	o.complete(ctx, job, r, cancelled)
}

// interrupt puts a job back in the queue state it was claimed from when the
// process shuts down mid-job, so the next Run picks it up again.
func (o *Orchestrator) interrupt(job *Job) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	job.Status = StatusPending
	if job.RetryCount > 0 {
		job.Status = StatusRetrying
	}
	if err := o.deps.Jobs.Update(context.Background(), *job); err != nil {
		logger.Error("[Pipeline] Failed to release interrupted job", "job_id", job.ID, "err", err)
		return
	}
	logger.Info("[Pipeline] Job interrupted", "job_id", job.ID, "content_id", job.ContentID)
}

// runStep runs one step under the step timeout. Failures are recorded on the
// job and never propagate. It returns false when ctx ended during the step,
// in which case nothing is recorded.
func (o *Orchestrator) runStep(ctx context.Context, r *run, s Step) bool {
	fn, ok := o.steps[s]
	if !ok {
		r.job.recordFailure(s, fmt.Errorf("no implementation for step %q", s), 0, o.now())
		return true
	}

	stepCtx, cancel := context.WithTimeout(ctx, o.opts.StepTimeout)
	start := time.Now()
	err := o.safeCall(stepCtx, fn, r)
	timedOut := errors.Is(stepCtx.Err(), context.DeadlineExceeded)
	cancel()
	d := time.Since(start)
	if err != nil && ctx.Err() != nil {
		return false
	}

	if err != nil {
		if timedOut {
			err = common.NewUpstreamServiceError(string(s), fmt.Errorf("timed out after %s", o.opts.StepTimeout))
		}
		r.job.recordFailure(s, err, d, o.now())
		logger.Warn("[Pipeline] Step failed", "job_id", r.job.ID, "step", s, "duration", d, "err", err)
	} else {
		r.job.recordSuccess(s, d)
		o.timings.Add(string(s), d)
		logger.Debug("[Pipeline] Step completed", "job_id", r.job.ID, "step", s, "duration", d)
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.ObserveStep(string(s), err == nil, d)
	}
	return true
}

func (o *Orchestrator) safeCall(ctx context.Context, fn stepFunc, r *run) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("step panicked: %v", p)
		}
	}()
	return fn(ctx, r)
}

func (o *Orchestrator) complete(ctx context.Context, job *Job, r *run, cancelled bool) {
	o.stateMu.Lock()
	delete(o.cancelled, job.ID)
	status := job.outcome()
	if cancelled {
		status = StatusCancelled
	}
	job.finish(status, o.now())
	if err := o.deps.Jobs.Update(context.WithoutCancel(ctx), *job); err != nil {
		logger.Error("[Pipeline] Failed to save finished job", "job_id", job.ID, "err", err)
	}
	o.stateMu.Unlock()

	switch err := job.Err(); {
	case err != nil && status == StatusCompleted:
		logger.Warn("[Pipeline] Job completed with failures", "job_id", job.ID, "err", err)
	case err != nil:
		logger.Error("[Pipeline] Job failed", "job_id", job.ID, "err", err)
	default:
		logger.Info("[Pipeline] Job finished", "job_id", job.ID, "status", status, "steps_completed", len(job.StepsCompleted))
	}
	o.finished(ctx, job, r)

	if status == StatusFailed && job.RetryCount < job.MaxRetries && o.deps.Retries != nil {
		if err := o.deps.Retries.ScheduleRetry(context.WithoutCancel(ctx), *job); err != nil {
			logger.Warn("[Pipeline] Failed to schedule retry", "job_id", job.ID, "err", err)
		}
	}
}

// finished writes the summary, publishes the lifecycle event and counts the
// job. r is nil when no step ran.
func (o *Orchestrator) finished(ctx context.Context, job *Job, r *run) {
	ctx = context.WithoutCancel(ctx)
	summary := job.Summary()
	if r != nil {
		summary.Outputs = r.outputs()
	}
	if err := o.deps.Sink.SaveSummary(ctx, job.ContentID, summary); err != nil {
		logger.Warn("[Pipeline] Failed to save summary", "job_id", job.ID, "content_id", job.ContentID, "err", err)
	}
	if o.deps.Events != nil {
		if typ, ok := eventFor(job.Status); ok {
			ev := Event{Type: typ, JobID: job.ID, ContentID: job.ContentID, Summary: summary, At: o.now()}
			if err := o.deps.Events.Publish(ctx, ev); err != nil {
				logger.Warn("[Pipeline] Failed to publish event", "job_id", job.ID, "event", typ, "err", err)
			}
		}
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.JobsFinished.WithLabelValues(string(job.Status)).Inc()
	}
}

// BatchItem is the outcome of enqueueing one content id of a batch.
type BatchItem struct {
	ContentID string `json:"content_id"`
	JobID     string `json:"job_id,omitempty"`
	Status    Status `json:"status,omitempty"`
	Coalesced bool   `json:"coalesced"`
	Error     string `json:"error,omitempty"`
}

// BatchProcess enqueues every content id with the same steps. A failure for
// one id is reported in its item and does not stop the rest.
func (o *Orchestrator) BatchProcess(ctx context.Context, contentIDs []string, steps []Step) ([]BatchItem, error) {
	if len(contentIDs) == 0 {
		return nil, common.NewValidationError("content_ids", "must not be empty")
	}
	if len(contentIDs) > MaxBatchSize {
		return nil, common.NewValidationError("content_ids", "at most %d items per batch", MaxBatchSize)
	}
	if _, err := normalizeSteps(steps); err != nil {
		return nil, err
	}
	out := make([]BatchItem, 0, len(contentIDs))
	for _, id := range store.DedupeStrings(contentIDs) {
		item := BatchItem{ContentID: id}
		job, coalesced, err := o.Enqueue(ctx, id, steps)
		if err != nil {
			item.Error = err.Error()
		} else {
			item.JobID = job.ID
			item.Status = job.Status
			item.Coalesced = coalesced
		}
		out = append(out, item)
	}
	return out, nil
}

type QueueStatus struct {
	Pending         int     `json:"pending"`
	Processing      int     `json:"processing"`
	Retrying        int     `json:"retrying"`
	Queued          int     `json:"queued"`
	Capacity        int     `json:"capacity"`
	Workers         int     `json:"workers"`
	ActiveWorkers   int     `json:"active_workers"`
	EstimatedWaitMs float64 `json:"estimated_wait_ms"`
}

func (o *Orchestrator) QueueStatus(ctx context.Context) (QueueStatus, error) {
	counts, err := o.deps.Jobs.CountByStatus(ctx)
	if err != nil {
		return QueueStatus{}, err
	}
	o.runMu.Lock()
	running := o.running
	o.runMu.Unlock()

	waiting := counts[StatusPending] + counts[StatusRetrying]
	keys := make([]string, len(DefaultSteps))
	for i, s := range DefaultSteps {
		keys[i] = string(s)
	}
	wait := o.timings.Predict(keys, waiting, o.opts.Workers)
	return QueueStatus{
		Pending:         counts[StatusPending],
		Processing:      counts[StatusProcessing],
		Retrying:        counts[StatusRetrying],
		Queued:          len(o.queue),
		Capacity:        o.opts.QueueSize,
		Workers:         o.opts.Workers,
		ActiveWorkers:   running,
		EstimatedWaitMs: float64(wait.Microseconds()) / 1000,
	}, nil
}

type Stats struct {
	TotalJobs           int              `json:"total_jobs"`
	ByStatus            map[Status]int   `json:"by_status"`
	AverageStepDuration map[Step]float64 `json:"average_step_duration_ms"`
	AverageSuccessRate  float64          `json:"average_success_rate"`
}

// statsSample bounds how many recent finished jobs feed the averages.
const statsSample = 1000

func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	counts, err := o.deps.Jobs.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	jobs, err := o.deps.Jobs.List(ctx, "", statsSample)
	if err != nil {
		return Stats{}, err
	}

	out := Stats{ByStatus: counts, AverageStepDuration: make(map[Step]float64)}
	for _, n := range counts {
		out.TotalJobs += n
	}
	sums := make(map[Step]float64)
	samples := make(map[Step]int)
	finished := 0
	rateSum := 0.0
	for _, j := range jobs {
		for s, ms := range j.StepDurations {
			sums[s] += ms
			samples[s]++
		}
		if j.Status == StatusCompleted || j.Status == StatusFailed {
			finished++
			rateSum += j.Summary().SuccessRate
		}
	}
	for s, sum := range sums {
		out.AverageStepDuration[s] = sum / float64(samples[s])
	}
	if finished > 0 {
		out.AverageSuccessRate = rateSum / float64(finished)
	}
	return out, nil
}
