package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/prsnl/kgraph/pkg/common"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

// PgJobStore keeps jobs in the processing_jobs table so status survives a
// restart. A partial unique index on content_id enforces one active job per
// content item across instances.
type PgJobStore struct {
	conn pgConn
}

var _ JobStore = (*PgJobStore)(nil)

func NewPgJobStore(conn pgConn) *PgJobStore {
	return &PgJobStore{conn: conn}
}

const jobColumns = `job_id, content_id, status, steps, steps_completed, errors, retry_count,
	max_retries, step_durations, created_at, started_at, completed_at`

func (s *PgJobStore) Create(ctx context.Context, job Job) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO processing_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.ContentID, string(job.Status), stepStrings(job.Steps), stepStrings(job.StepsCompleted),
		errorsOrEmpty(job.Errors), job.RetryCount, job.MaxRetries, durationsOrEmpty(job.StepDurations),
		job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "processing_jobs_inflight_idx" {
		return ErrContentBusy
	}
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *PgJobStore) Get(ctx context.Context, id string) (Job, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE job_id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, common.NewNotFoundError("job", id)
	}
	return job, err
}

func (s *PgJobStore) Update(ctx context.Context, job Job) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE processing_jobs
		SET status = $2, steps_completed = $3, errors = $4, retry_count = $5,
			step_durations = $6, started_at = $7, completed_at = $8
		WHERE job_id = $1`,
		job.ID, string(job.Status), stepStrings(job.StepsCompleted), errorsOrEmpty(job.Errors),
		job.RetryCount, durationsOrEmpty(job.StepDurations), job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewNotFoundError("job", job.ID)
	}
	return nil
}

func (s *PgJobStore) Active(ctx context.Context, contentID string) (Job, bool, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM processing_jobs
		WHERE content_id = $1 AND status IN ('pending', 'processing', 'retrying')`, contentID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	return job, true, nil
}

func (s *PgJobStore) List(ctx context.Context, status Status, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.conn.Query(ctx, `
		SELECT `+jobColumns+` FROM processing_jobs
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC, job_id
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *PgJobStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.conn.Query(ctx, `SELECT status, count(*) FROM processing_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Status]int, len(Statuses))
	for _, st := range Statuses {
		out[st] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (Job, error) {
	var (
		job           Job
		status        string
		steps, done   []string
		stepErrors    []StepError
		stepDurations map[Step]float64
	)
	err := row.Scan(
		&job.ID, &job.ContentID, &status, &steps, &done, &stepErrors, &job.RetryCount,
		&job.MaxRetries, &stepDurations, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return Job{}, err
	}
	job.Status = Status(status)
	job.Steps = toSteps(steps)
	job.StepsCompleted = toSteps(done)
	job.Errors = stepErrors
	job.StepDurations = stepDurations
	return job, nil
}

func stepStrings(steps []Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = string(s)
	}
	return out
}

func toSteps(in []string) []Step {
	out := make([]Step, len(in))
	for i, s := range in {
		out[i] = Step(s)
	}
	return out
}

func errorsOrEmpty(errs []StepError) []StepError {
	if errs == nil {
		return []StepError{}
	}
	return errs
}

func durationsOrEmpty(d map[Step]float64) map[Step]float64 {
	if d == nil {
		return map[Step]float64{}
	}
	return d
}
