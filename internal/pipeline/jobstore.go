package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/prsnl/kgraph/pkg/common"
)

// ErrContentBusy is returned by JobStore.Create when the content item already
// has an active job.
var ErrContentBusy = errors.New("content item already has an active job")

// JobStore persists processing jobs. Create must refuse a second active job
// for the same content id with ErrContentBusy.
type JobStore interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	Update(ctx context.Context, job Job) error
	// Active returns the pending, processing or retrying job of contentID.
	Active(ctx context.Context, contentID string) (Job, bool, error)
	List(ctx context.Context, status Status, limit int) ([]Job, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// MemoryJobStore keeps jobs in process memory.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

var _ JobStore = (*MemoryJobStore)(nil)

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*Job)}
}

func (s *MemoryJobStore) Create(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return common.NewValidationError("job_id", "duplicate job id %q", job.ID)
	}
	for _, j := range s.jobs {
		if j.ContentID == job.ContentID && j.Status.Active() {
			return ErrContentBusy
		}
	}
	c := job.clone()
	s.jobs[job.ID] = &c
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, common.NewNotFoundError("job", id)
	}
	return j.clone(), nil
}

func (s *MemoryJobStore) Update(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return common.NewNotFoundError("job", job.ID)
	}
	c := job.clone()
	s.jobs[job.ID] = &c
	return nil
}

func (s *MemoryJobStore) Active(_ context.Context, contentID string) (Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.jobs {
		if j.ContentID == contentID && j.Status.Active() {
			return j.clone(), true, nil
		}
	}
	return Job{}, false, nil
}

// List returns jobs newest first. An empty status matches every job and a
// limit <= 0 returns all of them.
func (s *MemoryJobStore) List(_ context.Context, status Status, limit int) ([]Job, error) {
	s.mu.RLock()
	var out []Job
	for _, j := range s.jobs {
		if status == "" || j.Status == status {
			out = append(out, j.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID < out[k].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryJobStore) CountByStatus(_ context.Context) (map[Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Status]int, len(Statuses))
	for _, st := range Statuses {
		out[st] = 0
	}
	for _, j := range s.jobs {
		out[j.Status]++
	}
	return out, nil
}
