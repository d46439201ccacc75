package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/graph"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// ContentItem is the captured content a job processes. It is owned by the
// capture subsystem; the pipeline only reads it.
type ContentItem struct {
	ID    string            `json:"id"`
	Title string            `json:"title"`
	Type  graph.ContentType `json:"type"`
	Text  string            `json:"text"`
	URL   string            `json:"url,omitempty"`
}

type ContentSource interface {
	Content(ctx context.Context, id string) (ContentItem, error)
}

// MetadataSink receives the processing summary of a content item after each
// job run.
type MetadataSink interface {
	SaveSummary(ctx context.Context, contentID string, summary Summary) error
}

// MemoryContent is a ContentSource backed by a map, used by the embedded
// deployment and tests.
type MemoryContent struct {
	mu    sync.RWMutex
	items map[string]ContentItem
}

func NewMemoryContent(items ...ContentItem) *MemoryContent {
	m := &MemoryContent{items: make(map[string]ContentItem, len(items))}
	for _, it := range items {
		m.items[it.ID] = it
	}
	return m
}

func (m *MemoryContent) Put(item ContentItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
}

func (m *MemoryContent) Content(_ context.Context, id string) (ContentItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return ContentItem{}, common.NewNotFoundError("content", id)
	}
	return it, nil
}

// MemorySink keeps the latest summary per content item.
type MemorySink struct {
	mu        sync.RWMutex
	summaries map[string]Summary
}

func NewMemorySink() *MemorySink {
	return &MemorySink{summaries: make(map[string]Summary)}
}

func (m *MemorySink) SaveSummary(_ context.Context, contentID string, summary Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[contentID] = mergeSummary(m.summaries[contentID], summary)
	return nil
}

func (m *MemorySink) Summary(contentID string) (Summary, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.summaries[contentID]
	return s, ok
}

// PgSink upserts summaries into the content_processing table.
type PgSink struct {
	conn pgConn
	now  func() time.Time
}

func NewPgSink(conn pgConn) *PgSink {
	return &PgSink{conn: conn, now: func() time.Time { return time.Now().UTC() }}
}

// SaveSummary keeps the previous content embedding when this run produced
// none, and the earlier outputs of the same job.
func (s *PgSink) SaveSummary(ctx context.Context, contentID string, summary Summary) error {
	var prev Summary
	err := s.conn.QueryRow(ctx,
		`SELECT summary FROM content_processing WHERE content_id = $1 AND job_id = $2`,
		contentID, summary.JobID,
	).Scan(&prev)
	switch {
	case err == nil:
		summary = mergeSummary(prev, summary)
	case !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("failed to load processing summary: %w", err)
	}

	var embedding *pgvector.Vector
	if summary.Outputs != nil && len(summary.Outputs.Embedding) > 0 {
		v := pgvector.NewVector(summary.Outputs.Embedding)
		embedding = &v
	}
	_, err = s.conn.Exec(ctx, `
		INSERT INTO content_processing (content_id, job_id, summary, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (content_id) DO UPDATE
		SET job_id = EXCLUDED.job_id,
			summary = EXCLUDED.summary,
			embedding = COALESCE(EXCLUDED.embedding, content_processing.embedding),
			updated_at = EXCLUDED.updated_at`,
		contentID, summary.JobID, summary, embedding, s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save processing summary: %w", err)
	}
	return nil
}
