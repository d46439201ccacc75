package pgx

import (
	"context"
	"time"

	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/store"
	"github.com/prsnl/kgraph/pkg/store/base"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
	BeginTx(ctx context.Context, txOptions pgxv5.TxOptions) (pgxv5.Tx, error)
}

// querier is the subset shared by a pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
}

// GraphDBStorage implements store.GraphStorage on PostgreSQL. Embeddings
// live in a pgvector column. The uniqueness triple is a UNIQUE constraint,
// so concurrent upserts of one edge serialize on the conflicting row.
type GraphDBStorage struct {
	conn pgxIConn
	now  func() time.Time
}

var _ store.GraphStorage = (*GraphDBStorage)(nil)

type GraphDBStorageOption func(*GraphDBStorage)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.now = now
	}
}

// NewGraphDBStorageWithConnection wraps an existing pool. The pool must have
// the pgvector types registered (pgxvec.RegisterTypes in AfterConnect).
func NewGraphDBStorageWithConnection(conn pgxIConn, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := &GraphDBStorage{
		conn: conn,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// Close is a no-op; the pool is owned by the caller.
func (s *GraphDBStorage) Close() error {
	return nil
}

// withTx runs fn in a read-committed transaction and commits on success.
func (s *GraphDBStorage) withTx(ctx context.Context, fn func(tx pgxv5.Tx) error) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Snapshot reads entities and relationships in one repeatable-read,
// read-only transaction so both lists come from the same point in time.
func (s *GraphDBStorage) Snapshot(ctx context.Context) (common.Snapshot, error) {
	tx, err := s.conn.BeginTx(ctx, pgxv5.TxOptions{
		IsoLevel:   pgxv5.RepeatableRead,
		AccessMode: pgxv5.ReadOnly,
	})
	if err != nil {
		return common.Snapshot{}, err
	}
	defer tx.Rollback(ctx)

	var snap common.Snapshot
	snap.Entities, err = queryEntities(ctx, tx, "SELECT "+entityColumns+", embedding FROM entities ORDER BY id", nil, true)
	if err != nil {
		return common.Snapshot{}, err
	}
	snap.Relationships, err = queryRelationships(ctx, tx, "SELECT "+relationshipColumns+" FROM relationships ORDER BY id")
	if err != nil {
		return common.Snapshot{}, err
	}
	return snap, tx.Commit(ctx)
}

func (s *GraphDBStorage) Stats(ctx context.Context) (common.GraphStats, error) {
	tx, err := s.conn.BeginTx(ctx, pgxv5.TxOptions{
		IsoLevel:   pgxv5.RepeatableRead,
		AccessMode: pgxv5.ReadOnly,
	})
	if err != nil {
		return common.GraphStats{}, err
	}
	defer tx.Rollback(ctx)

	var snap common.Snapshot
	rows, err := tx.Query(ctx, `SELECT id, entity_type, confidence_score FROM entities`)
	if err != nil {
		return common.GraphStats{}, err
	}
	for rows.Next() {
		var e common.Entity
		var typ string
		if err := rows.Scan(&e.ID, &typ, &e.ConfidenceScore); err != nil {
			rows.Close()
			return common.GraphStats{}, err
		}
		e.Type = common.EntityType(typ)
		snap.Entities = append(snap.Entities, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return common.GraphStats{}, err
	}

	rows, err = tx.Query(ctx, `SELECT id, source_entity_id, target_entity_id, relationship_type FROM relationships`)
	if err != nil {
		return common.GraphStats{}, err
	}
	for rows.Next() {
		var r common.Relationship
		var typ string
		if err := rows.Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID, &typ); err != nil {
			rows.Close()
			return common.GraphStats{}, err
		}
		r.Type = common.RelationshipType(typ)
		snap.Relationships = append(snap.Relationships, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return common.GraphStats{}, err
	}

	return base.ComputeStats(snap), tx.Commit(ctx)
}
