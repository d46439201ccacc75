package pgx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/logger"
	"github.com/prsnl/kgraph/pkg/store"
	"github.com/prsnl/kgraph/pkg/store/base"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const entityColumns = `id, entity_type, source_content_id, COALESCE(parent_entity_id, ''), name,
	description, metadata, start_position, end_position, confidence_score, extraction_method,
	created_at, updated_at`

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanEntity(row pgxv5.Row, withEmbedding bool) (common.Entity, error) {
	var e common.Entity
	var typ, method string
	dest := []any{
		&e.ID, &typ, &e.SourceContentID, &e.ParentEntityID, &e.Name,
		&e.Description, &e.Metadata, &e.StartPosition, &e.EndPosition, &e.ConfidenceScore, &method,
		&e.CreatedAt, &e.UpdatedAt,
	}
	var emb *pgvector.Vector
	if withEmbedding {
		dest = append(dest, &emb)
	}
	if err := row.Scan(dest...); err != nil {
		return e, err
	}
	e.Type = common.EntityType(typ)
	e.ExtractionMethod = common.ExtractionMethod(method)
	if emb != nil {
		e.Embedding = emb.Slice()
	}
	return e, nil
}

func queryEntities(ctx context.Context, q querier, sql string, args []any, withEmbedding bool) ([]common.Entity, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.Entity
	for rows.Next() {
		e, err := scanEntity(rows, withEmbedding)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func getEntity(ctx context.Context, q querier, id string, lock bool) (common.Entity, error) {
	sql := "SELECT " + entityColumns + ", embedding FROM entities WHERE id = $1"
	if lock {
		sql += " FOR UPDATE"
	}
	e, err := scanEntity(q.QueryRow(ctx, sql, id), true)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return e, common.NewNotFoundError("entity", id)
	}
	return e, err
}

// hierarchyLockSQL serializes parent changes for the rest of the
// transaction. Two reparents that each pass the chain check at read committed
// could otherwise close a cycle together.
const hierarchyLockSQL = `SELECT pg_advisory_xact_lock(hashtext('entities.parent_entity_id'))`

const parentChainSQL = `
	WITH RECURSIVE chain(id, parent_entity_id, depth) AS (
		SELECT id, parent_entity_id, 0 FROM entities WHERE id = $1
		UNION ALL
		SELECT e.id, e.parent_entity_id, c.depth + 1
		FROM entities e JOIN chain c ON e.id = c.parent_entity_id
		WHERE c.depth < 10000 AND c.id <> $2
	)
	SELECT id, COALESCE(parent_entity_id, '') FROM chain`

// checkParent loads the ancestor chain of parentID with one recursive query
// and runs the shared cycle check over it. It must run inside the transaction
// that writes the new parent.
func checkParent(ctx context.Context, q querier, entityID, parentID string) error {
	if parentID == "" {
		return nil
	}
	if _, err := q.Exec(ctx, hierarchyLockSQL); err != nil {
		return err
	}
	rows, err := q.Query(ctx, parentChainSQL, parentID, entityID)
	if err != nil {
		return err
	}
	parents := make(map[string]string)
	for rows.Next() {
		var id, parent string
		if err := rows.Scan(&id, &parent); err != nil {
			rows.Close()
			return err
		}
		parents[id] = parent
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	return base.CheckParentChain(entityID, parentID, func(id string) (string, error) {
		p, ok := parents[id]
		if !ok {
			return "", common.NewNotFoundError("entity", id)
		}
		return p, nil
	})
}

func (s *GraphDBStorage) CreateEntity(ctx context.Context, entity common.Entity) (string, error) {
	e, err := base.PrepareEntity(entity, s.now())
	if err != nil {
		return "", err
	}

	var emb *pgvector.Vector
	if len(e.Embedding) > 0 {
		v := pgvector.NewVector(e.Embedding)
		emb = &v
	}

	err = s.withTx(ctx, func(tx pgxv5.Tx) error {
		if err := checkParent(ctx, tx, e.ID, e.ParentEntityID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO entities (
				id, entity_type, source_content_id, parent_entity_id, name, description, metadata,
				start_position, end_position, confidence_score, extraction_method, embedding,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
			ON CONFLICT (id) DO NOTHING`,
			e.ID, string(e.Type), e.SourceContentID, nullable(e.ParentEntityID), e.Name, e.Description, e.Metadata,
			e.StartPosition, e.EndPosition, e.ConfidenceScore, string(e.ExtractionMethod), emb,
			e.CreatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return common.NewValidationError("id", "entity %q already exists", e.ID)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	logger.Debug("[Store] Created entity", "id", e.ID, "type", e.Type)
	return e.ID, nil
}

func (s *GraphDBStorage) UpdateEntity(ctx context.Context, id string, patch store.EntityPatch) (common.Entity, error) {
	var out common.Entity
	err := s.withTx(ctx, func(tx pgxv5.Tx) error {
		current, err := getEntity(ctx, tx, id, true)
		if err != nil {
			return err
		}
		next, err := base.ApplyPatch(current, patch, s.now())
		if err != nil {
			return err
		}
		if next.ParentEntityID != current.ParentEntityID {
			if err := checkParent(ctx, tx, next.ID, next.ParentEntityID); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx, `
			UPDATE entities
			SET description = $2, metadata = $3, confidence_score = $4, parent_entity_id = $5, updated_at = $6
			WHERE id = $1`,
			id, next.Description, next.Metadata, next.ConfidenceScore, nullable(next.ParentEntityID), next.UpdatedAt,
		)
		out = next
		return err
	})
	return out, err
}

func (s *GraphDBStorage) GetEntity(ctx context.Context, id string) (common.Entity, error) {
	return getEntity(ctx, s.conn, id, false)
}

// buildEntityQuery renders the filter as SQL. Results are ordered by
// confidence (highest first) then id.
func buildEntityQuery(filter common.EntityFilter) (string, []any) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		where = append(where, "entity_type = ANY("+arg(types)+")")
	}
	if filter.SourceContentID != "" {
		where = append(where, "source_content_id = "+arg(filter.SourceContentID))
	}
	if filter.MinConfidence > 0 {
		where = append(where, "confidence_score >= "+arg(filter.MinConfidence))
	}
	if filter.Text != "" {
		p := arg("%" + escapeLike(filter.Text) + "%")
		where = append(where, "(name ILIKE "+p+" OR description ILIKE "+p+")")
	}

	var b strings.Builder
	b.WriteString("SELECT " + entityColumns + " FROM entities")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY confidence_score DESC, id")
	if filter.Limit > 0 {
		b.WriteString(" LIMIT " + arg(filter.Limit))
	}
	return b.String(), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *GraphDBStorage) QueryEntities(ctx context.Context, filter common.EntityFilter) ([]common.Entity, error) {
	sql, args := buildEntityQuery(filter)
	return queryEntities(ctx, s.conn, sql, args, false)
}

// DeleteEntity relies on ON DELETE CASCADE for children and relationships.
func (s *GraphDBStorage) DeleteEntity(ctx context.Context, id string) error {
	tag, err := s.conn.Exec(ctx, `DELETE FROM entities WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return common.NewNotFoundError("entity", id)
	}
	return nil
}

func (s *GraphDBStorage) DeleteByContent(ctx context.Context, contentID string) (int, error) {
	tag, err := s.conn.Exec(ctx, `
		WITH RECURSIVE tree(id) AS (
			SELECT id FROM entities WHERE source_content_id = $1
			UNION
			SELECT e.id FROM entities e JOIN tree t ON e.parent_entity_id = t.id
		)
		DELETE FROM entities WHERE id IN (SELECT id FROM tree)`, contentID)
	if err != nil {
		return 0, err
	}
	logger.Debug("[Store] Deleted content entities", "content_id", contentID, "count", tag.RowsAffected())
	return int(tag.RowsAffected()), nil
}

func (s *GraphDBStorage) SetEntityEmbedding(ctx context.Context, id string, embedding []float32) error {
	if len(embedding) == 0 {
		return common.NewValidationError("embedding", "must not be empty")
	}
	tag, err := s.conn.Exec(ctx,
		`UPDATE entities SET embedding = $2, updated_at = $3 WHERE id = $1`,
		id, pgvector.NewVector(embedding), s.now(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return common.NewNotFoundError("entity", id)
	}
	return nil
}
