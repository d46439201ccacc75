package pgx

import (
	"context"
	"errors"

	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/store/base"

	pgxv5 "github.com/jackc/pgx/v5"
)

const relationshipColumns = `id, COALESCE(mirror_id, ''), source_entity_id, target_entity_id, relationship_type,
	confidence_score, strength, bidirectional, context, extraction_method, evidence, metadata,
	created_at, updated_at`

// upsertRelationshipSQL merges on the uniqueness triple: the higher
// confidence wins and evidence/metadata objects are concatenated.
const upsertRelationshipSQL = `
	INSERT INTO relationships (
		id, source_entity_id, target_entity_id, relationship_type, confidence_score, strength,
		bidirectional, context, extraction_method, evidence, metadata, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	ON CONFLICT (source_entity_id, target_entity_id, relationship_type) DO UPDATE SET
		confidence_score = GREATEST(relationships.confidence_score, EXCLUDED.confidence_score),
		strength = GREATEST(relationships.strength, EXCLUDED.strength),
		bidirectional = relationships.bidirectional OR EXCLUDED.bidirectional,
		context = COALESCE(NULLIF(EXCLUDED.context, ''), relationships.context),
		evidence = relationships.evidence || EXCLUDED.evidence,
		metadata = relationships.metadata || EXCLUDED.metadata,
		updated_at = EXCLUDED.updated_at
	RETURNING ` + relationshipColumns

func jsonObject(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func scanRelationship(row pgxv5.Row) (common.Relationship, error) {
	var r common.Relationship
	var typ, method string
	err := row.Scan(
		&r.ID, &r.MirrorID, &r.SourceEntityID, &r.TargetEntityID, &typ,
		&r.ConfidenceScore, &r.Strength, &r.Bidirectional, &r.Context, &method, &r.Evidence, &r.Metadata,
		&r.CreatedAt, &r.UpdatedAt,
	)
	r.Type = common.RelationshipType(typ)
	r.ExtractionMethod = common.ExtractionMethod(method)
	if len(r.Evidence) == 0 {
		r.Evidence = nil
	}
	if len(r.Metadata) == 0 {
		r.Metadata = nil
	}
	return r, err
}

func queryRelationships(ctx context.Context, q querier, sql string, args ...any) ([]common.Relationship, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func upsertRow(ctx context.Context, q querier, r common.Relationship) (common.Relationship, error) {
	return scanRelationship(q.QueryRow(ctx, upsertRelationshipSQL,
		r.ID, r.SourceEntityID, r.TargetEntityID, string(r.Type), r.ConfidenceScore, r.Strength,
		r.Bidirectional, r.Context, string(r.ExtractionMethod), jsonObject(r.Evidence), jsonObject(r.Metadata),
		r.UpdatedAt,
	))
}

// pairedRow reports whether r is either half of a bidirectional pair after
// the upsert.
func pairedRow(r common.Relationship) bool {
	return r.Bidirectional || r.MirrorID != ""
}

func (s *GraphDBStorage) CreateRelationship(ctx context.Context, rel common.Relationship) (string, error) {
	now := s.now()
	r, err := base.PrepareRelationship(rel, now)
	if err != nil {
		return "", err
	}

	var id string
	err = s.withTx(ctx, func(tx pgxv5.Tx) error {
		for _, eid := range []string{r.SourceEntityID, r.TargetEntityID} {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM entities WHERE id = $1 FOR SHARE)`, eid,
			).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return common.NewNotFoundError("entity", eid)
			}
		}

		primary, err := upsertRow(ctx, tx, r)
		if err != nil {
			return err
		}
		id = primary.ID
		if !pairedRow(primary) {
			return nil
		}

		// The mirror goes through the same upsert, so an existing reverse
		// row is merged rather than duplicated and keeps its own flag. A
		// direct write to the mirror half lands here too and re-syncs the
		// primary.
		mirror, err := upsertRow(ctx, tx, base.Mirror(primary))
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE relationships SET mirror_id = CASE id WHEN $1 THEN $2 ELSE $1 END
			WHERE id IN ($1, $2)`, primary.ID, mirror.ID)
		return err
	})
	return id, err
}

func (s *GraphDBStorage) GetRelationship(ctx context.Context, id string) (common.Relationship, error) {
	r, err := scanRelationship(s.conn.QueryRow(ctx,
		"SELECT "+relationshipColumns+" FROM relationships WHERE id = $1", id))
	if errors.Is(err, pgxv5.ErrNoRows) {
		return r, common.NewNotFoundError("relationship", id)
	}
	return r, err
}

func (s *GraphDBStorage) GetRelationshipsForEntity(
	ctx context.Context,
	entityID string,
	dir common.Direction,
) ([]common.Relationship, error) {
	if dir == "" {
		dir = common.DirectionOut
	}
	var where string
	switch dir {
	case common.DirectionOut:
		where = "source_entity_id = $1"
	case common.DirectionIn:
		where = "target_entity_id = $1"
	case common.DirectionBoth:
		where = "(source_entity_id = $1 OR target_entity_id = $1)"
	default:
		return nil, common.NewValidationError("direction", "unknown direction %q", dir)
	}

	var exists bool
	if err := s.conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM entities WHERE id = $1)`, entityID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, common.NewNotFoundError("entity", entityID)
	}

	return queryRelationships(ctx, s.conn,
		"SELECT "+relationshipColumns+" FROM relationships WHERE "+where+" ORDER BY id", entityID)
}

// DeleteRelationship removes the row and its mirror together.
func (s *GraphDBStorage) DeleteRelationship(ctx context.Context, id string) error {
	tag, err := s.conn.Exec(ctx, `
		DELETE FROM relationships
		WHERE id = $1
		   OR mirror_id = $1
		   OR id = (SELECT mirror_id FROM relationships WHERE id = $1)`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return common.NewNotFoundError("relationship", id)
	}
	return nil
}
