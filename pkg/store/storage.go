package store

import (
	"context"

	"github.com/prsnl/kgraph/pkg/common"
)

// EntityPatch carries the mutable fields of an entity. Nil fields are left
// untouched.
type EntityPatch struct {
	Description     *string                `json:"description,omitempty"`
	Metadata        *common.EntityMetadata `json:"metadata,omitempty"`
	ConfidenceScore *float64               `json:"confidence_score,omitempty"`
	ParentEntityID  *string                `json:"parent_entity_id,omitempty"`
}

// GraphStorage persists entities and relationships and enforces the graph
// invariants: enum validity, confidence ranges, acyclic parent chains, no
// self-relationships and a unique (source, target, type) triple per edge.
//
// Every mutation is atomic. A bidirectional relationship and its mirror are
// written in the same transaction.
type GraphStorage interface {
	CreateEntity(ctx context.Context, entity common.Entity) (string, error)
	UpdateEntity(ctx context.Context, id string, patch EntityPatch) (common.Entity, error)
	GetEntity(ctx context.Context, id string) (common.Entity, error)
	QueryEntities(ctx context.Context, filter common.EntityFilter) ([]common.Entity, error)
	// DeleteEntity removes the entity, its descendants and every relationship
	// touching any of them.
	DeleteEntity(ctx context.Context, id string) error
	// DeleteByContent cascades DeleteEntity over every entity extracted from
	// contentID and returns how many entities were removed.
	DeleteByContent(ctx context.Context, contentID string) (int, error)
	SetEntityEmbedding(ctx context.Context, id string, embedding []float32) error

	// CreateRelationship upserts on the uniqueness triple and returns the id
	// of the stored edge.
	CreateRelationship(ctx context.Context, rel common.Relationship) (string, error)
	GetRelationship(ctx context.Context, id string) (common.Relationship, error)
	GetRelationshipsForEntity(ctx context.Context, entityID string, dir common.Direction) ([]common.Relationship, error)
	DeleteRelationship(ctx context.Context, id string) error

	// Snapshot returns a consistent point-in-time copy of the whole graph,
	// including entity embeddings.
	Snapshot(ctx context.Context) (common.Snapshot, error)
	Stats(ctx context.Context) (common.GraphStats, error)

	Close() error
}
