package store

import (
	"context"
	"slices"

	"github.com/prsnl/kgraph/pkg/common"
	"golang.org/x/sync/singleflight"
)

func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// SortEntities orders entities by id so results are stable across backends.
func SortEntities(entities []common.Entity) {
	slices.SortFunc(entities, func(a, b common.Entity) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

// SortRelationships orders relationships by id.
func SortRelationships(rels []common.Relationship) {
	slices.SortFunc(rels, func(a, b common.Relationship) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

// SnapshotReader collapses concurrent Snapshot calls into one store read.
// Analytics requests arriving together share the same point-in-time copy.
type SnapshotReader struct {
	storage GraphStorage
	group   singleflight.Group
}

func NewSnapshotReader(storage GraphStorage) *SnapshotReader {
	return &SnapshotReader{storage: storage}
}

func (r *SnapshotReader) Snapshot(ctx context.Context) (common.Snapshot, error) {
	v, err, _ := r.group.Do("snapshot", func() (any, error) {
		return r.storage.Snapshot(ctx)
	})
	if err != nil {
		return common.Snapshot{}, err
	}
	return v.(common.Snapshot), nil
}

// FilterSnapshot keeps entities accepted by keep and relationships whose
// endpoints both survive and which are accepted by keepRel.
func FilterSnapshot(
	snap common.Snapshot,
	keep func(common.Entity) bool,
	keepRel func(common.Relationship) bool,
) common.Snapshot {
	out := common.Snapshot{}
	ids := make(map[string]struct{}, len(snap.Entities))
	for _, e := range snap.Entities {
		if keep != nil && !keep(e) {
			continue
		}
		ids[e.ID] = struct{}{}
		out.Entities = append(out.Entities, e)
	}
	for _, r := range snap.Relationships {
		if _, ok := ids[r.SourceEntityID]; !ok {
			continue
		}
		if _, ok := ids[r.TargetEntityID]; !ok {
			continue
		}
		if keepRel != nil && !keepRel(r) {
			continue
		}
		out.Relationships = append(out.Relationships, r)
	}
	return out
}
