package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/store"
	"github.com/prsnl/kgraph/pkg/store/base"
)

func tripleKey(source, target string, relType common.RelationshipType) []byte {
	return key(prefixTriple, source, target, string(relType))
}

func getRelationship(txn *badger.Txn, id string) (common.Relationship, error) {
	var r common.Relationship
	err := getJSON(txn, key(prefixRel, id), &r)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return r, common.NewNotFoundError("relationship", id)
	}
	return r, err
}

// findByTriple returns the stored edge for the triple, or ok=false.
func findByTriple(txn *badger.Txn, source, target string, relType common.RelationshipType) (common.Relationship, bool, error) {
	item, err := txn.Get(tripleKey(source, target, relType))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return common.Relationship{}, false, nil
	}
	if err != nil {
		return common.Relationship{}, false, err
	}
	id, err := item.ValueCopy(nil)
	if err != nil {
		return common.Relationship{}, false, err
	}
	r, err := getRelationship(txn, string(id))
	if err != nil {
		return common.Relationship{}, false, err
	}
	return r, true, nil
}

func putRelationship(txn *badger.Txn, r common.Relationship) error {
	if err := putJSON(txn, key(prefixRel, r.ID), r); err != nil {
		return err
	}
	if err := txn.Set(key(prefixOutgoing, r.SourceEntityID, r.ID), nil); err != nil {
		return err
	}
	if err := txn.Set(key(prefixIncoming, r.TargetEntityID, r.ID), nil); err != nil {
		return err
	}
	return txn.Set(tripleKey(r.SourceEntityID, r.TargetEntityID, r.Type), []byte(r.ID))
}

// upsert merges r into the row for its triple, or inserts it.
func upsert(txn *badger.Txn, r common.Relationship, now time.Time) (common.Relationship, error) {
	existing, ok, err := findByTriple(txn, r.SourceEntityID, r.TargetEntityID, r.Type)
	if err != nil {
		return r, err
	}
	if ok {
		return base.MergeRelationship(existing, r, now), nil
	}
	return r, nil
}

func (s *GraphStore) CreateRelationship(ctx context.Context, rel common.Relationship) (string, error) {
	now := s.now()
	r, err := base.PrepareRelationship(rel, now)
	if err != nil {
		return "", err
	}

	var id string
	err = s.update(ctx, func(txn *badger.Txn) error {
		for _, eid := range []string{r.SourceEntityID, r.TargetEntityID} {
			if _, err := getEntity(txn, eid); err != nil {
				return err
			}
		}

		primary, err := upsert(txn, r, now)
		if err != nil {
			return err
		}

		// A direct write to either half of a pair carries a MirrorID after
		// the merge, so the partner is re-synced whichever side was hit.
		if primary.Bidirectional || primary.MirrorID != "" {
			mirror, ok, err := s.mirrorFor(txn, primary, now)
			if err != nil {
				return err
			}
			primary.MirrorID = ""
			if ok {
				primary.MirrorID = mirror.ID
				if err := putRelationship(txn, mirror); err != nil {
					return err
				}
			}
		}

		if err := putRelationship(txn, primary); err != nil {
			return err
		}
		id = primary.ID
		return nil
	})
	return id, err
}

// mirrorFor returns the partner row of primary, merged with whatever is
// already stored for it. ok is false when primary is not bidirectional and
// its partner no longer exists.
func (s *GraphStore) mirrorFor(txn *badger.Txn, primary common.Relationship, now time.Time) (common.Relationship, bool, error) {
	if primary.MirrorID != "" {
		existing, err := getRelationship(txn, primary.MirrorID)
		if err == nil {
			return base.SyncMirror(existing, primary, now), true, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return common.Relationship{}, false, err
		}
	}
	if !primary.Bidirectional {
		return common.Relationship{}, false, nil
	}
	existing, ok, err := findByTriple(txn, primary.TargetEntityID, primary.SourceEntityID, primary.Type)
	if err != nil {
		return common.Relationship{}, false, err
	}
	if ok {
		return base.SyncMirror(existing, primary, now), true, nil
	}
	return base.Mirror(primary), true, nil
}

func (s *GraphStore) GetRelationship(ctx context.Context, id string) (common.Relationship, error) {
	var r common.Relationship
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		r, err = getRelationship(txn, id)
		return err
	})
	return r, err
}

func (s *GraphStore) GetRelationshipsForEntity(
	ctx context.Context,
	entityID string,
	dir common.Direction,
) ([]common.Relationship, error) {
	if dir == "" {
		dir = common.DirectionOut
	}
	if !dir.Valid() {
		return nil, common.NewValidationError("direction", "unknown direction %q", dir)
	}

	var out []common.Relationship
	err := s.view(ctx, func(txn *badger.Txn) error {
		if _, err := getEntity(txn, entityID); err != nil {
			return err
		}
		var ids []string
		if dir == common.DirectionOut || dir == common.DirectionBoth {
			ids = append(ids, scanKeys(txn, indexPrefix(prefixOutgoing, entityID))...)
		}
		if dir == common.DirectionIn || dir == common.DirectionBoth {
			ids = append(ids, scanKeys(txn, indexPrefix(prefixIncoming, entityID))...)
		}
		for _, id := range store.DedupeStrings(ids) {
			r, err := getRelationship(txn, id)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	store.SortRelationships(out)
	return out, nil
}

func (s *GraphStore) DeleteRelationship(ctx context.Context, id string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return deleteRelationship(txn, id)
	})
}

// deleteRelationship removes a row, its index entries and its mirror.
func deleteRelationship(txn *badger.Txn, id string) error {
	r, err := getRelationship(txn, id)
	if err != nil {
		return err
	}
	if err := deleteRow(txn, r); err != nil {
		return err
	}
	if r.MirrorID == "" {
		return nil
	}
	m, err := getRelationship(txn, r.MirrorID)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return deleteRow(txn, m)
}

func deleteRow(txn *badger.Txn, r common.Relationship) error {
	for _, k := range [][]byte{
		key(prefixRel, r.ID),
		key(prefixOutgoing, r.SourceEntityID, r.ID),
		key(prefixIncoming, r.TargetEntityID, r.ID),
		tripleKey(r.SourceEntityID, r.TargetEntityID, r.Type),
	} {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
