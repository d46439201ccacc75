package badger

import (
	"context"
	"encoding/json"
	"errors"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/store"
	"github.com/prsnl/kgraph/pkg/store/base"
)

func getEntity(txn *badger.Txn, id string) (common.Entity, error) {
	var e common.Entity
	err := getJSON(txn, key(prefixEntity, id), &e)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return e, common.NewNotFoundError("entity", id)
	}
	return e, err
}

func parentLookup(txn *badger.Txn) func(string) (string, error) {
	return func(id string) (string, error) {
		e, err := getEntity(txn, id)
		if err != nil {
			return "", err
		}
		return e.ParentEntityID, nil
	}
}

func (s *GraphStore) CreateEntity(ctx context.Context, entity common.Entity) (string, error) {
	e, err := base.PrepareEntity(entity, s.now())
	if err != nil {
		return "", err
	}

	err = s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(key(prefixEntity, e.ID)); err == nil {
			return common.NewValidationError("id", "entity %q already exists", e.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := base.CheckParentChain(e.ID, e.ParentEntityID, parentLookup(txn)); err != nil {
			return err
		}

		if err := putJSON(txn, key(prefixEntity, e.ID), e); err != nil {
			return err
		}
		if err := txn.Set(key(prefixContent, e.SourceContentID, e.ID), nil); err != nil {
			return err
		}
		if e.ParentEntityID != "" {
			if err := txn.Set(key(prefixChild, e.ParentEntityID, e.ID), nil); err != nil {
				return err
			}
		}
		if len(e.Embedding) > 0 {
			return txn.Set(key(prefixEmbedding, e.ID), encodeVector(e.Embedding))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

func (s *GraphStore) UpdateEntity(ctx context.Context, id string, patch store.EntityPatch) (common.Entity, error) {
	var out common.Entity
	err := s.update(ctx, func(txn *badger.Txn) error {
		current, err := getEntity(txn, id)
		if err != nil {
			return err
		}
		next, err := base.ApplyPatch(current, patch, s.now())
		if err != nil {
			return err
		}

		if next.ParentEntityID != current.ParentEntityID {
			if err := base.CheckParentChain(next.ID, next.ParentEntityID, parentLookup(txn)); err != nil {
				return err
			}
			if current.ParentEntityID != "" {
				if err := txn.Delete(key(prefixChild, current.ParentEntityID, id)); err != nil {
					return err
				}
			}
			if next.ParentEntityID != "" {
				if err := txn.Set(key(prefixChild, next.ParentEntityID, id), nil); err != nil {
					return err
				}
			}
		}

		if err := putJSON(txn, key(prefixEntity, id), next); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

func (s *GraphStore) GetEntity(ctx context.Context, id string) (common.Entity, error) {
	var e common.Entity
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		e, err = getEntity(txn, id)
		if err != nil {
			return err
		}
		e.Embedding, err = getVector(txn, id)
		return err
	})
	return e, err
}

// QueryEntities returns matches ordered by confidence (highest first) then id.
func (s *GraphStore) QueryEntities(ctx context.Context, filter common.EntityFilter) ([]common.Entity, error) {
	var out []common.Entity
	err := s.view(ctx, func(txn *badger.Txn) error {
		if filter.SourceContentID != "" {
			for _, id := range scanKeys(txn, indexPrefix(prefixContent, filter.SourceContentID)) {
				e, err := getEntity(txn, id)
				if err != nil {
					return err
				}
				if filter.Matches(e) {
					out = append(out, e)
				}
			}
			return nil
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte{prefixEntity}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e common.Entity
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
				return err
			}
			if filter.Matches(e) {
				out = append(out, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b common.Entity) int {
		switch {
		case a.ConfidenceScore > b.ConfidenceScore:
			return -1
		case a.ConfidenceScore < b.ConfidenceScore:
			return 1
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *GraphStore) DeleteEntity(ctx context.Context, id string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		_, err := deleteEntityTree(txn, id)
		return err
	})
}

func (s *GraphStore) DeleteByContent(ctx context.Context, contentID string) (int, error) {
	var removed int
	err := s.update(ctx, func(txn *badger.Txn) error {
		removed = 0
		for _, id := range scanKeys(txn, indexPrefix(prefixContent, contentID)) {
			n, err := deleteEntityTree(txn, id)
			if errors.Is(err, common.ErrNotFound) {
				// already removed as a descendant of an earlier root
				continue
			}
			if err != nil {
				return err
			}
			removed += n
		}
		return nil
	})
	return removed, err
}

// deleteEntityTree removes id, its descendants and every relationship
// touching them. It returns the number of entities deleted.
func deleteEntityTree(txn *badger.Txn, id string) (int, error) {
	root, err := getEntity(txn, id)
	if err != nil {
		return 0, err
	}
	descendants, err := base.Descendants(id, func(parent string) ([]string, error) {
		return scanKeys(txn, indexPrefix(prefixChild, parent)), nil
	})
	if err != nil {
		return 0, err
	}

	// the root's own link to its parent is the only child key outside the tree
	if root.ParentEntityID != "" {
		if err := txn.Delete(key(prefixChild, root.ParentEntityID, id)); err != nil {
			return 0, err
		}
	}

	ids := append([]string{id}, descendants...)
	for _, eid := range ids {
		e, err := getEntity(txn, eid)
		if err != nil {
			return 0, err
		}

		relIDs := scanKeys(txn, indexPrefix(prefixOutgoing, eid))
		relIDs = append(relIDs, scanKeys(txn, indexPrefix(prefixIncoming, eid))...)
		for _, rid := range relIDs {
			if err := deleteRelationship(txn, rid); err != nil && !errors.Is(err, common.ErrNotFound) {
				return 0, err
			}
		}

		for _, child := range scanKeys(txn, indexPrefix(prefixChild, eid)) {
			if err := txn.Delete(key(prefixChild, eid, child)); err != nil {
				return 0, err
			}
		}
		if err := txn.Delete(key(prefixContent, e.SourceContentID, eid)); err != nil {
			return 0, err
		}
		if err := txn.Delete(key(prefixEmbedding, eid)); err != nil {
			return 0, err
		}
		if err := txn.Delete(key(prefixEntity, eid)); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (s *GraphStore) SetEntityEmbedding(ctx context.Context, id string, embedding []float32) error {
	if len(embedding) == 0 {
		return common.NewValidationError("embedding", "must not be empty")
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := getEntity(txn, id); err != nil {
			return err
		}
		return txn.Set(key(prefixEmbedding, id), encodeVector(embedding))
	})
}
