package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prsnl/kgraph/internal/util"
	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/store"
	"github.com/prsnl/kgraph/pkg/store/base"
)

// Single byte key prefixes. Index keys are prefix + id + 0x00 + id.
const (
	prefixEntity    = byte(0x01) // entity id -> Entity json
	prefixRel       = byte(0x02) // relationship id -> Relationship json
	prefixOutgoing  = byte(0x03) // source id, rel id -> {}
	prefixIncoming  = byte(0x04) // target id, rel id -> {}
	prefixTriple    = byte(0x05) // source, target, type -> rel id
	prefixChild     = byte(0x06) // parent id, child id -> {}
	prefixContent   = byte(0x07) // content id, entity id -> {}
	prefixEmbedding = byte(0x08) // entity id -> little endian float32s
)

const conflictRetries = 50

// GraphStore implements store.GraphStorage on an embedded Badger database.
// Badger transactions are serializable snapshots, so two writers racing on
// the same uniqueness triple conflict and the loser retries against the
// winner's row.
type GraphStore struct {
	db  *badger.DB
	now func() time.Time
}

var _ store.GraphStorage = (*GraphStore)(nil)

// Options configures Open. Dir is ignored when InMemory is set.
type Options struct {
	Dir        string
	InMemory   bool
	SyncWrites bool
}

func Open(opts Options) (*GraphStore, error) {
	badgerOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &GraphStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// OpenInMemory opens a throwaway store for tests and local runs.
func OpenInMemory() (*GraphStore, error) {
	return Open(Options{InMemory: true})
}

func (s *GraphStore) Close() error {
	return s.db.Close()
}

func (s *GraphStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return util.RetryIf(conflictRetries, func(err error) bool {
		return errors.Is(err, badger.ErrConflict)
	}, func() error {
		return s.db.Update(fn)
	})
}

func (s *GraphStore) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func key(prefix byte, parts ...string) []byte {
	n := 1
	for _, p := range parts {
		n += len(p) + 1
	}
	k := make([]byte, 0, n)
	k = append(k, prefix)
	for i, p := range parts {
		if i > 0 {
			k = append(k, 0x00)
		}
		k = append(k, p...)
	}
	return k
}

// indexPrefix returns prefix + id + 0x00 for scanning one index bucket.
func indexPrefix(prefix byte, id string) []byte {
	return append(key(prefix, id), 0x00)
}

// lastPart returns the segment after the final separator of an index key.
func lastPart(k []byte) string {
	for i := len(k) - 1; i > 0; i-- {
		if k[i] == 0x00 {
			return string(k[i+1:])
		}
	}
	return ""
}

func scanKeys(txn *badger.Txn, prefix []byte) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		out = append(out, lastPart(it.Item().KeyCopy(nil)))
	}
	return out
}

func putJSON(txn *badger.Txn, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(k, data)
}

func getJSON(txn *badger.Txn, k []byte, v any) error {
	item, err := txn.Get(k)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

func getVector(txn *badger.Txn, id string) ([]float32, error) {
	item, err := txn.Get(key(prefixEmbedding, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []float32
	err = item.Value(func(val []byte) error {
		out = decodeVector(val)
		return nil
	})
	return out, err
}

func (s *GraphStore) Snapshot(ctx context.Context) (common.Snapshot, error) {
	var snap common.Snapshot
	err := s.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		entityPrefix := []byte{prefixEntity}
		for it.Seek(entityPrefix); it.ValidForPrefix(entityPrefix); it.Next() {
			var e common.Entity
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
				return err
			}
			snap.Entities = append(snap.Entities, e)
		}

		relPrefix := []byte{prefixRel}
		for it.Seek(relPrefix); it.ValidForPrefix(relPrefix); it.Next() {
			var r common.Relationship
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &r) }); err != nil {
				return err
			}
			snap.Relationships = append(snap.Relationships, r)
		}

		for i := range snap.Entities {
			vec, err := getVector(txn, snap.Entities[i].ID)
			if err != nil {
				return err
			}
			snap.Entities[i].Embedding = vec
		}
		return nil
	})
	if err != nil {
		return common.Snapshot{}, err
	}
	store.SortEntities(snap.Entities)
	store.SortRelationships(snap.Relationships)
	return snap, nil
}

func (s *GraphStore) Stats(ctx context.Context) (common.GraphStats, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return common.GraphStats{}, err
	}
	return base.ComputeStats(snap), nil
}
