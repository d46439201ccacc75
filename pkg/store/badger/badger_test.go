package badger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/store"
)

func newTestStore(t *testing.T) *GraphStore {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustEntity(t *testing.T, s *GraphStore, e common.Entity) string {
	t.Helper()
	if e.SourceContentID == "" {
		e.SourceContentID = "content-1"
	}
	if e.Type == "" {
		e.Type = common.EntityKnowledgeConcept
	}
	if e.ConfidenceScore == 0 {
		e.ConfidenceScore = 0.8
	}
	id, err := s.CreateEntity(context.Background(), e)
	if err != nil {
		t.Fatalf("failed to create entity %q: %v", e.Name, err)
	}
	return id
}

func TestCreateAndGetEntity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id := mustEntity(t, s, common.Entity{
		Name:        "React",
		Description: "UI library",
		Metadata:    common.EntityMetadata{Concept: &common.ConceptMetadata{Domain: "web_development"}},
		Embedding:   []float32{0.1, 0.2, 0.3},
	})

	got, err := s.GetEntity(ctx, id)
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got.Name != "React" || got.Metadata.Concept == nil || got.Metadata.Concept.Domain != "web_development" {
		t.Fatalf("unexpected entity: %+v", got)
	}
	if len(got.Embedding) != 3 || got.Embedding[2] != 0.3 {
		t.Fatalf("embedding not round-tripped: %v", got.Embedding)
	}

	if _, err := s.GetEntity(ctx, "missing"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.CreateEntity(ctx, common.Entity{ID: id, Name: "dup", Type: common.EntityText, SourceContentID: "c"}); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected duplicate id to be rejected, got %v", err)
	}
}

func TestRelationshipUpsertKeepsHigherConfidence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := mustEntity(t, s, common.Entity{Name: "A"})
	b := mustEntity(t, s, common.Entity{Name: "B"})

	for _, tt := range []struct {
		name   string
		first  float64
		second float64
	}{
		{name: "lower second", first: 0.9, second: 0.4},
		{name: "higher second", first: 0.3, second: 0.7},
	} {
		t.Run(tt.name, func(t *testing.T) {
			relType := common.RelExplains
			if tt.first < tt.second {
				relType = common.RelReferences
			}
			id1, err := s.CreateRelationship(ctx, common.Relationship{
				SourceEntityID: a, TargetEntityID: b, Type: relType,
				ConfidenceScore: tt.first, Evidence: map[string]any{"first": true},
			})
			if err != nil {
				t.Fatalf("first create: %v", err)
			}
			id2, err := s.CreateRelationship(ctx, common.Relationship{
				SourceEntityID: a, TargetEntityID: b, Type: relType,
				ConfidenceScore: tt.second, Evidence: map[string]any{"second": true},
			})
			if err != nil {
				t.Fatalf("second create: %v", err)
			}
			if id1 != id2 {
				t.Fatalf("expected upsert to keep id %q, got %q", id1, id2)
			}

			rels, err := s.GetRelationshipsForEntity(ctx, a, common.DirectionOut)
			if err != nil {
				t.Fatalf("GetRelationshipsForEntity: %v", err)
			}
			var matches []common.Relationship
			for _, r := range rels {
				if r.Type == relType {
					matches = append(matches, r)
				}
			}
			if len(matches) != 1 {
				t.Fatalf("expected exactly one %s edge, got %d", relType, len(matches))
			}
			if want := max(tt.first, tt.second); matches[0].ConfidenceScore != want {
				t.Fatalf("expected confidence %v, got %v", want, matches[0].ConfidenceScore)
			}
			if matches[0].Evidence["first"] != true || matches[0].Evidence["second"] != true {
				t.Fatalf("expected evidence union, got %v", matches[0].Evidence)
			}
		})
	}
}

func TestSelfRelationshipRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := mustEntity(t, s, common.Entity{Name: "A"})

	for _, rt := range common.RelationshipTypes {
		_, err := s.CreateRelationship(ctx, common.Relationship{
			SourceEntityID: a, TargetEntityID: a, Type: rt, ConfidenceScore: 0.5,
		})
		if !errors.Is(err, common.ErrSelfRelationship) {
			t.Fatalf("type %s: expected self relationship error, got %v", rt, err)
		}
	}
}

func TestRelationshipUnknownEndpoint(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := mustEntity(t, s, common.Entity{Name: "A"})

	_, err := s.CreateRelationship(ctx, common.Relationship{
		SourceEntityID: a, TargetEntityID: "ghost", Type: common.RelRelatedTo, ConfidenceScore: 0.5,
	})
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestParentCycleRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mod := mustEntity(t, s, common.Entity{Name: "ui", Type: common.EntityCodeModule})
	fn := mustEntity(t, s, common.Entity{Name: "renderList", Type: common.EntityCodeFunction, ParentEntityID: mod})
	inner := mustEntity(t, s, common.Entity{Name: "renderItem", Type: common.EntityCodeFunction, ParentEntityID: fn})

	for _, parent := range []string{fn, inner} {
		p := parent
		if _, err := s.UpdateEntity(ctx, mod, store.EntityPatch{ParentEntityID: &p}); !errors.Is(err, common.ErrCycle) {
			t.Fatalf("expected cycle error when parenting module under %s, got %v", parent, err)
		}
	}
	self := mod
	if _, err := s.UpdateEntity(ctx, mod, store.EntityPatch{ParentEntityID: &self}); !errors.Is(err, common.ErrCycle) {
		t.Fatalf("expected cycle error for self parent, got %v", err)
	}

	if _, err := s.CreateEntity(ctx, common.Entity{
		Name: "orphan", Type: common.EntityCodeFunction, SourceContentID: "c", ParentEntityID: "missing",
	}); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected unknown parent to be rejected, got %v", err)
	}
}

func TestDeleteEntityCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mod := mustEntity(t, s, common.Entity{Name: "ui", Type: common.EntityCodeModule})
	fn := mustEntity(t, s, common.Entity{Name: "renderList", Type: common.EntityCodeFunction, ParentEntityID: mod})
	concept := mustEntity(t, s, common.Entity{Name: "Lists"})
	other := mustEntity(t, s, common.Entity{Name: "Other"})

	for _, r := range []common.Relationship{
		{SourceEntityID: fn, TargetEntityID: concept, Type: common.RelImplements, ConfidenceScore: 0.8},
		{SourceEntityID: concept, TargetEntityID: mod, Type: common.RelDescribes, ConfidenceScore: 0.6},
		{SourceEntityID: concept, TargetEntityID: other, Type: common.RelSimilarTo, ConfidenceScore: 0.6, Bidirectional: true},
	} {
		if _, err := s.CreateRelationship(ctx, r); err != nil {
			t.Fatalf("create relationship: %v", err)
		}
	}

	if err := s.DeleteEntity(ctx, mod); err != nil {
		t.Fatalf("DeleteEntity: %v", err)
	}
	if _, err := s.GetEntity(ctx, fn); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected child to be deleted, got %v", err)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	ids := snap.EntityIndex()
	for _, r := range snap.Relationships {
		if _, ok := ids[r.SourceEntityID]; !ok {
			t.Fatalf("dangling relationship %+v", r)
		}
		if _, ok := ids[r.TargetEntityID]; !ok {
			t.Fatalf("dangling relationship %+v", r)
		}
	}
	if len(snap.Entities) != 2 || len(snap.Relationships) != 2 {
		t.Fatalf("expected concept, other and the similar_to pair to survive, got %d entities %d relationships",
			len(snap.Entities), len(snap.Relationships))
	}
}

func TestBidirectionalMirror(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := mustEntity(t, s, common.Entity{Name: "A"})
	b := mustEntity(t, s, common.Entity{Name: "B"})

	id, err := s.CreateRelationship(ctx, common.Relationship{
		SourceEntityID: a, TargetEntityID: b, Type: common.RelSimilarTo,
		ConfidenceScore: 0.7, Bidirectional: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	in, err := s.GetRelationshipsForEntity(ctx, a, common.DirectionIn)
	if err != nil {
		t.Fatalf("incoming: %v", err)
	}
	if len(in) != 1 {
		t.Fatalf("expected one mirrored incoming edge, got %d", len(in))
	}
	mirror := in[0]
	if mirror.SourceEntityID != b || mirror.Bidirectional || mirror.ConfidenceScore != 0.7 || mirror.MirrorID != id {
		t.Fatalf("unexpected mirror: %+v", mirror)
	}

	// raising confidence on the primary propagates to the mirror
	if _, err := s.CreateRelationship(ctx, common.Relationship{
		SourceEntityID: a, TargetEntityID: b, Type: common.RelSimilarTo, ConfidenceScore: 0.9,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	m, err := s.GetRelationship(ctx, mirror.ID)
	if err != nil {
		t.Fatalf("get mirror: %v", err)
	}
	if m.ConfidenceScore != 0.9 {
		t.Fatalf("expected mirror confidence 0.9, got %v", m.ConfidenceScore)
	}

	if err := s.DeleteRelationship(ctx, mirror.ID); err != nil {
		t.Fatalf("delete mirror: %v", err)
	}
	both, err := s.GetRelationshipsForEntity(ctx, a, common.DirectionBoth)
	if err != nil {
		t.Fatalf("both: %v", err)
	}
	if len(both) != 0 {
		t.Fatalf("expected the pair to be deleted together, got %+v", both)
	}
}

func TestBidirectionalMirrorReverseUpsert(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := mustEntity(t, s, common.Entity{Name: "A"})
	b := mustEntity(t, s, common.Entity{Name: "B"})

	id, err := s.CreateRelationship(ctx, common.Relationship{
		SourceEntityID: a, TargetEntityID: b, Type: common.RelSimilarTo,
		ConfidenceScore: 0.5, Bidirectional: true,
		Evidence: map[string]any{"forward": "first"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// writing the reverse triple directly hits the mirror row
	mirrorID, err := s.CreateRelationship(ctx, common.Relationship{
		SourceEntityID: b, TargetEntityID: a, Type: common.RelSimilarTo,
		ConfidenceScore: 0.9,
		Evidence:        map[string]any{"reverse": "second"},
	})
	if err != nil {
		t.Fatalf("reverse upsert: %v", err)
	}
	if mirrorID == id {
		t.Fatalf("expected the reverse write to land on the mirror row")
	}

	for _, rid := range []string{id, mirrorID} {
		r, err := s.GetRelationship(ctx, rid)
		if err != nil {
			t.Fatalf("get %s: %v", rid, err)
		}
		if r.ConfidenceScore != 0.9 {
			t.Fatalf("%s: expected confidence 0.9, got %v", rid, r.ConfidenceScore)
		}
		if r.Evidence["forward"] != "first" || r.Evidence["reverse"] != "second" {
			t.Fatalf("%s: expected merged evidence, got %v", rid, r.Evidence)
		}
	}

	primary, _ := s.GetRelationship(ctx, id)
	mirror, _ := s.GetRelationship(ctx, mirrorID)
	if !primary.Bidirectional || mirror.Bidirectional {
		t.Fatalf("flags changed: primary=%v mirror=%v", primary.Bidirectional, mirror.Bidirectional)
	}
	if primary.MirrorID != mirrorID || mirror.MirrorID != id {
		t.Fatalf("pair links broken: primary->%q mirror->%q", primary.MirrorID, mirror.MirrorID)
	}

	out, err := s.GetRelationshipsForEntity(ctx, a, common.DirectionBoth)
	if err != nil {
		t.Fatalf("both: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected exactly the pair, got %d rows", len(out))
	}
}

func TestConcurrentUpsertSameTriple(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := mustEntity(t, s, common.Entity{Name: "A"})
	b := mustEntity(t, s, common.Entity{Name: "B"})

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := range 10 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CreateRelationship(ctx, common.Relationship{
				SourceEntityID: a, TargetEntityID: b, Type: common.RelBuildsOn,
				ConfidenceScore: float64(i) / 10,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent upsert failed: %v", err)
		}
	}

	rels, err := s.GetRelationshipsForEntity(ctx, a, common.DirectionOut)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("expected one edge for the triple, got %d", len(rels))
	}
	if rels[0].ConfidenceScore != 0.9 {
		t.Fatalf("expected highest confidence to survive, got %v", rels[0].ConfidenceScore)
	}
}

func TestQueryEntities(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustEntity(t, s, common.Entity{Name: "React", ConfidenceScore: 0.9, SourceContentID: "c1"})
	mustEntity(t, s, common.Entity{Name: "renderList", Type: common.EntityCodeFunction, ConfidenceScore: 0.7, SourceContentID: "c1"})
	mustEntity(t, s, common.Entity{Name: "Pandas", Description: "dataframes", ConfidenceScore: 0.5, SourceContentID: "c2"})

	tests := []struct {
		name   string
		filter common.EntityFilter
		want   []string
	}{
		{name: "all by confidence", filter: common.EntityFilter{}, want: []string{"React", "renderList", "Pandas"}},
		{name: "by content", filter: common.EntityFilter{SourceContentID: "c1"}, want: []string{"React", "renderList"}},
		{name: "by type", filter: common.EntityFilter{Types: []common.EntityType{common.EntityCodeFunction}}, want: []string{"renderList"}},
		{name: "floor", filter: common.EntityFilter{MinConfidence: 0.8}, want: []string{"React"}},
		{name: "text", filter: common.EntityFilter{Text: "DATAFRAME"}, want: []string{"Pandas"}},
		{name: "limit", filter: common.EntityFilter{Limit: 1}, want: []string{"React"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryEntities(ctx, tt.filter)
			if err != nil {
				t.Fatalf("QueryEntities: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %d results", tt.want, len(got))
			}
			for i := range tt.want {
				if got[i].Name != tt.want[i] {
					t.Fatalf("result %d: expected %s, got %s", i, tt.want[i], got[i].Name)
				}
			}
		})
	}
}

func TestDeleteByContent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := mustEntity(t, s, common.Entity{Name: "A", SourceContentID: "x"})
	mustEntity(t, s, common.Entity{Name: "A1", SourceContentID: "x", ParentEntityID: a})
	keep := mustEntity(t, s, common.Entity{Name: "B", SourceContentID: "y"})
	if _, err := s.CreateRelationship(ctx, common.Relationship{
		SourceEntityID: keep, TargetEntityID: a, Type: common.RelReferences, ConfidenceScore: 0.6,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	n, err := s.DeleteByContent(ctx, "x")
	if err != nil {
		t.Fatalf("DeleteByContent: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 entities removed, got %d", n)
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalEntities != 1 || stats.TotalRelationships != 0 {
		t.Fatalf("unexpected stats after delete: %+v", stats)
	}
}
