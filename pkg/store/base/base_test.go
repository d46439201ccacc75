package base

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/store"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestPrepareEntity(t *testing.T) {
	valid := common.Entity{
		Type:            common.EntityKnowledgeConcept,
		Name:            " React ",
		SourceContentID: "c1",
		ConfidenceScore: 0.9,
	}

	got, err := PrepareEntity(valid, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID == "" || got.Name != "React" || got.ExtractionMethod != common.ExtractionManual {
		t.Fatalf("unexpected prepared entity: %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("expected created_at %v, got %v", now, got.CreatedAt)
	}

	start, end := 10.0, 5.0
	tests := []struct {
		name   string
		mutate func(e *common.Entity)
		target error
	}{
		{name: "bad type", mutate: func(e *common.Entity) { e.Type = "person" }, target: common.ErrValidation},
		{name: "empty name", mutate: func(e *common.Entity) { e.Name = "  " }, target: common.ErrValidation},
		{name: "no content", mutate: func(e *common.Entity) { e.SourceContentID = "" }, target: common.ErrValidation},
		{name: "confidence", mutate: func(e *common.Entity) { e.ConfidenceScore = 1.2 }, target: common.ErrValidation},
		{name: "method", mutate: func(e *common.Entity) { e.ExtractionMethod = "guess" }, target: common.ErrValidation},
		{name: "span", mutate: func(e *common.Entity) { e.StartPosition, e.EndPosition = &start, &end }, target: common.ErrValidation},
		{name: "own parent", mutate: func(e *common.Entity) { e.ID, e.ParentEntityID = "x", "x" }, target: common.ErrCycle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			if _, err := PrepareEntity(e, now); !errors.Is(err, tt.target) {
				t.Fatalf("expected %v, got %v", tt.target, err)
			}
		})
	}
}

func TestCheckParentChain(t *testing.T) {
	// a <- b <- c   (c's parent is b, b's parent is a)
	parents := map[string]string{"a": "", "b": "a", "c": "b"}
	parentOf := func(id string) (string, error) {
		p, ok := parents[id]
		if !ok {
			return "", common.NewNotFoundError("entity", id)
		}
		return p, nil
	}

	if err := CheckParentChain("d", "c", parentOf); err != nil {
		t.Fatalf("unexpected error for fresh child: %v", err)
	}
	if err := CheckParentChain("a", "c", parentOf); !errors.Is(err, common.ErrCycle) {
		t.Fatalf("expected cycle when a becomes child of c, got %v", err)
	}
	if err := CheckParentChain("a", "missing", parentOf); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected not found for unknown parent, got %v", err)
	}
	if err := CheckParentChain("a", "", parentOf); err != nil {
		t.Fatalf("clearing a parent must always succeed, got %v", err)
	}
}

func TestDescendants(t *testing.T) {
	children := map[string][]string{"m": {"f1", "f2"}, "f1": {"s"}}
	got, err := Descendants("m", func(id string) ([]string, error) { return children[id], nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"f1", "f2", "s"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestApplyPatch(t *testing.T) {
	e := common.Entity{ID: "e1", Description: "old", ConfidenceScore: 0.5}
	desc, conf := "new", 0.8
	got, err := ApplyPatch(e, store.EntityPatch{Description: &desc, ConfidenceScore: &conf}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Description != "new" || got.ConfidenceScore != 0.8 {
		t.Fatalf("patch not applied: %+v", got)
	}

	bad := 2.0
	if _, err := ApplyPatch(e, store.EntityPatch{ConfidenceScore: &bad}, now); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	self := "e1"
	if _, err := ApplyPatch(e, store.EntityPatch{ParentEntityID: &self}, now); !errors.Is(err, common.ErrCycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestPrepareRelationshipSelfLoop(t *testing.T) {
	for _, rt := range append(common.RelationshipTypes, "bogus") {
		_, err := PrepareRelationship(common.Relationship{
			SourceEntityID:  "e1",
			TargetEntityID:  "e1",
			Type:            rt,
			ConfidenceScore: 0.5,
		}, now)
		if !errors.Is(err, common.ErrSelfRelationship) {
			t.Fatalf("type %q: expected self relationship error, got %v", rt, err)
		}
	}
}

func TestPrepareRelationshipDefaults(t *testing.T) {
	r, err := PrepareRelationship(common.Relationship{
		SourceEntityID:  "a",
		TargetEntityID:  "b",
		Type:            common.RelExplains,
		ConfidenceScore: 0.9,
		MirrorID:        "stale",
	}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Strength != DefaultStrength || r.ExtractionMethod != common.ExtractionManual || r.ID == "" {
		t.Fatalf("defaults not applied: %+v", r)
	}
	if r.MirrorID != "" {
		t.Fatalf("caller supplied mirror id must be ignored")
	}

	if _, err := PrepareRelationship(common.Relationship{SourceEntityID: "a", TargetEntityID: "b", Type: common.RelExplains, Strength: -1}, now); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error for negative strength, got %v", err)
	}
}

func TestMergeRelationship(t *testing.T) {
	existing := common.Relationship{
		ID:              "r1",
		ConfidenceScore: 0.9,
		Strength:        1,
		Evidence:        map[string]any{"a": 1},
		CreatedAt:       now.Add(-time.Hour),
	}
	incoming := common.Relationship{
		ID:              "r2",
		ConfidenceScore: 0.4,
		Strength:        2,
		Context:         "seen again",
		Evidence:        map[string]any{"b": 2},
	}

	got := MergeRelationship(existing, incoming, now)
	if got.ID != "r1" || got.ConfidenceScore != 0.9 || got.Strength != 2 {
		t.Fatalf("unexpected merge result: %+v", got)
	}
	if got.Evidence["a"] != 1 || got.Evidence["b"] != 2 {
		t.Fatalf("evidence not unioned: %v", got.Evidence)
	}
	if !got.CreatedAt.Equal(existing.CreatedAt) || !got.UpdatedAt.Equal(now) {
		t.Fatalf("timestamps not handled: %+v", got)
	}

	higher := MergeRelationship(existing, common.Relationship{ConfidenceScore: 0.95}, now)
	if higher.ConfidenceScore != 0.95 {
		t.Fatalf("expected higher confidence to win, got %v", higher.ConfidenceScore)
	}
}

func TestMirror(t *testing.T) {
	r := common.Relationship{
		ID:              "r1",
		SourceEntityID:  "a",
		TargetEntityID:  "b",
		Type:            common.RelSimilarTo,
		ConfidenceScore: 0.7,
		Bidirectional:   true,
		Evidence:        map[string]any{"k": "v"},
	}
	m := Mirror(r)
	if m.SourceEntityID != "b" || m.TargetEntityID != "a" || m.Bidirectional {
		t.Fatalf("unexpected mirror: %+v", m)
	}
	if m.Type != r.Type || m.ConfidenceScore != r.ConfidenceScore || m.MirrorID != "r1" || m.ID == "r1" {
		t.Fatalf("mirror does not track primary: %+v", m)
	}
	m.Evidence["k"] = "changed"
	if r.Evidence["k"] != "v" {
		t.Fatalf("mirror shares evidence map with primary")
	}
}

func TestComputeStats(t *testing.T) {
	snap := common.Snapshot{
		Entities: []common.Entity{
			{ID: "a", Type: common.EntityKnowledgeConcept, ConfidenceScore: 1},
			{ID: "b", Type: common.EntityKnowledgeConcept, ConfidenceScore: 0.5},
			{ID: "c", Type: common.EntityCodeFunction, ConfidenceScore: 0.6},
			{ID: "d", Type: common.EntityText, ConfidenceScore: 0.3},
		},
		Relationships: []common.Relationship{
			{ID: "r1", SourceEntityID: "a", TargetEntityID: "b", Type: common.RelExplains},
			{ID: "r2", SourceEntityID: "b", TargetEntityID: "c", Type: common.RelImplements},
		},
	}

	stats := ComputeStats(snap)
	if stats.TotalEntities != 4 || stats.TotalRelationships != 2 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	if stats.EntityTypes[common.EntityKnowledgeConcept] != 2 {
		t.Fatalf("unexpected entity type counts: %v", stats.EntityTypes)
	}
	if math.Abs(stats.AverageConfidence-0.6) > 1e-9 {
		t.Fatalf("expected average confidence 0.6, got %v", stats.AverageConfidence)
	}
	if want := 2.0 / 12.0; math.Abs(stats.GraphDensity-want) > 1e-9 {
		t.Fatalf("expected density %v, got %v", want, stats.GraphDensity)
	}
	if stats.ConnectedComponents != 2 {
		t.Fatalf("expected 2 components, got %d", stats.ConnectedComponents)
	}
}

func TestComponentsDeterministic(t *testing.T) {
	ids := []string{"e", "d", "c", "b", "a"}
	rels := []common.Relationship{
		{SourceEntityID: "e", TargetEntityID: "a", ConfidenceScore: 0.9},
		{SourceEntityID: "c", TargetEntityID: "d", ConfidenceScore: 0.2},
	}
	got := Components(ids, rels, func(r common.Relationship) bool { return r.ConfidenceScore >= 0.5 })
	if len(got) != 4 {
		t.Fatalf("expected 4 components, got %v", got)
	}
	if got[0][0] != "a" || got[0][1] != "e" || got[1][0] != "b" {
		t.Fatalf("unexpected component order: %v", got)
	}
}
