package visual

import (
	"errors"
	"testing"
	"time"

	"github.com/prsnl/kgraph/pkg/common"
)

var base = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func ent(id, content string, typ common.EntityType, c float64, age int) common.Entity {
	return common.Entity{
		ID: id, Name: "name-" + id, Type: typ, SourceContentID: content,
		ConfidenceScore: c, CreatedAt: base.Add(time.Duration(age) * time.Hour),
	}
}

func rel(id, s, t string, typ common.RelationshipType, c float64) common.Relationship {
	return common.Relationship{ID: id, SourceEntityID: s, TargetEntityID: t, Type: typ, ConfidenceScore: c, Strength: 0.7}
}

// c1: A, B   c2: C   c3: D, E
// A-B, B-C, C-D, D-E, A-F(low confidence entity)
func snapshot() common.Snapshot {
	return common.Snapshot{
		Entities: []common.Entity{
			ent("A", "c1", common.EntityKnowledgeConcept, 0.9, 1),
			ent("B", "c1", common.EntityCodeFunction, 0.8, 2),
			ent("C", "c2", common.EntityKnowledgeConcept, 0.8, 3),
			ent("D", "c3", common.EntityText, 0.7, 4),
			ent("E", "c3", common.EntityText, 0.6, 5),
			ent("F", "c3", common.EntityText, 0.2, 6),
		},
		Relationships: []common.Relationship{
			rel("r1", "A", "B", common.RelExplains, 0.9),
			rel("r2", "B", "C", common.RelImplements, 0.8),
			rel("r3", "C", "D", common.RelRelatedTo, 0.7),
			rel("r4", "D", "E", common.RelBuildsOn, 0.6),
			rel("r5", "A", "F", common.RelRelatedTo, 0.9),
			{ID: "r6", MirrorID: "r2m", SourceEntityID: "C", TargetEntityID: "B", Type: common.RelImplements, ConfidenceScore: 0.8},
		},
	}
}

func nodeIDs(g Graph) []string {
	out := make([]string, len(g.Nodes))
	for i, n := range g.Nodes {
		out[i] = n.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFull(t *testing.T) {
	g, err := Full(snapshot(), FullParams{})
	if err != nil {
		t.Fatalf("Full() error = %v", err)
	}
	// B and C tie on confidence, C is newer.
	if want := []string{"A", "C", "B", "D", "E"}; !equal(nodeIDs(g), want) {
		t.Fatalf("nodes = %v, want %v", nodeIDs(g), want)
	}
	if len(g.Edges) != 4 {
		t.Fatalf("edges = %+v", g.Edges)
	}
	if g.Metadata.TotalNodes != 5 || g.Metadata.EntityTypes[common.EntityText] != 2 || g.Metadata.RelationshipTypes[common.RelImplements] != 1 {
		t.Fatalf("metadata = %+v", g.Metadata)
	}
}

func TestFullFilters(t *testing.T) {
	tests := []struct {
		name      string
		params    FullParams
		wantNodes []string
		wantEdges int
	}{
		{"entity type", FullParams{EntityType: common.EntityText}, []string{"D", "E"}, 1},
		{"relationship type", FullParams{RelationshipType: common.RelExplains}, []string{"A", "C", "B", "D", "E"}, 1},
		{"limit", FullParams{Limit: 10, MinConfidence: 0.75}, []string{"A", "C", "B"}, 2},
		{"low confidence", FullParams{MinConfidence: 0.1}, []string{"A", "C", "B", "D", "E", "F"}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Full(snapshot(), tt.params)
			if err != nil {
				t.Fatalf("Full() error = %v", err)
			}
			if !equal(nodeIDs(g), tt.wantNodes) || len(g.Edges) != tt.wantEdges {
				t.Fatalf("nodes = %v edges = %d", nodeIDs(g), len(g.Edges))
			}
		})
	}
}

func TestItem(t *testing.T) {
	g, err := Item(snapshot(), ItemParams{ItemID: "c1", Depth: 2})
	if err != nil {
		t.Fatalf("Item() error = %v", err)
	}
	if want := []string{"A", "B", "C", "D"}; !equal(nodeIDs(g), want) {
		t.Fatalf("nodes = %v, want %v", nodeIDs(g), want)
	}
	depths := map[string]int{}
	for _, n := range g.Nodes {
		depths[n.ID] = n.Depth
		if n.IsCenter != (n.SourceContentID == "c1") {
			t.Fatalf("node %s is_center = %v", n.ID, n.IsCenter)
		}
	}
	if depths["C"] != 1 || depths["D"] != 2 {
		t.Fatalf("depths = %v", depths)
	}
	if len(g.Edges) != 3 || g.Metadata.CenterItemID != "c1" || g.Metadata.Depth != 2 {
		t.Fatalf("graph = %+v", g)
	}

	shallow, err := Item(snapshot(), ItemParams{ItemID: "c1", Depth: 1})
	if err != nil {
		t.Fatalf("Item() error = %v", err)
	}
	if want := []string{"A", "B", "C"}; !equal(nodeIDs(shallow), want) {
		t.Fatalf("nodes = %v, want %v", nodeIDs(shallow), want)
	}
}

func TestValidation(t *testing.T) {
	snap := snapshot()
	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"full limit too small", func() error { _, err := Full(snap, FullParams{Limit: 5}); return err }, common.ErrValidation},
		{"full limit too large", func() error { _, err := Full(snap, FullParams{Limit: 501}); return err }, common.ErrValidation},
		{"unknown entity type", func() error { _, err := Full(snap, FullParams{EntityType: "planet"}); return err }, common.ErrValidation},
		{"confidence out of range", func() error { _, err := Full(snap, FullParams{MinConfidence: 1.5}); return err }, common.ErrValidation},
		{"item depth", func() error { _, err := Item(snap, ItemParams{ItemID: "c1", Depth: 4}); return err }, common.ErrValidation},
		{"item limit", func() error { _, err := Item(snap, ItemParams{ItemID: "c1", Limit: 201}); return err }, common.ErrValidation},
		{"empty item", func() error { _, err := Item(snap, ItemParams{}); return err }, common.ErrValidation},
		{"unknown item", func() error { _, err := Item(snap, ItemParams{ItemID: "c9"}); return err }, common.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
}
