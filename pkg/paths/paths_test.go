package paths

import (
	"errors"
	"math"
	"testing"

	"github.com/prsnl/kgraph/pkg/common"
)

func ent(id, name string) common.Entity {
	return common.Entity{ID: id, Name: name, Type: common.EntityKnowledgeConcept, ConfidenceScore: 0.9}
}

func rel(id, s, t string, typ common.RelationshipType, c float64) common.Relationship {
	return common.Relationship{ID: id, SourceEntityID: s, TargetEntityID: t, Type: typ, ConfidenceScore: c, Strength: 1}
}

func chain() common.Snapshot {
	return common.Snapshot{
		Entities: []common.Entity{ent("A", "React"), ent("B", "useTransition"), ent("C", "renderList")},
		Relationships: []common.Relationship{
			rel("r1", "A", "B", common.RelExplains, 0.9),
			rel("r2", "B", "C", common.RelImplements, 0.8),
		},
	}
}

func ids(p Path) []string {
	out := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		out[i] = n.EntityID
	}
	return out
}

func TestFindChain(t *testing.T) {
	res, err := Find(chain(), Params{StartEntityID: "A", EndEntityID: "C", MaxDepth: 3})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if res.TotalPaths != 1 || len(res.Paths) != 1 {
		t.Fatalf("paths = %+v", res.Paths)
	}
	p := res.Paths[0]
	if got := ids(p); len(got) != 3 || got[0] != "A" || got[1] != "B" || got[2] != "C" {
		t.Fatalf("nodes = %v", got)
	}
	if math.Abs(p.TotalConfidence-0.72) > 1e-9 {
		t.Fatalf("confidence = %v, want 0.72", p.TotalConfidence)
	}
	if p.PathLength != 2 {
		t.Fatalf("length = %d", p.PathLength)
	}
	// 0.72 - 0.1 + 0.05 for the implements hop.
	if p.LearningDifficulty != Medium {
		t.Fatalf("difficulty = %s", p.LearningDifficulty)
	}
	if res.Metadata.StartEntity != "React" || res.Metadata.RelationshipsConsidered != 2 {
		t.Fatalf("metadata = %+v", res.Metadata)
	}
}

func TestFindRespectsDirectionAndDepth(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   int
	}{
		{"against direction", Params{StartEntityID: "C", EndEntityID: "A"}, 0},
		{"undirected", Params{StartEntityID: "C", EndEntityID: "A", Undirected: true}, 1},
		{"too shallow", Params{StartEntityID: "A", EndEntityID: "C", MaxDepth: 1}, 0},
		{"type filter", Params{StartEntityID: "A", EndEntityID: "C", RelationshipTypes: []common.RelationshipType{common.RelExplains}}, 0},
		{"confidence filter", Params{StartEntityID: "A", EndEntityID: "C", MinConfidence: 0.85}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Find(chain(), tt.params)
			if err != nil {
				t.Fatalf("Find() error = %v", err)
			}
			if res.TotalPaths != tt.want {
				t.Fatalf("total paths = %d, want %d", res.TotalPaths, tt.want)
			}
		})
	}
}

func TestUndirectedUsesReverseLabels(t *testing.T) {
	snap := common.Snapshot{
		Entities:      []common.Entity{ent("a", "Intro"), ent("b", "Advanced")},
		Relationships: []common.Relationship{rel("r", "a", "b", common.RelPrecedes, 0.9)},
	}
	res, err := Find(snap, Params{StartEntityID: "b", EndEntityID: "a", Undirected: true})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	e := res.Paths[0].Edges[0]
	if e.RelationshipType != common.RelFollows || !e.Reversed || e.SourceID != "b" {
		t.Fatalf("edge = %+v", e)
	}
}

func TestFindRanksPaths(t *testing.T) {
	snap := common.Snapshot{
		Entities: []common.Entity{ent("s", "S"), ent("m1", "M1"), ent("m2", "M2"), ent("e", "E")},
		Relationships: []common.Relationship{
			rel("direct", "s", "e", common.RelRelatedTo, 0.6),
			rel("s-m1", "s", "m1", common.RelRelatedTo, 0.95),
			rel("m1-e", "m1", "e", common.RelRelatedTo, 0.95),
			rel("s-m2", "s", "m2", common.RelRelatedTo, 0.7),
			rel("m2-e", "m2", "e", common.RelRelatedTo, 0.7),
		},
	}
	res, err := Find(snap, Params{StartEntityID: "s", EndEntityID: "e"})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if res.TotalPaths != 3 {
		t.Fatalf("total paths = %d", res.TotalPaths)
	}
	want := [][]string{{"s", "m1", "e"}, {"s", "e"}, {"s", "m2", "e"}}
	for i, p := range res.Paths {
		got := ids(p)
		if len(got) != len(want[i]) {
			t.Fatalf("path %d = %v, want %v", i, got, want[i])
		}
		for j := range got {
			if got[j] != want[i][j] {
				t.Fatalf("path %d = %v, want %v", i, got, want[i])
			}
		}
		if p.TotalConfidence <= 0 {
			t.Fatalf("zero confidence path returned: %+v", p)
		}
		if i > 0 && p.TotalConfidence > res.Paths[i-1].TotalConfidence {
			t.Fatalf("paths not ranked by confidence")
		}
	}
}

func TestFindCapsReturnedPaths(t *testing.T) {
	snap := common.Snapshot{Entities: []common.Entity{ent("s", "S"), ent("e", "E")}}
	for _, m := range []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"} {
		snap.Entities = append(snap.Entities, ent(m, m))
		snap.Relationships = append(snap.Relationships,
			rel("s-"+m, "s", m, common.RelRelatedTo, 0.9),
			rel(m+"-e", m, "e", common.RelRelatedTo, 0.9))
	}
	res, err := Find(snap, Params{StartEntityID: "s", EndEntityID: "e"})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if res.TotalPaths != 7 || len(res.Paths) != DefaultMaxPaths {
		t.Fatalf("total = %d returned = %d", res.TotalPaths, len(res.Paths))
	}
}

func TestFindErrors(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		target error
	}{
		{"same endpoints", Params{StartEntityID: "A", EndEntityID: "A"}, common.ErrValidation},
		{"unknown start", Params{StartEntityID: "X", EndEntityID: "A"}, common.ErrNotFound},
		{"unknown end", Params{StartEntityID: "A", EndEntityID: "X"}, common.ErrNotFound},
		{"depth too large", Params{StartEntityID: "A", EndEntityID: "C", MaxDepth: 11}, common.ErrValidation},
		{"negative confidence", Params{StartEntityID: "A", EndEntityID: "C", MinConfidence: -0.1}, common.ErrValidation},
		{"bad type", Params{StartEntityID: "A", EndEntityID: "C", RelationshipTypes: []common.RelationshipType{"loves"}}, common.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Find(chain(), tt.params); !errors.Is(err, tt.target) {
				t.Fatalf("error = %v, want %v", err, tt.target)
			}
		})
	}
}

func TestLearningDifficulty(t *testing.T) {
	tests := []struct {
		conf  float64
		nodes int
		edges []Edge
		want  Difficulty
	}{
		{0.9, 2, nil, Easy},
		{0.9, 4, nil, Medium},
		{0.5, 2, nil, Hard},
		{0.78, 2, []Edge{{RelationshipType: common.RelApplies}}, Easy},
	}
	for _, tt := range tests {
		if got := LearningDifficulty(tt.conf, tt.nodes, tt.edges); got != tt.want {
			t.Fatalf("LearningDifficulty(%v, %d) = %s, want %s", tt.conf, tt.nodes, got, tt.want)
		}
	}
}
