package suggest

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/prsnl/kgraph/pkg/common"
)

func fixture() common.Snapshot {
	return common.Snapshot{
		Entities: []common.Entity{
			{ID: "k1", Name: "Machine learning", Type: common.EntityKnowledgeConcept, Embedding: []float32{1, 0, 0}},
			{ID: "k2", Name: "Neural networks", Type: common.EntityKnowledgeConcept, Embedding: []float32{0.9, 0.1, 0}},
			{ID: "f1", Name: "train_model", Description: "fits a model", Type: common.EntityCodeFunction, Embedding: []float32{0.8, 0.6, 0}},
			{ID: "x1", Name: "Sourdough", Type: common.EntityKnowledgeConcept, Embedding: []float32{0, 0, 1}},
		},
		Relationships: []common.Relationship{
			{ID: "r1", SourceEntityID: "k1", TargetEntityID: "k2", Type: common.RelPrerequisite, ConfidenceScore: 0.9},
		},
	}
}

type want struct {
	source, target string
	typ            common.RelationshipType
	conf           float64
}

func TestSuggest(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   []want
	}{
		{
			name:   "best type per candidate",
			params: Params{EntityID: "k1", MinConfidence: DefaultMinConfidence},
			want: []want{
				{"f1", "k1", common.RelImplements, 0.765},
				{"k1", "k2", common.RelRelatedTo, 0.75},
			},
		},
		{
			name:   "exclude existing",
			params: Params{EntityID: "k1", MinConfidence: DefaultMinConfidence, ExcludeExisting: true},
			want: []want{
				{"f1", "k1", common.RelImplements, 0.765},
				{"k1", "k2", common.RelRelatedTo, 0.75},
			},
		},
		{
			name: "allowed types",
			params: Params{EntityID: "k1", MinConfidence: DefaultMinConfidence,
				RelationshipTypes: []common.RelationshipType{common.RelRelatedTo}},
			want: []want{{"k1", "k2", common.RelRelatedTo, 0.75}},
		},
		{
			name: "directional type needs a cue",
			params: Params{EntityID: "k1", MinConfidence: DefaultMinConfidence,
				RelationshipTypes: []common.RelationshipType{common.RelPrerequisite}},
			want: nil,
		},
		{
			name:   "min confidence",
			params: Params{EntityID: "k1", MinConfidence: 0.76},
			want:   []want{{"f1", "k1", common.RelImplements, 0.765}},
		},
		{
			name:   "limit",
			params: Params{EntityID: "k1", MinConfidence: DefaultMinConfidence, Limit: 1},
			want:   []want{{"f1", "k1", common.RelImplements, 0.765}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Suggest(fixture(), tt.params)
			if err != nil {
				t.Fatalf("Suggest() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d suggestions, want %d: %+v", len(got), len(tt.want), got)
			}
			for i, w := range tt.want {
				s := got[i]
				if s.SourceEntityID != w.source || s.TargetEntityID != w.target || s.Type != w.typ {
					t.Fatalf("suggestion %d = %s -%s-> %s, want %s -%s-> %s",
						i, s.SourceEntityID, s.Type, s.TargetEntityID, w.source, w.typ, w.target)
				}
				if math.Abs(s.ConfidenceScore-w.conf) > 1e-3 {
					t.Fatalf("suggestion %d confidence = %v, want %v", i, s.ConfidenceScore, w.conf)
				}
				if !strings.Contains(s.Reasoning, "semantic similarity: ") {
					t.Fatalf("reasoning = %q", s.Reasoning)
				}
			}
		})
	}
}

func TestSuggestConceptPairType(t *testing.T) {
	concept := func(id, name, desc string) common.Entity {
		return common.Entity{ID: id, Name: name, Description: desc, Type: common.EntityKnowledgeConcept, SourceContentID: "c1"}
	}
	tests := []struct {
		name    string
		subject common.Entity
		other   common.Entity
		want    want
	}{
		{
			name:    "no cue",
			subject: concept("la", "Linear algebra", ""),
			other:   concept("nn", "Neural networks", ""),
			want:    want{source: "la", target: "nn", typ: common.RelRelatedTo},
		},
		{
			name:    "requires cue",
			subject: concept("la", "Linear algebra", ""),
			other:   concept("nn", "Neural networks", "Training neural networks requires linear algebra."),
			want:    want{source: "la", target: "nn", typ: common.RelPrerequisite},
		},
		{
			name:    "requires cue seen from the dependent",
			subject: concept("nn", "Neural networks", "Training neural networks requires linear algebra."),
			other:   concept("la", "Linear algebra", ""),
			want:    want{source: "la", target: "nn", typ: common.RelPrerequisite},
		},
		{
			name:    "builds on cue",
			subject: concept("tl", "Transfer learning", "Transfer learning builds on pretrained models."),
			other:   concept("pm", "Pretrained models", ""),
			want:    want{source: "tl", target: "pm", typ: common.RelBuildsOn},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := common.Snapshot{Entities: []common.Entity{tt.subject, tt.other}}
			got, err := Suggest(snap, Params{EntityID: tt.subject.ID, MinConfidence: 0.2})
			if err != nil {
				t.Fatalf("Suggest() error = %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("suggestions = %+v", got)
			}
			s := got[0]
			if s.SourceEntityID != tt.want.source || s.TargetEntityID != tt.want.target || s.Type != tt.want.typ {
				t.Fatalf("suggestion = %s -%s-> %s, want %s -%s-> %s",
					s.SourceEntityID, s.Type, s.TargetEntityID, tt.want.source, tt.want.typ, tt.want.target)
			}
		})
	}
}

func TestSuggestReportsContext(t *testing.T) {
	got, err := Suggest(fixture(), Params{EntityID: "k1", MinConfidence: DefaultMinConfidence})
	if err != nil {
		t.Fatalf("Suggest() error = %v", err)
	}
	if got[0].ExistingConnections != 0 || got[1].ExistingConnections != 1 {
		t.Fatalf("existing connections = %d, %d", got[0].ExistingConnections, got[1].ExistingConnections)
	}
	if got[1].SemanticSimilarity < 0.99 || got[1].SourceEntityName != "Machine learning" {
		t.Fatalf("suggestion = %+v", got[1])
	}
}

func TestSuggestSameContentCodeModule(t *testing.T) {
	snap := common.Snapshot{Entities: []common.Entity{
		{ID: "fn", Name: "renderList", Type: common.EntityCodeFunction, SourceContentID: "c1"},
		{ID: "mod", Name: "list_utils", Type: common.EntityCodeModule, SourceContentID: "c1"},
		{ID: "other", Name: "list_helpers", Type: common.EntityCodeModule, SourceContentID: "c2"},
	}}
	got, err := Suggest(snap, Params{EntityID: "fn", MinConfidence: 0.3})
	if err != nil {
		t.Fatalf("Suggest() error = %v", err)
	}
	if len(got) != 1 || got[0].TargetEntityID != "mod" || got[0].Type != common.RelPartOf {
		t.Fatalf("suggestions = %+v", got)
	}
}

func TestSuggestDoesNotModifySnapshot(t *testing.T) {
	snap := fixture()
	if _, err := Suggest(snap, Params{EntityID: "k1"}); err != nil {
		t.Fatalf("Suggest() error = %v", err)
	}
	if len(snap.Relationships) != 1 || len(snap.Entities) != 4 {
		t.Fatalf("snapshot modified")
	}
}

func TestSuggestErrors(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		target error
	}{
		{"unknown entity", Params{EntityID: "nope"}, common.ErrNotFound},
		{"missing entity", Params{}, common.ErrValidation},
		{"limit too large", Params{EntityID: "k1", Limit: 51}, common.ErrValidation},
		{"bad confidence", Params{EntityID: "k1", MinConfidence: 1.5}, common.ErrValidation},
		{"bad type", Params{EntityID: "k1", RelationshipTypes: []common.RelationshipType{"owns"}}, common.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Suggest(fixture(), tt.params); !errors.Is(err, tt.target) {
				t.Fatalf("error = %v, want %v", err, tt.target)
			}
		})
	}
}
