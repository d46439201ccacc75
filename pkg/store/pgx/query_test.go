package pgx

import (
	"reflect"
	"strings"
	"testing"

	"github.com/prsnl/kgraph/pkg/common"
)

func TestBuildEntityQuery(t *testing.T) {
	tests := []struct {
		name      string
		filter    common.EntityFilter
		wantWhere []string
		wantArgs  []any
	}{
		{
			name:     "no filter",
			filter:   common.EntityFilter{},
			wantArgs: nil,
		},
		{
			name: "all criteria",
			filter: common.EntityFilter{
				Types:           []common.EntityType{common.EntityCodeFunction, common.EntityCodeClass},
				SourceContentID: "c1",
				MinConfidence:   0.5,
				Text:            "50%_off",
				Limit:           10,
			},
			wantWhere: []string{
				"entity_type = ANY($1)",
				"source_content_id = $2",
				"confidence_score >= $3",
				"(name ILIKE $4 OR description ILIKE $4)",
				"LIMIT $5",
			},
			wantArgs: []any{
				[]string{"code_function", "code_class"},
				"c1",
				0.5,
				`%50\%\_off%`,
				10,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := buildEntityQuery(tt.filter)
			if !strings.Contains(sql, "ORDER BY confidence_score DESC, id") {
				t.Fatalf("missing stable ordering: %s", sql)
			}
			for _, w := range tt.wantWhere {
				if !strings.Contains(sql, w) {
					t.Fatalf("expected %q in %s", w, sql)
				}
			}
			if len(tt.wantWhere) == 0 && strings.Contains(sql, "WHERE") {
				t.Fatalf("unexpected WHERE clause: %s", sql)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Fatalf("args = %#v, want %#v", args, tt.wantArgs)
			}
		})
	}
}

func TestNullableAndJSONObject(t *testing.T) {
	if nullable("") != nil {
		t.Fatalf("empty parent must map to NULL")
	}
	if p := nullable("e1"); p == nil || *p != "e1" {
		t.Fatalf("unexpected nullable result: %v", p)
	}
	if m := jsonObject(nil); m == nil || len(m) != 0 {
		t.Fatalf("nil evidence must be stored as an empty object, got %v", m)
	}
}

func TestUpsertSQLMergesOnTriple(t *testing.T) {
	for _, want := range []string{
		"ON CONFLICT (source_entity_id, target_entity_id, relationship_type)",
		"GREATEST(relationships.confidence_score, EXCLUDED.confidence_score)",
		"relationships.evidence || EXCLUDED.evidence",
	} {
		if !strings.Contains(upsertRelationshipSQL, want) {
			t.Fatalf("upsert statement lost %q", want)
		}
	}
}

func TestPairedRow(t *testing.T) {
	for _, tt := range []struct {
		name string
		rel  common.Relationship
		want bool
	}{
		{"plain", common.Relationship{}, false},
		{"primary", common.Relationship{Bidirectional: true}, true},
		{"mirror hit directly", common.Relationship{MirrorID: "rel_1"}, true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := pairedRow(tt.rel); got != tt.want {
				t.Fatalf("pairedRow() = %v, want %v", got, tt.want)
			}
		})
	}
}
