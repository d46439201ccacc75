package suggest

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/textsim"
)

const (
	DefaultLimit         = 10
	MaxLimit             = 50
	DefaultMinConfidence = 0.6

	// candidateFloor is the similarity below which an entity without shared
	// domain or content is not considered at all.
	candidateFloor = 0.3
	// similarityFloor keeps weak but compatible pairs from scoring zero.
	similarityFloor = 0.4
	contextBonus    = 0.1
	maxPatternBoost = 0.1
)

type Params struct {
	EntityID          string                    `json:"entity_id"`
	Limit             int                       `json:"limit"`
	MinConfidence     float64                   `json:"min_confidence"`
	RelationshipTypes []common.RelationshipType `json:"relationship_types,omitempty"`
	ExcludeExisting   bool                      `json:"exclude_existing"`
}

type SuggestedRelationship struct {
	SourceEntityID      string                  `json:"source_entity_id"`
	TargetEntityID      string                  `json:"target_entity_id"`
	SourceEntityName    string                  `json:"source_entity_name"`
	TargetEntityName    string                  `json:"target_entity_name"`
	Type                common.RelationshipType `json:"suggested_relationship"`
	ConfidenceScore     float64                 `json:"confidence_score"`
	SemanticSimilarity  float64                 `json:"semantic_similarity"`
	ExistingConnections int                     `json:"existing_connections"`
	Reasoning           string                  `json:"reasoning"`
}

func (p Params) validate() error {
	if strings.TrimSpace(p.EntityID) == "" {
		return common.NewValidationError("entity_id", "must not be empty")
	}
	if p.Limit < 1 || p.Limit > MaxLimit {
		return common.NewValidationError("limit", "must be within [1,%d]", MaxLimit)
	}
	if err := common.ValidateConfidence("min_confidence", p.MinConfidence); err != nil {
		return err
	}
	for _, t := range p.RelationshipTypes {
		if !t.Valid() {
			return common.NewValidationError("relationship_types", "unknown relationship type %q", t)
		}
	}
	return nil
}

// Suggest proposes relationships between the entity p.EntityID and the rest
// of snap. Candidates share a domain or a content item with the entity, or
// are similar enough by embedding or text. Each candidate yields at most one
// suggestion: the best compatible relationship type in either direction. The
// snapshot is never modified.
func Suggest(snap common.Snapshot, p Params) ([]SuggestedRelationship, error) {
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	idx := snap.EntityIndex()
	subject, ok := idx[p.EntityID]
	if !ok {
		return nil, common.NewNotFoundError("entity", p.EntityID)
	}

	existing := make(map[common.Triple]struct{}, len(snap.Relationships))
	connections := make(map[string]int)
	patterns := make(map[patternKey]int)
	for _, r := range snap.Relationships {
		existing[r.Triple()] = struct{}{}
		if r.Touches(subject.ID) && !isMirror(r) {
			connections[r.Other(subject.ID)]++
		}
		src, okS := idx[r.SourceEntityID]
		dst, okT := idx[r.TargetEntityID]
		if okS && okT && !isMirror(r) {
			patterns[patternKey{src.Type, dst.Type, r.Type}]++
		}
	}

	subjectDomain := textsim.Domain(subject.Name, subject.Description)

	var out []SuggestedRelationship
	for _, cand := range snap.Entities {
		if cand.ID == subject.ID {
			continue
		}
		sim := textsim.Entities(subject, cand)
		bonus := 0.0
		if d := textsim.Domain(cand.Name, cand.Description); d == subjectDomain && d != textsim.GeneralDomain {
			bonus += contextBonus
		}
		if cand.SourceContentID != "" && cand.SourceContentID == subject.SourceContentID {
			bonus += contextBonus
		}
		if bonus == 0 && sim < candidateFloor {
			continue
		}
		signal := max(similarityFloor, min(1, sim+bonus))

		best, found := SuggestedRelationship{}, false
		consider := func(src, dst common.Entity) {
			rules, ok := compatibility[typePair{src.Type, dst.Type}]
			if !ok {
				rules = []rule{fallback}
			}
			for _, rl := range rules {
				if rl.cue != nil && !rl.cue(src, dst) {
					continue
				}
				if len(p.RelationshipTypes) > 0 && !slices.Contains(p.RelationshipTypes, rl.typ) {
					continue
				}
				if p.ExcludeExisting && exists(existing, src.ID, dst.ID, rl.typ) {
					continue
				}
				boost := min(maxPatternBoost, float64(patterns[patternKey{src.Type, dst.Type, rl.typ}])/100)
				conf := round3(min(1, rl.base*signal+boost))
				if found && conf <= best.ConfidenceScore {
					continue
				}
				best, found = SuggestedRelationship{
					SourceEntityID:     src.ID,
					TargetEntityID:     dst.ID,
					SourceEntityName:   src.Name,
					TargetEntityName:   dst.Name,
					Type:               rl.typ,
					ConfidenceScore:    conf,
					SemanticSimilarity: round3(sim),
					Reasoning:          fmt.Sprintf("%s (semantic similarity: %.2f)", rl.reasoning, sim),
				}, true
			}
		}
		consider(subject, cand)
		consider(cand, subject)
		if !found || best.ConfidenceScore < p.MinConfidence {
			continue
		}
		best.ExistingConnections = connections[cand.ID]
		out = append(out, best)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConfidenceScore != out[j].ConfidenceScore {
			return out[i].ConfidenceScore > out[j].ConfidenceScore
		}
		if out[i].SemanticSimilarity != out[j].SemanticSimilarity {
			return out[i].SemanticSimilarity > out[j].SemanticSimilarity
		}
		return counterpart(out[i], subject.ID) < counterpart(out[j], subject.ID)
	})
	return out[:min(p.Limit, len(out))], nil
}

type patternKey struct {
	source common.EntityType
	target common.EntityType
	typ    common.RelationshipType
}

// exists treats a relationship of the same type in either direction as
// already present.
func exists(existing map[common.Triple]struct{}, a, b string, typ common.RelationshipType) bool {
	if _, ok := existing[common.Triple{Source: a, Target: b, Type: typ}]; ok {
		return true
	}
	_, ok := existing[common.Triple{Source: b, Target: a, Type: typ}]
	return ok
}

// isMirror reports whether r is the swapped copy of a bidirectional edge.
func isMirror(r common.Relationship) bool {
	return r.MirrorID != "" && !r.Bidirectional
}

func counterpart(s SuggestedRelationship, subjectID string) string {
	if s.SourceEntityID == subjectID {
		return s.TargetEntityID
	}
	return s.SourceEntityID
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}
