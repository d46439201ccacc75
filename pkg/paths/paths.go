package paths

import (
	"slices"
	"sort"
	"strings"

	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/logger"
)

const (
	DefaultMaxDepth      = 5
	MaxDepthLimit        = 10
	DefaultMinConfidence = 0.5
	DefaultMaxPaths      = 5
	// maxExpansions bounds the number of partial paths explored per search.
	maxExpansions = 200_000
)

type Params struct {
	StartEntityID     string                    `json:"start_entity_id"`
	EndEntityID       string                    `json:"end_entity_id"`
	MaxDepth          int                       `json:"max_depth"`
	RelationshipTypes []common.RelationshipType `json:"relationship_types,omitempty"`
	MinConfidence     float64                   `json:"min_confidence"`
	// Undirected also walks edges against their direction, labelled with the
	// reverse relationship.
	Undirected bool `json:"undirected"`
	MaxPaths   int  `json:"-"`
}

func (p Params) withDefaults() Params {
	if p.MaxDepth == 0 {
		p.MaxDepth = DefaultMaxDepth
	}
	if p.MinConfidence == 0 {
		p.MinConfidence = DefaultMinConfidence
	}
	if p.MaxPaths <= 0 {
		p.MaxPaths = DefaultMaxPaths
	}
	return p
}

func (p Params) validate() error {
	if strings.TrimSpace(p.StartEntityID) == "" {
		return common.NewValidationError("start_entity_id", "must not be empty")
	}
	if strings.TrimSpace(p.EndEntityID) == "" {
		return common.NewValidationError("end_entity_id", "must not be empty")
	}
	if p.StartEntityID == p.EndEntityID {
		return common.NewValidationError("end_entity_id", "must differ from start_entity_id")
	}
	if p.MaxDepth < 1 || p.MaxDepth > MaxDepthLimit {
		return common.NewValidationError("max_depth", "must be within [1,%d]", MaxDepthLimit)
	}
	if p.MinConfidence <= 0 || p.MinConfidence > 1 {
		return common.NewValidationError("min_confidence", "must be within (0,1], got %v", p.MinConfidence)
	}
	for _, t := range p.RelationshipTypes {
		if !t.Valid() {
			return common.NewValidationError("relationship_types", "unknown relationship type %q", t)
		}
	}
	return nil
}

type Node struct {
	EntityID   string            `json:"entity_id"`
	EntityName string            `json:"entity_name"`
	EntityType common.EntityType `json:"entity_type"`
	Confidence float64           `json:"confidence"`
}

type Edge struct {
	RelationshipID   string                  `json:"relationship_id"`
	SourceID         string                  `json:"source_id"`
	TargetID         string                  `json:"target_id"`
	RelationshipType common.RelationshipType `json:"relationship_type"`
	Confidence       float64                 `json:"confidence"`
	Strength         float64                 `json:"strength"`
	// Reversed marks an edge walked against the stored direction.
	Reversed bool `json:"reversed,omitempty"`
}

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

type Path struct {
	Nodes              []Node     `json:"nodes"`
	Edges              []Edge     `json:"edges"`
	TotalConfidence    float64    `json:"total_confidence"`
	PathLength         int        `json:"path_length"`
	LearningDifficulty Difficulty `json:"learning_difficulty"`
}

type Metadata struct {
	StartEntity             string                    `json:"start_entity"`
	EndEntity               string                    `json:"end_entity"`
	MaxDepth                int                       `json:"max_depth"`
	MinConfidence           float64                   `json:"min_confidence"`
	RelationshipTypes       []common.RelationshipType `json:"relationship_types"`
	Undirected              bool                      `json:"undirected"`
	RelationshipsConsidered int                       `json:"total_relationships_considered"`
	Truncated               bool                      `json:"truncated,omitempty"`
}

type Result struct {
	Paths      []Path   `json:"paths"`
	TotalPaths int      `json:"total_paths"`
	Metadata   Metadata `json:"search_metadata"`
}

type step struct {
	to   int
	edge Edge
}

type partial struct {
	nodes []int
	edges []Edge
	conf  float64
}

// Find searches snap breadth-first for simple paths from the start to the
// end entity of at most MaxDepth hops, over relationships of the allowed
// types whose confidence is at least MinConfidence. A path's confidence is
// the product of its edge confidences. At most MaxPaths paths are returned,
// most confident first, shorter first on ties. An empty result means no path
// exists; unknown or equal endpoints are errors.
func Find(snap common.Snapshot, p Params) (Result, error) {
	p = p.withDefaults()
	if err := p.validate(); err != nil {
		return Result{}, err
	}

	entities := slices.Clone(snap.Entities)
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	index := make(map[string]int, len(entities))
	for i, e := range entities {
		index[e.ID] = i
	}
	start, ok := index[p.StartEntityID]
	if !ok {
		return Result{}, common.NewNotFoundError("entity", p.StartEntityID)
	}
	end, ok := index[p.EndEntityID]
	if !ok {
		return Result{}, common.NewNotFoundError("entity", p.EndEntityID)
	}

	adj, considered := buildAdjacency(index, snap.Relationships, p)

	res := Result{Metadata: Metadata{
		StartEntity:             entities[start].Name,
		EndEntity:               entities[end].Name,
		MaxDepth:                p.MaxDepth,
		MinConfidence:           p.MinConfidence,
		RelationshipTypes:       p.RelationshipTypes,
		Undirected:              p.Undirected,
		RelationshipsConsidered: considered,
	}}

	var found []partial
	queue := []partial{{nodes: []int{start}, conf: 1}}
	expanded := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		last := cur.nodes[len(cur.nodes)-1]
		if last == end {
			found = append(found, cur)
			continue
		}
		if len(cur.edges) >= p.MaxDepth {
			continue
		}
		for _, s := range adj[last] {
			if slices.Contains(cur.nodes, s.to) {
				continue
			}
			if expanded >= maxExpansions {
				res.Metadata.Truncated = true
				break
			}
			expanded++
			queue = append(queue, partial{
				nodes: append(slices.Clone(cur.nodes), s.to),
				edges: append(slices.Clone(cur.edges), s.edge),
				conf:  cur.conf * s.edge.Confidence,
			})
		}
		if res.Metadata.Truncated {
			break
		}
	}
	if res.Metadata.Truncated {
		logger.Warn("[Paths] Search truncated", "start", p.StartEntityID, "end", p.EndEntityID, "expanded", expanded)
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].conf != found[j].conf {
			return found[i].conf > found[j].conf
		}
		return len(found[i].edges) < len(found[j].edges)
	})
	res.TotalPaths = len(found)
	for _, f := range found[:min(p.MaxPaths, len(found))] {
		res.Paths = append(res.Paths, toPath(f, entities))
	}
	return res, nil
}

// buildAdjacency lists outgoing steps per entity index, sorted by target id
// and label so the search order is stable. In undirected mode mirror rows
// and their reversed originals collapse into one step per label.
func buildAdjacency(index map[string]int, rels []common.Relationship, p Params) (map[int][]step, int) {
	type stepKey struct {
		from, to int
		label    common.RelationshipType
	}
	best := make(map[stepKey]step)
	add := func(from, to int, e Edge) {
		k := stepKey{from, to, e.RelationshipType}
		if cur, ok := best[k]; ok && (cur.edge.Confidence > e.Confidence ||
			(cur.edge.Confidence == e.Confidence && cur.edge.RelationshipID <= e.RelationshipID)) {
			return
		}
		best[k] = step{to: to, edge: e}
	}

	considered := 0
	for _, r := range rels {
		if r.ConfidenceScore < p.MinConfidence {
			continue
		}
		if len(p.RelationshipTypes) > 0 && !slices.Contains(p.RelationshipTypes, r.Type) {
			continue
		}
		s, okS := index[r.SourceEntityID]
		t, okT := index[r.TargetEntityID]
		if !okS || !okT || s == t {
			continue
		}
		considered++
		strength := r.Strength
		if strength <= 0 {
			strength = 1
		}
		add(s, t, Edge{
			RelationshipID:   r.ID,
			SourceID:         r.SourceEntityID,
			TargetID:         r.TargetEntityID,
			RelationshipType: r.Type,
			Confidence:       r.ConfidenceScore,
			Strength:         strength,
		})
		if p.Undirected {
			add(t, s, Edge{
				RelationshipID:   r.ID,
				SourceID:         r.TargetEntityID,
				TargetID:         r.SourceEntityID,
				RelationshipType: Reverse(r.Type),
				Confidence:       r.ConfidenceScore,
				Strength:         strength,
				Reversed:         true,
			})
		}
	}

	adj := make(map[int][]step)
	for k, s := range best {
		adj[k.from] = append(adj[k.from], s)
	}
	for from := range adj {
		sort.Slice(adj[from], func(i, j int) bool {
			a, b := adj[from][i], adj[from][j]
			if a.to != b.to {
				return a.to < b.to
			}
			if a.edge.RelationshipType != b.edge.RelationshipType {
				return a.edge.RelationshipType < b.edge.RelationshipType
			}
			return a.edge.Reversed != b.edge.Reversed && !a.edge.Reversed
		})
	}
	return adj, considered
}

func toPath(f partial, entities []common.Entity) Path {
	nodes := make([]Node, len(f.nodes))
	for i, n := range f.nodes {
		e := entities[n]
		nodes[i] = Node{EntityID: e.ID, EntityName: e.Name, EntityType: e.Type, Confidence: e.ConfidenceScore}
	}
	return Path{
		Nodes:              nodes,
		Edges:              f.edges,
		TotalConfidence:    round3(f.conf),
		PathLength:         len(f.edges),
		LearningDifficulty: LearningDifficulty(f.conf, len(f.nodes), f.edges),
	}
}

var complexRelationships = []common.RelationshipType{
	common.RelImplements, common.RelExtends, common.RelApplies, common.RelDemonstrates,
}

// LearningDifficulty grades a path from its confidence, penalised by 0.1 per
// node beyond two and credited 0.05 per hands-on relationship.
func LearningDifficulty(conf float64, nodes int, edges []Edge) Difficulty {
	score := conf - max(0, float64(nodes-2)*0.1)
	for _, e := range edges {
		if slices.Contains(complexRelationships, e.RelationshipType) {
			score += 0.05
		}
	}
	switch {
	case score >= 0.8:
		return Easy
	case score >= 0.6:
		return Medium
	}
	return Hard
}

var reverseLabels = map[common.RelationshipType]common.RelationshipType{
	common.RelPrecedes:     common.RelFollows,
	common.RelFollows:      common.RelPrecedes,
	common.RelContains:     common.RelPartOf,
	common.RelPartOf:       common.RelContains,
	common.RelPrerequisite: common.RelEnables,
	common.RelEnables:      common.RelPrerequisite,
	common.RelDependsOn:    common.RelEnables,
}

// Reverse returns the label of t read against its direction. Types without
// a counterpart keep their label.
func Reverse(t common.RelationshipType) common.RelationshipType {
	if r, ok := reverseLabels[t]; ok {
		return r
	}
	return t
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}
