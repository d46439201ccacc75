// Package visual shapes graph snapshots into node/edge views for rendering.
package visual

import (
	"sort"
	"time"

	"github.com/prsnl/kgraph/pkg/common"
)

const (
	DefaultFullLimit     = 100
	MinFullLimit         = 10
	MaxFullLimit         = 500
	DefaultItemLimit     = 50
	MinItemLimit         = 10
	MaxItemLimit         = 200
	DefaultDepth         = 2
	MaxDepth             = 3
	DefaultMinConfidence = 0.5
)

type Node struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Type            common.EntityType `json:"type"`
	Summary         string            `json:"summary,omitempty"`
	Confidence      float64           `json:"confidence"`
	SourceContentID string            `json:"source_content_id"`
	CreatedAt       time.Time         `json:"created_at"`
	IsCenter        bool              `json:"is_center,omitempty"`
	Depth           int               `json:"depth"`
}

type Edge struct {
	ID           string                  `json:"id"`
	Source       string                  `json:"source"`
	Target       string                  `json:"target"`
	Relationship common.RelationshipType `json:"relationship"`
	Strength     float64                 `json:"strength"`
	Confidence   float64                 `json:"confidence"`
	Context      string                  `json:"context,omitempty"`
}

type Metadata struct {
	TotalNodes        int                             `json:"total_nodes"`
	TotalEdges        int                             `json:"total_edges"`
	EntityTypes       map[common.EntityType]int       `json:"entity_types"`
	RelationshipTypes map[common.RelationshipType]int `json:"relationship_types"`
	CenterItemID      string                          `json:"center_item_id,omitempty"`
	Depth             int                             `json:"depth,omitempty"`
	Filters           map[string]any                  `json:"filters,omitempty"`
}

type Graph struct {
	Nodes    []Node   `json:"nodes"`
	Edges    []Edge   `json:"edges"`
	Metadata Metadata `json:"metadata"`
}

type FullParams struct {
	EntityType       common.EntityType       `json:"entity_type,omitempty"`
	RelationshipType common.RelationshipType `json:"relationship_type,omitempty"`
	Limit            int                     `json:"limit"`
	MinConfidence    float64                 `json:"min_confidence"`
}

func (p FullParams) withDefaults() FullParams {
	if p.Limit == 0 {
		p.Limit = DefaultFullLimit
	}
	if p.MinConfidence == 0 {
		p.MinConfidence = DefaultMinConfidence
	}
	return p
}

func (p FullParams) validate() error {
	if p.EntityType != "" && !p.EntityType.Valid() {
		return common.NewValidationError("entity_type", "unknown entity type %q", p.EntityType)
	}
	if p.RelationshipType != "" && !p.RelationshipType.Valid() {
		return common.NewValidationError("relationship_type", "unknown relationship type %q", p.RelationshipType)
	}
	if p.Limit < MinFullLimit || p.Limit > MaxFullLimit {
		return common.NewValidationError("limit", "must be within [%d,%d]", MinFullLimit, MaxFullLimit)
	}
	return validateConfidence(p.MinConfidence)
}

type ItemParams struct {
	ItemID        string  `json:"item_id"`
	Depth         int     `json:"depth"`
	Limit         int     `json:"limit"`
	MinConfidence float64 `json:"min_confidence"`
}

func (p ItemParams) withDefaults() ItemParams {
	if p.Depth == 0 {
		p.Depth = DefaultDepth
	}
	if p.Limit == 0 {
		p.Limit = DefaultItemLimit
	}
	if p.MinConfidence == 0 {
		p.MinConfidence = DefaultMinConfidence
	}
	return p
}

func (p ItemParams) validate() error {
	if p.ItemID == "" {
		return common.NewValidationError("item_id", "must not be empty")
	}
	if p.Depth < 1 || p.Depth > MaxDepth {
		return common.NewValidationError("depth", "must be within [1,%d]", MaxDepth)
	}
	if p.Limit < MinItemLimit || p.Limit > MaxItemLimit {
		return common.NewValidationError("limit", "must be within [%d,%d]", MinItemLimit, MaxItemLimit)
	}
	return validateConfidence(p.MinConfidence)
}

func validateConfidence(c float64) error {
	if c < 0 || c > 1 {
		return common.NewValidationError("min_confidence", "must be within [0,1], got %v", c)
	}
	return nil
}

// Full returns the most confident entities of the graph together with the
// edges running between them.
func Full(snap common.Snapshot, p FullParams) (Graph, error) {
	p = p.withDefaults()
	if err := p.validate(); err != nil {
		return Graph{}, err
	}

	var picked []common.Entity
	for _, e := range snap.Entities {
		if e.ConfidenceScore < p.MinConfidence {
			continue
		}
		if p.EntityType != "" && e.Type != p.EntityType {
			continue
		}
		picked = append(picked, e)
	}
	sortEntities(picked)
	if len(picked) > p.Limit {
		picked = picked[:p.Limit]
	}

	nodes := make([]Node, len(picked))
	for i, e := range picked {
		nodes[i] = toNode(e, 0, false)
	}
	edges := edgesBetween(snap.Relationships, nodes, p.MinConfidence, p.RelationshipType)

	g := Graph{Nodes: nodes, Edges: edges, Metadata: metadata(nodes, edges)}
	g.Metadata.Filters = map[string]any{"limit": p.Limit, "min_confidence": p.MinConfidence}
	if p.EntityType != "" {
		g.Metadata.Filters["entity_type"] = p.EntityType
	}
	if p.RelationshipType != "" {
		g.Metadata.Filters["relationship_type"] = p.RelationshipType
	}
	return g, nil
}

// Item returns the neighbourhood of the entities extracted from one content
// item, expanded breadth first up to p.Depth hops.
func Item(snap common.Snapshot, p ItemParams) (Graph, error) {
	p = p.withDefaults()
	if err := p.validate(); err != nil {
		return Graph{}, err
	}

	var centers []common.Entity
	for _, e := range snap.Entities {
		if e.SourceContentID == p.ItemID {
			centers = append(centers, e)
		}
	}
	if len(centers) == 0 {
		return Graph{}, common.NewNotFoundError("content", p.ItemID)
	}
	sortEntities(centers)

	idx := snap.EntityIndex()
	adj := map[string][]string{}
	for _, r := range snap.Relationships {
		if isMirror(r) || r.ConfidenceScore < p.MinConfidence {
			continue
		}
		adj[r.SourceEntityID] = append(adj[r.SourceEntityID], r.TargetEntityID)
		adj[r.TargetEntityID] = append(adj[r.TargetEntityID], r.SourceEntityID)
	}

	seen := map[string]bool{}
	var nodes []Node
	var layer []string
	for _, e := range centers {
		if len(nodes) == p.Limit {
			break
		}
		seen[e.ID] = true
		nodes = append(nodes, toNode(e, 0, true))
		layer = append(layer, e.ID)
	}

	for depth := 1; depth <= p.Depth && len(layer) > 0 && len(nodes) < p.Limit; depth++ {
		var next []common.Entity
		for _, id := range layer {
			for _, n := range adj[id] {
				e, ok := idx[n]
				if !ok || seen[n] || e.ConfidenceScore < p.MinConfidence {
					continue
				}
				seen[n] = true
				next = append(next, e)
			}
		}
		sortEntities(next)
		layer = layer[:0]
		for _, e := range next {
			if len(nodes) == p.Limit {
				break
			}
			nodes = append(nodes, toNode(e, depth, false))
			layer = append(layer, e.ID)
		}
	}

	edges := edgesBetween(snap.Relationships, nodes, p.MinConfidence, "")
	g := Graph{Nodes: nodes, Edges: edges, Metadata: metadata(nodes, edges)}
	g.Metadata.CenterItemID = p.ItemID
	g.Metadata.Depth = p.Depth
	return g, nil
}

// sortEntities orders by confidence, newest first on ties.
func sortEntities(es []common.Entity) {
	sort.SliceStable(es, func(i, j int) bool {
		if es[i].ConfidenceScore != es[j].ConfidenceScore {
			return es[i].ConfidenceScore > es[j].ConfidenceScore
		}
		return es[i].CreatedAt.After(es[j].CreatedAt)
	})
}

func toNode(e common.Entity, depth int, center bool) Node {
	return Node{
		ID:              e.ID,
		Title:           e.Name,
		Type:            e.Type,
		Summary:         e.Description,
		Confidence:      e.ConfidenceScore,
		SourceContentID: e.SourceContentID,
		CreatedAt:       e.CreatedAt,
		IsCenter:        center,
		Depth:           depth,
	}
}

func edgesBetween(rels []common.Relationship, nodes []Node, minConfidence float64, typ common.RelationshipType) []Edge {
	shown := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		shown[n.ID] = true
	}
	edges := []Edge{}
	for _, r := range rels {
		if isMirror(r) || r.ConfidenceScore < minConfidence {
			continue
		}
		if typ != "" && r.Type != typ {
			continue
		}
		if !shown[r.SourceEntityID] || !shown[r.TargetEntityID] {
			continue
		}
		edges = append(edges, Edge{
			ID:           r.ID,
			Source:       r.SourceEntityID,
			Target:       r.TargetEntityID,
			Relationship: r.Type,
			Strength:     r.Strength,
			Confidence:   r.ConfidenceScore,
			Context:      r.Context,
		})
	}
	return edges
}

func metadata(nodes []Node, edges []Edge) Metadata {
	m := Metadata{
		TotalNodes:        len(nodes),
		TotalEdges:        len(edges),
		EntityTypes:       map[common.EntityType]int{},
		RelationshipTypes: map[common.RelationshipType]int{},
	}
	for _, n := range nodes {
		m.EntityTypes[n.Type]++
	}
	for _, e := range edges {
		m.RelationshipTypes[e.Relationship]++
	}
	return m
}

func isMirror(r common.Relationship) bool {
	return r.MirrorID != "" && !r.Bidirectional
}
