package base

import (
	"slices"

	"github.com/prsnl/kgraph/pkg/common"
)

// ComputeStats derives aggregate counts from a snapshot. Density is the
// share of possible directed edges that exist; components are counted on the
// undirected view of the graph.
func ComputeStats(snap common.Snapshot) common.GraphStats {
	stats := common.GraphStats{
		TotalEntities:      len(snap.Entities),
		TotalRelationships: len(snap.Relationships),
		EntityTypes:        make(map[common.EntityType]int),
		RelationshipTypes:  make(map[common.RelationshipType]int),
	}

	var confSum float64
	ids := make([]string, 0, len(snap.Entities))
	for _, e := range snap.Entities {
		stats.EntityTypes[e.Type]++
		confSum += e.ConfidenceScore
		ids = append(ids, e.ID)
	}
	for _, r := range snap.Relationships {
		stats.RelationshipTypes[r.Type]++
	}

	n := len(snap.Entities)
	if n > 0 {
		stats.AverageConfidence = confSum / float64(n)
	}
	if n > 1 {
		stats.GraphDensity = min(1, float64(len(snap.Relationships))/float64(n*(n-1)))
	}
	stats.ConnectedComponents = len(Components(ids, snap.Relationships, nil))
	return stats
}

// Components groups ids into connected components over the relationships
// accepted by keep (all when keep is nil), ignoring direction. Members are
// sorted by id and components are ordered by their smallest member.
func Components(ids []string, rels []common.Relationship, keep func(common.Relationship) bool) [][]string {
	uf := NewUnionFind(ids)
	for _, r := range rels {
		if keep != nil && !keep(r) {
			continue
		}
		uf.Union(r.SourceEntityID, r.TargetEntityID)
	}
	return uf.Groups()
}

// UnionFind is a disjoint-set over string ids with path compression.
type UnionFind struct {
	parent map[string]string
	rank   map[string]int
}

func NewUnionFind(ids []string) *UnionFind {
	uf := &UnionFind{
		parent: make(map[string]string, len(ids)),
		rank:   make(map[string]int, len(ids)),
	}
	for _, id := range ids {
		uf.parent[id] = id
	}
	return uf
}

func (u *UnionFind) Find(id string) string {
	p, ok := u.parent[id]
	if !ok {
		return ""
	}
	if p != id {
		root := u.Find(p)
		u.parent[id] = root
		return root
	}
	return id
}

// Union joins the sets of a and b. Unknown ids are ignored.
func (u *UnionFind) Union(a, b string) {
	ra, rb := u.Find(a), u.Find(b)
	if ra == "" || rb == "" || ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}

// Groups returns the sets in deterministic order.
func (u *UnionFind) Groups() [][]string {
	byRoot := make(map[string][]string)
	for id := range u.parent {
		root := u.Find(id)
		byRoot[root] = append(byRoot[root], id)
	}
	out := make([][]string, 0, len(byRoot))
	for _, members := range byRoot {
		slices.Sort(members)
		out = append(out, members)
	}
	slices.SortFunc(out, func(a, b []string) int {
		switch {
		case a[0] < b[0]:
			return -1
		case a[0] > b[0]:
			return 1
		}
		return 0
	})
	return out
}
