package cluster

import (
	"slices"
	"sort"

	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/store/base"
	"github.com/prsnl/kgraph/pkg/textsim"
)

type pair [2]int

func mkPair(a, b int) pair {
	if a > b {
		a, b = b, a
	}
	return pair{a, b}
}

// graph is the undirected, index-based view the algorithms work on.
// Parallel and mirrored edges collapse into one pair with the highest
// confidence.
type graph struct {
	entities  []common.Entity
	index     map[string]int
	edges     map[pair]float64
	neighbors [][]int
	sims      map[pair]float64
}

func newGraph(snap common.Snapshot) *graph {
	g := &graph{
		entities:  snap.Entities,
		index:     make(map[string]int, len(snap.Entities)),
		edges:     make(map[pair]float64),
		neighbors: make([][]int, len(snap.Entities)),
		sims:      make(map[pair]float64),
	}
	for i, e := range snap.Entities {
		g.index[e.ID] = i
	}
	for _, r := range snap.Relationships {
		a, okA := g.index[r.SourceEntityID]
		b, okB := g.index[r.TargetEntityID]
		if !okA || !okB || a == b {
			continue
		}
		k := mkPair(a, b)
		cur, seen := g.edges[k]
		if !seen {
			g.neighbors[a] = append(g.neighbors[a], b)
			g.neighbors[b] = append(g.neighbors[b], a)
		}
		g.edges[k] = max(cur, r.ConfidenceScore)
	}
	for i := range g.neighbors {
		slices.Sort(g.neighbors[i])
	}
	return g
}

func (g *graph) allIndexes() []int {
	out := make([]int, len(g.entities))
	for i := range out {
		out[i] = i
	}
	return out
}

func (g *graph) sim(a, b int) float64 {
	if a == b {
		return 1
	}
	k := mkPair(a, b)
	if v, ok := g.sims[k]; ok {
		return v
	}
	v := textsim.Entities(g.entities[a], g.entities[b])
	g.sims[k] = v
	return v
}

// meanSimilarity is the mean pairwise similarity of members, 1 for a
// single member.
func (g *graph) meanSimilarity(members []int) float64 {
	if len(members) < 2 {
		return 1
	}
	var sum float64
	n := 0
	for i := range members {
		for j := i + 1; j < len(members); j++ {
			sum += g.sim(members[i], members[j])
			n++
		}
	}
	return sum / float64(n)
}

// density is the share of possible undirected pairs of members that are
// linked, 1 for a single member.
func (g *graph) density(members []int) float64 {
	n := len(members)
	if n < 2 {
		return 1
	}
	links := 0
	for i := range members {
		for j := i + 1; j < n; j++ {
			if _, ok := g.edges[mkPair(members[i], members[j])]; ok {
				links++
			}
		}
	}
	return float64(links) / float64(n*(n-1)/2)
}

func (g *graph) internalDegree(m int, in map[int]bool) int {
	d := 0
	for _, nb := range g.neighbors[m] {
		if in[nb] {
			d++
		}
	}
	return d
}

// semantic merges groups greedily by average-linkage similarity until no
// pair of groups reaches the merge threshold or at most limit groups are
// left. Slot a always holds the group whose smallest member is a, so
// scanning slots in order breaks ties by entity id.
func (g *graph) semantic(idx []int, p Params, limit int) []group {
	n := len(idx)
	groups := n
	members := make([][]int, n)
	alive := make([]bool, n)
	link := make([][]float64, n)
	for a := range n {
		members[a] = []int{idx[a]}
		alive[a] = true
		link[a] = make([]float64, n)
		for b := range n {
			if a != b {
				link[a][b] = g.sim(idx[a], idx[b])
			}
		}
	}

	for groups > limit {
		best, ba, bb := -1.0, -1, -1
		for a := range n {
			if !alive[a] {
				continue
			}
			for b := a + 1; b < n; b++ {
				if alive[b] && link[a][b] >= p.MergeThreshold && link[a][b] > best {
					best, ba, bb = link[a][b], a, b
				}
			}
		}
		if ba < 0 {
			break
		}
		sa, sb := float64(len(members[ba])), float64(len(members[bb]))
		for c := range n {
			if !alive[c] || c == ba || c == bb {
				continue
			}
			v := (sa*link[ba][c] + sb*link[bb][c]) / (sa + sb)
			link[ba][c], link[c][ba] = v, v
		}
		members[ba] = append(members[ba], members[bb]...)
		slices.Sort(members[ba])
		alive[bb] = false
		groups--
	}

	var out []group
	for a := range n {
		if alive[a] {
			out = append(out, group{members: members[a], cohesion: g.meanSimilarity(members[a])})
		}
	}
	return out
}

func (g *graph) components() [][]int {
	ids := make([]string, len(g.entities))
	for i, e := range g.entities {
		ids[i] = e.ID
	}
	var rels []common.Relationship
	for k := range g.edges {
		rels = append(rels, common.Relationship{SourceEntityID: ids[k[0]], TargetEntityID: ids[k[1]]})
	}
	var out [][]int
	for _, comp := range base.Components(ids, rels, nil) {
		members := make([]int, len(comp))
		for i, id := range comp {
			members[i] = g.index[id]
		}
		slices.Sort(members)
		out = append(out, members)
	}
	return out
}

// structural groups entities by connected component. While fewer than
// MaxClusters components are large enough, the weakest bridge whose removal
// leaves two large-enough halves is cut, largest component first.
func (g *graph) structural(p Params) []group {
	comps := g.components()
	for countAtLeast(comps, p.MinClusterSize) < p.MaxClusters {
		sort.SliceStable(comps, func(i, j int) bool {
			if len(comps[i]) != len(comps[j]) {
				return len(comps[i]) > len(comps[j])
			}
			return comps[i][0] < comps[j][0]
		})
		split := false
		for i, comp := range comps {
			if len(comp) < 2*p.MinClusterSize {
				break
			}
			left, right, ok := g.cutWeakestBridge(comp, p.MinClusterSize)
			if !ok {
				continue
			}
			comps[i] = left
			comps = append(comps, right)
			split = true
			break
		}
		if !split {
			break
		}
	}

	out := make([]group, len(comps))
	for i, comp := range comps {
		out[i] = group{members: comp, cohesion: g.density(comp)}
	}
	return out
}

func countAtLeast(comps [][]int, size int) int {
	n := 0
	for _, c := range comps {
		if len(c) >= size {
			n++
		}
	}
	return n
}

// cutWeakestBridge tries the edges inside comp from lowest confidence up and
// returns the two halves for the first one that disconnects comp into parts
// of at least minSize.
func (g *graph) cutWeakestBridge(comp []int, minSize int) ([]int, []int, bool) {
	in := make(map[int]bool, len(comp))
	for _, m := range comp {
		in[m] = true
	}
	var candidates []pair
	for _, a := range comp {
		for _, b := range g.neighbors[a] {
			if a < b && in[b] {
				candidates = append(candidates, pair{a, b})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := g.edges[candidates[i]], g.edges[candidates[j]]
		if ci != cj {
			return ci < cj
		}
		if candidates[i][0] != candidates[j][0] {
			return candidates[i][0] < candidates[j][0]
		}
		return candidates[i][1] < candidates[j][1]
	})

	for _, cut := range candidates {
		reached := g.reach(cut[0], in, cut)
		if reached[cut[1]] {
			continue
		}
		var left, right []int
		for _, m := range comp {
			if reached[m] {
				left = append(left, m)
			} else {
				right = append(right, m)
			}
		}
		if len(left) >= minSize && len(right) >= minSize {
			if right[0] < left[0] {
				left, right = right, left
			}
			return left, right, true
		}
	}
	return nil, nil, false
}

func (g *graph) reach(start int, in map[int]bool, skip pair) map[int]bool {
	seen := map[int]bool{start: true}
	queue := []int{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, nb := range g.neighbors[cur] {
			if !in[nb] || seen[nb] || mkPair(cur, nb) == skip {
				continue
			}
			seen[nb] = true
			queue = append(queue, nb)
		}
	}
	return seen
}

// hybrid refines each connected component by semantic similarity. A
// component whose refinement yields no large-enough group stays whole.
// Groups that are too small are then folded into the most similar large
// group.
func (g *graph) hybrid(p Params) []group {
	var large, small [][]int
	for _, comp := range g.components() {
		subs := g.semantic(comp, p, 1)
		refined := false
		for _, s := range subs {
			if len(s.members) >= p.MinClusterSize {
				refined = true
				break
			}
		}
		if !refined {
			if len(comp) >= p.MinClusterSize {
				large = append(large, comp)
			} else {
				small = append(small, comp)
			}
			continue
		}
		for _, s := range subs {
			if len(s.members) >= p.MinClusterSize {
				large = append(large, s.members)
			} else {
				small = append(small, s.members)
			}
		}
	}

	sort.Slice(small, func(i, j int) bool { return small[i][0] < small[j][0] })
	sort.Slice(large, func(i, j int) bool { return large[i][0] < large[j][0] })
	for _, s := range small {
		best, bestSim := -1, 0.0
		for i, l := range large {
			if v := g.groupSimilarity(s, l); v > bestSim {
				best, bestSim = i, v
			}
		}
		if best < 0 {
			continue
		}
		merged := append(slices.Clone(large[best]), s...)
		slices.Sort(merged)
		large[best] = merged
	}

	out := make([]group, len(large))
	for i, members := range large {
		out[i] = group{
			members:  members,
			cohesion: 0.5*g.meanSimilarity(members) + 0.5*g.density(members),
		}
	}
	return out
}

// groupSimilarity compares centroids when every member has an embedding and
// falls back to average linkage otherwise.
func (g *graph) groupSimilarity(a, b []int) float64 {
	va, okA := g.vectors(a)
	vb, okB := g.vectors(b)
	if okA && okB {
		return max(0, textsim.Cosine(textsim.Centroid(va), textsim.Centroid(vb)))
	}
	var sum float64
	for _, x := range a {
		for _, y := range b {
			sum += g.sim(x, y)
		}
	}
	return sum / float64(len(a)*len(b))
}

func (g *graph) vectors(members []int) ([][]float32, bool) {
	out := make([][]float32, 0, len(members))
	for _, m := range members {
		if len(g.entities[m].Embedding) == 0 {
			return nil, false
		}
		out = append(out, g.entities[m].Embedding)
	}
	return out, true
}

// center picks the most connected member for structural clusters and the
// most similar one otherwise; hybrid clusters weigh both. Ties go to the
// smallest id.
func (g *graph) center(members []int, algo Algorithm) int {
	in := make(map[int]bool, len(members))
	for _, m := range members {
		in[m] = true
	}
	best, bestScore := members[0], -1.0
	for _, m := range members {
		var score float64
		degree := float64(g.internalDegree(m, in))
		similarity := 0.0
		if len(members) > 1 {
			for _, o := range members {
				if o != m {
					similarity += g.sim(m, o)
				}
			}
			similarity /= float64(len(members) - 1)
		}
		switch algo {
		case Structural:
			score = degree
		case Hybrid:
			score = similarity
			if len(members) > 1 {
				score += degree / float64(len(members)-1)
			}
		default:
			score = similarity
		}
		if score > bestScore {
			best, bestScore = m, score
		}
	}
	return best
}

func (g *graph) dominantDomain(members []int) string {
	counts := make(map[string]int)
	for _, m := range members {
		e := g.entities[m]
		counts[textsim.Domain(e.Name, e.Description)]++
	}
	best, bestCount := "", 0
	for d, c := range counts {
		if c > bestCount || (c == bestCount && d < best) {
			best, bestCount = d, c
		}
	}
	return best
}
