package cluster

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/logger"
	"github.com/prsnl/kgraph/pkg/store"
	"github.com/prsnl/kgraph/pkg/textsim"

	"github.com/google/uuid"
)

type Algorithm string

const (
	Semantic   Algorithm = "semantic"
	Structural Algorithm = "structural"
	Hybrid     Algorithm = "hybrid"
)

func (a Algorithm) Valid() bool {
	return a == Semantic || a == Structural || a == Hybrid
}

const (
	DefaultMaxClusters    = 10
	DefaultMinClusterSize = 2
	DefaultMergeThreshold = 0.5
	maxUnclustered        = 10
)

type Params struct {
	Algorithm      Algorithm           `json:"clustering_algorithm"`
	MaxClusters    int                 `json:"max_clusters"`
	MinClusterSize int                 `json:"min_cluster_size"`
	MinConfidence  float64             `json:"min_confidence"`
	EntityTypes    []common.EntityType `json:"entity_types,omitempty"`
	// MergeThreshold is the similarity two groups need to be merged.
	MergeThreshold float64 `json:"merge_threshold,omitempty"`
}

func (p Params) withDefaults() Params {
	if p.Algorithm == "" {
		p.Algorithm = Semantic
	}
	if p.MaxClusters <= 0 {
		p.MaxClusters = DefaultMaxClusters
	}
	if p.MinClusterSize <= 0 {
		p.MinClusterSize = DefaultMinClusterSize
	}
	if p.MergeThreshold <= 0 {
		p.MergeThreshold = DefaultMergeThreshold
	}
	return p
}

func (p Params) validate() error {
	if !p.Algorithm.Valid() {
		return common.NewValidationError("clustering_algorithm", "unknown algorithm %q", p.Algorithm)
	}
	if p.MergeThreshold > 1 {
		return common.NewValidationError("merge_threshold", "must be <= 1")
	}
	for _, t := range p.EntityTypes {
		if !t.Valid() {
			return common.NewValidationError("entity_types", "unknown entity type %q", t)
		}
	}
	return common.ValidateConfidence("min_confidence", p.MinConfidence)
}

type Cluster struct {
	ID            string          `json:"cluster_id"`
	Name          string          `json:"cluster_name"`
	Entities      []common.Entity `json:"entities"`
	CentralEntity common.Entity   `json:"central_entity"`
	CohesionScore float64         `json:"cohesion_score"`
	ClusterType   Algorithm       `json:"cluster_type"`
	Description   string          `json:"description"`
	Keywords      []string        `json:"keywords"`
	Domain        string          `json:"domain"`
}

type Metadata struct {
	Algorithm        Algorithm `json:"algorithm"`
	TotalEntities    int       `json:"total_entities"`
	ClusterCount     int       `json:"cluster_count"`
	UnclusteredCount int       `json:"unclustered_count"`
	MergeThreshold   float64   `json:"merge_threshold"`
	MinConfidence    float64   `json:"min_confidence"`
	AverageCohesion  float64   `json:"average_cohesion"`
}

type Result struct {
	Clusters               []Cluster       `json:"clusters"`
	TotalEntitiesClustered int             `json:"total_entities_clustered"`
	UnclusteredEntities    []common.Entity `json:"unclustered_entities"`
	Metadata               Metadata        `json:"clustering_metadata"`
}

// Run clusters the entities of snap. Entities below MinConfidence or outside
// EntityTypes are ignored, as are relationships below MinConfidence.
// Membership is a pure function of the input: every tie is broken by entity
// id.
func Run(snap common.Snapshot, p Params) (Result, error) {
	p = p.withDefaults()
	if err := p.validate(); err != nil {
		return Result{}, err
	}

	view := store.FilterSnapshot(snap,
		func(e common.Entity) bool {
			return e.ConfidenceScore >= p.MinConfidence &&
				(len(p.EntityTypes) == 0 || slices.Contains(p.EntityTypes, e.Type))
		},
		func(r common.Relationship) bool { return r.ConfidenceScore >= p.MinConfidence },
	)
	if len(view.Entities) == 0 {
		return Result{}, common.NewValidationError("entities", "no entities match the clustering filter")
	}
	store.SortEntities(view.Entities)
	store.SortRelationships(view.Relationships)

	g := newGraph(view)
	var groups []group
	switch p.Algorithm {
	case Semantic:
		groups = g.semantic(g.allIndexes(), p, p.MaxClusters)
	case Structural:
		groups = g.structural(p)
	case Hybrid:
		groups = g.hybrid(p)
	}

	var kept []group
	for _, grp := range groups {
		if len(grp.members) >= p.MinClusterSize {
			kept = append(kept, grp)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if len(a.members) != len(b.members) {
			return len(a.members) > len(b.members)
		}
		if a.cohesion != b.cohesion {
			return a.cohesion > b.cohesion
		}
		return a.members[0] < b.members[0]
	})
	if len(kept) > p.MaxClusters {
		kept = kept[:p.MaxClusters]
	}

	res := Result{Metadata: Metadata{
		Algorithm:      p.Algorithm,
		TotalEntities:  len(view.Entities),
		MergeThreshold: p.MergeThreshold,
		MinConfidence:  p.MinConfidence,
	}}
	clustered := make(map[int]bool)
	var cohesionSum float64
	for _, grp := range kept {
		c := g.describe(grp, p.Algorithm)
		res.Clusters = append(res.Clusters, c)
		res.TotalEntitiesClustered += len(grp.members)
		cohesionSum += c.CohesionScore
		for _, m := range grp.members {
			clustered[m] = true
		}
	}
	for i, e := range g.entities {
		if clustered[i] {
			continue
		}
		res.Metadata.UnclusteredCount++
		if len(res.UnclusteredEntities) < maxUnclustered {
			res.UnclusteredEntities = append(res.UnclusteredEntities, e)
		}
	}
	res.Metadata.ClusterCount = len(res.Clusters)
	if len(res.Clusters) > 0 {
		res.Metadata.AverageCohesion = round3(cohesionSum / float64(len(res.Clusters)))
	}

	logger.Debug("[Cluster] Clustered entities",
		"algorithm", p.Algorithm,
		"entities", len(view.Entities),
		"clusters", len(res.Clusters),
	)
	return res, nil
}

// group is a set of entity indexes, sorted ascending. Since entities are
// sorted by id, members[0] is the smallest id of the group.
type group struct {
	members  []int
	cohesion float64
}

func (g *graph) describe(grp group, algo Algorithm) Cluster {
	members := make([]common.Entity, len(grp.members))
	ids := make([]string, len(grp.members))
	texts := make([]string, 0, len(grp.members)*2)
	for i, m := range grp.members {
		e := g.entities[m]
		members[i] = e
		ids[i] = e.ID
		texts = append(texts, e.Name, e.Description)
	}

	domain := g.dominantDomain(grp.members)
	top := textsim.TopWords(texts, 5, 2)

	name := domain + " Concepts"
	if len(top) > 0 {
		name = domain + ": " + titleWords(top[:min(2, len(top))])
	}
	var description string
	if len(members) <= 3 {
		names := make([]string, len(members))
		for i, e := range members {
			names[i] = e.Name
		}
		description = "Small cluster containing: " + strings.Join(names, ", ")
	} else {
		description = fmt.Sprintf("Cluster of %d related %s entities", len(members), strings.ToLower(domain))
		if len(top) > 0 {
			description += " focusing on " + strings.Join(top[:min(3, len(top))], ", ")
		}
	}
	switch algo {
	case Structural:
		name = "Connected Group: " + name
		description = "Structurally connected entities: " + description
	case Hybrid:
		name = "Hybrid: " + name
	}

	return Cluster{
		ID:            clusterID(algo, ids),
		Name:          name,
		Entities:      members,
		CentralEntity: g.entities[g.center(grp.members, algo)],
		CohesionScore: round3(grp.cohesion),
		ClusterType:   algo,
		Description:   description,
		Keywords:      append(top, strings.ToLower(domain)),
		Domain:        domain,
	}
}

var clusterNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("kgraph/cluster"))

// clusterID is derived from the algorithm and the member ids, so the same
// membership always gets the same id.
func clusterID(algo Algorithm, ids []string) string {
	return uuid.NewSHA1(clusterNamespace, []byte(string(algo)+"\x00"+strings.Join(ids, "\x00"))).String()
}

func titleWords(words []string) string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(out, " & ")
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}
