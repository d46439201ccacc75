package gaps

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/logger"
	"github.com/prsnl/kgraph/pkg/textsim"
)

type Depth string

const (
	DepthBasic         Depth = "basic"
	DepthStandard      Depth = "standard"
	DepthComprehensive Depth = "comprehensive"
)

func (d Depth) Valid() bool {
	return d == DepthBasic || d == DepthStandard || d == DepthComprehensive
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

func (s Severity) Valid() bool { return s.rank() > 0 }

type GapType string

const (
	GapIsolatedEntity  GapType = "isolated_entity"
	GapWeaklyConnected GapType = "weakly_connected"
	GapSparseDomain    GapType = "sparse_domain"
	GapMissingBridge   GapType = "missing_bridge"
	GapConceptual      GapType = "conceptual_gap"
)

const (
	DefaultSparseThreshold = 0.35
	highSeverityThreshold  = 0.15
	// conceptualGapSpread is the confidence drop along a learning edge that
	// hints at a missing intermediate concept.
	conceptualGapSpread = 0.3
	otherDomain         = "Other"
)

type Params struct {
	Depth              Depth    `json:"analysis_depth"`
	FocusDomains       []string `json:"focus_domains,omitempty"`
	MinSeverity        Severity `json:"min_severity"`
	IncludeSuggestions bool     `json:"include_suggestions"`
	// SparseThreshold is the completeness below which a domain is sparse.
	SparseThreshold float64 `json:"sparse_threshold,omitempty"`
}

func (p Params) withDefaults() Params {
	if p.Depth == "" {
		p.Depth = DepthStandard
	}
	if p.MinSeverity == "" {
		p.MinSeverity = SeverityLow
	}
	if p.SparseThreshold <= 0 {
		p.SparseThreshold = DefaultSparseThreshold
	}
	return p
}

func (p Params) validate() error {
	if !p.Depth.Valid() {
		return common.NewValidationError("analysis_depth", "unknown depth %q", p.Depth)
	}
	if !p.MinSeverity.Valid() {
		return common.NewValidationError("min_severity", "unknown severity %q", p.MinSeverity)
	}
	return common.ValidateConfidence("sparse_threshold", p.SparseThreshold)
}

type KnowledgeGap struct {
	GapType          GapType  `json:"gap_type"`
	Severity         Severity `json:"severity"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	AffectedEntities []string `json:"affected_entities"`
	SuggestedActions []string `json:"suggested_actions,omitempty"`
	ConfidenceScore  float64  `json:"confidence_score"`
	Domain           string   `json:"domain"`
}

type Domain struct {
	Name                string   `json:"domain_name"`
	EntityCount         int      `json:"entity_count"`
	RelationshipDensity float64  `json:"relationship_density"`
	CompletenessScore   float64  `json:"completeness_score"`
	KeyEntities         []string `json:"key_entities"`
	MissingConcepts     []string `json:"missing_concepts"`
	Interconnectedness  float64  `json:"interconnectedness"`
}

type Summary struct {
	Depth                 Depth            `json:"analysis_depth"`
	EntitiesAnalyzed      int              `json:"entities_analyzed"`
	RelationshipsAnalyzed int              `json:"relationships_analyzed"`
	DomainsAnalyzed       int              `json:"domains_analyzed"`
	TotalGaps             int              `json:"total_gaps"`
	ReturnedGaps          int              `json:"returned_gaps"`
	GapsByType            map[GapType]int  `json:"gaps_by_type"`
	GapsBySeverity        map[Severity]int `json:"gaps_by_severity"`
}

type Report struct {
	Gaps                []KnowledgeGap `json:"gaps"`
	Domains             []Domain       `json:"domains"`
	OverallCompleteness float64        `json:"overall_completeness"`
	Recommendations     []string       `json:"recommendations,omitempty"`
	Summary             Summary        `json:"analysis_summary"`
}

// Analyze scores the completeness of every knowledge domain in snap and
// lists the gaps it finds. Gaps below MinSeverity are left out of the
// returned list but still count in the summary; completeness never depends
// on the severity filter.
func Analyze(snap common.Snapshot, p Params) (Report, error) {
	p = p.withDefaults()
	if err := p.validate(); err != nil {
		return Report{}, err
	}
	if len(snap.Entities) == 0 {
		return Report{}, common.NewValidationError("entities", "graph has no entities to analyze")
	}

	a := newAnalysis(snap, p)
	domains := a.scoreDomains()

	var all []KnowledgeGap
	all = append(all, a.connectivityGaps()...)
	all = append(all, a.sparseDomains(domains)...)
	if p.Depth != DepthBasic {
		all = append(all, a.missingBridges(domains)...)
		all = append(all, a.conceptualGaps()...)
	}
	sortGaps(all)

	var weighted float64
	for _, d := range domains {
		weighted += float64(d.EntityCount) * d.CompletenessScore
	}
	overall := max(0, min(1, weighted/float64(len(a.entities))))

	rep := Report{
		Domains:             domains,
		OverallCompleteness: round3(overall),
		Summary: Summary{
			Depth:                 p.Depth,
			EntitiesAnalyzed:      len(a.entities),
			RelationshipsAnalyzed: len(snap.Relationships),
			DomainsAnalyzed:       len(domains),
			TotalGaps:             len(all),
			GapsByType:            make(map[GapType]int),
			GapsBySeverity:        make(map[Severity]int),
		},
	}
	for _, g := range all {
		rep.Summary.GapsByType[g.GapType]++
		rep.Summary.GapsBySeverity[g.Severity]++
		if g.Severity.rank() < p.MinSeverity.rank() {
			continue
		}
		if !p.IncludeSuggestions {
			g.SuggestedActions = nil
		}
		rep.Gaps = append(rep.Gaps, g)
	}
	rep.Summary.ReturnedGaps = len(rep.Gaps)
	if p.IncludeSuggestions {
		rep.Recommendations = recommendations(all, domains, overall)
	}

	logger.Debug("[Gaps] Analyzed graph",
		"entities", len(a.entities),
		"domains", len(domains),
		"gaps", len(all),
		"completeness", rep.OverallCompleteness,
	)
	return rep, nil
}

type analysis struct {
	p        Params
	entities []common.Entity
	index    map[string]int
	// neighbors holds distinct undirected neighbors; mirrors and parallel
	// edges count once.
	neighbors []map[int]bool
	domainOf  []string
	members   map[string][]int
	rels      []common.Relationship
}

func newAnalysis(snap common.Snapshot, p Params) *analysis {
	entities := slices.Clone(snap.Entities)
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	a := &analysis{
		p:         p,
		entities:  entities,
		index:     make(map[string]int, len(entities)),
		neighbors: make([]map[int]bool, len(entities)),
		domainOf:  make([]string, len(entities)),
		members:   make(map[string][]int),
	}
	for i, e := range entities {
		a.index[e.ID] = i
		a.neighbors[i] = make(map[int]bool)
		d := a.classify(e)
		a.domainOf[i] = d
		a.members[d] = append(a.members[d], i)
	}
	for _, r := range snap.Relationships {
		s, okS := a.index[r.SourceEntityID]
		t, okT := a.index[r.TargetEntityID]
		if !okS || !okT || s == t {
			continue
		}
		a.neighbors[s][t] = true
		a.neighbors[t][s] = true
		a.rels = append(a.rels, r)
	}
	return a
}

// classify puts an entity in the first focus domain whose words it shares,
// or in its keyword domain when no focus domains are given. Code entities
// without a keyword match count as Technology.
func (a *analysis) classify(e common.Entity) string {
	if len(a.p.FocusDomains) > 0 {
		words := textsim.WordSet(e.Name + " " + e.Description)
		text := strings.ToLower(e.Name + " " + e.Description)
		for _, fd := range a.p.FocusDomains {
			label := strings.TrimSpace(fd)
			if label == "" {
				continue
			}
			if strings.Contains(text, strings.ToLower(label)) || textsim.Overlap(words, textsim.WordSet(label)) > 0 {
				return label
			}
		}
		return otherDomain
	}
	d := textsim.Domain(e.Name, e.Description)
	if d == textsim.GeneralDomain {
		switch e.Type {
		case common.EntityCodeFunction, common.EntityCodeClass, common.EntityCodeModule:
			return "Technology"
		}
	}
	return d
}

func (a *analysis) scoreDomains() []Domain {
	names := make([]string, 0, len(a.members))
	for d := range a.members {
		names = append(names, d)
	}
	sort.Strings(names)

	out := make([]Domain, 0, len(names))
	for _, name := range names {
		members := a.members[name]
		n := len(members)
		in := make(map[int]bool, n)
		for _, m := range members {
			in[m] = true
		}

		within := 0
		covered := 0
		anyLink := 0
		var coveredConf float64
		for _, m := range members {
			local := 0
			for nb := range a.neighbors[m] {
				if in[nb] {
					local++
					if m < nb {
						within++
					}
				}
			}
			if local > 0 {
				covered++
				coveredConf += a.entities[m].ConfidenceScore
			}
			if len(a.neighbors[m]) > 0 {
				anyLink++
			}
		}

		var density float64
		if n > 1 {
			density = float64(within) / float64(n*(n-1)/2)
		}
		// Completeness scores links against a spanning tree (n-1 edges), not
		// against the all-pairs density reported above, so a connected domain
		// is not penalised for missing every possible pair.
		linkScore := min(1, float64(within)/float64(max(1, n-1)))
		var completeness float64
		if covered > 0 {
			coverage := float64(covered) / float64(n)
			completeness = coverage * (0.7*linkScore + 0.3*coveredConf/float64(covered))
		}

		out = append(out, Domain{
			Name:                name,
			EntityCount:         n,
			RelationshipDensity: round3(density),
			CompletenessScore:   completeness,
			KeyEntities:         a.keyEntities(members),
			MissingConcepts:     missingConcepts(name, a.entityNames(members)),
			Interconnectedness:  round3(float64(anyLink) / float64(n)),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EntityCount > out[j].EntityCount })
	return out
}

func (a *analysis) entityNames(members []int) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = a.entities[m].Name
	}
	return out
}

// keyEntities returns up to three names, highest confidence first, then most
// connected.
func (a *analysis) keyEntities(members []int) []string {
	sorted := slices.Clone(members)
	sort.SliceStable(sorted, func(i, j int) bool {
		ei, ej := a.entities[sorted[i]], a.entities[sorted[j]]
		if ei.ConfidenceScore != ej.ConfidenceScore {
			return ei.ConfidenceScore > ej.ConfidenceScore
		}
		return len(a.neighbors[sorted[i]]) > len(a.neighbors[sorted[j]])
	})
	return a.entityNames(sorted[:min(3, len(sorted))])
}

func (a *analysis) connectivityGaps() []KnowledgeGap {
	var out []KnowledgeGap
	for i, e := range a.entities {
		switch len(a.neighbors[i]) {
		case 0:
			out = append(out, KnowledgeGap{
				GapType:          GapIsolatedEntity,
				Severity:         SeverityHigh,
				Title:            "Isolated Entity: " + e.Name,
				Description:      fmt.Sprintf("Entity '%s' has no relationships with other entities", e.Name),
				AffectedEntities: []string{e.Name},
				SuggestedActions: []string{
					"Review entity content for potential relationships",
					"Consider connecting to related concepts",
					"Verify entity is correctly categorized",
				},
				ConfidenceScore: 0.9,
				Domain:          a.domainOf[i],
			})
		case 1:
			if a.p.Depth != DepthComprehensive {
				continue
			}
			out = append(out, KnowledgeGap{
				GapType:          GapWeaklyConnected,
				Severity:         SeverityLow,
				Title:            "Weakly Connected: " + e.Name,
				Description:      fmt.Sprintf("Entity '%s' has only one relationship", e.Name),
				AffectedEntities: []string{e.Name},
				SuggestedActions: []string{
					"Explore additional relationships for this entity",
					"Consider prerequisite or dependent concepts",
				},
				ConfidenceScore: 0.7,
				Domain:          a.domainOf[i],
			})
		}
	}
	return out
}

func (a *analysis) sparseDomains(domains []Domain) []KnowledgeGap {
	var out []KnowledgeGap
	for _, d := range domains {
		if d.EntityCount < 2 || d.CompletenessScore >= a.p.SparseThreshold {
			continue
		}
		sev := SeverityMedium
		if d.CompletenessScore < highSeverityThreshold {
			sev = SeverityHigh
		}
		out = append(out, KnowledgeGap{
			GapType:  GapSparseDomain,
			Severity: sev,
			Title:    "Sparse Domain: " + d.Name,
			Description: fmt.Sprintf("Domain '%s' has low relationship density (%.2f) and completeness (%.2f)",
				d.Name, d.RelationshipDensity, d.CompletenessScore),
			AffectedEntities: d.KeyEntities,
			SuggestedActions: []string{
				"Add relationships between " + d.Name + " concepts",
				"Consider missing foundational concepts",
				"Review prerequisite relationships",
			},
			ConfidenceScore: 0.8,
			Domain:          d.Name,
		})
	}
	return out
}

// missingBridges reports pairs of domains that talk about the same things
// but are not linked by any relationship.
func (a *analysis) missingBridges(domains []Domain) []KnowledgeGap {
	keywords := make(map[string]map[string]struct{}, len(domains))
	for _, d := range domains {
		var texts []string
		for _, m := range a.members[d.Name] {
			texts = append(texts, a.entities[m].Name, a.entities[m].Description)
		}
		set := make(map[string]struct{})
		for _, w := range textsim.TopWords(texts, 10, 1) {
			set[w] = struct{}{}
		}
		keywords[d.Name] = set
	}

	linked := make(map[[2]string]bool)
	for _, r := range a.rels {
		ds, dt := a.domainOf[a.index[r.SourceEntityID]], a.domainOf[a.index[r.TargetEntityID]]
		if ds != dt {
			linked[domainPair(ds, dt)] = true
		}
	}

	names := make([]string, 0, len(domains))
	for _, d := range domains {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	byName := make(map[string]Domain, len(domains))
	for _, d := range domains {
		byName[d.Name] = d
	}

	var out []KnowledgeGap
	for i := range names {
		for j := i + 1; j < len(names); j++ {
			x, y := names[i], names[j]
			if linked[domainPair(x, y)] {
				continue
			}
			shared := sharedWords(keywords[x], keywords[y])
			if len(shared) == 0 {
				continue
			}
			out = append(out, KnowledgeGap{
				GapType:  GapMissingBridge,
				Severity: SeverityMedium,
				Title:    fmt.Sprintf("Missing Bridge: %s ↔ %s", x, y),
				Description: fmt.Sprintf("Domains '%s' and '%s' share keywords (%s) but have no relationships between them",
					x, y, strings.Join(shared, ", ")),
				AffectedEntities: append(slices.Clone(byName[x].KeyEntities), byName[y].KeyEntities...),
				SuggestedActions: []string{
					"Link related concepts across " + x + " and " + y,
					"Look for shared terminology that indicates a relationship",
				},
				ConfidenceScore: 0.6,
				Domain:          x,
			})
		}
	}
	return out
}

func domainPair(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

func sharedWords(a, b map[string]struct{}) []string {
	var out []string
	for w := range a {
		if _, ok := b[w]; ok {
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out
}

// conceptualGaps flags learning edges whose endpoints differ strongly in
// confidence.
func (a *analysis) conceptualGaps() []KnowledgeGap {
	var out []KnowledgeGap
	seen := make(map[[2]int]bool)
	for _, r := range a.rels {
		switch r.Type {
		case common.RelPrerequisite, common.RelBuildsOn, common.RelEnables:
		default:
			continue
		}
		s, t := a.index[r.SourceEntityID], a.index[r.TargetEntityID]
		if seen[[2]int{s, t}] {
			continue
		}
		seen[[2]int{s, t}] = true
		src, tgt := a.entities[s], a.entities[t]
		if src.ConfidenceScore-tgt.ConfidenceScore <= conceptualGapSpread {
			continue
		}
		out = append(out, KnowledgeGap{
			GapType:          GapConceptual,
			Severity:         SeverityMedium,
			Title:            fmt.Sprintf("Learning Gap: %s → %s", src.Name, tgt.Name),
			Description:      "Large confidence gap between prerequisite concepts suggests missing intermediate knowledge",
			AffectedEntities: []string{src.Name, tgt.Name},
			SuggestedActions: []string{
				"Identify intermediate concepts between these entities",
				"Add bridging knowledge or examples",
				"Consider breaking down complex concepts",
			},
			ConfidenceScore: 0.6,
			Domain:          a.domainOf[s],
		})
	}
	return out
}

func sortGaps(gaps []KnowledgeGap) {
	sort.SliceStable(gaps, func(i, j int) bool {
		if ri, rj := gaps[i].Severity.rank(), gaps[j].Severity.rank(); ri != rj {
			return ri > rj
		}
		if gaps[i].GapType != gaps[j].GapType {
			return gaps[i].GapType < gaps[j].GapType
		}
		return gaps[i].Title < gaps[j].Title
	})
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}
