package gaps

import "strings"

var foundationalConcepts = map[string][]string{
	"Technology":              {"fundamentals", "best practices", "architecture", "testing", "deployment"},
	"Artificial Intelligence": {"algorithms", "training", "data preprocessing", "evaluation", "ethics"},
	"Digital Marketing":       {"analytics", "conversion", "audience", "strategy", "metrics"},
	"Design":                  {"principles", "accessibility", "user research", "prototyping", "testing"},
	"Business":                {"strategy", "analysis", "planning", "execution", "metrics"},
	"Data Science":            {"statistics", "visualization", "modeling", "validation", "interpretation"},
}

// missingConcepts lists up to three foundational concepts of a known domain
// that no entity name mentions.
func missingConcepts(domain string, names []string) []string {
	lower := make([]string, len(names))
	for i, n := range names {
		lower[i] = strings.ToLower(n)
	}
	var out []string
	for _, concept := range foundationalConcepts[domain] {
		found := false
		for _, n := range lower {
			if strings.Contains(n, concept) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, titleCase(concept))
		}
		if len(out) == 3 {
			break
		}
	}
	return out
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func recommendations(all []KnowledgeGap, domains []Domain, overall float64) []string {
	var out []string
	if overall < 0.6 {
		out = append(out, "Focus on building more relationships between existing entities to improve knowledge graph completeness")
	}

	var weak []string
	for _, d := range domains {
		if d.CompletenessScore < 0.5 && len(weak) < 2 {
			weak = append(weak, d.Name)
		}
	}
	if len(weak) > 0 {
		out = append(out, "Strengthen knowledge domains: "+strings.Join(weak, ", ")+" by adding foundational concepts")
	}

	counts := make(map[GapType]int)
	for _, g := range all {
		counts[g.GapType]++
	}
	if counts[GapIsolatedEntity] > 5 {
		out = append(out, "Review isolated entities and connect them to related concepts to improve knowledge integration")
	}
	if counts[GapMissingBridge] > 0 {
		out = append(out, "Connect domains that share vocabulary but have no relationships between them")
	}
	if counts[GapConceptual] > 3 {
		out = append(out, "Add intermediate concepts to bridge learning gaps and create smoother knowledge paths")
	}
	if len(out) == 0 {
		out = append(out, "Knowledge graph shows good completeness - consider expanding into new domains or deepening existing knowledge areas")
	}
	return out[:min(4, len(out))]
}
