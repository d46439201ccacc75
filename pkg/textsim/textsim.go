// Package textsim holds the lexical and vector similarity measures shared by
// the clustering, gap and suggestion engines.
package textsim

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/prsnl/kgraph/pkg/common"
)

var wordPattern = regexp.MustCompile(`[a-z]{3,}`)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "but": {}, "for": {}, "with": {}, "from": {}, "this": {},
	"that": {}, "they": {}, "them": {}, "have": {}, "has": {}, "had": {}, "will": {},
	"would": {}, "could": {}, "should": {}, "can": {}, "may": {}, "also": {}, "very": {},
	"much": {}, "more": {}, "most": {}, "some": {}, "any": {}, "all": {}, "each": {},
	"your": {}, "you": {}, "its": {}, "their": {}, "our": {}, "his": {}, "her": {},
	"into": {}, "are": {}, "was": {}, "not": {},
}

// Words returns the lower-cased words of at least three letters in text,
// without stop words, in order of appearance.
func Words(text string) []string {
	var out []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopWords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

// WordSet is Words as a set.
func WordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range Words(text) {
		set[w] = struct{}{}
	}
	return set
}

// Jaccard is |a∩b| / |a∪b|, 0 when both are empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// Overlap counts the words a and b share.
func Overlap(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}

var keywordFamilies = []map[string]struct{}{
	set("javascript", "python", "react", "node", "api", "web", "development", "framework",
		"library", "code", "programming", "software", "application", "database", "server",
		"client", "frontend", "backend", "fullstack"),
	set("artificial", "intelligence", "machine", "learning", "neural", "network",
		"algorithm", "model", "training", "data", "analysis", "chatbot", "prompt"),
	set("search", "engine", "optimization", "ranking", "keyword", "content", "traffic",
		"organic", "visibility", "google", "indexing"),
}

var methodWords = set("tool", "method", "technique", "process", "system", "approach")

func set(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

// Text scores how alike two named items are from their names and
// descriptions, in [0,1]. Word overlap is boosted when one name contains the
// other, when both use the same technical vocabulary, or when both describe
// a method.
func Text(name1, desc1, name2, desc2 string) float64 {
	n1, n2 := strings.ToLower(strings.TrimSpace(name1)), strings.ToLower(strings.TrimSpace(name2))
	w1 := WordSet(n1 + " " + desc1)
	w2 := WordSet(n2 + " " + desc2)
	if len(w1) == 0 || len(w2) == 0 {
		if n1 != "" && n1 == n2 {
			return 1
		}
		return 0
	}

	score := Jaccard(w1, w2)

	switch {
	case n1 != "" && n2 != "" && (strings.Contains(n1, n2) || strings.Contains(n2, n1)):
		score += 0.4
	case sharesNameWord(n1, n2) || sharesNameWord(n2, n1):
		score += 0.2
	}

	for _, fam := range keywordFamilies {
		if Overlap(w1, fam) > 0 && Overlap(w2, fam) > 0 {
			score += 0.15
			break
		}
	}
	if Overlap(w1, methodWords) > 0 && Overlap(w2, methodWords) > 0 {
		score += 0.1
	}
	return min(1, score)
}

func sharesNameWord(a, b string) bool {
	for _, w := range strings.Fields(a) {
		if len(w) > 2 && strings.Contains(b, w) {
			return true
		}
	}
	return false
}

// Cosine returns the cosine similarity of a and b, 0 when either is empty,
// zero-length or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Entities compares two entities by embedding when both carry one and by
// Text otherwise. The result is clamped to [0,1].
func Entities(a, b common.Entity) float64 {
	if len(a.Embedding) > 0 && len(a.Embedding) == len(b.Embedding) {
		return max(0, min(1, Cosine(a.Embedding, b.Embedding)))
	}
	return Text(a.Name, a.Description, b.Name, b.Description)
}

// Centroid averages vectors of equal length. Vectors of another length than
// the first are skipped.
func Centroid(vectors [][]float32) []float32 {
	var out []float64
	n := 0
	for _, v := range vectors {
		if len(v) == 0 {
			continue
		}
		if out == nil {
			out = make([]float64, len(v))
		}
		if len(v) != len(out) {
			continue
		}
		for i, x := range v {
			out[i] += float64(x)
		}
		n++
	}
	if n == 0 {
		return nil
	}
	res := make([]float32, len(out))
	for i, x := range out {
		res[i] = float32(x / float64(n))
	}
	return res
}

// TopWords returns up to limit words that occur at least minCount times
// across texts, most frequent first, ties alphabetical.
func TopWords(texts []string, limit, minCount int) []string {
	counts := make(map[string]int)
	for _, t := range texts {
		for _, w := range Words(t) {
			counts[w]++
		}
	}
	words := make([]string, 0, len(counts))
	for w, c := range counts {
		if c >= minCount {
			words = append(words, w)
		}
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > limit {
		words = words[:limit]
	}
	return words
}
