package ai

import (
	"regexp"
	"strings"
)

var (
	tagInvalidChars = regexp.MustCompile(`[^a-z0-9+#.\-\s]`)
	tagSpaces       = regexp.MustCompile(`[\s_]+`)
)

// MaxTags bounds the tag list stored for one content item.
const MaxTags = 10

// NormalizeTag lowercases a tag, strips a leading '#', and joins words with
// hyphens. "C++" and "C#" keep their symbols.
func NormalizeTag(tag string) string {
	t := strings.ToLower(strings.TrimSpace(tag))
	t = strings.TrimPrefix(t, "#")
	t = tagInvalidChars.ReplaceAllString(t, "")
	t = tagSpaces.ReplaceAllString(strings.TrimSpace(t), "-")
	return strings.Trim(t, "-.")
}

// NormalizeTags normalizes, dedupes and caps a model-produced tag list,
// keeping first-seen order.
func NormalizeTags(tags []string, limit int) []string {
	if limit <= 0 {
		limit = MaxTags
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, min(len(tags), limit))
	for _, tag := range tags {
		t := NormalizeTag(tag)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out
}
