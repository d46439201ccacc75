package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prsnl/kgraph/pkg/common"
)

// AnalyzedEntity is one named item reported by the text-understanding service.
type AnalyzedEntity struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Span        string  `json:"span" jsonschema:"description=Short verbatim excerpt where the item appears"`
	Confidence  float64 `json:"confidence"`
}

// AnalyzedRelationship links two AnalyzedEntity names. The endpoint types
// are optional and disambiguate names shared by entities of different types.
type AnalyzedRelationship struct {
	Source     string  `json:"source"`
	SourceType string  `json:"source_type,omitempty"`
	Target     string  `json:"target"`
	TargetType string  `json:"target_type,omitempty"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Context    string  `json:"context"`
}

type ContentAnalysis struct {
	Summary       string                 `json:"summary"`
	Entities      []AnalyzedEntity       `json:"entities"`
	Relationships []AnalyzedRelationship `json:"relationships"`
	KeyPoints     []string               `json:"key_points"`
	Tags          []string               `json:"tags"`
	Sentiment     string                 `json:"sentiment" jsonschema:"enum=positive,enum=neutral,enum=negative,enum=mixed"`
}

type Categorization struct {
	Category      string   `json:"category"`
	Subcategory   string   `json:"subcategory"`
	Confidence    float64  `json:"confidence"`
	Reasoning     string   `json:"reasoning"`
	SuggestedTags []string `json:"suggested_tags"`
}

// AnalyzeRequest describes one call to AnalyzeContent. Empty type lists
// allow every type.
type AnalyzeRequest struct {
	Text              string
	ContentType       string
	EntityTypes       []common.EntityType
	RelationshipTypes []common.RelationshipType
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

func joinTypes[T ~string](types []T) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

// AnalyzeContent asks the service for entities, relationships, key points,
// tags and sentiment. Confidences are clamped to [0,1]; a zero confidence
// means the service reported none.
func AnalyzeContent(ctx context.Context, client GraphAIClient, req AnalyzeRequest) (ContentAnalysis, error) {
	if strings.TrimSpace(req.Text) == "" {
		return ContentAnalysis{}, errors.New("nothing to analyze")
	}
	entityTypes := req.EntityTypes
	if len(entityTypes) == 0 {
		entityTypes = common.EntityTypes
	}
	relTypes := req.RelationshipTypes
	if len(relTypes) == 0 {
		relTypes = common.RelationshipTypes
	}
	hint := req.ContentType
	if hint == "" {
		hint = "text"
	}

	prompt := fmt.Sprintf(AnalyzePrompt, hint, joinTypes(entityTypes), joinTypes(relTypes), req.Text)

	var out ContentAnalysis
	if err := client.GenerateCompletionWithFormat(
		ctx, "content_analysis", "Entities, relationships and key facts of a content item",
		prompt, &out,
	); err != nil {
		return ContentAnalysis{}, err
	}

	for i := range out.Entities {
		out.Entities[i].Name = strings.TrimSpace(out.Entities[i].Name)
		out.Entities[i].Confidence = clamp01(out.Entities[i].Confidence)
	}
	for i := range out.Relationships {
		out.Relationships[i].SourceType = strings.ToLower(strings.TrimSpace(out.Relationships[i].SourceType))
		out.Relationships[i].TargetType = strings.ToLower(strings.TrimSpace(out.Relationships[i].TargetType))
		out.Relationships[i].Confidence = clamp01(out.Relationships[i].Confidence)
	}
	out.Tags = NormalizeTags(out.Tags, MaxTags)
	out.Summary = strings.TrimSpace(out.Summary)
	return out, nil
}

func CategorizeContent(ctx context.Context, client GraphAIClient, title, text string) (Categorization, error) {
	if strings.TrimSpace(text) == "" && strings.TrimSpace(title) == "" {
		return Categorization{}, errors.New("nothing to categorize")
	}
	if title == "" {
		title = "Untitled"
	}

	var out Categorization
	if err := client.GenerateCompletionWithFormat(
		ctx, "categorization", "Category, subcategory and tags for a content item",
		fmt.Sprintf(CategorizePrompt, title, text), &out,
	); err != nil {
		return Categorization{}, err
	}
	out.Category = strings.ToLower(strings.TrimSpace(out.Category))
	if out.Category == "" {
		out.Category = "other"
	}
	out.Confidence = clamp01(out.Confidence)
	out.SuggestedTags = NormalizeTags(out.SuggestedTags, 8)
	return out, nil
}

func SummarizeContent(ctx context.Context, client GraphAIClient, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("nothing to summarize")
	}
	res, err := client.GenerateCompletion(ctx, fmt.Sprintf(SummarizePrompt, text), WithTemperature(0.2))
	if err != nil {
		return "", err
	}
	res = strings.TrimSpace(res)
	if res == "" {
		return "", errors.New("empty summary from model")
	}
	return res, nil
}
