package graph

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/prsnl/kgraph/pkg/common"

	"codeberg.org/readeck/go-readability/v2"
)

type ContentType string

const (
	ContentConversation   ContentType = "conversation"
	ContentVideo          ContentType = "video"
	ContentCode           ContentType = "code"
	ContentGithubRepo     ContentType = "github_repo"
	ContentGithubDocument ContentType = "github_document"
	ContentArticle        ContentType = "article"
	ContentNote           ContentType = "note"
	ContentTutorial       ContentType = "tutorial"
	ContentTimeline       ContentType = "timeline"
	ContentText           ContentType = "text"
)

// Candidate is an entity proposed by pattern detection before it is
// reconciled with the service's output and the store.
type Candidate struct {
	Name        string
	Type        common.EntityType
	Description string
	Confidence  float64
	// Offset is the byte offset of the match in the prepared text, -1 if unknown.
	Offset   int
	Length   int
	Metadata common.EntityMetadata
	// Start overrides the stored start_position when the entity type
	// measures positions in other units (seconds for video).
	Start *float64
}

// ContentAnalyzer holds the per-content-type parts of extraction.
type ContentAnalyzer interface {
	// EntityTypes restricts what service guesses may be mapped to.
	EntityTypes() []common.EntityType
	RelationshipTypes() []common.RelationshipType
	// Prepare turns raw content into the text that is analyzed.
	Prepare(raw string) string
	// Detect finds entities by pattern, without the service.
	Detect(text string) []Candidate
}

// AnalyzerFor selects the analyzer for a content type. Unknown types get
// the plain text analyzer.
func AnalyzerFor(ct ContentType) ContentAnalyzer {
	switch ct {
	case ContentConversation:
		return conversationAnalyzer{}
	case ContentVideo:
		return videoAnalyzer{}
	case ContentCode:
		return codeAnalyzer{types: []common.EntityType{
			common.EntityCodeFunction, common.EntityCodeClass, common.EntityCodeModule, common.EntityText,
		}}
	case ContentGithubRepo:
		return codeAnalyzer{types: []common.EntityType{
			common.EntityCodeFunction, common.EntityCodeClass, common.EntityCodeModule,
		}}
	case ContentArticle, ContentTutorial:
		return articleAnalyzer{}
	case ContentGithubDocument, ContentNote:
		return textAnalyzer{}
	case ContentTimeline:
		return timelineAnalyzer{}
	default:
		return textAnalyzer{}
	}
}

var (
	technicalRelationships = []common.RelationshipType{
		common.RelImplements, common.RelExplains, common.RelDemonstrates, common.RelReferences,
	}
	conversationalRelationships = []common.RelationshipType{
		common.RelDiscusses, common.RelExplains, common.RelBuildsOn,
	}
	temporalRelationships = []common.RelationshipType{
		common.RelPrecedes, common.RelFollows, common.RelEnables,
	}
	structuralRelationships = []common.RelationshipType{
		common.RelContains, common.RelPartOf, common.RelRelatedTo,
	}
)

func concat[T any](parts ...[]T) []T {
	var out []T
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

var conceptPatterns = []struct {
	domain  string
	name    string
	pattern *regexp.Regexp
}{
	{"programming", "Programming", regexp.MustCompile(`(?i)\b(?:programming|coding|development|software|algorithm)\b`)},
	{"data_science", "Data Science", regexp.MustCompile(`(?i)\b(?:data science|machine learning|ai|analytics|statistics)\b`)},
	{"web_development", "Web Development", regexp.MustCompile(`(?i)\b(?:web development|frontend|backend|javascript|react|vue|angular)\b`)},
	{"design", "Design", regexp.MustCompile(`(?i)\b(?:design|ui|ux|interface|user experience|visual)\b`)},
	{"business", "Business", regexp.MustCompile(`(?i)\b(?:business|marketing|strategy|management|sales|revenue)\b`)},
}

// detectConcepts tags broad knowledge domains by keyword. Every analyzer
// runs it.
func detectConcepts(text string) []Candidate {
	var out []Candidate
	for _, c := range conceptPatterns {
		loc := c.pattern.FindStringIndex(text)
		if loc == nil {
			continue
		}
		out = append(out, Candidate{
			Name:        c.name,
			Type:        common.EntityKnowledgeConcept,
			Description: "Knowledge concept: " + strings.ReplaceAll(c.domain, "_", " "),
			Confidence:  0.6,
			Offset:      loc[0],
			Length:      loc[1] - loc[0],
			Metadata: common.EntityMetadata{
				Concept: &common.ConceptMetadata{Domain: c.domain, Pattern: "pattern_matching"},
			},
		})
	}
	return out
}

type textAnalyzer struct{}

func (textAnalyzer) EntityTypes() []common.EntityType {
	return []common.EntityType{common.EntityText, common.EntityKnowledgeConcept}
}

func (textAnalyzer) RelationshipTypes() []common.RelationshipType {
	return concat(technicalRelationships, structuralRelationships)
}

func (textAnalyzer) Prepare(raw string) string {
	return strings.TrimSpace(raw)
}

func (textAnalyzer) Detect(text string) []Candidate {
	return detectConcepts(text)
}

var htmlMarker = regexp.MustCompile(`(?i)<(?:html|body|article|p|div)[\s>]`)

// articleAnalyzer accepts raw HTML and reduces it to the readable article
// text first.
type articleAnalyzer struct {
	textAnalyzer
}

func (a articleAnalyzer) Prepare(raw string) string {
	if !htmlMarker.MatchString(raw) {
		return strings.TrimSpace(raw)
	}
	text, err := ArticleText(raw, nil)
	if err != nil || strings.TrimSpace(text) == "" {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(text)
}

// ArticleText extracts the main article text from an HTML page.
func ArticleText(html string, pageURL *url.URL) (string, error) {
	if pageURL == nil {
		pageURL = &url.URL{Scheme: "https", Host: "localhost"}
	}
	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := article.RenderText(&b); err != nil {
		return "", err
	}
	return b.String(), nil
}

var (
	functionPattern = regexp.MustCompile(`(?:def|function|func)\s+(?:\([^)]*\)\s*)?(\w+)\s*\(`)
	classPattern    = regexp.MustCompile(`(?:class|interface)\s+(\w+)`)
	goTypePattern   = regexp.MustCompile(`type\s+(\w+)\s+(?:struct|interface)\b`)
)

type codeAnalyzer struct {
	types []common.EntityType
}

func (a codeAnalyzer) EntityTypes() []common.EntityType {
	return a.types
}

func (codeAnalyzer) RelationshipTypes() []common.RelationshipType {
	return concat(technicalRelationships, structuralRelationships, []common.RelationshipType{common.RelDependsOn})
}

func (codeAnalyzer) Prepare(raw string) string {
	return strings.TrimRight(raw, " \t\n")
}

func (a codeAnalyzer) Detect(text string) []Candidate {
	var out []Candidate
	add := func(p *regexp.Regexp, typ common.EntityType, kind string) {
		for _, m := range p.FindAllStringSubmatchIndex(text, -1) {
			name := text[m[2]:m[3]]
			line := float64(strings.Count(text[:m[0]], "\n") + 1)
			out = append(out, Candidate{
				Name:        name,
				Type:        typ,
				Description: kind + " " + name,
				Confidence:  0.9,
				Offset:      m[0],
				Length:      m[1] - m[0],
				Metadata: common.EntityMetadata{
					Code: &common.CodeMetadata{Kind: kind, Signature: strings.TrimSpace(text[m[0]:m[1]])},
				},
				Start: &line,
			})
		}
	}
	add(functionPattern, common.EntityCodeFunction, "function")
	add(classPattern, common.EntityCodeClass, "class")
	add(goTypePattern, common.EntityCodeClass, "type")
	return append(out, detectConcepts(text)...)
}

var turnPattern = regexp.MustCompile(`(?im)^\s*(user|assistant|human|ai|system)\s*:\s*(.+)$`)

type conversationAnalyzer struct{}

func (conversationAnalyzer) EntityTypes() []common.EntityType {
	return []common.EntityType{common.EntityConversationTurn, common.EntityText, common.EntityKnowledgeConcept}
}

func (conversationAnalyzer) RelationshipTypes() []common.RelationshipType {
	return concat(conversationalRelationships, temporalRelationships)
}

func (conversationAnalyzer) Prepare(raw string) string {
	return strings.TrimSpace(raw)
}

// Detect records each speaker turn. Single-message texts are not split.
func (conversationAnalyzer) Detect(text string) []Candidate {
	matches := turnPattern.FindAllStringSubmatchIndex(text, -1)
	var out []Candidate
	if len(matches) >= 2 {
		for i, m := range matches {
			role := strings.ToLower(text[m[2]:m[3]])
			body := strings.TrimSpace(text[m[4]:m[5]])
			out = append(out, Candidate{
				Name:        "Turn " + strconv.Itoa(i+1) + " (" + role + ")",
				Type:        common.EntityConversationTurn,
				Description: truncateWords(body, 30),
				Confidence:  0.9,
				Offset:      m[0],
				Length:      m[1] - m[0],
				Metadata: common.EntityMetadata{
					Conversation: &common.ConversationMetadata{Role: role, Turn: i + 1},
				},
			})
		}
	}
	return append(out, detectConcepts(text)...)
}

var timestampPattern = regexp.MustCompile(`(?m)^\s*\[?((?:\d{1,2}:)?\d{1,2}:\d{2})\]?\s*[-:]?\s*(.+)$`)

type videoAnalyzer struct{}

func (videoAnalyzer) EntityTypes() []common.EntityType {
	return []common.EntityType{common.EntityVideoSegment, common.EntityAudio, common.EntityKnowledgeConcept}
}

func (videoAnalyzer) RelationshipTypes() []common.RelationshipType {
	return concat(temporalRelationships, []common.RelationshipType{
		common.RelExplains, common.RelDemonstrates, common.RelTranscribes, common.RelVisualizes,
	})
}

func (videoAnalyzer) Prepare(raw string) string {
	return strings.TrimSpace(raw)
}

// Detect turns timestamped transcript lines into video segments whose
// positions are in seconds.
func (videoAnalyzer) Detect(text string) []Candidate {
	var out []Candidate
	for _, m := range timestampPattern.FindAllStringSubmatchIndex(text, -1) {
		stamp := text[m[2]:m[3]]
		secs, ok := parseTimestamp(stamp)
		if !ok {
			continue
		}
		line := strings.TrimSpace(text[m[4]:m[5]])
		out = append(out, Candidate{
			Name:        "Segment " + stamp,
			Type:        common.EntityVideoSegment,
			Description: truncateWords(line, 30),
			Confidence:  0.8,
			Offset:      m[0],
			Length:      m[1] - m[0],
			Metadata: common.EntityMetadata{
				Media: &common.MediaMetadata{Timestamp: stamp, Caption: truncateWords(line, 12)},
			},
			Start: &secs,
		})
	}
	return append(out, detectConcepts(text)...)
}

func parseTimestamp(s string) (float64, bool) {
	parts := strings.Split(s, ":")
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, false
		}
		total = total*60 + n
	}
	return float64(total), true
}

var datedLinePattern = regexp.MustCompile(`(?m)^\s*(\d{4}-\d{2}-\d{2})\s*[-:]\s*(.+)$`)

type timelineAnalyzer struct{}

func (timelineAnalyzer) EntityTypes() []common.EntityType {
	return []common.EntityType{common.EntityTimelineEvent, common.EntityKnowledgeConcept}
}

func (timelineAnalyzer) RelationshipTypes() []common.RelationshipType {
	return concat(temporalRelationships, structuralRelationships)
}

func (timelineAnalyzer) Prepare(raw string) string {
	return strings.TrimSpace(raw)
}

func (timelineAnalyzer) Detect(text string) []Candidate {
	var out []Candidate
	for _, m := range datedLinePattern.FindAllStringSubmatchIndex(text, -1) {
		date := text[m[2]:m[3]]
		event := strings.TrimSpace(text[m[4]:m[5]])
		out = append(out, Candidate{
			Name:        date + " " + truncateWords(event, 8),
			Type:        common.EntityTimelineEvent,
			Description: event,
			Confidence:  0.8,
			Offset:      m[0],
			Length:      m[1] - m[0],
			Metadata: common.EntityMetadata{
				Extra: map[string]any{"date": date},
			},
		})
	}
	return append(out, detectConcepts(text)...)
}

func truncateWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "..."
}
