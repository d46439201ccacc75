package suggest

import (
	"regexp"
	"strings"

	"github.com/prsnl/kgraph/pkg/common"
)

type rule struct {
	typ       common.RelationshipType
	base      float64
	reasoning string
	// cue, when set, must hold for the rule to apply.
	cue func(src, dst common.Entity) bool
}

var (
	requiresWords = regexp.MustCompile(`(?i)\b(?:requires?|prerequisites?|needs?|assumes?|after learning)\b`)
	buildsOnWords = regexp.MustCompile(`(?i)\b(?:builds? (?:on|upon)|extends?|based on)\b`)
	enablesWords  = regexp.MustCompile(`(?i)\b(?:enables?|allows?|makes? possible|powers?)\b`)
	similarWords  = regexp.MustCompile(`(?i)\b(?:similar to|alternative to|comparable to|akin to)\b`)
)

// mentions reports whether the description of e names other next to one of
// the cue words.
func mentions(e, other common.Entity, words *regexp.Regexp) bool {
	name := strings.ToLower(strings.TrimSpace(other.Name))
	if name == "" {
		return false
	}
	return words.MatchString(e.Description) && strings.Contains(strings.ToLower(e.Description), name)
}

// prerequisiteCue holds when dst says it requires src.
func prerequisiteCue(src, dst common.Entity) bool { return mentions(dst, src, requiresWords) }

func buildsOnCue(src, dst common.Entity) bool { return mentions(src, dst, buildsOnWords) }

func enablesCue(src, dst common.Entity) bool { return mentions(src, dst, enablesWords) }

func similarCue(src, dst common.Entity) bool {
	return mentions(src, dst, similarWords) || mentions(dst, src, similarWords)
}

type typePair struct {
	source common.EntityType
	target common.EntityType
}

// compatibility lists the relationship types that make sense from a source
// entity type to a target entity type, with the base confidence of each.
var compatibility = map[typePair][]rule{
	{common.EntityText, common.EntityKnowledgeConcept}: {
		{common.RelContains, 0.8, "Text content contains this concept", nil},
		{common.RelExplains, 0.75, "Text content likely explains this concept", nil},
		{common.RelDemonstrates, 0.7, "Text content demonstrates this concept", nil},
		{common.RelReferences, 0.65, "Text content references this concept", nil},
	},
	// Concepts are related_to by default; a directional type needs a cue in
	// the descriptions.
	{common.EntityKnowledgeConcept, common.EntityKnowledgeConcept}: {
		{common.RelRelatedTo, 0.75, "Concepts are related in the same domain", nil},
		{common.RelPrerequisite, 0.85, "One concept is a prerequisite for the other", prerequisiteCue},
		{common.RelBuildsOn, 0.8, "Concepts build upon each other", buildsOnCue},
		{common.RelEnables, 0.8, "One concept enables the other", enablesCue},
		{common.RelSimilarTo, 0.8, "Concepts are described as similar", similarCue},
	},
	{common.EntityVideoSegment, common.EntityText}: {
		{common.RelTranscribes, 0.9, "Video segment transcribes the text content", nil},
		{common.RelVisualizes, 0.8, "Video segment visualizes the text content", nil},
	},
	{common.EntityText, common.EntityVideoSegment}: {
		{common.RelDescribes, 0.8, "Text describes the video content", nil},
	},
	{common.EntityVideoSegment, common.EntityKnowledgeConcept}: {
		{common.RelExplains, 0.75, "Video segment explains this concept", nil},
	},
	{common.EntityCodeFunction, common.EntityKnowledgeConcept}: {
		{common.RelImplements, 0.85, "Code function implements this concept", nil},
		{common.RelDemonstrates, 0.8, "Code demonstrates this concept", nil},
		{common.RelApplies, 0.75, "Code applies this concept", nil},
	},
	{common.EntityCodeClass, common.EntityKnowledgeConcept}: {
		{common.RelImplements, 0.8, "Code class implements this concept", nil},
	},
	{common.EntityCodeFunction, common.EntityCodeModule}: {
		{common.RelPartOf, 0.85, "Function belongs to this module", nil},
	},
	{common.EntityCodeClass, common.EntityCodeModule}: {
		{common.RelPartOf, 0.85, "Class belongs to this module", nil},
	},
	{common.EntityCodeFunction, common.EntityCodeClass}: {
		{common.RelPartOf, 0.75, "Function is likely a method of this class", nil},
	},
	{common.EntityCodeFunction, common.EntityCodeFunction}: {
		{common.RelDependsOn, 0.65, "Functions with related names often call each other", nil},
	},
	{common.EntityConversationTurn, common.EntityKnowledgeConcept}: {
		{common.RelDiscusses, 0.75, "Conversation discusses this concept", nil},
	},
	{common.EntityTimelineEvent, common.EntityTimelineEvent}: {
		{common.RelPrecedes, 0.6, "Events are likely ordered in time", nil},
	},
}

// fallback applies to pairs the table does not cover.
var fallback = rule{common.RelRelatedTo, 0.6, "Entities share context", nil}
