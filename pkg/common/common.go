package common

import (
	"slices"
	"strings"
	"time"
)

// EntityType classifies a node of the knowledge graph.
type EntityType string

const (
	EntityConversationTurn EntityType = "conversation_turn"
	EntityVideoSegment     EntityType = "video_segment"
	EntityCodeFunction     EntityType = "code_function"
	EntityCodeClass        EntityType = "code_class"
	EntityCodeModule       EntityType = "code_module"
	EntityTimelineEvent    EntityType = "timeline_event"
	EntityFileAttachment   EntityType = "file_attachment"
	EntityImage            EntityType = "image_entity"
	EntityAudio            EntityType = "audio_entity"
	EntityText             EntityType = "text_entity"
	EntityKnowledgeConcept EntityType = "knowledge_concept"
)

// EntityTypes lists every accepted entity type in declaration order.
var EntityTypes = []EntityType{
	EntityConversationTurn,
	EntityVideoSegment,
	EntityCodeFunction,
	EntityCodeClass,
	EntityCodeModule,
	EntityTimelineEvent,
	EntityFileAttachment,
	EntityImage,
	EntityAudio,
	EntityText,
	EntityKnowledgeConcept,
}

// Valid reports whether t is one of EntityTypes.
func (t EntityType) Valid() bool {
	return slices.Contains(EntityTypes, t)
}

// RelationshipType is the label of a directed edge.
type RelationshipType string

const (
	// temporal
	RelPrecedes   RelationshipType = "precedes"
	RelFollows    RelationshipType = "follows"
	RelConcurrent RelationshipType = "concurrent"
	RelEnables    RelationshipType = "enables"
	RelDependsOn  RelationshipType = "depends_on"

	// content
	RelDiscusses    RelationshipType = "discusses"
	RelImplements   RelationshipType = "implements"
	RelReferences   RelationshipType = "references"
	RelExplains     RelationshipType = "explains"
	RelDemonstrates RelationshipType = "demonstrates"

	// structural
	RelContains   RelationshipType = "contains"
	RelPartOf     RelationshipType = "part_of"
	RelSimilarTo  RelationshipType = "similar_to"
	RelRelatedTo  RelationshipType = "related_to"
	RelOppositeOf RelationshipType = "opposite_of"

	// cross-modal
	RelVisualizes  RelationshipType = "visualizes"
	RelDescribes   RelationshipType = "describes"
	RelTranscribes RelationshipType = "transcribes"
	RelSummarizes  RelationshipType = "summarizes"
	RelExtends     RelationshipType = "extends"

	// learning
	RelPrerequisite RelationshipType = "prerequisite"
	RelBuildsOn     RelationshipType = "builds_on"
	RelReinforces   RelationshipType = "reinforces"
	RelApplies      RelationshipType = "applies"
	RelTeaches      RelationshipType = "teaches"
)

// RelationshipCategory groups relationship types by the kind of link they express.
type RelationshipCategory string

const (
	CategoryTemporal   RelationshipCategory = "temporal"
	CategoryContent    RelationshipCategory = "content"
	CategoryStructural RelationshipCategory = "structural"
	CategoryCrossModal RelationshipCategory = "cross_modal"
	CategoryLearning   RelationshipCategory = "learning"
)

var relationshipCategories = map[RelationshipCategory][]RelationshipType{
	CategoryTemporal:   {RelPrecedes, RelFollows, RelConcurrent, RelEnables, RelDependsOn},
	CategoryContent:    {RelDiscusses, RelImplements, RelReferences, RelExplains, RelDemonstrates},
	CategoryStructural: {RelContains, RelPartOf, RelSimilarTo, RelRelatedTo, RelOppositeOf},
	CategoryCrossModal: {RelVisualizes, RelDescribes, RelTranscribes, RelSummarizes, RelExtends},
	CategoryLearning:   {RelPrerequisite, RelBuildsOn, RelReinforces, RelApplies, RelTeaches},
}

// RelationshipTypes lists every accepted relationship type grouped by category.
var RelationshipTypes = func() []RelationshipType {
	out := make([]RelationshipType, 0, 25)
	for _, c := range []RelationshipCategory{
		CategoryTemporal, CategoryContent, CategoryStructural, CategoryCrossModal, CategoryLearning,
	} {
		out = append(out, relationshipCategories[c]...)
	}
	return out
}()

// Valid reports whether t is one of RelationshipTypes.
func (t RelationshipType) Valid() bool {
	return slices.Contains(RelationshipTypes, t)
}

// Category returns the group t belongs to, or "" for unknown types.
func (t RelationshipType) Category() RelationshipCategory {
	for c, types := range relationshipCategories {
		if slices.Contains(types, t) {
			return c
		}
	}
	return ""
}

// ExtractionMethod records who asserted an entity or relationship.
type ExtractionMethod string

const (
	ExtractionManual      ExtractionMethod = "manual"
	ExtractionAI          ExtractionMethod = "ai_extracted"
	ExtractionUserDefined ExtractionMethod = "user_defined"
)

// Valid reports whether m is a known extraction method.
func (m ExtractionMethod) Valid() bool {
	switch m {
	case ExtractionManual, ExtractionAI, ExtractionUserDefined:
		return true
	}
	return false
}

// Entity is a typed node of the knowledge graph. Identity is immutable once
// created; Description, Metadata and ConfidenceScore may change in place.
//
// StartPosition/EndPosition are a span into the source content whose unit
// depends on the entity type: line numbers for code, seconds for video and
// audio, character offsets otherwise.
type Entity struct {
	ID               string           `json:"id"`
	Type             EntityType       `json:"entity_type"`
	SourceContentID  string           `json:"source_content_id"`
	ParentEntityID   string           `json:"parent_entity_id,omitempty"`
	Name             string           `json:"name"`
	Description      string           `json:"description"`
	Metadata         EntityMetadata   `json:"metadata"`
	StartPosition    *float64         `json:"start_position,omitempty"`
	EndPosition      *float64         `json:"end_position,omitempty"`
	ConfidenceScore  float64          `json:"confidence_score"`
	ExtractionMethod ExtractionMethod `json:"extraction_method"`
	Embedding        []float32        `json:"-"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Relationship is a typed, confidence-scored directed edge. The triple
// (SourceEntityID, TargetEntityID, Type) is unique in a store.
//
// A bidirectional relationship is stored together with a mirror row
// (endpoints swapped, Bidirectional false). Both rows point at each other
// through MirrorID and are written and deleted together.
type Relationship struct {
	ID               string           `json:"id"`
	MirrorID         string           `json:"mirror_id,omitempty"`
	SourceEntityID   string           `json:"source_entity_id"`
	TargetEntityID   string           `json:"target_entity_id"`
	Type             RelationshipType `json:"relationship_type"`
	ConfidenceScore  float64          `json:"confidence_score"`
	Strength         float64          `json:"strength"`
	Bidirectional    bool             `json:"bidirectional"`
	Context          string           `json:"context,omitempty"`
	ExtractionMethod ExtractionMethod `json:"extraction_method"`
	Evidence         map[string]any   `json:"evidence,omitempty"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Triple is the uniqueness key of a relationship.
type Triple struct {
	Source string
	Target string
	Type   RelationshipType
}

// Triple returns the uniqueness key of r.
func (r Relationship) Triple() Triple {
	return Triple{Source: r.SourceEntityID, Target: r.TargetEntityID, Type: r.Type}
}

// Touches reports whether entityID is one of r's endpoints.
func (r Relationship) Touches(entityID string) bool {
	return r.SourceEntityID == entityID || r.TargetEntityID == entityID
}

// Other returns the endpoint of r that is not entityID.
func (r Relationship) Other(entityID string) string {
	if r.SourceEntityID == entityID {
		return r.TargetEntityID
	}
	return r.SourceEntityID
}

// Direction selects which edges of an entity are returned.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionOut || d == DirectionIn || d == DirectionBoth
}

// EntityFilter narrows QueryEntities. Zero values disable a criterion.
type EntityFilter struct {
	Types           []EntityType `json:"entity_types,omitempty"`
	SourceContentID string       `json:"source_content_id,omitempty"`
	MinConfidence   float64      `json:"min_confidence,omitempty"`
	Text            string       `json:"text,omitempty"`
	Limit           int          `json:"limit,omitempty"`
}

// Matches applies every criterion except Limit to e.
func (f EntityFilter) Matches(e Entity) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, e.Type) {
		return false
	}
	if f.SourceContentID != "" && e.SourceContentID != f.SourceContentID {
		return false
	}
	if e.ConfidenceScore < f.MinConfidence {
		return false
	}
	if f.Text != "" {
		needle := strings.ToLower(f.Text)
		if !strings.Contains(strings.ToLower(e.Name), needle) &&
			!strings.Contains(strings.ToLower(e.Description), needle) {
			return false
		}
	}
	return true
}

// Snapshot is a point-in-time copy of (part of) the graph handed to the
// analytics engines.
type Snapshot struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

// EntityIndex maps entity ids to entities.
func (s Snapshot) EntityIndex() map[string]Entity {
	idx := make(map[string]Entity, len(s.Entities))
	for _, e := range s.Entities {
		idx[e.ID] = e
	}
	return idx
}

// GraphStats summarises the stored graph.
type GraphStats struct {
	TotalEntities       int                      `json:"total_entities"`
	TotalRelationships  int                      `json:"total_relationships"`
	EntityTypes         map[EntityType]int       `json:"entity_types"`
	RelationshipTypes   map[RelationshipType]int `json:"relationship_types"`
	AverageConfidence   float64                  `json:"average_confidence"`
	GraphDensity        float64                  `json:"graph_density"`
	ConnectedComponents int                      `json:"connected_components"`
}
