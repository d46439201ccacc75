package common

import "maps"

// EntityMetadata holds type-specific attributes of an entity. Known shapes
// get their own field; anything else lands in Extra.
type EntityMetadata struct {
	Code         *CodeMetadata         `json:"code,omitempty"`
	Media        *MediaMetadata        `json:"media,omitempty"`
	Conversation *ConversationMetadata `json:"conversation,omitempty"`
	Concept      *ConceptMetadata      `json:"concept,omitempty"`
	Extra        map[string]any        `json:"extra,omitempty"`
}

// CodeMetadata describes code_function, code_class and code_module entities.
type CodeMetadata struct {
	Language  string `json:"language,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// MediaMetadata describes video, audio and image entities.
type MediaMetadata struct {
	Speaker   string `json:"speaker,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Caption   string `json:"caption,omitempty"`
}

// ConversationMetadata describes conversation_turn entities.
type ConversationMetadata struct {
	Role string `json:"role,omitempty"`
	Turn int    `json:"turn,omitempty"`
}

// ConceptMetadata describes knowledge_concept entities.
type ConceptMetadata struct {
	Domain  string `json:"domain,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

// Merge returns m with the fields of o applied on top. Typed sections of o
// replace those of m when present; Extra keys are unioned with o winning.
func (m EntityMetadata) Merge(o EntityMetadata) EntityMetadata {
	out := m
	if o.Code != nil {
		out.Code = o.Code
	}
	if o.Media != nil {
		out.Media = o.Media
	}
	if o.Conversation != nil {
		out.Conversation = o.Conversation
	}
	if o.Concept != nil {
		out.Concept = o.Concept
	}
	out.Extra = MergeMaps(m.Extra, o.Extra)
	return out
}

// IsZero reports whether no metadata is set.
func (m EntityMetadata) IsZero() bool {
	return m.Code == nil && m.Media == nil && m.Conversation == nil && m.Concept == nil && len(m.Extra) == 0
}

// MergeMaps unions a and b into a new map, b winning on key collisions.
// It returns nil when both are empty.
func MergeMaps(a, b map[string]any) map[string]any {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]any, len(a)+len(b))
	maps.Copy(out, a)
	maps.Copy(out, b)
	return out
}
