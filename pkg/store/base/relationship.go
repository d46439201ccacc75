package base

import (
	"math"
	"strings"
	"time"

	"github.com/prsnl/kgraph/internal/util"
	"github.com/prsnl/kgraph/pkg/common"
)

// DefaultStrength is applied when a relationship arrives without a weight.
const DefaultStrength = 1.0

// PrepareRelationship validates a relationship before the upsert. Endpoint
// existence is checked by the backend inside its transaction.
func PrepareRelationship(r common.Relationship, now time.Time) (common.Relationship, error) {
	r.SourceEntityID = strings.TrimSpace(r.SourceEntityID)
	r.TargetEntityID = strings.TrimSpace(r.TargetEntityID)
	if r.SourceEntityID != "" && r.SourceEntityID == r.TargetEntityID {
		return r, &common.SelfRelationshipError{EntityID: r.SourceEntityID}
	}
	if r.SourceEntityID == "" {
		return r, common.NewValidationError("source_entity_id", "must not be empty")
	}
	if r.TargetEntityID == "" {
		return r, common.NewValidationError("target_entity_id", "must not be empty")
	}
	if !r.Type.Valid() {
		return r, common.NewValidationError("relationship_type", "unknown relationship type %q", r.Type)
	}
	if err := common.ValidateConfidence("confidence_score", r.ConfidenceScore); err != nil {
		return r, err
	}
	if math.IsNaN(r.Strength) || r.Strength < 0 {
		return r, common.NewValidationError("strength", "must be positive")
	}
	if r.Strength == 0 {
		r.Strength = DefaultStrength
	}
	if r.ExtractionMethod == "" {
		r.ExtractionMethod = common.ExtractionManual
	}
	if !r.ExtractionMethod.Valid() {
		return r, common.NewValidationError("extraction_method", "unknown extraction method %q", r.ExtractionMethod)
	}

	if r.ID == "" {
		r.ID = util.NewPrefixedID("rel")
	}
	r.MirrorID = ""
	r.Context = util.SanitizePostgresText(r.Context)
	r.CreatedAt = now
	r.UpdatedAt = now
	return r, nil
}

// MergeRelationship folds a re-asserted edge into the stored one: the higher
// confidence wins, evidence and metadata are unioned, and identity and
// creation time are kept.
func MergeRelationship(existing, incoming common.Relationship, now time.Time) common.Relationship {
	out := existing
	out.ConfidenceScore = max(existing.ConfidenceScore, incoming.ConfidenceScore)
	out.Strength = max(existing.Strength, incoming.Strength)
	out.Bidirectional = existing.Bidirectional || incoming.Bidirectional
	if incoming.Context != "" {
		out.Context = incoming.Context
	}
	out.Evidence = common.MergeMaps(existing.Evidence, incoming.Evidence)
	out.Metadata = common.MergeMaps(existing.Metadata, incoming.Metadata)
	out.UpdatedAt = now
	return out
}

// Mirror derives the reverse row of a bidirectional relationship.
func Mirror(r common.Relationship) common.Relationship {
	m := r
	m.ID = util.NewPrefixedID("rel")
	m.SourceEntityID, m.TargetEntityID = r.TargetEntityID, r.SourceEntityID
	m.Bidirectional = false
	m.MirrorID = r.ID
	m.Evidence = common.MergeMaps(r.Evidence, nil)
	m.Metadata = common.MergeMaps(r.Metadata, nil)
	return m
}

// SyncMirror merges the primary's current state into an existing mirror
// row so both halves stay consistent after an upsert.
func SyncMirror(mirror, primary common.Relationship, now time.Time) common.Relationship {
	merged := MergeRelationship(mirror, Mirror(primary), now)
	merged.Bidirectional = mirror.Bidirectional
	merged.MirrorID = primary.ID
	return merged
}
