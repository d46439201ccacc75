package base

import (
	"math"
	"strings"
	"time"

	"github.com/prsnl/kgraph/internal/util"
	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/store"
)

// PrepareEntity validates a new entity and fills in id, defaults and
// timestamps. Parent existence and cycles are checked by the backend with
// CheckParentChain.
func PrepareEntity(e common.Entity, now time.Time) (common.Entity, error) {
	if !e.Type.Valid() {
		return e, common.NewValidationError("entity_type", "unknown entity type %q", e.Type)
	}
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return e, common.NewValidationError("name", "must not be empty")
	}
	if strings.TrimSpace(e.SourceContentID) == "" {
		return e, common.NewValidationError("source_content_id", "must not be empty")
	}
	if e.ExtractionMethod == "" {
		e.ExtractionMethod = common.ExtractionManual
	}
	if !e.ExtractionMethod.Valid() {
		return e, common.NewValidationError("extraction_method", "unknown extraction method %q", e.ExtractionMethod)
	}
	if err := common.ValidateConfidence("confidence_score", e.ConfidenceScore); err != nil {
		return e, err
	}
	if err := validateSpan(e.StartPosition, e.EndPosition); err != nil {
		return e, err
	}

	if e.ID == "" {
		e.ID = util.NewPrefixedID("ent")
	}
	if e.ParentEntityID == e.ID {
		return e, &common.CycleError{EntityID: e.ID, ParentID: e.ParentEntityID}
	}

	e.Name = util.SanitizePostgresText(e.Name)
	e.Description = util.SanitizePostgresText(e.Description)
	e.CreatedAt = now
	e.UpdatedAt = now
	return e, nil
}

func validateSpan(start, end *float64) error {
	for _, p := range []*float64{start, end} {
		if p != nil && (math.IsNaN(*p) || *p < 0) {
			return common.NewValidationError("position", "must be a non-negative number")
		}
	}
	if start != nil && end != nil && *end < *start {
		return common.NewValidationError("end_position", "must not precede start_position")
	}
	return nil
}

// ApplyPatch returns e with the patch applied. Metadata is merged, not
// replaced. A changed parent must still be checked with CheckParentChain.
func ApplyPatch(e common.Entity, patch store.EntityPatch, now time.Time) (common.Entity, error) {
	if patch.ConfidenceScore != nil {
		if err := common.ValidateConfidence("confidence_score", *patch.ConfidenceScore); err != nil {
			return e, err
		}
		e.ConfidenceScore = *patch.ConfidenceScore
	}
	if patch.Description != nil {
		e.Description = util.SanitizePostgresText(*patch.Description)
	}
	if patch.Metadata != nil {
		e.Metadata = e.Metadata.Merge(*patch.Metadata)
	}
	if patch.ParentEntityID != nil {
		if *patch.ParentEntityID == e.ID {
			return e, &common.CycleError{EntityID: e.ID, ParentID: e.ID}
		}
		e.ParentEntityID = *patch.ParentEntityID
	}
	e.UpdatedAt = now
	return e, nil
}

// CheckParentChain walks up from parentID using parentOf and fails with a
// CycleError if entityID is reached. parentOf returns the parent of an
// existing entity ("" for a root) or a NotFoundError.
func CheckParentChain(entityID, parentID string, parentOf func(id string) (string, error)) error {
	if parentID == "" {
		return nil
	}
	seen := make(map[string]struct{})
	for cur := parentID; cur != ""; {
		if cur == entityID {
			return &common.CycleError{EntityID: entityID, ParentID: parentID}
		}
		if _, ok := seen[cur]; ok {
			return &common.CycleError{EntityID: entityID, ParentID: parentID}
		}
		seen[cur] = struct{}{}

		next, err := parentOf(cur)
		if err != nil {
			return err
		}
		cur = next
	}
	return nil
}

// Descendants returns every entity below root (excluding root) in
// breadth-first order, using childrenOf to expand one level.
func Descendants(root string, childrenOf func(id string) ([]string, error)) ([]string, error) {
	var out []string
	seen := map[string]struct{}{root: {}}
	queue := []string{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := childrenOf(cur)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out, nil
}
