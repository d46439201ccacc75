package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prsnl/kgraph/internal/util"
	"github.com/prsnl/kgraph/pkg/ai"
	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/logger"
	"github.com/prsnl/kgraph/pkg/store"

	"github.com/pkoukk/tiktoken-go"
)

// Options tunes extraction. Zero fields take the DefaultOptions value.
type Options struct {
	// CharBudget caps the text sent to the service.
	CharBudget int
	// TokenBudget additionally caps the text in o200k tokens when > 0.
	TokenBudget int
	// ProximityWindow links entities whose mentions start within this many
	// bytes of each other.
	ProximityWindow int
	// MaxProximityLinks bounds co-occurrence edges per call.
	MaxProximityLinks int
	// DefaultConfidence applies to relationships the service gave no
	// certainty for.
	DefaultConfidence float64
	// EntityConfidence applies to entities the service gave no certainty for.
	EntityConfidence float64
	// DedupeBoost is added to an existing entity's confidence when it is
	// extracted again.
	DedupeBoost float64
}

func DefaultOptions() Options {
	return Options{
		CharBudget:        5000,
		ProximityWindow:   200,
		MaxProximityLinks: 50,
		DefaultConfidence: 0.6,
		EntityConfidence:  0.7,
		DedupeBoost:       0.1,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.CharBudget <= 0 {
		o.CharBudget = d.CharBudget
	}
	if o.ProximityWindow <= 0 {
		o.ProximityWindow = d.ProximityWindow
	}
	if o.MaxProximityLinks <= 0 {
		o.MaxProximityLinks = d.MaxProximityLinks
	}
	if o.DefaultConfidence <= 0 {
		o.DefaultConfidence = d.DefaultConfidence
	}
	if o.EntityConfidence <= 0 {
		o.EntityConfidence = d.EntityConfidence
	}
	if o.DedupeBoost <= 0 {
		o.DedupeBoost = d.DedupeBoost
	}
	return o
}

// Extractor turns content plus a text analysis into stored entities and
// relationships. Entities are deduplicated per source content by exact name
// within one entity type. Relationships never cross content items.
type Extractor struct {
	store  store.GraphStorage
	client ai.GraphAIClient
	opts   Options
}

func NewExtractor(storage store.GraphStorage, client ai.GraphAIClient, opts Options) *Extractor {
	return &Extractor{store: storage, client: client, opts: opts.withDefaults()}
}

type ExtractRequest struct {
	ContentID   string
	ContentType ContentType
	Text        string
	// Prior skips the service call when the caller already has an analysis.
	Prior *ai.ContentAnalysis
}

type ExtractionResult struct {
	EntitiesCreated      int      `json:"entities_created"`
	EntitiesMerged       int      `json:"entities_merged"`
	RelationshipsCreated int      `json:"relationships_created"`
	Skipped              int      `json:"skipped"`
	EntityIDs            []string `json:"entity_ids"`
	Errors               []string `json:"errors,omitempty"`
}

var tokenEncoding = sync.OnceValues(func() (*tiktoken.Tiktoken, error) {
	return tiktoken.GetEncoding("o200k_base")
})

func (x *Extractor) budget(text string) string {
	text = util.TruncateRunes(text, x.opts.CharBudget)
	if x.opts.TokenBudget <= 0 {
		return text
	}
	enc, err := tokenEncoding()
	if err != nil {
		logger.Warn("[Extract] Token encoder unavailable, using character budget only", "err", err)
		return text
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= x.opts.TokenBudget {
		return text
	}
	return enc.Decode(tokens[:x.opts.TokenBudget])
}

// Extract runs extraction for one content item. When the service fails the
// result carries the error text, no entities are written, and the error is
// returned as an UpstreamServiceError for the caller to retry.
func (x *Extractor) Extract(ctx context.Context, req ExtractRequest) (ExtractionResult, error) {
	var res ExtractionResult
	if strings.TrimSpace(req.ContentID) == "" {
		return res, common.NewValidationError("content_id", "must not be empty")
	}
	analyzer := AnalyzerFor(req.ContentType)
	text := x.budget(analyzer.Prepare(req.Text))
	if strings.TrimSpace(text) == "" {
		return res, common.NewValidationError("text", "must not be empty")
	}

	analysis := req.Prior
	if analysis == nil {
		a, err := ai.AnalyzeContent(ctx, x.client, ai.AnalyzeRequest{
			Text:              text,
			ContentType:       string(req.ContentType),
			EntityTypes:       analyzer.EntityTypes(),
			RelationshipTypes: analyzer.RelationshipTypes(),
		})
		if err != nil {
			if !errors.Is(err, common.ErrUpstreamService) {
				err = common.NewUpstreamServiceError("analysis", err)
			}
			res.Errors = append(res.Errors, err.Error())
			logger.Warn("[Extract] Analysis failed", "content_id", req.ContentID, "err", err)
			return res, err
		}
		analysis = &a
	}

	cands := x.candidates(text, analyzer, *analysis, &res)

	existing, err := x.store.QueryEntities(ctx, common.EntityFilter{SourceContentID: req.ContentID})
	if err != nil {
		return res, fmt.Errorf("failed to load existing entities: %w", err)
	}
	known := make(map[string]common.Entity, len(existing))
	for _, e := range existing {
		known[candidateKey(e.Type, e.Name)] = e
	}

	var placed []placedEntity
	byName := make(map[string]string)
	byNorm := make(map[string]string)
	byTyped := make(map[string]string)
	for _, c := range cands {
		id, merged, err := x.upsertEntity(ctx, req.ContentID, c, known)
		if errors.Is(err, common.ErrValidation) || errors.Is(err, common.ErrCycle) {
			res.Skipped++
			res.Errors = append(res.Errors, fmt.Sprintf("entity %q: %v", c.Name, err))
			continue
		}
		if err != nil {
			return res, err
		}
		if merged {
			res.EntitiesMerged++
		} else {
			res.EntitiesCreated++
		}
		res.EntityIDs = append(res.EntityIDs, id)
		if _, ok := byName[c.Name]; !ok {
			byName[c.Name] = id
		}
		n := util.NormalizeName(c.Name)
		if byNorm[n] == "" {
			byNorm[n] = id
		}
		if k := candidateKey(c.Type, n); byTyped[k] == "" {
			byTyped[k] = id
		}
		if c.Offset >= 0 {
			placed = append(placed, placedEntity{id: id, offset: c.Offset})
		}
	}
	res.EntityIDs = store.DedupeStrings(res.EntityIDs)

	// A typed endpoint only matches an entity of that type; an untyped one
	// falls back to the name alone.
	resolve := func(name, typ string) (string, bool) {
		name = strings.TrimSpace(name)
		if t := common.EntityType(typ); t.Valid() {
			id, ok := byTyped[candidateKey(t, util.NormalizeName(name))]
			return id, ok
		}
		if id, ok := byName[name]; ok {
			return id, true
		}
		id, ok := byNorm[util.NormalizeName(name)]
		return id, ok
	}

	linked := make(map[[2]string]bool)
	for _, r := range analysis.Relationships {
		src, ok1 := resolve(r.Source, r.SourceType)
		tgt, ok2 := resolve(r.Target, r.TargetType)
		typ := common.RelationshipType(r.Type)
		if !ok1 || !ok2 || src == tgt || !typ.Valid() {
			res.Skipped++
			continue
		}
		conf := r.Confidence
		if conf <= 0 {
			conf = x.opts.DefaultConfidence
		}
		err := x.link(ctx, common.Relationship{
			SourceEntityID:   src,
			TargetEntityID:   tgt,
			Type:             typ,
			ConfidenceScore:  conf,
			Context:          r.Context,
			ExtractionMethod: common.ExtractionAI,
			Evidence:         map[string]any{"source": "ai_analysis", "content_id": req.ContentID},
		})
		if err != nil {
			if isRejected(err) {
				res.Skipped++
				continue
			}
			return res, err
		}
		res.RelationshipsCreated++
		linked[pairKey(src, tgt)] = true
	}

	n, err := x.linkByProximity(ctx, req.ContentID, placed, linked)
	res.RelationshipsCreated += n
	if err != nil {
		return res, err
	}

	logger.Info("[Extract] Extracted content",
		"content_id", req.ContentID,
		"entities_created", res.EntitiesCreated,
		"entities_merged", res.EntitiesMerged,
		"relationships", res.RelationshipsCreated,
		"skipped", res.Skipped,
	)
	return res, nil
}

type placedEntity struct {
	id     string
	offset int
}

func candidateKey(t common.EntityType, name string) string {
	return string(t) + "\x00" + strings.TrimSpace(name)
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

func isRejected(err error) bool {
	return errors.Is(err, common.ErrValidation) ||
		errors.Is(err, common.ErrSelfRelationship) ||
		errors.Is(err, common.ErrNotFound)
}

// candidates merges service entities with pattern detections, keyed by
// type and exact name, in first-seen order.
func (x *Extractor) candidates(
	text string,
	analyzer ContentAnalyzer,
	analysis ai.ContentAnalysis,
	res *ExtractionResult,
) []Candidate {
	allowed := make(map[common.EntityType]bool)
	for _, t := range analyzer.EntityTypes() {
		allowed[t] = true
	}

	var order []string
	merged := make(map[string]*Candidate)
	add := func(c Candidate) {
		k := candidateKey(c.Type, c.Name)
		cur, ok := merged[k]
		if !ok {
			c.Name = strings.TrimSpace(c.Name)
			merged[k] = &c
			order = append(order, k)
			return
		}
		cur.Confidence = max(cur.Confidence, c.Confidence)
		if cur.Description == "" {
			cur.Description = c.Description
		}
		cur.Metadata = cur.Metadata.Merge(c.Metadata)
		if cur.Offset < 0 && c.Offset >= 0 {
			cur.Offset, cur.Length = c.Offset, c.Length
		}
		if cur.Start == nil {
			cur.Start = c.Start
		}
	}

	for _, e := range analysis.Entities {
		typ := common.EntityType(strings.ToLower(strings.TrimSpace(e.Type)))
		if strings.TrimSpace(e.Name) == "" || !typ.Valid() || !allowed[typ] {
			res.Skipped++
			continue
		}
		conf := e.Confidence
		if conf <= 0 {
			conf = x.opts.EntityConfidence
		}
		offset, length := locate(text, e.Span, e.Name)
		add(Candidate{
			Name:        e.Name,
			Type:        typ,
			Description: e.Description,
			Confidence:  conf,
			Offset:      offset,
			Length:      length,
		})
	}
	for _, c := range analyzer.Detect(text) {
		add(c)
	}

	out := make([]Candidate, 0, len(order))
	for _, k := range order {
		out = append(out, *merged[k])
	}
	return out
}

func locate(text string, needles ...string) (int, int) {
	for _, n := range needles {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if i := strings.Index(text, n); i >= 0 {
			return i, len(n)
		}
	}
	return -1, 0
}

// upsertEntity merges c into an existing entity of the same content, type
// and name, or creates it.
func (x *Extractor) upsertEntity(
	ctx context.Context,
	contentID string,
	c Candidate,
	known map[string]common.Entity,
) (string, bool, error) {
	k := candidateKey(c.Type, c.Name)
	if cur, ok := known[k]; ok {
		conf := min(1, max(cur.ConfidenceScore, c.Confidence)+x.opts.DedupeBoost)
		patch := store.EntityPatch{ConfidenceScore: &conf, Metadata: &c.Metadata}
		if cur.Description == "" && c.Description != "" {
			patch.Description = &c.Description
		}
		updated, err := x.store.UpdateEntity(ctx, cur.ID, patch)
		if err != nil {
			return "", false, err
		}
		known[k] = updated
		return updated.ID, true, nil
	}

	e := common.Entity{
		Type:             c.Type,
		SourceContentID:  contentID,
		Name:             c.Name,
		Description:      c.Description,
		Metadata:         c.Metadata,
		ConfidenceScore:  c.Confidence,
		ExtractionMethod: common.ExtractionAI,
	}
	switch {
	case c.Start != nil:
		start := *c.Start
		e.StartPosition = &start
	case c.Offset >= 0:
		start, end := float64(c.Offset), float64(c.Offset+c.Length)
		e.StartPosition, e.EndPosition = &start, &end
	}

	id, err := x.store.CreateEntity(ctx, e)
	if err != nil {
		return "", false, err
	}
	e.ID = id
	known[k] = e
	return id, false, nil
}

func (x *Extractor) link(ctx context.Context, r common.Relationship) error {
	_, err := x.store.CreateRelationship(ctx, r)
	return err
}

// linkByProximity relates entities whose mentions start within the window,
// earlier mention as source. Pairs already linked in this call are skipped.
func (x *Extractor) linkByProximity(
	ctx context.Context,
	contentID string,
	placed []placedEntity,
	linked map[[2]string]bool,
) (int, error) {
	sort.Slice(placed, func(i, j int) bool {
		if placed[i].offset != placed[j].offset {
			return placed[i].offset < placed[j].offset
		}
		return placed[i].id < placed[j].id
	})

	created := 0
	for i := range placed {
		for j := i + 1; j < len(placed); j++ {
			dist := placed[j].offset - placed[i].offset
			if dist > x.opts.ProximityWindow {
				break
			}
			a, b := placed[i].id, placed[j].id
			if a == b || linked[pairKey(a, b)] {
				continue
			}
			if created >= x.opts.MaxProximityLinks {
				return created, nil
			}
			err := x.link(ctx, common.Relationship{
				SourceEntityID:   a,
				TargetEntityID:   b,
				Type:             common.RelRelatedTo,
				ConfidenceScore:  x.opts.DefaultConfidence,
				Context:          "mentioned close together",
				ExtractionMethod: common.ExtractionAI,
				Evidence:         map[string]any{"source": "proximity", "distance": dist, "content_id": contentID},
			})
			if err != nil {
				if isRejected(err) {
					continue
				}
				return created, err
			}
			linked[pairKey(a, b)] = true
			created++
		}
	}
	return created, nil
}
