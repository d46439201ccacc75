package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prsnl/kgraph/internal/util"
	"github.com/prsnl/kgraph/pkg/ai"
	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/graph"
	"github.com/prsnl/kgraph/pkg/logger"
	"github.com/prsnl/kgraph/pkg/store"

	"golang.org/x/sync/semaphore"
)

// Budgets caps the characters each step sends upstream. Zero sends the full
// text.
type Budgets struct {
	Analysis       int
	Categorization int
	Summarization  int
	Extraction     int
	Embeddings     int
}

func DefaultBudgets() Budgets {
	return Budgets{Analysis: 8000, Categorization: 4000, Extraction: 5000, Embeddings: 2000}
}

// run carries the outputs of earlier steps of one job attempt to later ones.
type run struct {
	job  *Job
	item ContentItem
	text string

	analysis       *ai.ContentAnalysis
	categorization *ai.Categorization
	summary        string
	extraction     *graph.ExtractionResult
	embedding      []float32
}

// outputs collects what the run produced for the content item's metadata.
func (r *run) outputs() *Outputs {
	o := &Outputs{Summary: r.summary, Embedding: r.embedding}
	if r.analysis != nil {
		o.KeyPoints = r.analysis.KeyPoints
		o.Tags = r.analysis.Tags
		o.Sentiment = r.analysis.Sentiment
	}
	if r.categorization != nil {
		o.Category = r.categorization.Category
		o.Subcategory = r.categorization.Subcategory
		o.Tags = mergeTags(o.Tags, r.categorization.SuggestedTags)
	}
	if r.extraction != nil {
		o.EntitiesCreated = r.extraction.EntitiesCreated
		o.EntitiesMerged = r.extraction.EntitiesMerged
		o.RelationshipsCreated = r.extraction.RelationshipsCreated
	}
	return o
}

func mergeTags(a, b []string) []string {
	return ai.NormalizeTags(append(append([]string{}, a...), b...), ai.MaxTags)
}

type stepFunc func(ctx context.Context, r *run) error

func budget(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	return util.TruncateRunes(text, limit)
}

// stepRunner binds the step implementations to their collaborators.
type stepRunner struct {
	client          ai.GraphAIClient
	extractor       *graph.Extractor
	store           store.GraphStorage
	budgets         Budgets
	summaryMinChars int
	// embedSem bounds concurrent entity embedding calls across all workers.
	embedSem *semaphore.Weighted
}

func (s *stepRunner) funcs() map[Step]stepFunc {
	return map[Step]stepFunc{
		StepAnalysis:       s.analyze,
		StepCategorization: s.categorize,
		StepSummarization:  s.summarize,
		StepExtraction:     s.extract,
		StepEmbeddings:     s.embed,
	}
}

func (s *stepRunner) analyze(ctx context.Context, r *run) error {
	analyzer := graph.AnalyzerFor(r.item.Type)
	a, err := ai.AnalyzeContent(ctx, s.client, ai.AnalyzeRequest{
		Text:              budget(r.text, s.budgets.Analysis),
		ContentType:       string(r.item.Type),
		EntityTypes:       analyzer.EntityTypes(),
		RelationshipTypes: analyzer.RelationshipTypes(),
	})
	if err != nil {
		return err
	}
	r.analysis = &a
	return nil
}

func (s *stepRunner) categorize(ctx context.Context, r *run) error {
	c, err := ai.CategorizeContent(ctx, s.client, r.item.Title, budget(r.text, s.budgets.Categorization))
	if err != nil {
		return err
	}
	r.categorization = &c
	return nil
}

// summarize only calls the service for content longer than summaryMinChars.
// Shorter content is its own summary and the step counts as completed.
func (s *stepRunner) summarize(ctx context.Context, r *run) error {
	if len([]rune(r.text)) <= s.summaryMinChars {
		r.summary = strings.TrimSpace(r.text)
		return nil
	}
	sum, err := ai.SummarizeContent(ctx, s.client, budget(r.text, s.budgets.Summarization))
	if err != nil {
		return err
	}
	r.summary = sum
	return nil
}

func (s *stepRunner) extract(ctx context.Context, r *run) error {
	res, err := s.extractor.Extract(ctx, graph.ExtractRequest{
		ContentID:   r.item.ID,
		ContentType: r.item.Type,
		Text:        budget(r.item.Text, s.budgets.Extraction),
		Prior:       r.analysis,
	})
	if err != nil {
		return err
	}
	r.extraction = &res
	return nil
}

// embed embeds the content and then every entity extracted in this run.
// The step fails only when the content embedding fails; entity embedding
// failures are logged.
func (s *stepRunner) embed(ctx context.Context, r *run) error {
	vec, err := s.client.GenerateEmbedding(ctx, []byte(budget(r.text, s.budgets.Embeddings)))
	if err != nil {
		return err
	}
	if len(vec) == 0 {
		return common.NewUpstreamServiceError("embedding", errors.New("empty embedding"))
	}
	r.embedding = vec

	var ids []string
	if r.extraction != nil {
		ids = r.extraction.EntityIDs
	} else {
		entities, err := s.store.QueryEntities(ctx, common.EntityFilter{SourceContentID: r.item.ID})
		if err != nil {
			return fmt.Errorf("failed to load entities: %w", err)
		}
		for _, e := range entities {
			ids = append(ids, e.ID)
		}
	}

	failed := 0
	done := make(chan error, len(ids))
	for _, id := range ids {
		if err := s.embedSem.Acquire(ctx, 1); err != nil {
			return err
		}
		go func(id string) {
			defer s.embedSem.Release(1)
			done <- s.embedEntity(ctx, id)
		}(id)
	}
	for range ids {
		if err := <-done; err != nil {
			failed++
			logger.Debug("[Pipeline] Entity embedding failed", "content_id", r.item.ID, "err", err)
		}
	}
	if failed > 0 {
		logger.Warn("[Pipeline] Some entity embeddings missing", "content_id", r.item.ID, "failed", failed, "total", len(ids))
	}
	return nil
}

func (s *stepRunner) embedEntity(ctx context.Context, id string) error {
	e, err := s.store.GetEntity(ctx, id)
	if err != nil {
		return err
	}
	vec, err := s.client.GenerateEmbedding(ctx, []byte(strings.TrimSpace(e.Name+"\n"+e.Description)))
	if err != nil {
		return err
	}
	return s.store.SetEntityEmbedding(ctx, id, vec)
}
