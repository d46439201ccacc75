package ollama

import (
	"context"
	"errors"
	"strings"

	"github.com/prsnl/kgraph/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GenerateEmbedding embeds one input with the configured embedding model.
// The vector is truncated or zero-padded to the configured dimension.
func (c *GraphOllamaClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	text := strings.TrimSpace(string(input))
	if text == "" {
		return nil, errors.New("cannot embed empty input")
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	res, err := c.Client.Embed(ctx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: text,
	})
	if err != nil {
		return nil, err
	}
	c.AddMetrics(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})
	if len(res.Embeddings) == 0 {
		return nil, errors.New("no embedding returned")
	}

	vec := res.Embeddings[0]
	dim := c.embeddingDim
	if dim <= 0 {
		dim = len(vec)
	}
	out := make([]float32, dim)
	copy(out, vec)
	return out, nil
}
