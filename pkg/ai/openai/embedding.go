package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prsnl/kgraph/pkg/ai"

	"github.com/openai/openai-go/v3"
)

// GenerateEmbedding embeds one input. The vector is truncated or
// zero-padded to the configured dimension so it fits the vector column.
func (c *GraphOpenAIClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	text := strings.TrimSpace(string(input))
	if text == "" {
		return nil, errors.New("cannot embed empty input")
	}
	if c.EmbeddingClient == nil {
		return nil, errors.New("openai embedding client not configured")
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	start := time.Now()
	response, err := c.EmbeddingClient.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Model: c.embeddingModel,
	})
	if err != nil {
		return nil, err
	}
	c.AddMetrics(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	if len(response.Data) != 1 {
		return nil, fmt.Errorf("unexpected embedding result size: got %d want 1", len(response.Data))
	}
	return fitDimension(response.Data[0].Embedding, c.embeddingDim), nil
}

func fitDimension(values []float64, dim int) []float32 {
	if dim <= 0 {
		dim = len(values)
	}
	out := make([]float32, dim)
	for i := 0; i < dim && i < len(values); i++ {
		out[i] = float32(values[i])
	}
	return out
}
