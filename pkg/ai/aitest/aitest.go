// Package aitest provides a scriptable ai.GraphAIClient for tests.
package aitest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/prsnl/kgraph/pkg/ai"
)

// Client answers structured requests by schema name from Responses,
// completions from Completion and embeddings from Embed. Unset handlers
// return an error. Calls are counted per schema name ("completion" and
// "embedding" for the other two).
type Client struct {
	ai.MetricsTracker

	Responses  map[string]any
	Completion func(ctx context.Context, prompt string) (string, error)
	Embed      func(ctx context.Context, input []byte) ([]float32, error)
	Err        map[string]error

	mu    sync.Mutex
	calls map[string]int
}

var _ ai.GraphAIClient = (*Client)(nil)

func (c *Client) count(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[name]++
}

// Calls returns how often the named request was made.
func (c *Client) Calls(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func (c *Client) GenerateCompletion(ctx context.Context, prompt string, _ ...ai.GenerateOption) (string, error) {
	c.count("completion")
	if err := c.Err["completion"]; err != nil {
		return "", err
	}
	if c.Completion == nil {
		return "", errors.New("no completion configured")
	}
	return c.Completion(ctx, prompt)
}

func (c *Client) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	_ string,
	_ string,
	out any,
	_ ...ai.GenerateOption,
) error {
	c.count(name)
	if err := c.Err[name]; err != nil {
		return err
	}
	resp, ok := c.Responses[name]
	if !ok {
		return errors.New("no response configured for " + name)
	}
	if fn, ok := resp.(func(ctx context.Context) (any, error)); ok {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		resp = v
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (c *Client) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	c.count("embedding")
	if err := c.Err["embedding"]; err != nil {
		return nil, err
	}
	if c.Embed == nil {
		return nil, errors.New("no embedding configured")
	}
	return c.Embed(ctx, input)
}

// BlockUntilDone is a handler that waits for the call context to end, for
// simulating a service that never answers.
func BlockUntilDone(ctx context.Context) (any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
