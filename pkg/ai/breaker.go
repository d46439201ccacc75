package ai

import (
	"context"
	"errors"
	"time"

	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/logger"

	"github.com/sony/gobreaker"
)

const DefaultCallTimeout = 30 * time.Second

// BreakerClient wraps a GraphAIClient with a hard per-call timeout and a
// circuit breaker. Every failure it returns is an UpstreamServiceError.
type BreakerClient struct {
	next    GraphAIClient
	service string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
}

var _ GraphAIClient = (*BreakerClient)(nil)

func NewBreakerClient(next GraphAIClient, service string, timeout time.Duration) *BreakerClient {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.8
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("[AI] Circuit breaker state changed", "service", name, "from", from.String(), "to", to.String())
		},
		// Cancellation by the caller says nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerClient{next: next, service: service, timeout: timeout, cb: cb}
}

func (b *BreakerClient) call(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	res, err := b.cb.Execute(func() (any, error) {
		cctx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		return fn(cctx)
	})
	if err != nil {
		return nil, common.NewUpstreamServiceError(b.service, err)
	}
	return res, nil
}

func (b *BreakerClient) GenerateCompletion(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	res, err := b.call(ctx, func(ctx context.Context) (any, error) {
		return b.next.GenerateCompletion(ctx, prompt, opts...)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func (b *BreakerClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...GenerateOption,
) error {
	_, err := b.call(ctx, func(ctx context.Context) (any, error) {
		return nil, b.next.GenerateCompletionWithFormat(ctx, name, description, prompt, out, opts...)
	})
	return err
}

func (b *BreakerClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	res, err := b.call(ctx, func(ctx context.Context) (any, error) {
		return b.next.GenerateEmbedding(ctx, input)
	})
	if err != nil {
		return nil, err
	}
	return res.([]float32), nil
}

func (b *BreakerClient) ResetMetrics() {
	b.next.ResetMetrics()
}

func (b *BreakerClient) GetMetrics() ModelMetrics {
	return b.next.GetMetrics()
}

// State reports the breaker state for health output.
func (b *BreakerClient) State() string {
	return b.cb.State().String()
}
