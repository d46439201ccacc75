package queue

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/prsnl/kgraph/internal/pipeline"
	"github.com/prsnl/kgraph/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

type MsgType string

const (
	MsgProcess MsgType = "process"
	MsgRetry   MsgType = "retry"
)

// ProcessMsg is the body of a process_queue message. Process messages carry a
// content id and optional steps, retry messages the job to retry.
type ProcessMsg struct {
	Type      MsgType         `json:"type"`
	ContentID string          `json:"content_id,omitempty"`
	Steps     []pipeline.Step `json:"steps,omitempty"`
	JobID     string          `json:"job_id,omitempty"`
	Attempt   int             `json:"attempt,omitempty"`
}

// Publisher sends lifecycle events to the topic exchange and schedules job
// retries through the retry queue. A Publisher is safe for concurrent use.
type Publisher struct {
	mu sync.Mutex
	ch channel
}

var (
	_ pipeline.Publisher      = (*Publisher)(nil)
	_ pipeline.RetryScheduler = (*Publisher)(nil)
)

func NewPublisher(ch channel) *Publisher {
	return &Publisher{ch: ch}
}

func (p *Publisher) Publish(ctx context.Context, ev pipeline.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return PublishTopic(ctx, p.ch, string(ev.Type), data)
}

// ScheduleRetry parks a retry message in the retry queue. A job without
// retries left goes to the dead-letter queue instead.
func (p *Publisher) ScheduleRetry(ctx context.Context, job pipeline.Job) error {
	data, err := json.Marshal(ProcessMsg{Type: MsgRetry, JobID: job.ID, ContentID: job.ContentID, Attempt: job.RetryCount + 1})
	if err != nil {
		return err
	}
	target := RetryQueue(ProcessQueue)
	if job.RetryCount >= job.MaxRetries {
		target = DeadLetterQueue(ProcessQueue)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := PublishFIFO(ctx, p.ch, target, data, nil); err != nil {
		return err
	}
	logger.Debug("[Queue] Retry scheduled", "job_id", job.ID, "queue", target)
	return nil
}

func (p *Publisher) publishRaw(ctx context.Context, queueName string, body []byte, headers amqp091.Table) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PublishFIFO(ctx, p.ch, queueName, body, headers)
}
