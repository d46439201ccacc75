package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prsnl/kgraph/internal/pipeline"
	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// MaxDeliveryRetries is how often a message whose handling failed for a
// transient reason goes through the retry queue before it is dead-lettered.
const MaxDeliveryRetries = 10

const retriesHeader = "x-retries"

// Processor is the part of the orchestrator the consumer drives.
type Processor interface {
	Enqueue(ctx context.Context, contentID string, steps []pipeline.Step) (pipeline.Job, bool, error)
	Retry(ctx context.Context, jobID string) (pipeline.Job, error)
}

type Consumer struct {
	queue string
	proc  Processor
	pub   *Publisher
}

func NewConsumer(queueName string, proc Processor, pub *Publisher) *Consumer {
	return &Consumer{queue: queueName, proc: proc, pub: pub}
}

// Consume handles deliveries one at a time until ctx ends or the delivery
// channel closes.
func (c *Consumer) Consume(ctx context.Context, msgs <-chan amqp091.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			logger.Info("[Queue] Stopping consumer", "queue", c.queue)
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel of %s closed", c.queue)
			}
			c.Handle(ctx, msg)
		}
	}
}

// Handle acks a delivery once it was dispatched. Malformed messages and jobs
// without retries left go to the dead-letter queue, rejected requests are
// dropped and anything else goes through the retry queue.
func (c *Consumer) Handle(ctx context.Context, msg amqp091.Delivery) {
	err := c.dispatch(ctx, msg.Body)
	switch {
	case err == nil:
		c.ack(msg)
	case errors.Is(err, errMalformed), errors.Is(err, common.ErrJobExhaustedRetries):
		logger.Warn("[Queue] Dead-lettering message", "queue", c.queue, "err", err)
		c.deadLetter(ctx, msg)
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrNotFound):
		logger.Warn("[Queue] Dropping rejected message", "queue", c.queue, "err", err)
		c.ack(msg)
	default:
		logger.Error("[Queue] Error processing message", "queue", c.queue, "err", err)
		c.retry(ctx, msg)
	}
}

var errMalformed = errors.New("malformed message")

func (c *Consumer) dispatch(ctx context.Context, body []byte) error {
	var m ProcessMsg
	if err := json.Unmarshal(body, &m); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	switch m.Type {
	case MsgProcess:
		job, coalesced, err := c.proc.Enqueue(ctx, m.ContentID, m.Steps)
		if err != nil {
			return err
		}
		logger.Info("[Queue] Processing requested", "content_id", m.ContentID, "job_id", job.ID, "coalesced", coalesced)
		return nil
	case MsgRetry:
		if m.JobID == "" {
			return fmt.Errorf("%w: retry without job_id", errMalformed)
		}
		job, err := c.proc.Retry(ctx, m.JobID)
		if err != nil {
			return err
		}
		logger.Info("[Queue] Job retry started", "job_id", job.ID, "attempt", job.RetryCount)
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", errMalformed, m.Type)
	}
}

func (c *Consumer) ack(msg amqp091.Delivery) {
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "queue", c.queue, "err", err)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msg amqp091.Delivery) {
	dlq := DeadLetterQueue(c.queue)
	if err := c.pub.publishRaw(ctx, dlq, msg.Body, msg.Headers); err != nil {
		logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlq, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	c.ack(msg)
}

func (c *Consumer) retry(ctx context.Context, msg amqp091.Delivery) {
	retries := headerInt(msg.Headers[retriesHeader])
	if retries >= MaxDeliveryRetries {
		c.deadLetter(ctx, msg)
		return
	}

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[retriesHeader] = int32(retries + 1)

	retryName := RetryQueue(c.queue)
	if err := c.pub.publishRaw(ctx, retryName, msg.Body, headers); err != nil {
		logger.Error("[Queue] Failed to publish to retry queue", "retry_queue", retryName, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	c.ack(msg)
}

func headerInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int16:
		return int(n)
	case int8:
		return int(n)
	}
	return 0
}
