// Package queue carries processing requests, scheduled retries and job
// lifecycle events over RabbitMQ.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/prsnl/kgraph/internal/util"
	"github.com/prsnl/kgraph/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ProcessQueue   = "process_queue"
	EventsExchange = "pubsub_exchange"

	DefaultRetryDelay = 10 * time.Second
)

func RetryQueue(name string) string { return name + "_retry" }
func DeadLetterQueue(name string) string { return name + "_dlq" }

// channel is the part of *amqp091.Channel the package publishes through.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

func Init() *amqp091.Connection {
	user := util.GetEnv("RABBITMQ_USER")
	pass := util.GetEnv("RABBITMQ_PASSWORD")
	host := util.GetEnv("RABBITMQ_HOST")
	port := util.GetEnvString("RABBITMQ_PORT", "5672")

	connURL := fmt.Sprintf("amqp://%s:%s@%s:%s/", user, pass, host, port)

	conn, err := amqp091.Dial(connURL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	return conn
}

// SetupQueues declares the events exchange and, for every queue name, the
// durable queue, its dead-letter queue and a retry queue whose messages
// return to the queue after retryDelay.
func SetupQueues(ch *amqp091.Channel, queueNames []string, retryDelay time.Duration) error {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	err := ch.ExchangeDeclare(
		EventsExchange,
		"topic",
		false, // durable
		true,  // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", EventsExchange, err)
	}

	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
		if _, err := ch.QueueDeclare(DeadLetterQueue(name), true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", DeadLetterQueue(name), err)
		}
		_, err := ch.QueueDeclare(
			RetryQueue(name),
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelay.Milliseconds()),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", RetryQueue(name), err)
		}
	}
	return nil
}

func PublishFIFO(ctx context.Context, ch channel, queueName string, data []byte, headers amqp091.Table) error {
	return ch.PublishWithContext(ctx, "", queueName, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
}

func PublishTopic(ctx context.Context, ch channel, topic string, data []byte) error {
	return ch.PublishWithContext(ctx, EventsExchange, topic, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
}
