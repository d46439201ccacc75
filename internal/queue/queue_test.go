package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prsnl/kgraph/internal/pipeline"
	"github.com/prsnl/kgraph/pkg/common"

	"github.com/rabbitmq/amqp091-go"
)

type published struct {
	exchange string
	key      string
	msg      amqp091.Publishing
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

type fakeAck struct {
	acks, nacks int
}

func (a *fakeAck) Ack(uint64, bool) error        { a.acks++; return nil }
func (a *fakeAck) Nack(uint64, bool, bool) error { a.nacks++; return nil }
func (a *fakeAck) Reject(uint64, bool) error     { return nil }

type fakeProcessor struct {
	enqueued []string
	retried  []string
	err      error
}

func (p *fakeProcessor) Enqueue(_ context.Context, contentID string, _ []pipeline.Step) (pipeline.Job, bool, error) {
	if p.err != nil {
		return pipeline.Job{}, false, p.err
	}
	p.enqueued = append(p.enqueued, contentID)
	return pipeline.Job{ID: "job_" + contentID, ContentID: contentID}, false, nil
}

func (p *fakeProcessor) Retry(_ context.Context, jobID string) (pipeline.Job, error) {
	if p.err != nil {
		return pipeline.Job{}, p.err
	}
	p.retried = append(p.retried, jobID)
	return pipeline.Job{ID: jobID, RetryCount: 1}, nil
}

func delivery(t *testing.T, body any, headers amqp091.Table) (amqp091.Delivery, *fakeAck) {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		var err error
		if raw, err = json.Marshal(b); err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	ack := &fakeAck{}
	return amqp091.Delivery{Acknowledger: ack, Body: raw, Headers: headers}, ack
}

func TestConsumerHandle(t *testing.T) {
	tests := []struct {
		name      string
		body      any
		headers   amqp091.Table
		procErr   error
		wantQueue string
		wantEnq   int
		wantRetry int
	}{
		{"process request", ProcessMsg{Type: MsgProcess, ContentID: "c1"}, nil, nil, "", 1, 0},
		{"retry request", ProcessMsg{Type: MsgRetry, JobID: "job_1"}, nil, nil, "", 0, 1},
		{"malformed json", "{nope", nil, nil, "process_queue_dlq", 0, 0},
		{"unknown type", ProcessMsg{Type: "reindex"}, nil, nil, "process_queue_dlq", 0, 0},
		{"retry without job", ProcessMsg{Type: MsgRetry}, nil, nil, "process_queue_dlq", 0, 0},
		{"exhausted job", ProcessMsg{Type: MsgRetry, JobID: "job_1"}, nil, &common.JobExhaustedRetries{JobID: "job_1", Retries: 3}, "process_queue_dlq", 0, 0},
		{"rejected request", ProcessMsg{Type: MsgProcess}, nil, common.NewValidationError("content_id", "must not be empty"), "", 0, 0},
		{"transient failure", ProcessMsg{Type: MsgProcess, ContentID: "c1"}, nil, pipeline.ErrQueueFull, "process_queue_retry", 0, 0},
		{"transient failure out of retries", ProcessMsg{Type: MsgProcess, ContentID: "c1"}, amqp091.Table{"x-retries": int32(MaxDeliveryRetries)}, pipeline.ErrQueueFull, "process_queue_dlq", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{}
			proc := &fakeProcessor{err: tt.procErr}
			c := NewConsumer(ProcessQueue, proc, NewPublisher(ch))

			msg, ack := delivery(t, tt.body, tt.headers)
			c.Handle(context.Background(), msg)

			if ack.acks != 1 || ack.nacks != 0 {
				t.Fatalf("acks = %d nacks = %d, want one ack", ack.acks, ack.nacks)
			}
			if len(proc.enqueued) != tt.wantEnq || len(proc.retried) != tt.wantRetry {
				t.Fatalf("enqueued %v retried %v", proc.enqueued, proc.retried)
			}
			if tt.wantQueue == "" {
				if len(ch.sent) != 0 {
					t.Fatalf("unexpected publish: %+v", ch.sent)
				}
				return
			}
			if len(ch.sent) != 1 || ch.sent[0].key != tt.wantQueue {
				t.Fatalf("published %+v, want one message to %s", ch.sent, tt.wantQueue)
			}
		})
	}
}

func TestConsumerRetryIncrementsHeader(t *testing.T) {
	ch := &fakeChannel{}
	c := NewConsumer(ProcessQueue, &fakeProcessor{err: errors.New("db down")}, NewPublisher(ch))
	msg, _ := delivery(t, ProcessMsg{Type: MsgProcess, ContentID: "c1"}, amqp091.Table{"x-retries": int32(2), "trace": "t1"})

	c.Handle(context.Background(), msg)

	if len(ch.sent) != 1 {
		t.Fatalf("published %d messages", len(ch.sent))
	}
	h := ch.sent[0].msg.Headers
	if h["x-retries"] != int32(3) || h["trace"] != "t1" {
		t.Fatalf("headers = %v", h)
	}
	if msg.Headers["x-retries"] != int32(2) {
		t.Fatalf("delivery headers were modified")
	}
}

func TestConsumerNacksWhenBrokerRefuses(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	c := NewConsumer(ProcessQueue, &fakeProcessor{err: errors.New("db down")}, NewPublisher(ch))
	msg, ack := delivery(t, ProcessMsg{Type: MsgProcess, ContentID: "c1"}, nil)

	c.Handle(context.Background(), msg)

	if ack.nacks != 1 || ack.acks != 0 {
		t.Fatalf("acks = %d nacks = %d, want a requeueing nack", ack.acks, ack.nacks)
	}
}

func TestPublisher(t *testing.T) {
	ctx := context.Background()
	ch := &fakeChannel{}
	p := NewPublisher(ch)

	ev := pipeline.Event{Type: pipeline.EventCompleted, JobID: "job_1", ContentID: "c1"}
	if err := p.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := p.ScheduleRetry(ctx, pipeline.Job{ID: "job_1", RetryCount: 0, MaxRetries: 3}); err != nil {
		t.Fatalf("ScheduleRetry() error = %v", err)
	}
	if err := p.ScheduleRetry(ctx, pipeline.Job{ID: "job_2", RetryCount: 3, MaxRetries: 3}); err != nil {
		t.Fatalf("ScheduleRetry() error = %v", err)
	}

	want := []struct{ exchange, key string }{
		{EventsExchange, "job.completed"},
		{"", "process_queue_retry"},
		{"", "process_queue_dlq"},
	}
	if len(ch.sent) != len(want) {
		t.Fatalf("published %d messages, want %d", len(ch.sent), len(want))
	}
	for i, w := range want {
		if ch.sent[i].exchange != w.exchange || ch.sent[i].key != w.key {
			t.Fatalf("message %d went to %q/%q, want %q/%q", i, ch.sent[i].exchange, ch.sent[i].key, w.exchange, w.key)
		}
	}

	var m ProcessMsg
	if err := json.Unmarshal(ch.sent[1].msg.Body, &m); err != nil {
		t.Fatalf("retry body: %v", err)
	}
	if m.Type != MsgRetry || m.JobID != "job_1" || m.Attempt != 1 {
		t.Fatalf("retry message = %+v", m)
	}
}
