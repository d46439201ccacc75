package pipeline

import (
	"context"
	"time"
)

type EventType string

const (
	EventCompleted EventType = "job.completed"
	EventFailed    EventType = "job.failed"
	EventCancelled EventType = "job.cancelled"
)

func eventFor(s Status) (EventType, bool) {
	switch s {
	case StatusCompleted:
		return EventCompleted, true
	case StatusFailed:
		return EventFailed, true
	case StatusCancelled:
		return EventCancelled, true
	}
	return "", false
}

// Event announces that a job reached a terminal status.
type Event struct {
	Type      EventType `json:"type"`
	JobID     string    `json:"job_id"`
	ContentID string    `json:"content_id"`
	Summary   Summary   `json:"summary"`
	At        time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// RetryScheduler arranges for Retry to be called for a failed job later,
// usually from another process.
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, job Job) error
}
