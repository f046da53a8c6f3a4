package interfaces

import "context"

// EventType identifies a job lifecycle event.
type EventType string

const (
	EventJobStarted   EventType = "job_started"
	EventJobProgress  EventType = "job_progress"
	EventJobCompleted EventType = "job_completed"
	EventJobFailed    EventType = "job_failed"
	EventJobCancelled EventType = "job_cancelled"
)

// Event is a job lifecycle event published through the event service.
type Event struct {
	Type    EventType
	Payload map[string]interface{}
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event) error

// EventService implements pub/sub for job lifecycle events.
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error
	Publish(ctx context.Context, event Event) error
	// PublishSync delivers the event to all subscribers before returning.
	PublishSync(ctx context.Context, event Event) error
	Close() error
}
