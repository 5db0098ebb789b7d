package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventJobProgress carries a models.Job snapshot after an accepted event
	EventJobProgress EventType = "job_progress"
	// EventResultUpdated carries a *models.ResultSet snapshot after a materializer change
	EventResultUpdated EventType = "result_updated"
	// EventJobTerminal carries a TerminalPayload once per job, after the display floor
	EventJobTerminal EventType = "job_terminal"
	// EventChannelState carries a ChannelStatePayload when the push channel changes state
	EventChannelState EventType = "channel_state"
)

// AllEventTypes lists every event type published by the client
var AllEventTypes = []EventType{
	EventJobProgress,
	EventResultUpdated,
	EventJobTerminal,
	EventChannelState,
}

// TerminalPayload is published with EventJobTerminal
type TerminalPayload struct {
	JobID   string `json:"job_id"`
	Success bool   `json:"success"`
}

// ChannelStatePayload is published with EventChannelState. Error holds the close cause, if any.
type ChannelStatePayload struct {
	JobID string `json:"job_id"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
