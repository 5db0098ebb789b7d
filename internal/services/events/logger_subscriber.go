package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/menulens/internal/interfaces"
	"github.com/ternarybob/menulens/internal/models"
)

// NewLoggerSubscriber creates an event handler that logs all events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		switch payload := event.Payload.(type) {
		case models.Job:
			logEvent = logEvent.
				Str("job_id", payload.ID).
				Str("status", string(payload.Status)).
				Str("stage", payload.Stage).
				Int("item_count", payload.ItemCount)
		case *models.ResultSet:
			if payload != nil {
				logEvent = logEvent.
					Str("job_id", payload.ID).
					Int("records", len(payload.Records))
			}
		case interfaces.TerminalPayload:
			logEvent = logEvent.
				Str("job_id", payload.JobID).
				Bool("success", payload.Success)
		case interfaces.ChannelStatePayload:
			logEvent = logEvent.
				Str("job_id", payload.JobID).
				Str("state", payload.State)
			if payload.Error != "" {
				logEvent = logEvent.Str("cause", payload.Error)
			}
		}

		logEvent.Msg("Event published")

		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	for _, eventType := range interfaces.AllEventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Debug().
		Int("event_type_count", len(interfaces.AllEventTypes)).
		Msg("Logger subscribed to all event types")

	return nil
}
