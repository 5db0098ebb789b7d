package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/menulens/internal/interfaces"
	"github.com/ternarybob/menulens/internal/models"
)

// ErrUnexpectedPayload is wrapped when an event carries a payload of the wrong type
var ErrUnexpectedPayload = errors.New("unexpected event payload")

// OnJobProgress subscribes fn to job snapshots
func OnJobProgress(svc interfaces.EventService, fn func(ctx context.Context, job models.Job) error) error {
	return svc.Subscribe(interfaces.EventJobProgress, func(ctx context.Context, event interfaces.Event) error {
		job, ok := event.Payload.(models.Job)
		if !ok {
			return payloadError(event)
		}
		return fn(ctx, job)
	})
}

// OnResultUpdated subscribes fn to result snapshots. Nil snapshots are skipped.
func OnResultUpdated(svc interfaces.EventService, fn func(ctx context.Context, rs *models.ResultSet) error) error {
	return svc.Subscribe(interfaces.EventResultUpdated, func(ctx context.Context, event interfaces.Event) error {
		rs, ok := event.Payload.(*models.ResultSet)
		if !ok {
			return payloadError(event)
		}
		if rs == nil {
			return nil
		}
		return fn(ctx, rs)
	})
}

// OnJobTerminal subscribes fn to the once-per-job terminal notification
func OnJobTerminal(svc interfaces.EventService, fn func(ctx context.Context, payload interfaces.TerminalPayload) error) error {
	return svc.Subscribe(interfaces.EventJobTerminal, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(interfaces.TerminalPayload)
		if !ok {
			return payloadError(event)
		}
		return fn(ctx, payload)
	})
}

// OnChannelState subscribes fn to push channel states and credential failures
func OnChannelState(svc interfaces.EventService, fn func(ctx context.Context, payload interfaces.ChannelStatePayload) error) error {
	return svc.Subscribe(interfaces.EventChannelState, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(interfaces.ChannelStatePayload)
		if !ok {
			return payloadError(event)
		}
		return fn(ctx, payload)
	})
}

func payloadError(event interfaces.Event) error {
	return fmt.Errorf("%w: %T on %s", ErrUnexpectedPayload, event.Payload, event.Type)
}
