package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/menulens/internal/common"
	"github.com/ternarybob/menulens/internal/interfaces"
)

// ErrServiceClosed is returned by Subscribe after Close
var ErrServiceClosed = errors.New("event service closed")

// Service is the in-process bus between the progress engine and its listeners.
// PublishSync runs handlers one after another in subscription order, so a listener sees
// snapshots in the order the engine produced them. Publish hands the same sequence to a
// background goroutine and returns at once.
type Service struct {
	logger arbor.ILogger

	mu          sync.RWMutex
	subscribers map[interfaces.EventType][]interfaces.EventHandler
	closed      bool
}

// NewService creates an empty bus
func NewService(logger arbor.ILogger) interfaces.EventService {
	return &Service{
		subscribers: make(map[interfaces.EventType][]interfaces.EventHandler),
		logger:      logger,
	}
}

// Subscribe registers handler for eventType
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler for %s cannot be nil", eventType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServiceClosed
	}
	s.subscribers[eventType] = append(s.subscribers[eventType], handler)

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")
	return nil
}

// Publish delivers event on a background goroutine. Two Publish calls are not ordered
// against each other; state snapshots go through PublishSync.
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	handlers := s.handlersFor(event.Type)
	if len(handlers) == 0 {
		return nil
	}
	common.SafeGo(s.logger, "event-"+string(event.Type), func() {
		_ = s.deliver(ctx, event, handlers)
	})
	return nil
}

// PublishSync delivers event to every handler and returns their joined errors.
// A failing handler does not stop delivery to the rest.
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	return s.deliver(ctx, event, s.handlersFor(event.Type))
}

func (s *Service) deliver(ctx context.Context, event interfaces.Event, handlers []interfaces.EventHandler) error {
	var errs []error
	for _, h := range handlers {
		if err := s.invoke(ctx, event, h); err != nil {
			s.logger.Error().
				Err(err).
				Str("event_type", string(event.Type)).
				Msg("Event handler failed")
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%d handler(s) failed for %s: %w", len(errs), event.Type, errors.Join(errs...))
}

// invoke turns a handler panic into an error so one listener cannot take the engine down
func (s *Service) invoke(ctx context.Context, event interfaces.Event, h interfaces.EventHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, event)
}

// Close drops every subscriber; later publications reach nobody
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = make(map[interfaces.EventType][]interfaces.EventHandler)
	s.closed = true
	s.logger.Debug().Msg("Event service closed")
	return nil
}

func (s *Service) handlersFor(eventType interfaces.EventType) []interfaces.EventHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]interfaces.EventHandler(nil), s.subscribers[eventType]...)
}
