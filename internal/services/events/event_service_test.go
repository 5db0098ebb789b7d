package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/menulens/internal/interfaces"
	"github.com/ternarybob/menulens/internal/models"
)

func TestSubscribeRejectsNilHandler(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	err := svc.Subscribe(interfaces.EventJobProgress, nil)
	assert.Error(t, err)
}

func TestPublishSyncWaitsForAllHandlers(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	var calls int32
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Subscribe(interfaces.EventJobProgress, func(ctx context.Context, event interfaces.Event) error {
			atomic.AddInt32(&calls, 1)
			return nil
		}))
	}

	err := svc.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobProgress,
		Payload: models.NewJob("job-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPublishSyncReportsHandlerErrors(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	require.NoError(t, svc.Subscribe(interfaces.EventJobTerminal, func(ctx context.Context, event interfaces.Event) error {
		return errors.New("boom")
	}))
	require.NoError(t, svc.Subscribe(interfaces.EventJobTerminal, func(ctx context.Context, event interfaces.Event) error {
		return nil
	}))

	err := svc.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobTerminal,
		Payload: interfaces.TerminalPayload{JobID: "job-1", Success: true},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 handler(s) failed for job_terminal")
	assert.Contains(t, err.Error(), "boom")
}

func TestPublishSyncRunsHandlersInSubscriptionOrder(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	var order []int
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Subscribe(interfaces.EventResultUpdated, func(ctx context.Context, event interfaces.Event) error {
			order = append(order, i)
			return nil
		}))
	}

	require.NoError(t, svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventResultUpdated}))
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestPublishSyncSurvivesPanickingHandler(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	var reached int32
	require.NoError(t, svc.Subscribe(interfaces.EventJobProgress, func(ctx context.Context, event interfaces.Event) error {
		panic("listener bug")
	}))
	require.NoError(t, svc.Subscribe(interfaces.EventJobProgress, func(ctx context.Context, event interfaces.Event) error {
		atomic.AddInt32(&reached, 1)
		return nil
	}))

	err := svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobProgress, Payload: models.NewJob("job-1")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listener bug")
	assert.Equal(t, int32(1), atomic.LoadInt32(&reached))
}

func TestPublishDeliversInBackground(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	got := make(chan string, 1)
	require.NoError(t, svc.Subscribe(interfaces.EventChannelState, func(ctx context.Context, event interfaces.Event) error {
		got <- event.Payload.(interfaces.ChannelStatePayload).State
		return nil
	}))

	require.NoError(t, svc.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventChannelState,
		Payload: interfaces.ChannelStatePayload{JobID: "job-1", State: "open"},
	}))

	select {
	case state := <-got:
		assert.Equal(t, "open", state)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	assert.NoError(t, svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventChannelState}))
	assert.NoError(t, svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventChannelState}))
}

func TestCloseDropsSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var calls int32
	require.NoError(t, svc.Subscribe(interfaces.EventResultUpdated, func(ctx context.Context, event interfaces.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))
	require.NoError(t, svc.Close())

	require.NoError(t, svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventResultUpdated}))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	err := svc.Subscribe(interfaces.EventResultUpdated, func(ctx context.Context, event interfaces.Event) error { return nil })
	assert.ErrorIs(t, err, ErrServiceClosed)
}

// TestLoggerSubscriberHandlesEveryPayload verifies the logger subscriber accepts all published payload shapes
func TestLoggerSubscriberHandlesEveryPayload(t *testing.T) {
	logger := arbor.NewLogger()
	subscriber := NewLoggerSubscriber(logger)
	ctx := context.Background()

	payloads := []interfaces.Event{
		{Type: interfaces.EventJobProgress, Payload: models.NewJob("job-1")},
		{Type: interfaces.EventResultUpdated, Payload: &models.ResultSet{ID: "job-1"}},
		{Type: interfaces.EventResultUpdated, Payload: (*models.ResultSet)(nil)},
		{Type: interfaces.EventJobTerminal, Payload: interfaces.TerminalPayload{JobID: "job-1", Success: false}},
		{Type: interfaces.EventChannelState, Payload: interfaces.ChannelStatePayload{JobID: "job-1", State: "open"}},
		{Type: interfaces.EventChannelState, Payload: interfaces.ChannelStatePayload{JobID: "job-1", State: "failed", Error: "expired credential"}},
		{Type: interfaces.EventChannelState, Payload: nil},
	}

	for _, event := range payloads {
		assert.NoError(t, subscriber(ctx, event))
	}
}

func TestSubscribeLoggerToAllEvents(t *testing.T) {
	logger := arbor.NewLogger()
	svc := NewService(logger)
	defer svc.Close()

	require.NoError(t, SubscribeLoggerToAllEvents(svc, logger))

	for _, eventType := range interfaces.AllEventTypes {
		assert.NoError(t, svc.PublishSync(context.Background(), interfaces.Event{Type: eventType}))
	}
}
