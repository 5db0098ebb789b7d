package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/menulens/internal/common"
	"github.com/ternarybob/menulens/internal/models"
	"github.com/ternarybob/menulens/internal/progress"
	"github.com/ternarybob/menulens/internal/services/auth"
)

type received struct {
	event  *models.Event
	source progress.Source
}

type fakeSink struct {
	mu     sync.Mutex
	events []received
}

func (s *fakeSink) ApplyEvent(ctx context.Context, ev *models.Event, source progress.Source) progress.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, received{event: ev, source: source})
	return progress.OutcomeApplied
}

func (s *fakeSink) count(source progress.Source) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.events {
		if r.source == source {
			n++
		}
	}
	return n
}

type fakeFetcher struct {
	mu    sync.Mutex
	body  []byte
	err   error
	calls int
}

func (f *fakeFetcher) FetchProgress(ctx context.Context, jobID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.body, f.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var errFetch = errors.New("backend unavailable")

// expiringHeaders hands out a valid header for the first valid calls, then reports an expired credential
type expiringHeaders struct {
	valid int32
	calls int32
}

func (h *expiringHeaders) AuthorizationHeader(ctx context.Context) (http.Header, error) {
	if atomic.AddInt32(&h.calls, 1) <= h.valid {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+testToken)
		return header, nil
	}
	return nil, fmt.Errorf("%w: expired at 2026-01-01T00:00:00Z", auth.ErrExpiredCredential)
}

func (h *expiringHeaders) callCount() int32 {
	return atomic.LoadInt32(&h.calls)
}

// stateLog records push state changes and their causes
type stateLog struct {
	mu     sync.Mutex
	states []ChannelState
	causes []error
}

func (l *stateLog) listen(state ChannelState, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, state)
	l.causes = append(l.causes, err)
}

func (l *stateLog) last() (ChannelState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.states) == 0 {
		return StateIdle, nil
	}
	return l.states[len(l.states)-1], l.causes[len(l.causes)-1]
}

const testToken = "test-token"

func testProvider() *auth.Provider {
	return auth.NewStaticProvider(testToken, time.Time{}, arbor.NewLogger())
}

func testClock() *common.ManualClock {
	return common.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

func testTimings() Timings {
	t := DefaultTimings()
	t.DialTimeout = 2 * time.Second
	return t
}

const progressBody = `{"menu_id":"J","status":"processing","stage":"extracting_menu","progress":30,"message":{"text":"Reading","emoji":"📖"},"estimated_time_remaining":20,"item_count":0}`
