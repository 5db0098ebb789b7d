package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/menulens/internal/common"
	"github.com/ternarybob/menulens/internal/progress"
	"github.com/ternarybob/menulens/internal/services/auth"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// socketServer accepts websocket connections and hands each to handle
type socketServer struct {
	*httptest.Server
	connections int32
	authHeaders []string
	userAgents  []string
	mu          sync.Mutex
}

func newSocketServer(t *testing.T, handle func(conn *websocket.Conn, n int32)) *socketServer {
	t.Helper()
	s := &socketServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.authHeaders = append(s.authHeaders, r.Header.Get("Authorization"))
		s.userAgents = append(s.userAgents, r.Header.Get("User-Agent"))
		s.mu.Unlock()

		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := atomic.AddInt32(&s.connections, 1)
		handle(conn, n)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *socketServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/api/menu/ws/progress/J"
}

func TestPushDeliversFramesAndIgnoresHeartbeats(t *testing.T) {
	server := newSocketServer(t, func(conn *websocket.Conn, n int32) {
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("pong"))
		conn.WriteMessage(websocket.TextMessage, []byte("{broken"))
		conn.WriteMessage(websocket.TextMessage, []byte(progressBody))
		conn.ReadMessage()
	})

	sink := &fakeSink{}
	push := NewPushChannel(server.wsURL(), "J", testTimings(), testProvider(), sink, testClock(), arbor.NewLogger())
	defer push.Close()

	push.Start()

	require.Eventually(t, func() bool { return sink.count(progress.SourcePush) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateOpen, push.State())

	server.mu.Lock()
	assert.Equal(t, "Bearer "+testToken, server.authHeaders[0])
	assert.Equal(t, common.UserAgent(), server.userAgents[0])
	server.mu.Unlock()
}

func TestPushSendsPingOnInterval(t *testing.T) {
	pings := make(chan string, 4)
	server := newSocketServer(t, func(conn *websocket.Conn, n int32) {
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			pings <- string(data)
			conn.WriteMessage(websocket.TextMessage, []byte("pong"))
		}
	})

	clock := testClock()
	push := NewPushChannel(server.wsURL(), "J", testTimings(), testProvider(), &fakeSink{}, clock, arbor.NewLogger())
	defer push.Close()

	push.Start()
	require.Eventually(t, func() bool { return push.State() == StateOpen }, 2*time.Second, 10*time.Millisecond)

	clock.Advance(30 * time.Second)

	select {
	case frame := <-pings:
		assert.Equal(t, "ping", frame)
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}

func TestPushReconnectsAfterFixedDelay(t *testing.T) {
	server := newSocketServer(t, func(conn *websocket.Conn, n int32) {
		if n == 1 {
			conn.Close()
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	})

	clock := testClock()
	var states []ChannelState
	var mu sync.Mutex

	push := NewPushChannel(server.wsURL(), "J", testTimings(), testProvider(), &fakeSink{}, clock, arbor.NewLogger())
	push.OnStateChange(func(state ChannelState, err error) {
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
	})
	defer push.Close()

	push.Start()
	require.Eventually(t, func() bool { return push.State() == StateClosed }, 2*time.Second, 10*time.Millisecond)

	clock.Advance(2 * time.Second)
	assert.Equal(t, StateClosed, push.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&server.connections))

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return push.State() == StateOpen }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&server.connections))

	mu.Lock()
	assert.Equal(t, []ChannelState{StateConnecting, StateOpen, StateClosed, StateConnecting, StateOpen}, states)
	mu.Unlock()
}

func TestPushCloseCancelsReconnect(t *testing.T) {
	server := newSocketServer(t, func(conn *websocket.Conn, n int32) {
		conn.Close()
	})

	clock := testClock()
	push := NewPushChannel(server.wsURL(), "J", testTimings(), testProvider(), &fakeSink{}, clock, arbor.NewLogger())

	push.Start()
	require.Eventually(t, func() bool { return push.State() == StateClosed }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, push.Close())
	assert.Equal(t, StateDisposed, push.State())
	assert.Equal(t, 0, clock.Pending())

	clock.Advance(time.Minute)
	assert.Equal(t, StateDisposed, push.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&server.connections))

	// idempotent
	require.NoError(t, push.Close())
}

func TestPushCloseWhileOpenStopsDelivery(t *testing.T) {
	release := make(chan struct{})
	server := newSocketServer(t, func(conn *websocket.Conn, n int32) {
		defer conn.Close()
		<-release
		conn.WriteMessage(websocket.TextMessage, []byte(progressBody))
	})
	defer close(release)

	sink := &fakeSink{}
	push := NewPushChannel(server.wsURL(), "J", testTimings(), testProvider(), sink, testClock(), arbor.NewLogger())

	push.Start()
	require.Eventually(t, func() bool { return push.State() == StateOpen }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, push.Close())
	release <- struct{}{}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sink.count(progress.SourcePush))
}

func TestPushStopsWhenCredentialExpires(t *testing.T) {
	server := newSocketServer(t, func(conn *websocket.Conn, n int32) {
		conn.Close()
	})

	clock := testClock()
	headers := &expiringHeaders{valid: 1}
	log := &stateLog{}
	push := NewPushChannel(server.wsURL(), "J", testTimings(), headers, &fakeSink{}, clock, arbor.NewLogger())
	push.OnStateChange(log.listen)
	defer push.Close()

	push.Start()
	require.Eventually(t, func() bool { return push.State() == StateClosed }, 2*time.Second, 10*time.Millisecond)

	clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool { return push.State() == StateDisposed }, 2*time.Second, 10*time.Millisecond)

	state, cause := log.last()
	assert.Equal(t, StateDisposed, state)
	assert.ErrorIs(t, cause, auth.ErrExpiredCredential)
	assert.Equal(t, 0, clock.Pending())

	for i := 0; i < 5; i++ {
		clock.Advance(3 * time.Second)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), headers.callCount())
	assert.Equal(t, int32(1), atomic.LoadInt32(&server.connections))
}

func TestPushStopsOnUnauthorizedHandshake(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token revoked", http.StatusUnauthorized)
	}))
	defer server.Close()

	clock := testClock()
	log := &stateLog{}
	push := NewPushChannel("ws"+strings.TrimPrefix(server.URL, "http"), "J", testTimings(), testProvider(), &fakeSink{}, clock, arbor.NewLogger())
	push.OnStateChange(log.listen)
	defer push.Close()

	push.Start()
	require.Eventually(t, func() bool { return push.State() == StateDisposed }, 2*time.Second, 10*time.Millisecond)

	_, cause := log.last()
	assert.ErrorIs(t, cause, auth.ErrUnauthorized)
	assert.Equal(t, 0, clock.Pending())
}

func TestPushDoesNotRescheduleAfterContextEnds(t *testing.T) {
	release := make(chan struct{})
	server := newSocketServer(t, func(conn *websocket.Conn, n int32) {
		<-release
		conn.Close()
	})

	clock := testClock()
	push := NewPushChannel(server.wsURL(), "J", testTimings(), testProvider(), &fakeSink{}, clock, arbor.NewLogger())
	defer push.Close()

	push.Start()
	require.Eventually(t, func() bool { return push.State() == StateOpen }, 2*time.Second, 10*time.Millisecond)

	// the reconnect policy reports Stop once the channel context is gone
	push.cancel()
	close(release)

	require.Eventually(t, func() bool { return push.State() == StateDisposed }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, clock.Pending())
}
