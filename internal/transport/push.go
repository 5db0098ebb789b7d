// -----------------------------------------------------------------------
// Push channel - websocket subscription with fixed-delay reconnect
// -----------------------------------------------------------------------

package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/menulens/internal/common"
	"github.com/ternarybob/menulens/internal/progress"
	"github.com/ternarybob/menulens/internal/services/auth"
)

// StateListener is called on every push state change. It runs with the channel lock held and
// must not call back into the channel.
type StateListener func(state ChannelState, err error)

// PushChannel keeps a websocket subscription to one job open while the job is not terminal.
// Every callback (dial result, read, ping, reconnect) is tagged with the connection generation
// and dropped when the generation moved on or the channel was disposed.
// A credential failure disposes the channel with the failure as cause; it is never retried.
type PushChannel struct {
	url     string
	jobID   string
	timings Timings
	headers HeaderSource
	sink    Sink
	clock   common.Clock
	logger  arbor.ILogger
	dialer  *websocket.Dialer
	backoff backoff.BackOff

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      ChannelState
	generation uint64
	conn       *websocket.Conn
	pingTimer  common.Timer
	retryTimer common.Timer
	listener   StateListener

	// writeMu serializes frame writes on conn
	writeMu sync.Mutex
}

// NewPushChannel creates an idle push channel for jobID at url
func NewPushChannel(url, jobID string, timings Timings, headers HeaderSource, sink Sink, clock common.Clock, logger arbor.ILogger) *PushChannel {
	timings = timings.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &PushChannel{
		url:     url,
		jobID:   jobID,
		timings: timings,
		headers: headers,
		sink:    sink,
		clock:   clock,
		logger:  logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: timings.DialTimeout,
		},
		// Stop once ctx is cancelled, so a late close never schedules a reconnect
		backoff: backoff.WithContext(backoff.NewConstantBackOff(timings.ReconnectDelay), ctx),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateIdle,
	}
}

// OnStateChange registers the state listener
func (p *PushChannel) OnStateChange(fn StateListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = fn
}

// State returns the current state
func (p *PushChannel) State() ChannelState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start begins the first connection attempt
func (p *PushChannel) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateIdle {
		return
	}
	p.connectLocked()
}

// connectLocked moves to Connecting and dials on a new goroutine. Caller holds mu.
func (p *PushChannel) connectLocked() {
	if !p.setStateLocked(StateConnecting, nil) {
		return
	}
	p.generation++
	gen := p.generation
	common.SafeGo(p.logger, "push-dial", func() {
		p.dial(gen)
	})
}

func (p *PushChannel) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timings.DialTimeout)
	defer cancel()

	header, err := p.headers.AuthorizationHeader(ctx)
	if err != nil {
		p.handleClosed(gen, err)
		return
	}
	header = header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("User-Agent", common.UserAgent())

	conn, resp, err := p.dialer.DialContext(ctx, p.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			err = fmt.Errorf("%w: websocket handshake returned %d", auth.ErrUnauthorized, resp.StatusCode)
		}
		p.handleClosed(gen, err)
		return
	}

	p.mu.Lock()
	if gen != p.generation || p.state != StateConnecting {
		p.mu.Unlock()
		conn.Close()
		return
	}
	if p.timings.MaxMessageBytes > 0 {
		conn.SetReadLimit(p.timings.MaxMessageBytes)
	}
	p.conn = conn
	p.backoff.Reset()
	p.setStateLocked(StateOpen, nil)
	p.schedulePingLocked(gen)
	p.mu.Unlock()

	p.logger.Debug().Str("job_id", p.jobID).Str("url", p.url).Msg("Push channel open")

	p.readLoop(gen, conn)
}

func (p *PushChannel) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			p.handleClosed(gen, err)
			return
		}
		if !p.isCurrent(gen) {
			return
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			if !errors.Is(err, ErrHeartbeat) {
				p.logger.Warn().Err(err).Str("job_id", p.jobID).Msg("Dropping push frame")
			}
			continue
		}
		p.sink.ApplyEvent(p.ctx, ev, progress.SourcePush)
	}
}

// handleClosed tears down the connection of gen and schedules a reconnect after the fixed delay.
// Credential failures and a cancelled channel context dispose the channel instead.
func (p *PushChannel) handleClosed(gen uint64, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.generation || (p.state != StateConnecting && p.state != StateOpen) {
		return
	}

	p.stopPingLocked()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}

	if auth.IsCredentialError(cause) {
		p.logger.Error().
			Err(cause).
			Str("job_id", p.jobID).
			Msg("Push channel stopped, credential rejected")
		p.disposeLocked(cause)
		return
	}

	delay := p.backoff.NextBackOff()
	if delay == backoff.Stop {
		p.logger.Debug().Err(cause).Str("job_id", p.jobID).Msg("Push channel closed after its context ended")
		p.disposeLocked(cause)
		return
	}

	p.setStateLocked(StateClosed, cause)

	p.logger.Warn().
		Err(cause).
		Str("job_id", p.jobID).
		Dur("retry_in", delay).
		Msg("Push channel closed")

	p.retryTimer = p.clock.AfterFunc(delay, func() {
		p.reconnect(gen)
	})
}

// disposeLocked moves to Disposed without a reconnect. Caller holds mu.
func (p *PushChannel) disposeLocked(cause error) {
	p.generation++
	p.setStateLocked(StateDisposed, cause)
	p.cancel()
}

func (p *PushChannel) reconnect(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.generation || p.state != StateClosed {
		return
	}
	p.retryTimer = nil
	p.connectLocked()
}

func (p *PushChannel) schedulePingLocked(gen uint64) {
	if p.timings.PingInterval <= 0 {
		return
	}
	p.pingTimer = p.clock.AfterFunc(p.timings.PingInterval, func() {
		p.ping(gen)
	})
}

func (p *PushChannel) ping(gen uint64) {
	p.mu.Lock()
	if gen != p.generation || p.state != StateOpen || p.conn == nil {
		p.mu.Unlock()
		return
	}
	conn := p.conn
	p.mu.Unlock()

	p.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, []byte(pingFrame))
	p.writeMu.Unlock()
	if err != nil {
		p.handleClosed(gen, err)
		return
	}

	p.mu.Lock()
	if gen == p.generation && p.state == StateOpen {
		p.schedulePingLocked(gen)
	}
	p.mu.Unlock()
}

func (p *PushChannel) stopPingLocked() {
	if p.pingTimer != nil {
		p.pingTimer.Stop()
		p.pingTimer = nil
	}
}

func (p *PushChannel) isCurrent(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen == p.generation && p.state == StateOpen
}

// setStateLocked applies a typed transition and notifies the listener. Caller holds mu.
func (p *PushChannel) setStateLocked(next ChannelState, cause error) bool {
	if !canTransition(p.state, next) {
		return false
	}
	p.state = next
	if p.listener != nil {
		p.listener(next, cause)
	}
	return true
}

// Close disposes the channel. No callback of any earlier generation has an effect afterwards.
func (p *PushChannel) Close() error {
	p.mu.Lock()
	if p.state == StateDisposed {
		p.mu.Unlock()
		return nil
	}
	p.generation++
	p.stopPingLocked()
	if p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
	conn := p.conn
	p.conn = nil
	p.setStateLocked(StateDisposed, nil)
	p.mu.Unlock()

	p.cancel()
	if conn == nil {
		return nil
	}

	p.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	p.writeMu.Unlock()
	return conn.Close()
}
