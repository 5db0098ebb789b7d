package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/menulens/internal/common"
	"github.com/ternarybob/menulens/internal/interfaces"
	"github.com/ternarybob/menulens/internal/services/auth"
)

// StateFailed is published on EventChannelState when both channels stopped on a rejected credential
const StateFailed = "failed"

// Timings configures both channels
type Timings struct {
	PollInterval    time.Duration
	PingInterval    time.Duration
	ReconnectDelay  time.Duration
	DialTimeout     time.Duration
	MaxMessageBytes int64
}

// DefaultTimings returns the backend's documented cadence
func DefaultTimings() Timings {
	return Timings{
		PollInterval:    2 * time.Second,
		PingInterval:    30 * time.Second,
		ReconnectDelay:  3 * time.Second,
		DialTimeout:     10 * time.Second,
		MaxMessageBytes: 1 << 20,
	}
}

// TimingsFromConfig converts the [progress] section, falling back to defaults per field
func TimingsFromConfig(cfg common.ProgressConfig) Timings {
	d := DefaultTimings()
	t := Timings{
		PollInterval:    common.ParseDuration(cfg.PollInterval, d.PollInterval),
		PingInterval:    common.ParseDuration(cfg.PingInterval, d.PingInterval),
		ReconnectDelay:  common.ParseDuration(cfg.ReconnectDelay, d.ReconnectDelay),
		DialTimeout:     common.ParseDuration(cfg.DialTimeout, d.DialTimeout),
		MaxMessageBytes: cfg.MaxMessageBytes,
	}
	return t.withDefaults()
}

func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	if t.PollInterval <= 0 {
		t.PollInterval = d.PollInterval
	}
	if t.PingInterval <= 0 {
		t.PingInterval = d.PingInterval
	}
	if t.ReconnectDelay <= 0 {
		t.ReconnectDelay = d.ReconnectDelay
	}
	if t.DialTimeout <= 0 {
		t.DialTimeout = d.DialTimeout
	}
	if t.MaxMessageBytes <= 0 {
		t.MaxMessageBytes = d.MaxMessageBytes
	}
	return t
}

// Pair runs the push and pull channels of one job against a single sink. Pull is active
// exactly while push is not open. Closing the pair disposes both. When either channel meets a
// rejected credential both are stopped and OnFailure runs once.
type Pair struct {
	jobID     string
	headers   HeaderSource
	events    interfaces.EventService
	logger    arbor.ILogger
	push      *PushChannel
	pull      *PullChannel
	onFailure func(error)

	mu      sync.Mutex
	started bool
	closed  bool
	failed  bool
}

// PairOptions are the collaborators of a Pair
type PairOptions struct {
	JobID     string
	SocketURL string
	Timings   Timings
	Headers   HeaderSource
	Fetcher   interfaces.ProgressFetcher
	Sink      Sink
	Clock     common.Clock
	Events    interfaces.EventService
	// OnFailure is called on its own goroutine with the credential error that stopped the channels
	OnFailure func(error)
}

// NewPair builds both channels without opening them
func NewPair(opts PairOptions, logger arbor.ILogger) *Pair {
	clock := opts.Clock
	if clock == nil {
		clock = common.NewSystemClock()
	}
	p := &Pair{
		jobID:     opts.JobID,
		headers:   opts.Headers,
		events:    opts.Events,
		logger:    logger,
		push:      NewPushChannel(opts.SocketURL, opts.JobID, opts.Timings, opts.Headers, opts.Sink, clock, logger),
		pull:      NewPullChannel(opts.JobID, opts.Timings, opts.Fetcher, opts.Sink, clock, logger),
		onFailure: opts.OnFailure,
	}
	p.push.OnStateChange(p.onPushState)
	p.pull.OnCredentialFailure(p.onPullFailure)
	return p
}

// Start validates the credential and opens the channels. A credential error is returned and
// nothing is opened.
func (p *Pair) Start(ctx context.Context) error {
	if _, err := p.headers.AuthorizationHeader(ctx); err != nil {
		return fmt.Errorf("failed to authorize progress channels: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("progress channels for job %s already closed", p.jobID)
	}
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	// the push listener may take mu, so push starts outside it
	p.push.Start()
	return nil
}

// onPushState runs with the push lock held
func (p *Pair) onPushState(state ChannelState, cause error) {
	switch state {
	case StateOpen:
		p.pull.Suspend()
	case StateConnecting, StateClosed:
		p.pull.Resume()
	case StateDisposed:
		p.pull.Close()
	}

	p.logger.Debug().
		Str("job_id", p.jobID).
		Str("state", state.String()).
		Msg("Push channel state changed")

	p.publishState(state.String(), cause)

	if state == StateDisposed && auth.IsCredentialError(cause) {
		p.fail(cause)
	}
}

// onPullFailure runs on the poll goroutine after the pull channel closed itself
func (p *Pair) onPullFailure(err error) {
	_ = p.push.Close()
	p.fail(err)
}

func (p *Pair) fail(err error) {
	p.mu.Lock()
	if p.failed || p.closed {
		p.mu.Unlock()
		return
	}
	p.failed = true
	p.mu.Unlock()

	p.publishState(StateFailed, err)

	if p.onFailure != nil {
		common.SafeGo(p.logger, "pair-failure", func() {
			p.onFailure(err)
		})
	}
}

func (p *Pair) publishState(state string, cause error) {
	if p.events == nil {
		return
	}
	payload := interfaces.ChannelStatePayload{JobID: p.jobID, State: state}
	if cause != nil {
		payload.Error = cause.Error()
	}
	p.events.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventChannelState,
		Payload: payload,
	})
}

// Failed reports whether the channels stopped on a rejected credential
func (p *Pair) Failed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

// PushState returns the push channel state
func (p *Pair) PushState() ChannelState {
	return p.push.State()
}

// Polling reports whether the pull channel is active
func (p *Pair) Polling() bool {
	return p.pull.Active()
}

// Close disposes both channels
func (p *Pair) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.push.Close()
	if pullErr := p.pull.Close(); pullErr != nil && err == nil {
		err = pullErr
	}
	return err
}
