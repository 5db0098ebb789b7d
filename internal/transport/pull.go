package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/menulens/internal/common"
	"github.com/ternarybob/menulens/internal/interfaces"
	"github.com/ternarybob/menulens/internal/progress"
	"github.com/ternarybob/menulens/internal/services/auth"
)

// PullChannel polls the progress snapshot of one job while it is resumed.
// The next tick is scheduled only after the previous poll finished, so polls never overlap.
// A credential failure closes the channel and is reported once to the failure handler.
type PullChannel struct {
	jobID   string
	timings Timings
	fetcher interfaces.ProgressFetcher
	sink    Sink
	clock   common.Clock
	logger  arbor.ILogger
	// limiter caps the immediate polls triggered by Resume when push flaps
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	active     bool
	closed     bool
	generation uint64
	timer      common.Timer
	onFailure  func(error)
}

// NewPullChannel creates a suspended pull channel for jobID
func NewPullChannel(jobID string, timings Timings, fetcher interfaces.ProgressFetcher, sink Sink, clock common.Clock, logger arbor.ILogger) *PullChannel {
	timings = timings.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &PullChannel{
		jobID:   jobID,
		timings: timings,
		fetcher: fetcher,
		sink:    sink,
		clock:   clock,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(timings.PollInterval), 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// OnCredentialFailure registers fn, called without the channel lock once polling stopped on a
// rejected credential
func (p *PullChannel) OnCredentialFailure(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFailure = fn
}

// Resume starts polling: immediately, then every poll interval
func (p *PullChannel) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.active {
		return
	}
	p.active = true
	p.generation++
	gen := p.generation

	if p.limiter.Allow() {
		common.SafeGo(p.logger, "pull-poll", func() {
			p.poll(gen)
		})
		return
	}
	p.scheduleLocked(gen)
}

// Suspend stops polling. A poll already in flight drops its result.
func (p *PullChannel) Suspend() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return
	}
	p.active = false
	p.generation++
	p.stopTimerLocked()
}

// Active reports whether the channel is polling
func (p *PullChannel) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Close stops polling for good
func (p *PullChannel) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.active = false
	p.generation++
	p.stopTimerLocked()
	p.mu.Unlock()

	p.cancel()
	return nil
}

func (p *PullChannel) poll(gen uint64) {
	if !p.isCurrent(gen) {
		return
	}

	body, err := p.fetcher.FetchProgress(p.ctx, p.jobID)

	if !p.isCurrent(gen) {
		return
	}

	switch {
	case auth.IsCredentialError(err):
		p.logger.Error().Err(err).Str("job_id", p.jobID).Msg("Progress polling stopped, credential rejected")
		p.mu.Lock()
		fn := p.onFailure
		p.mu.Unlock()
		_ = p.Close()
		if fn != nil {
			fn(err)
		}
		return
	case err != nil:
		if !errors.Is(err, context.Canceled) {
			p.logger.Warn().Err(err).Str("job_id", p.jobID).Msg("Progress poll failed")
		}
	default:
		ev, decodeErr := DecodeEvent(body)
		if decodeErr != nil {
			p.logger.Warn().Err(decodeErr).Str("job_id", p.jobID).Msg("Dropping progress snapshot")
		} else {
			p.sink.ApplyEvent(p.ctx, ev, progress.SourcePull)
		}
	}

	p.mu.Lock()
	if gen == p.generation && p.active {
		p.scheduleLocked(gen)
	}
	p.mu.Unlock()
}

func (p *PullChannel) scheduleLocked(gen uint64) {
	p.stopTimerLocked()
	p.timer = p.clock.AfterFunc(p.timings.PollInterval, func() {
		p.poll(gen)
	})
}

func (p *PullChannel) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *PullChannel) isCurrent(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen == p.generation && p.active && !p.closed
}
