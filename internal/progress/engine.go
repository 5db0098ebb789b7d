package progress

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/menulens/internal/common"
	"github.com/ternarybob/menulens/internal/interfaces"
	"github.com/ternarybob/menulens/internal/models"
)

// Source identifies which channel delivered an event
type Source string

const (
	SourcePush Source = "push"
	SourcePull Source = "pull"
)

// Outcome is the result of feeding one event into the engine
type Outcome int

const (
	OutcomeApplied   Outcome = iota // state or result changed
	OutcomeUnchanged                // accepted but nothing visible changed
	OutcomeDuplicate                // record patch already applied
	OutcomeFrozen                   // job already terminal
	OutcomeStale                    // no active observation or different job id
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeFrozen:
		return "frozen"
	case OutcomeStale:
		return "stale"
	default:
		return "unknown"
	}
}

var (
	// ErrNoJob is returned when an operation needs a job id and none was given
	ErrNoJob = errors.New("job id is required")
	// ErrStaleObservation is returned when a caller refers to an observation that was replaced or disposed
	ErrStaleObservation = errors.New("observation is no longer active")
)

// CompletionRecorder is told when a job first reaches completed
type CompletionRecorder interface {
	RecordCompleted(jobID, title string)
}

// TerminalFunc is invoked exactly once per observed job, after the display floor
type TerminalFunc func(jobID string, success bool)

// Options configures an Engine
type Options struct {
	Clock              common.Clock
	MinDisplayDuration time.Duration
	Events             interfaces.EventService
	Recent             CompletionRecorder
	OnTerminal         TerminalFunc
}

// Engine owns the progress and result state of the active job. Every event from either channel
// enters through ApplyEvent; publication of snapshots keeps the order in which events were applied.
type Engine struct {
	mu sync.Mutex
	// notifyMu is taken before mu is released so publications keep mutation order
	notifyMu sync.Mutex

	logger     arbor.ILogger
	clock      common.Clock
	events     interfaces.EventService
	recent     CompletionRecorder
	onTerminal TerminalFunc

	jobID         string
	observationID string
	disposed      bool
	terminalFired bool
	transport     io.Closer

	dedup   *Deduplicator
	state   *JobStateMachine
	results *Materializer
	gate    *CompletionGate
}

// NewEngine creates an engine with no active observation
func NewEngine(opts Options, logger arbor.ILogger) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = common.NewSystemClock()
	}
	return &Engine{
		logger:     logger,
		clock:      clock,
		events:     opts.Events,
		recent:     opts.Recent,
		onTerminal: opts.OnTerminal,
		dedup:      NewDeduplicator(),
		state:      NewJobStateMachine(),
		results:    NewMaterializer(),
		gate:       NewCompletionGate(clock, opts.MinDisplayDuration),
	}
}

// SetTerminalHandler replaces the terminal callback
func (e *Engine) SetTerminalHandler(fn TerminalFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTerminal = fn
}

// Observe switches the engine to jobID. Any previous transport and pending terminal timer are
// stopped before it returns. The returned observation id tags timers and transports.
func (e *Engine) Observe(jobID string) (string, error) {
	if jobID == "" {
		return "", ErrNoJob
	}

	e.mu.Lock()
	previous := e.transport
	e.transport = nil
	e.gate.Reset()
	e.dedup.Reset()
	e.state.Reset(jobID)
	e.results.Reset(jobID)
	e.jobID = jobID
	e.observationID = uuid.New().String()
	e.disposed = false
	e.terminalFired = false
	observationID := e.observationID
	e.mu.Unlock()

	closeTransport(previous, e.logger)

	e.logger.Debug().
		Str("job_id", jobID).
		Str("observation_id", observationID).
		Msg("Observing job")

	return observationID, nil
}

// AttachTransport hands the engine ownership of the channels feeding observationID.
// A transport for a stale or already terminal observation is closed immediately.
func (e *Engine) AttachTransport(observationID string, transport io.Closer) error {
	e.mu.Lock()
	if e.disposed || observationID != e.observationID {
		e.mu.Unlock()
		closeTransport(transport, e.logger)
		return ErrStaleObservation
	}
	if e.state.IsTerminal() {
		e.mu.Unlock()
		closeTransport(transport, e.logger)
		return nil
	}
	previous := e.transport
	e.transport = transport
	e.mu.Unlock()

	if previous != nil && previous != transport {
		closeTransport(previous, e.logger)
	}
	return nil
}

// ObservationSink feeds one observation's channels into the engine. Events it delivers after
// that observation was replaced or disposed are stale, even when the job id is observed again.
type ObservationSink struct {
	engine        *Engine
	observationID string
}

// SinkFor returns the sink the channels of observationID deliver to
func (e *Engine) SinkFor(observationID string) *ObservationSink {
	return &ObservationSink{engine: e, observationID: observationID}
}

// ApplyEvent applies ev if the sink's observation is still the active one
func (s *ObservationSink) ApplyEvent(ctx context.Context, ev *models.Event, source Source) Outcome {
	return s.engine.apply(ctx, s.observationID, ev, source)
}

// ApplyEvent is the single entry point for events from both channels. It accepts any event for
// the active job; channels bound to an observation go through SinkFor.
func (e *Engine) ApplyEvent(ctx context.Context, ev *models.Event, source Source) Outcome {
	return e.apply(ctx, "", ev, source)
}

// apply checks ev against the active job and, when observationID is set, the active observation
func (e *Engine) apply(ctx context.Context, observationID string, ev *models.Event, source Source) Outcome {
	if ev == nil {
		return OutcomeStale
	}

	e.mu.Lock()
	if e.disposed || e.jobID == "" || ev.JobID != e.jobID ||
		(observationID != "" && observationID != e.observationID) {
		jobID := e.jobID
		e.mu.Unlock()
		e.logger.Debug().
			Str("job_id", ev.JobID).
			Str("active_job_id", jobID).
			Str("observation_id", observationID).
			Str("source", string(source)).
			Msg("Dropping event for inactive observation")
		return OutcomeStale
	}
	if e.state.IsTerminal() {
		e.mu.Unlock()
		return OutcomeFrozen
	}

	now := e.clock.Now()

	duplicate := false
	applyPatch := false
	if ev.RecordUpdate != nil {
		if e.dedup.ShouldApply(ev.RecordUpdate.SequenceID) {
			applyPatch = true
		} else {
			duplicate = true
		}
	}

	transition := e.state.Apply(ev, now)
	job := e.state.Job()

	resultChanged := false
	if ev.HasSnapshot() && e.results.OnSkeleton(ev.Records, job.Title, job.Status, now) {
		resultChanged = true
	}
	if applyPatch && e.results.OnRecordUpdate(ev.RecordUpdate) {
		resultChanged = true
	}
	if e.results.SyncMeta(job.Title, job.Status) {
		resultChanged = true
	}

	var result *models.ResultSet
	if resultChanged {
		result = e.results.Result()
	}

	var (
		closer       io.Closer
		fireNow      bool
		observation  = e.observationID
		success      = job.Status == models.JobStatusCompleted
		terminalWait time.Duration
		patches      int
	)
	if transition.BecameTerminal {
		if success && e.recent != nil {
			e.recent.RecordCompleted(job.ID, job.Title)
		}
		closer = e.transport
		e.transport = nil
		patches = e.dedup.Len()
		e.dedup.Reset()

		jobID := job.ID
		scheduled, delay := e.gate.Schedule(func() {
			e.fireTerminal(observation, jobID, success)
		})
		terminalWait = delay
		if scheduled && delay == 0 {
			fireNow = e.claimTerminalLocked(observation)
		}
	}

	e.notifyMu.Lock()
	e.mu.Unlock()

	closeTransport(closer, e.logger)

	if transition.Changed {
		e.publish(ctx, interfaces.EventJobProgress, job)
	}
	if result != nil {
		e.publish(ctx, interfaces.EventResultUpdated, result)
	}
	if transition.BecameTerminal {
		e.logger.Info().
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Str("source", string(source)).
			Int("record_updates", patches).
			Dur("terminal_delay", terminalWait).
			Msg("Job reached terminal status")
	}
	if fireNow {
		e.publish(ctx, interfaces.EventJobTerminal, interfaces.TerminalPayload{JobID: job.ID, Success: success})
	}
	e.notifyMu.Unlock()

	if fireNow {
		e.invokeTerminal(job.ID, success)
	}

	switch {
	case transition.Changed || resultChanged:
		return OutcomeApplied
	case duplicate:
		return OutcomeDuplicate
	default:
		return OutcomeUnchanged
	}
}

// fireTerminal runs on the gate timer
func (e *Engine) fireTerminal(observationID, jobID string, success bool) {
	e.mu.Lock()
	if !e.claimTerminalLocked(observationID) {
		e.mu.Unlock()
		e.logger.Debug().
			Str("job_id", jobID).
			Str("observation_id", observationID).
			Msg("Dropping stale terminal timer")
		return
	}
	e.notifyMu.Lock()
	e.mu.Unlock()

	e.publish(context.Background(), interfaces.EventJobTerminal, interfaces.TerminalPayload{JobID: jobID, Success: success})
	e.notifyMu.Unlock()

	e.invokeTerminal(jobID, success)
}

// claimTerminalLocked marks the terminal callback as delivered for observationID. Caller holds mu.
func (e *Engine) claimTerminalLocked(observationID string) bool {
	if e.disposed || observationID != e.observationID || e.terminalFired {
		return false
	}
	e.terminalFired = true
	return true
}

func (e *Engine) invokeTerminal(jobID string, success bool) {
	e.mu.Lock()
	fn := e.onTerminal
	e.mu.Unlock()
	if fn != nil {
		fn(jobID, success)
	}
}

// Dispose stops the active observation. Pending timers and transports are released before return.
func (e *Engine) Dispose() {
	e.mu.Lock()
	e.disposeAndUnlock()
}

// DisposeObservation disposes only if observationID is still active; it reports whether it did
func (e *Engine) DisposeObservation(observationID string) bool {
	e.mu.Lock()
	if e.disposed || observationID != e.observationID {
		e.mu.Unlock()
		return false
	}
	e.disposeAndUnlock()
	return true
}

// disposeAndUnlock is called with mu held and releases it
func (e *Engine) disposeAndUnlock() {
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	closer := e.transport
	e.transport = nil
	e.gate.Cancel()
	jobID := e.jobID
	e.mu.Unlock()

	closeTransport(closer, e.logger)
	e.logger.Debug().Str("job_id", jobID).Msg("Observation disposed")
}

// Snapshot returns copies of the current job and result. The result is nil before the first skeleton.
func (e *Engine) Snapshot() (models.Job, *models.ResultSet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Job(), e.results.Result()
}

// ObservationID returns the id of the active observation, "" after Dispose
func (e *Engine) ObservationID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ""
	}
	return e.observationID
}

// CycleMedia moves the selected media of a record and publishes the new result
func (e *Engine) CycleMedia(ctx context.Context, recordID string, dir Direction) bool {
	return e.mutateResult(ctx, func() bool { return e.results.CycleMedia(recordID, dir) })
}

// SelectMedia sets the selected media of a record and publishes the new result
func (e *Engine) SelectMedia(ctx context.Context, recordID string, index int) bool {
	return e.mutateResult(ctx, func() bool { return e.results.SelectMedia(recordID, index) })
}

// Hydrate adopts a persisted result of the active job through the merge rule.
// Job status and title follow the result unless the job is already terminal.
func (e *Engine) Hydrate(ctx context.Context, rs *models.ResultSet) error {
	if rs == nil {
		return nil
	}

	e.mu.Lock()
	if e.disposed || rs.ID != e.jobID {
		e.mu.Unlock()
		return ErrStaleObservation
	}
	jobChanged := e.state.Adopt(rs, e.clock.Now())
	resultChanged := e.results.Hydrate(rs)
	job := e.state.Job()
	var result *models.ResultSet
	if resultChanged {
		result = e.results.Result()
	}
	e.notifyMu.Lock()
	e.mu.Unlock()

	if jobChanged {
		e.publish(ctx, interfaces.EventJobProgress, job)
	}
	if result != nil {
		e.publish(ctx, interfaces.EventResultUpdated, result)
	}
	e.notifyMu.Unlock()
	return nil
}

func (e *Engine) mutateResult(ctx context.Context, fn func() bool) bool {
	e.mu.Lock()
	if e.disposed || !fn() {
		e.mu.Unlock()
		return false
	}
	result := e.results.Result()
	e.notifyMu.Lock()
	e.mu.Unlock()

	e.publish(ctx, interfaces.EventResultUpdated, result)
	e.notifyMu.Unlock()
	return true
}

// publish delivers synchronously so listeners see snapshots in mutation order.
// Caller holds notifyMu.
func (e *Engine) publish(ctx context.Context, eventType interfaces.EventType, payload interface{}) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishSync(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		e.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Listener failed")
	}
}

func closeTransport(c io.Closer, logger arbor.ILogger) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		logger.Debug().Err(err).Msg("Transport close failed")
	}
}
