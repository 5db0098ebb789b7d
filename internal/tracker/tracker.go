// -----------------------------------------------------------------------
// Tracker - one consumer session observing a processing job
// -----------------------------------------------------------------------

package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/menulens/internal/common"
	"github.com/ternarybob/menulens/internal/interfaces"
	"github.com/ternarybob/menulens/internal/models"
	"github.com/ternarybob/menulens/internal/progress"
	"github.com/ternarybob/menulens/internal/recent"
	"github.com/ternarybob/menulens/internal/services/auth"
	"github.com/ternarybob/menulens/internal/transport"
)

// ActiveJobKey is the key/value entry holding the job being observed; it is read at startup only
const ActiveJobKey = "session.active_job"

const finalFetchTimeout = 30 * time.Second

// Completion is delivered once per observed job after the terminal callback finished, or when
// tracking stopped because the credential was rejected.
type Completion struct {
	JobID   string
	Success bool
	Result  *models.ResultSet
	Err     error // final result fetch failure, or the credential error that stopped tracking
	// Stopped is set when tracking ended before the job reached a terminal status
	Stopped bool
}

// Dependencies are the collaborators of a Tracker
type Dependencies struct {
	API                interfaces.JobAPI
	Credentials        transport.HeaderSource
	Events             interfaces.EventService
	KV                 interfaces.KeyValueStorage
	Results            interfaces.ResultStorage
	Recent             *recent.Cache
	Clock              common.Clock
	Timings            transport.Timings
	MinDisplayDuration time.Duration
}

// Tracker combines the engine, the channel pair of the active job, the recent cache and the
// persisted session marker
type Tracker struct {
	logger      arbor.ILogger
	api         interfaces.JobAPI
	credentials transport.HeaderSource
	events      interfaces.EventService
	kv          interfaces.KeyValueStorage
	results     interfaces.ResultStorage
	recent      *recent.Cache
	clock       common.Clock
	timings     transport.Timings
	engine      *progress.Engine

	mu    sync.Mutex
	jobID string
	pair  *transport.Pair

	completions chan Completion
	// finishing counts terminal handlers still writing to storage
	finishing sync.WaitGroup
}

// New creates a tracker and its engine
func New(deps Dependencies, logger arbor.ILogger) *Tracker {
	clock := deps.Clock
	if clock == nil {
		clock = common.NewSystemClock()
	}

	t := &Tracker{
		logger:      logger,
		api:         deps.API,
		credentials: deps.Credentials,
		events:      deps.Events,
		kv:          deps.KV,
		results:     deps.Results,
		recent:      deps.Recent,
		clock:       clock,
		timings:     deps.Timings,
		completions: make(chan Completion, 4),
	}

	var recorder progress.CompletionRecorder
	if deps.Recent != nil {
		recorder = deps.Recent
	}
	t.engine = progress.NewEngine(progress.Options{
		Clock:              clock,
		MinDisplayDuration: deps.MinDisplayDuration,
		Events:             deps.Events,
		Recent:             recorder,
		OnTerminal:         t.onTerminal,
	}, logger)

	return t
}

// Engine returns the engine owned by the tracker
func (t *Tracker) Engine() *progress.Engine {
	return t.engine
}

// Completions delivers one Completion per job that reached a terminal status
func (t *Tracker) Completions() <-chan Completion {
	return t.completions
}

// Observe starts live tracking of jobID. A credential problem is returned before anything is opened.
func (t *Tracker) Observe(ctx context.Context, jobID string) error {
	if jobID == "" {
		return progress.ErrNoJob
	}
	if _, err := t.credentials.AuthorizationHeader(ctx); err != nil {
		return fmt.Errorf("cannot observe job %s: %w", jobID, err)
	}

	socketURL, err := t.api.SocketURL(jobID)
	if err != nil {
		return fmt.Errorf("failed to resolve progress socket: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	observationID, err := t.engine.Observe(jobID)
	if err != nil {
		return err
	}

	pair := transport.NewPair(transport.PairOptions{
		JobID:     jobID,
		SocketURL: socketURL,
		Timings:   t.timings,
		Headers:   t.credentials,
		Fetcher:   t.api,
		Sink:      t.engine.SinkFor(observationID),
		Clock:     t.clock,
		Events:    t.events,
		OnFailure: func(err error) {
			t.onChannelFailure(observationID, jobID, err)
		},
	}, t.logger)

	if err := t.engine.AttachTransport(observationID, pair); err != nil {
		return fmt.Errorf("failed to attach progress channels: %w", err)
	}
	t.jobID = jobID
	t.pair = pair

	t.setMarker(ctx, jobID)

	if err := pair.Start(ctx); err != nil {
		t.engine.Dispose()
		t.pair = nil
		return fmt.Errorf("failed to start progress channels: %w", err)
	}

	t.logger.Info().
		Str("job_id", jobID).
		Str("observation_id", observationID).
		Str("socket_url", socketURL).
		Msg("Tracking job")

	return nil
}

// Submit uploads the menu and starts tracking the job the backend created for it
func (t *Tracker) Submit(ctx context.Context, filename string, content io.Reader) (string, error) {
	if _, err := t.credentials.AuthorizationHeader(ctx); err != nil {
		return "", fmt.Errorf("cannot submit %s: %w", filename, err)
	}

	jobID, err := t.api.Submit(ctx, filename, content)
	if err != nil {
		return "", fmt.Errorf("failed to submit %s: %w", filename, err)
	}

	if err := t.Observe(ctx, jobID); err != nil {
		return jobID, err
	}
	return jobID, nil
}

// Reattach shows the persisted result of jobID without running the pipeline again.
// The locally stored copy is used when the backend cannot be reached.
func (t *Tracker) Reattach(ctx context.Context, jobID string) (*models.ResultSet, error) {
	if _, err := t.credentials.AuthorizationHeader(ctx); err != nil {
		return nil, fmt.Errorf("cannot re-attach job %s: %w", jobID, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.engine.Observe(jobID); err != nil {
		return nil, err
	}
	t.jobID = jobID
	t.pair = nil

	rs, err := t.api.FetchResult(ctx, jobID)
	if err != nil {
		cached, cacheErr := t.cachedResult(ctx, jobID)
		if auth.IsCredentialError(err) || cacheErr != nil {
			return nil, fmt.Errorf("failed to fetch result of %s: %w", jobID, err)
		}
		t.logger.Warn().Err(err).Str("job_id", jobID).Msg("Backend unavailable, using stored result")
		rs = cached
	} else {
		t.storeResult(ctx, rs)
	}

	if err := t.engine.Hydrate(ctx, rs); err != nil {
		return nil, err
	}
	if rs.Status == models.JobStatusCompleted && t.recent != nil {
		t.recent.Push(rs.ID, rs.Title)
	}

	_, current := t.engine.Snapshot()
	return current, nil
}

// Resume re-observes the job that was being tracked when the previous run ended
func (t *Tracker) Resume(ctx context.Context) (string, bool, error) {
	if t.kv == nil {
		return "", false, nil
	}
	jobID, err := t.kv.Get(ctx, ActiveJobKey)
	if errors.Is(err, interfaces.ErrKeyNotFound) || (err == nil && jobID == "") {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read session marker: %w", err)
	}

	t.logger.Info().Str("job_id", jobID).Msg("Resuming job from previous session")
	return jobID, true, t.Observe(ctx, jobID)
}

// Snapshot returns the current job and result
func (t *Tracker) Snapshot() (models.Job, *models.ResultSet) {
	return t.engine.Snapshot()
}

// CycleMedia moves the selected media of a record
func (t *Tracker) CycleMedia(ctx context.Context, recordID string, dir progress.Direction) bool {
	return t.engine.CycleMedia(ctx, recordID, dir)
}

// SelectMedia sets the selected media of a record
func (t *Tracker) SelectMedia(ctx context.Context, recordID string, index int) bool {
	return t.engine.SelectMedia(ctx, recordID, index)
}

// PushState returns the push channel state of the live observation; false when none is running
func (t *Tracker) PushState() (transport.ChannelState, bool) {
	t.mu.Lock()
	pair := t.pair
	t.mu.Unlock()
	if pair == nil {
		return transport.StateIdle, false
	}
	return pair.PushState(), true
}

// Dispose stops tracking. The session marker is kept so the next start can resume.
func (t *Tracker) Dispose() {
	t.mu.Lock()
	t.pair = nil
	t.mu.Unlock()

	t.engine.Dispose()
}

// onTerminal is the engine's terminal callback; it must not block the delivering goroutine
func (t *Tracker) onTerminal(jobID string, success bool) {
	t.finishing.Add(1)
	common.SafeGo(t.logger, "tracker-terminal", func() {
		defer t.finishing.Done()
		t.finish(jobID, success)
	})
}

// onChannelFailure ends the observation whose channels gave up on a rejected credential.
// The session marker is kept so a later run with a fresh credential can resume.
func (t *Tracker) onChannelFailure(observationID, jobID string, err error) {
	if !t.engine.DisposeObservation(observationID) {
		return
	}

	t.mu.Lock()
	if t.jobID == jobID {
		t.pair = nil
	}
	t.mu.Unlock()

	t.logger.Error().
		Err(err).
		Str("job_id", jobID).
		Str("observation_id", observationID).
		Msg("Stopped tracking job, credential rejected")

	_, current := t.engine.Snapshot()
	t.deliver(Completion{JobID: jobID, Result: current, Err: err, Stopped: true})
}

// Wait blocks until every terminal handler already started has returned
func (t *Tracker) Wait() {
	t.finishing.Wait()
}

func (t *Tracker) finish(jobID string, success bool) {
	ctx, cancel := context.WithTimeout(context.Background(), finalFetchTimeout)
	defer cancel()

	t.clearMarker(ctx, jobID)

	completion := Completion{JobID: jobID, Success: success}
	if success {
		rs, err := t.api.FetchResult(ctx, jobID)
		if err != nil {
			t.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to fetch final result")
			completion.Err = err
		} else {
			if hydrateErr := t.engine.Hydrate(ctx, rs); hydrateErr != nil {
				t.logger.Debug().Err(hydrateErr).Str("job_id", jobID).Msg("Final result arrived after switching jobs")
			}
			t.storeResult(ctx, rs)
			if t.recent != nil {
				t.recent.Push(jobID, rs.Title)
			}
			_, completion.Result = t.engine.Snapshot()
			if completion.Result == nil || completion.Result.ID != jobID {
				completion.Result = rs
			}
		}
	}

	t.logger.Info().
		Str("job_id", jobID).
		Bool("success", success).
		Msg("Job finished")

	t.deliver(completion)
}

func (t *Tracker) deliver(c Completion) {
	select {
	case t.completions <- c:
	default:
		t.logger.Warn().Str("job_id", c.JobID).Msg("Completion dropped, no reader")
	}
}

func (t *Tracker) setMarker(ctx context.Context, jobID string) {
	if t.kv == nil {
		return
	}
	if err := t.kv.Set(ctx, ActiveJobKey, jobID, "job being observed"); err != nil {
		t.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to persist session marker")
	}
}

func (t *Tracker) clearMarker(ctx context.Context, jobID string) {
	if t.kv == nil {
		return
	}
	current, err := t.kv.Get(ctx, ActiveJobKey)
	if err != nil || current != jobID {
		return
	}
	if err := t.kv.Delete(ctx, ActiveJobKey); err != nil && !errors.Is(err, interfaces.ErrKeyNotFound) {
		t.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to clear session marker")
	}
}

func (t *Tracker) storeResult(ctx context.Context, rs *models.ResultSet) {
	if t.results == nil || rs == nil {
		return
	}
	if err := t.results.SaveResult(ctx, rs); err != nil {
		t.logger.Warn().Err(err).Str("job_id", rs.ID).Msg("Failed to store result")
	}
}

func (t *Tracker) cachedResult(ctx context.Context, jobID string) (*models.ResultSet, error) {
	if t.results == nil {
		return nil, interfaces.ErrKeyNotFound
	}
	return t.results.GetResult(ctx, jobID)
}
