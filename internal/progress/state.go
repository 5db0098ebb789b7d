package progress

import (
	"time"

	"github.com/ternarybob/menulens/internal/models"
)

// Transition describes the effect of one event on the job state
type Transition struct {
	Accepted       bool // event was for the active job and the job was not frozen
	Changed        bool // consumer-visible fields differ from before
	BecameTerminal bool // this event moved the job into completed or failed
}

// JobStateMachine holds the canonical progress of the active job.
// queued -> processing -> {completed, failed}; once terminal every event is ignored.
type JobStateMachine struct {
	job models.Job
}

// NewJobStateMachine creates a state machine with no active job
func NewJobStateMachine() *JobStateMachine {
	return &JobStateMachine{}
}

// Reset starts tracking jobID from the implicit queued state
func (m *JobStateMachine) Reset(jobID string) {
	m.job = models.NewJob(jobID)
}

// Job returns a copy of the current state
func (m *JobStateMachine) Job() models.Job {
	return m.job
}

// IsTerminal reports whether the active job is frozen
func (m *JobStateMachine) IsTerminal() bool {
	return m.job.Status.IsTerminal()
}

// Apply overwrites the scalar fields with the event's values (last received wins).
// A terminal event forces percent to 100. A later event without a title keeps the known one.
func (m *JobStateMachine) Apply(ev *models.Event, at time.Time) Transition {
	if ev == nil || ev.JobID != m.job.ID || m.job.Status.IsTerminal() {
		return Transition{}
	}

	prev := m.job
	next := prev
	next.Status = ev.Status
	next.Stage = ev.Stage
	next.Percent = ev.Percent
	next.Message = ev.Message
	next.ETASeconds = ev.ETASeconds
	next.ItemCount = ev.ItemCount
	if title := ev.TitleValue(); title != "" {
		next.Title = title
	}
	if next.Status.IsTerminal() {
		next.Percent = 100
		next.ETASeconds = 0
	}

	changed := !sameJob(prev, next)
	if changed {
		next.UpdatedAt = at
	}
	m.job = next

	return Transition{
		Accepted:       true,
		Changed:        changed,
		BecameTerminal: next.Status.IsTerminal(),
	}
}

// Adopt takes status and title from a persisted result when re-attaching.
// It never moves a terminal job and never clears a known title.
func (m *JobStateMachine) Adopt(rs *models.ResultSet, at time.Time) bool {
	if rs == nil || rs.ID != m.job.ID || m.job.Status.IsTerminal() {
		return false
	}

	prev := m.job
	next := prev
	if rs.Status != "" {
		next.Status = rs.Status
	}
	if rs.Title != "" {
		next.Title = rs.Title
	}
	next.ItemCount = len(rs.Records)
	if next.Status.IsTerminal() {
		next.Percent = 100
		next.ETASeconds = 0
	}

	if sameJob(prev, next) {
		return false
	}
	next.UpdatedAt = at
	m.job = next
	return true
}

func sameJob(a, b models.Job) bool {
	a.UpdatedAt = time.Time{}
	b.UpdatedAt = time.Time{}
	return a == b
}
