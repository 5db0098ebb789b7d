// -----------------------------------------------------------------------
// Job - canonical progress view of one backend processing run
// -----------------------------------------------------------------------

package models

import "time"

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ProgressMessage is the short status text shown next to the progress bar
type ProgressMessage struct {
	Text  string `json:"text"`
	Emoji string `json:"emoji"`
}

// Job is the consumer-visible progress state of a single job.
// Stage, Percent, Message, ETASeconds and ItemCount are overwritten by every accepted event;
// Title only changes when an event carries a non-empty one.
type Job struct {
	ID         string          `json:"job_id"`
	Status     JobStatus       `json:"status"`
	Stage      string          `json:"stage"`           // free-form checkpoint, display only
	Percent    float64         `json:"percent"`         // 0-100, last received wins
	Message    ProgressMessage `json:"message"`         // text + emoji tag
	ETASeconds float64         `json:"eta_seconds"`     // advisory
	ItemCount  int             `json:"item_count"`      // records discovered so far
	Title      string          `json:"title,omitempty"` // may arrive late and be revised
	UpdatedAt  time.Time       `json:"updated_at"`      // when the last event was accepted
}

// NewJob creates the implicit initial state for a job that has not produced an event yet
func NewJob(id string) Job {
	return Job{
		ID:     id,
		Status: JobStatusQueued,
	}
}
