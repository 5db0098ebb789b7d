package models

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Event is the wire shape delivered by both the push and the pull channel.
// Field names follow the processing backend.
type Event struct {
	JobID      string          `json:"menu_id" validate:"required"`
	Status     JobStatus       `json:"status" validate:"required,oneof=queued processing completed failed"`
	Stage      string          `json:"stage"`
	Percent    float64         `json:"progress" validate:"gte=0,lte=100"`
	Message    ProgressMessage `json:"message"`
	ETASeconds float64         `json:"estimated_time_remaining"`
	ItemCount  int             `json:"item_count" validate:"gte=0"`
	Title      *string         `json:"title,omitempty"`

	// Records is the skeleton (or, later, a fuller snapshot) of the result. A present but empty
	// list is still a snapshot; nil means the event carries none.
	Records []SnapshotRecord `json:"items,omitempty" validate:"omitempty,dive"`

	// RecordUpdate is an incremental per-record patch.
	RecordUpdate *RecordUpdate `json:"item_update,omitempty"`
}

// SnapshotRecord is one entry of a records snapshot
type SnapshotRecord struct {
	ID           string        `json:"id" validate:"required"`
	Name         string        `json:"item_name"`
	Description  string        `json:"description"`
	Price        *float64      `json:"price"`
	Currency     string        `json:"currency"`
	OrderIndex   *int          `json:"order_index"`
	Media        []string      `json:"images,omitempty"`
	MediaStatus  MediaStatus   `json:"image_status,omitempty" validate:"omitempty,oneof=loading ready fallback"`
	MediaSources []MediaSource `json:"image_sources,omitempty"`
}

// RecordUpdate replaces the media of one record. SequenceID identifies the logical update.
type RecordUpdate struct {
	RecordID     string        `json:"item_id" validate:"required"`
	Media        []string      `json:"images"`
	MediaStatus  MediaStatus   `json:"image_status,omitempty" validate:"omitempty,oneof=loading ready fallback"`
	MediaSources []MediaSource `json:"image_sources,omitempty"`
	SequenceID   string        `json:"sequence_id" validate:"required"`
}

// Validate checks the event against its struct tags
func (e *Event) Validate() error {
	return validate.Struct(e)
}

// HasSnapshot reports whether the event carries a records snapshot
func (e *Event) HasSnapshot() bool {
	return e.Records != nil
}

// TitleValue returns the trimmed title, or "" when absent
func (e *Event) TitleValue() string {
	if e.Title == nil {
		return ""
	}
	return strings.TrimSpace(*e.Title)
}
