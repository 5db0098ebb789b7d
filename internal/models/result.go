// -----------------------------------------------------------------------
// ResultSet - incrementally materialized output of a job
// -----------------------------------------------------------------------

package models

import "time"

// MediaStatus tracks whether a record's media has been resolved
type MediaStatus string

const (
	MediaStatusLoading  MediaStatus = "loading"
	MediaStatusReady    MediaStatus = "ready"
	MediaStatusFallback MediaStatus = "fallback" // lower-confidence substitute
)

// IsResolved reports whether the status came from a media update (ready or fallback)
func (s MediaStatus) IsResolved() bool {
	return s == MediaStatusReady || s == MediaStatusFallback
}

// Record is one extracted entity of a ResultSet (a menu line item).
// SelectedMediaIndex is owned by the client and is never supplied by the server.
type Record struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	Description        string        `json:"description,omitempty"`
	Price              *float64      `json:"price,omitempty"`
	Currency           string        `json:"currency,omitempty"`
	OrderIndex         int           `json:"order_index"`
	Media              []string      `json:"media"`
	MediaStatus        MediaStatus   `json:"media_status"`
	MediaSources       []MediaSource `json:"media_sources,omitempty"`
	SelectedMediaIndex int           `json:"selected_media_index"`
}

// ResultSet is the structured output being built for a job; ID equals the job ID
type ResultSet struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Status      JobStatus `json:"status"`
	ProcessedAt time.Time `json:"processed_at"`
	Records     []Record  `json:"records"`
}

// Clone returns a deep copy safe to hand to consumers
func (r *ResultSet) Clone() *ResultSet {
	if r == nil {
		return nil
	}
	out := *r
	out.Records = make([]Record, len(r.Records))
	for i, rec := range r.Records {
		out.Records[i] = rec.Clone()
	}
	return &out
}

// Find returns the index of the record with id, or -1
func (r *ResultSet) Find(id string) int {
	for i := range r.Records {
		if r.Records[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the record
func (r Record) Clone() Record {
	out := r
	if r.Price != nil {
		p := *r.Price
		out.Price = &p
	}
	out.Media = append([]string{}, r.Media...)
	if r.MediaSources != nil {
		out.MediaSources = append([]MediaSource{}, r.MediaSources...)
	}
	return out
}

// ClampSelection pulls SelectedMediaIndex back into [0, len(Media)-1] when it is out of bounds.
// An in-bounds index is left untouched.
func (r *Record) ClampSelection() {
	if len(r.Media) == 0 {
		r.SelectedMediaIndex = 0
		return
	}
	if r.SelectedMediaIndex >= len(r.Media) {
		r.SelectedMediaIndex = len(r.Media) - 1
	}
	if r.SelectedMediaIndex < 0 {
		r.SelectedMediaIndex = 0
	}
}
