package progress

import (
	"sort"
	"time"

	"github.com/ternarybob/menulens/internal/models"
)

// Direction moves a record's selected media
type Direction int

const (
	Next Direction = iota
	Prev
)

// Materializer builds the ResultSet of the active job from skeleton snapshots and record patches.
// Record ids are unique and records stay sorted by OrderIndex.
type Materializer struct {
	jobID  string
	result *models.ResultSet
}

// NewMaterializer creates a materializer with no active job
func NewMaterializer() *Materializer {
	return &Materializer{}
}

// Reset drops the current ResultSet and starts tracking jobID
func (m *Materializer) Reset(jobID string) {
	m.jobID = jobID
	m.result = nil
}

// Result returns a deep copy of the ResultSet, or nil before the first snapshot
func (m *Materializer) Result() *models.ResultSet {
	return m.result.Clone()
}

// OnSkeleton handles a records snapshot. The first one creates the ResultSet with every record
// loading; any later one is merged so resolved media is never lost.
func (m *Materializer) OnSkeleton(records []models.SnapshotRecord, title string, status models.JobStatus, at time.Time) bool {
	if m.result == nil || m.result.ID != m.jobID {
		m.result = &models.ResultSet{
			ID:          m.jobID,
			Title:       title,
			Status:      status,
			ProcessedAt: at,
			Records:     []models.Record{},
		}
		m.merge(records)
		return true
	}
	return m.merge(records)
}

// merge applies the snapshot merge rule record by record and reports whether anything changed
func (m *Materializer) merge(records []models.SnapshotRecord) bool {
	changed := false
	inserted := false

	for pos, in := range records {
		idx := m.result.Find(in.ID)
		if idx < 0 {
			rec := models.Record{
				ID:          in.ID,
				OrderIndex:  pos,
				Media:       []string{},
				MediaStatus: models.MediaStatusLoading,
			}
			if in.OrderIndex != nil {
				rec.OrderIndex = *in.OrderIndex
			}
			refreshScalars(&rec, in)
			adoptMedia(&rec, in.Media, in.MediaStatus, in.MediaSources)
			m.result.Records = append(m.result.Records, rec)
			changed = true
			inserted = true
			continue
		}

		rec := &m.result.Records[idx]
		before := rec.Clone()
		refreshScalars(rec, in)
		if len(in.Media) > 0 {
			adoptMedia(rec, in.Media, in.MediaStatus, in.MediaSources)
		}
		if !sameRecord(before, *rec) {
			changed = true
		}
	}

	if inserted {
		sort.SliceStable(m.result.Records, func(i, j int) bool {
			return m.result.Records[i].OrderIndex < m.result.Records[j].OrderIndex
		})
	}
	return changed
}

// OnRecordUpdate replaces the media of one record. Patches for unknown records are dropped.
func (m *Materializer) OnRecordUpdate(u *models.RecordUpdate) bool {
	if m.result == nil || u == nil {
		return false
	}
	idx := m.result.Find(u.RecordID)
	if idx < 0 {
		return false
	}

	rec := &m.result.Records[idx]
	before := rec.Clone()

	rec.Media = append([]string{}, u.Media...)
	rec.MediaStatus = nextMediaStatus(rec.MediaStatus, u.MediaStatus)
	if u.MediaSources != nil {
		rec.MediaSources = sortedSources(u.MediaSources)
	}
	rec.ClampSelection()

	return !sameRecord(before, *rec)
}

// SyncMeta copies the job title and status onto the ResultSet
func (m *Materializer) SyncMeta(title string, status models.JobStatus) bool {
	if m.result == nil {
		return false
	}
	changed := false
	if title != "" && m.result.Title != title {
		m.result.Title = title
		changed = true
	}
	if status != "" && m.result.Status != status {
		m.result.Status = status
		changed = true
	}
	return changed
}

// Hydrate adopts a persisted ResultSet for the active job. Before any snapshot it becomes the
// ResultSet as is; afterwards it is merged like a snapshot, keeping client-side selections.
func (m *Materializer) Hydrate(rs *models.ResultSet) bool {
	if rs == nil || rs.ID != m.jobID {
		return false
	}

	if m.result == nil {
		m.result = rs.Clone()
		for i := range m.result.Records {
			rec := &m.result.Records[i]
			if rec.Media == nil {
				rec.Media = []string{}
			}
			if rec.MediaStatus == "" {
				rec.MediaStatus = models.MediaStatusLoading
			}
			rec.ClampSelection()
		}
		sort.SliceStable(m.result.Records, func(i, j int) bool {
			return m.result.Records[i].OrderIndex < m.result.Records[j].OrderIndex
		})
		return true
	}

	snapshot := make([]models.SnapshotRecord, len(rs.Records))
	for i, rec := range rs.Records {
		orderIndex := rec.OrderIndex
		snapshot[i] = models.SnapshotRecord{
			ID:           rec.ID,
			Name:         rec.Name,
			Description:  rec.Description,
			Price:        rec.Price,
			Currency:     rec.Currency,
			OrderIndex:   &orderIndex,
			Media:        rec.Media,
			MediaStatus:  rec.MediaStatus,
			MediaSources: rec.MediaSources,
		}
	}
	changed := m.merge(snapshot)
	if m.SyncMeta(rs.Title, rs.Status) {
		changed = true
	}
	if !rs.ProcessedAt.IsZero() && !m.result.ProcessedAt.Equal(rs.ProcessedAt) {
		m.result.ProcessedAt = rs.ProcessedAt
		changed = true
	}
	return changed
}

// CycleMedia moves the selected media of a record one step, wrapping at both ends.
// Records with no media are left alone.
func (m *Materializer) CycleMedia(recordID string, dir Direction) bool {
	rec := m.record(recordID)
	if rec == nil || len(rec.Media) == 0 {
		return false
	}
	n := len(rec.Media)
	prev := rec.SelectedMediaIndex
	switch dir {
	case Prev:
		rec.SelectedMediaIndex = (rec.SelectedMediaIndex - 1 + n) % n
	default:
		rec.SelectedMediaIndex = (rec.SelectedMediaIndex + 1) % n
	}
	return rec.SelectedMediaIndex != prev
}

// SelectMedia sets the selected media of a record. Out-of-range indexes are rejected.
func (m *Materializer) SelectMedia(recordID string, index int) bool {
	rec := m.record(recordID)
	if rec == nil || index < 0 || index >= len(rec.Media) {
		return false
	}
	if rec.SelectedMediaIndex == index {
		return false
	}
	rec.SelectedMediaIndex = index
	return true
}

func (m *Materializer) record(id string) *models.Record {
	if m.result == nil {
		return nil
	}
	idx := m.result.Find(id)
	if idx < 0 {
		return nil
	}
	return &m.result.Records[idx]
}

func refreshScalars(rec *models.Record, in models.SnapshotRecord) {
	if in.Name != "" {
		rec.Name = in.Name
	}
	if in.Description != "" {
		rec.Description = in.Description
	}
	if in.Price != nil {
		p := *in.Price
		rec.Price = &p
	}
	if in.Currency != "" {
		rec.Currency = in.Currency
	}
}

// adoptMedia takes the incoming media list. Status never goes back to loading once resolved.
func adoptMedia(rec *models.Record, media []string, status models.MediaStatus, sources []models.MediaSource) {
	if len(media) == 0 {
		return
	}
	rec.Media = append([]string{}, media...)
	rec.MediaStatus = nextMediaStatus(rec.MediaStatus, status)
	if sources != nil {
		rec.MediaSources = sortedSources(sources)
	}
	rec.ClampSelection()
}

// nextMediaStatus applies an incoming status: absent means ready, and a resolved record never
// goes back to loading
func nextMediaStatus(current, incoming models.MediaStatus) models.MediaStatus {
	switch {
	case incoming == "":
		return models.MediaStatusReady
	case incoming == models.MediaStatusLoading && current.IsResolved():
		return current
	default:
		return incoming
	}
}

func sortedSources(in []models.MediaSource) []models.MediaSource {
	out := append([]models.MediaSource{}, in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func sameRecord(a, b models.Record) bool {
	if a.ID != b.ID || a.Name != b.Name || a.Description != b.Description || a.Currency != b.Currency ||
		a.OrderIndex != b.OrderIndex || a.MediaStatus != b.MediaStatus || a.SelectedMediaIndex != b.SelectedMediaIndex {
		return false
	}
	if (a.Price == nil) != (b.Price == nil) || (a.Price != nil && *a.Price != *b.Price) {
		return false
	}
	if len(a.Media) != len(b.Media) || len(a.MediaSources) != len(b.MediaSources) {
		return false
	}
	for i := range a.Media {
		if a.Media[i] != b.Media[i] {
			return false
		}
	}
	for i := range a.MediaSources {
		if a.MediaSources[i] != b.MediaSources[i] {
			return false
		}
	}
	return true
}
