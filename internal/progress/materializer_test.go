package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/menulens/internal/models"
)

var testTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newMaterializer(t *testing.T, records ...models.SnapshotRecord) *Materializer {
	t.Helper()
	m := NewMaterializer()
	m.Reset("J")
	require.True(t, m.OnSkeleton(records, "", models.JobStatusProcessing, testTime))
	return m
}

func TestSkeletonSortsByOrderIndex(t *testing.T) {
	m := newMaterializer(t,
		models.SnapshotRecord{ID: "c", OrderIndex: intPtr(2)},
		models.SnapshotRecord{ID: "a", OrderIndex: intPtr(0)},
		models.SnapshotRecord{ID: "b"}, // defaults to wire position 2, after c
	)

	rs := m.Result()
	require.Len(t, rs.Records, 3)
	assert.Equal(t, "a", rs.Records[0].ID)
	assert.Equal(t, "c", rs.Records[1].ID)
	assert.Equal(t, "b", rs.Records[2].ID)
	for _, r := range rs.Records {
		assert.Equal(t, models.MediaStatusLoading, r.MediaStatus)
		assert.Equal(t, 0, r.SelectedMediaIndex)
		assert.NotNil(t, r.Media)
	}
}

func TestEmptySkeletonIsStillASnapshot(t *testing.T) {
	m := newMaterializer(t)

	rs := m.Result()
	require.NotNil(t, rs)
	assert.Empty(t, rs.Records)
}

func TestResultNilBeforeSkeleton(t *testing.T) {
	m := NewMaterializer()
	m.Reset("J")

	assert.Nil(t, m.Result())
	assert.False(t, m.OnRecordUpdate(&models.RecordUpdate{RecordID: "r1", SequenceID: "s"}))
}

func TestRecordUpdateForUnknownRecordIsDropped(t *testing.T) {
	m := newMaterializer(t, models.SnapshotRecord{ID: "r1"})

	assert.False(t, m.OnRecordUpdate(&models.RecordUpdate{RecordID: "ghost", Media: []string{"x"}, SequenceID: "s"}))
	assert.Len(t, m.Result().Records, 1)
}

func TestRecordUpdateReplacesMediaAndClampsSelection(t *testing.T) {
	m := newMaterializer(t, models.SnapshotRecord{ID: "r1"})

	require.True(t, m.OnRecordUpdate(&models.RecordUpdate{RecordID: "r1", Media: []string{"a", "b", "c"}, SequenceID: "1"}))
	require.True(t, m.SelectMedia("r1", 2))

	// in bounds selection is left alone
	require.True(t, m.OnRecordUpdate(&models.RecordUpdate{RecordID: "r1", Media: []string{"d", "e", "f", "g"}, SequenceID: "2"}))
	assert.Equal(t, 2, m.Result().Records[0].SelectedMediaIndex)

	require.True(t, m.OnRecordUpdate(&models.RecordUpdate{RecordID: "r1", Media: []string{"h"}, SequenceID: "3"}))
	rec := m.Result().Records[0]
	assert.Equal(t, []string{"h"}, rec.Media)
	assert.Equal(t, 0, rec.SelectedMediaIndex)

	require.True(t, m.OnRecordUpdate(&models.RecordUpdate{RecordID: "r1", Media: nil, SequenceID: "4"}))
	rec = m.Result().Records[0]
	assert.Empty(t, rec.Media)
	assert.NotNil(t, rec.Media)
	assert.Equal(t, 0, rec.SelectedMediaIndex)
}

func TestRecordUpdateStatusAndSources(t *testing.T) {
	m := newMaterializer(t, models.SnapshotRecord{ID: "r1"})

	sources := []models.MediaSource{
		{URL: "b", Source: "google_cse", Sequence: 2},
		{URL: "a", Source: "semantic:0.91", Sequence: 1},
	}
	m.OnRecordUpdate(&models.RecordUpdate{RecordID: "r1", Media: []string{"a", "b"}, MediaStatus: models.MediaStatusFallback, MediaSources: sources, SequenceID: "1"})
	rec := m.Result().Records[0]
	assert.Equal(t, models.MediaStatusFallback, rec.MediaStatus)
	require.Len(t, rec.MediaSources, 2)
	assert.Equal(t, "a", rec.MediaSources[0].URL)

	// sources omitted keeps the previous provenance; an absent status means ready
	m.OnRecordUpdate(&models.RecordUpdate{RecordID: "r1", Media: []string{"c"}, SequenceID: "2"})
	rec = m.Result().Records[0]
	assert.Len(t, rec.MediaSources, 2)
	assert.Equal(t, models.MediaStatusReady, rec.MediaStatus)
}

func TestExplicitLoadingStatusIsKept(t *testing.T) {
	m := newMaterializer(t, models.SnapshotRecord{ID: "r1"}, models.SnapshotRecord{ID: "r2"})

	require.False(t, m.OnRecordUpdate(&models.RecordUpdate{RecordID: "r1", Media: []string{}, MediaStatus: models.MediaStatusLoading, SequenceID: "s1"}))
	rec := m.Result().Records[0]
	assert.Equal(t, models.MediaStatusLoading, rec.MediaStatus)
	assert.Empty(t, rec.Media)

	// the same holds for media carried by a later snapshot
	m.OnSkeleton([]models.SnapshotRecord{
		{ID: "r1"},
		{ID: "r2", Media: []string{"p"}, MediaStatus: models.MediaStatusLoading},
	}, "", models.JobStatusProcessing, testTime)
	r2 := m.Result().Records[1]
	assert.Equal(t, []string{"p"}, r2.Media)
	assert.Equal(t, models.MediaStatusLoading, r2.MediaStatus)

	require.True(t, m.OnRecordUpdate(&models.RecordUpdate{RecordID: "r1", Media: []string{"a"}, SequenceID: "s2"}))
	assert.Equal(t, models.MediaStatusReady, m.Result().Records[0].MediaStatus)
}

func TestNextMediaStatus(t *testing.T) {
	cases := []struct {
		current, incoming, want models.MediaStatus
	}{
		{models.MediaStatusLoading, "", models.MediaStatusReady},
		{models.MediaStatusLoading, models.MediaStatusLoading, models.MediaStatusLoading},
		{models.MediaStatusLoading, models.MediaStatusFallback, models.MediaStatusFallback},
		{models.MediaStatusReady, models.MediaStatusLoading, models.MediaStatusReady},
		{models.MediaStatusFallback, models.MediaStatusLoading, models.MediaStatusFallback},
		{models.MediaStatusFallback, models.MediaStatusReady, models.MediaStatusReady},
		{models.MediaStatusFallback, "", models.MediaStatusReady},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, nextMediaStatus(tc.current, tc.incoming), "%s <- %q", tc.current, tc.incoming)
	}
}

func TestResolvedStatusNeverRegressesToLoading(t *testing.T) {
	m := newMaterializer(t, models.SnapshotRecord{ID: "r1"}, models.SnapshotRecord{ID: "r2"})

	m.OnRecordUpdate(&models.RecordUpdate{RecordID: "r1", Media: []string{"a"}, SequenceID: "1"})
	m.OnRecordUpdate(&models.RecordUpdate{RecordID: "r1", Media: []string{"b"}, MediaStatus: models.MediaStatusLoading, SequenceID: "2"})
	assert.Equal(t, models.MediaStatusReady, m.Result().Records[0].MediaStatus)

	m.OnSkeleton([]models.SnapshotRecord{
		{ID: "r1", MediaStatus: models.MediaStatusLoading},
		{ID: "r2", MediaStatus: models.MediaStatusLoading},
	}, "", models.JobStatusProcessing, testTime)
	assert.Equal(t, models.MediaStatusReady, m.Result().Records[0].MediaStatus)
	assert.Equal(t, []string{"b"}, m.Result().Records[0].Media)
}

func TestLaterSnapshotMerges(t *testing.T) {
	price := 12.5
	m := newMaterializer(t,
		models.SnapshotRecord{ID: "r1", Name: "Soup", OrderIndex: intPtr(0)},
		models.SnapshotRecord{ID: "r2", Name: "Bread", OrderIndex: intPtr(2)},
	)
	m.OnRecordUpdate(&models.RecordUpdate{RecordID: "r1", Media: []string{"a", "b"}, SequenceID: "1"})
	m.CycleMedia("r1", Next)

	changed := m.OnSkeleton([]models.SnapshotRecord{
		{ID: "r1", Name: "Tomato Soup", Price: &price, OrderIndex: intPtr(9)},
		{ID: "r2", Name: "Bread", Media: []string{"p"}, OrderIndex: intPtr(2)},
		{ID: "r3", Name: "Salad", OrderIndex: intPtr(1)},
	}, "", models.JobStatusProcessing, testTime)
	require.True(t, changed)

	rs := m.Result()
	require.Len(t, rs.Records, 3)
	assert.Equal(t, []string{"r1", "r3", "r2"}, []string{rs.Records[0].ID, rs.Records[1].ID, rs.Records[2].ID})

	r1 := rs.Records[0]
	assert.Equal(t, "Tomato Soup", r1.Name)
	require.NotNil(t, r1.Price)
	assert.Equal(t, 12.5, *r1.Price)
	assert.Equal(t, 0, r1.OrderIndex)
	assert.Equal(t, []string{"a", "b"}, r1.Media)
	assert.Equal(t, 1, r1.SelectedMediaIndex)

	r3 := rs.Records[1]
	assert.Equal(t, models.MediaStatusLoading, r3.MediaStatus)

	r2 := rs.Records[2]
	assert.Equal(t, []string{"p"}, r2.Media)
	assert.Equal(t, models.MediaStatusReady, r2.MediaStatus)
}

func TestRepeatedSnapshotIsUnchanged(t *testing.T) {
	records := []models.SnapshotRecord{{ID: "r1", Name: "Soup"}}
	m := newMaterializer(t, records...)

	assert.False(t, m.OnSkeleton(records, "", models.JobStatusProcessing, testTime))
}

func TestDuplicateRecordIDsInSnapshotKeepFirst(t *testing.T) {
	m := newMaterializer(t,
		models.SnapshotRecord{ID: "r1", Name: "first"},
		models.SnapshotRecord{ID: "r1", Name: ""},
	)
	rs := m.Result()
	require.Len(t, rs.Records, 1)
	assert.Equal(t, "first", rs.Records[0].Name)
}

func TestCycleMediaWraps(t *testing.T) {
	m := newMaterializer(t, models.SnapshotRecord{ID: "r1"}, models.SnapshotRecord{ID: "empty"})
	m.OnRecordUpdate(&models.RecordUpdate{RecordID: "r1", Media: []string{"a", "b", "c"}, SequenceID: "1"})

	tests := []struct {
		dir  Direction
		want int
	}{
		{Next, 1},
		{Next, 2},
		{Next, 0},
		{Prev, 2},
		{Prev, 1},
	}
	for _, tt := range tests {
		m.CycleMedia("r1", tt.dir)
		assert.Equal(t, tt.want, m.Result().Records[0].SelectedMediaIndex)
	}

	assert.False(t, m.CycleMedia("empty", Next))
	assert.False(t, m.CycleMedia("missing", Next))
}

func TestSingleMediaCycleIsNoop(t *testing.T) {
	m := newMaterializer(t, models.SnapshotRecord{ID: "r1"})
	m.OnRecordUpdate(&models.RecordUpdate{RecordID: "r1", Media: []string{"a"}, SequenceID: "1"})

	assert.False(t, m.CycleMedia("r1", Next))
	assert.Equal(t, 0, m.Result().Records[0].SelectedMediaIndex)
}

func TestHydrateBeforeSnapshotAdoptsResult(t *testing.T) {
	m := NewMaterializer()
	m.Reset("J")

	require.True(t, m.Hydrate(&models.ResultSet{
		ID:    "J",
		Title: "Menu",
		Records: []models.Record{
			{ID: "b", OrderIndex: 1, Media: []string{"x"}, MediaStatus: models.MediaStatusReady, SelectedMediaIndex: 4},
			{ID: "a", OrderIndex: 0},
		},
	}))

	rs := m.Result()
	assert.Equal(t, "a", rs.Records[0].ID)
	assert.Equal(t, models.MediaStatusLoading, rs.Records[0].MediaStatus)
	assert.Equal(t, 0, rs.Records[1].SelectedMediaIndex)

	assert.False(t, m.Hydrate(&models.ResultSet{ID: "other"}))
}
