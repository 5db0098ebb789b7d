package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampSelection(t *testing.T) {
	cases := []struct {
		name     string
		media    []string
		selected int
		want     int
	}{
		{"in bounds", []string{"a", "b", "c"}, 1, 1},
		{"past the end", []string{"a", "b"}, 5, 1},
		{"negative", []string{"a", "b"}, -2, 0},
		{"empty media", []string{}, 3, 0},
		{"nil media negative", nil, -1, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := Record{Media: tc.media, SelectedMediaIndex: tc.selected}
			rec.ClampSelection()
			assert.Equal(t, tc.want, rec.SelectedMediaIndex)
		})
	}
}

func TestResultSetCloneIsDeep(t *testing.T) {
	price := 4.5
	rs := &ResultSet{
		ID: "J",
		Records: []Record{{
			ID:           "r1",
			Price:        &price,
			Media:        []string{"a"},
			MediaSources: []MediaSource{{URL: "a", Source: "google_cse"}},
		}},
	}

	out := rs.Clone()
	out.Records[0].Media[0] = "changed"
	*out.Records[0].Price = 9
	out.Records[0].MediaSources[0].Source = "fallback"

	assert.Equal(t, "a", rs.Records[0].Media[0])
	assert.Equal(t, 4.5, *rs.Records[0].Price)
	assert.Equal(t, "google_cse", rs.Records[0].MediaSources[0].Source)
	assert.Nil(t, (*ResultSet)(nil).Clone())
	assert.Equal(t, 0, rs.Find("r1"))
	assert.Equal(t, -1, rs.Find("r2"))
}

func validEvent() *Event {
	return &Event{JobID: "J", Status: JobStatusProcessing, Percent: 40, ItemCount: 2}
}

func TestEventValidate(t *testing.T) {
	require.NoError(t, validEvent().Validate())

	ev := validEvent()
	ev.ItemCount = -1
	assert.Error(t, ev.Validate())

	ev = validEvent()
	ev.Percent = 101
	assert.Error(t, ev.Validate())

	ev = validEvent()
	ev.Status = "paused"
	assert.Error(t, ev.Validate())

	ev = validEvent()
	ev.JobID = ""
	assert.Error(t, ev.Validate())
}

func TestEventValidateMediaStatus(t *testing.T) {
	ev := validEvent()
	ev.RecordUpdate = &RecordUpdate{RecordID: "r1", MediaStatus: "shiny", SequenceID: "s1"}
	assert.Error(t, ev.Validate())

	ev.RecordUpdate.MediaStatus = MediaStatusFallback
	assert.NoError(t, ev.Validate())

	// absent status is allowed and later defaults to ready
	ev.RecordUpdate.MediaStatus = ""
	assert.NoError(t, ev.Validate())

	ev = validEvent()
	ev.Records = []SnapshotRecord{{ID: "r1", MediaStatus: "pending"}}
	assert.Error(t, ev.Validate())

	ev.Records = []SnapshotRecord{{ID: ""}}
	assert.Error(t, ev.Validate())

	ev.Records = []SnapshotRecord{{ID: "r1", MediaStatus: MediaStatusLoading}}
	assert.NoError(t, ev.Validate())
}
