package aggregate

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/micutio/airfuse/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func partial(id, source string, priority int, ts time.Time, lat, lon float64) internal.PartialRecord {
	return internal.PartialRecord{
		ID: id,
		Position: internal.Position{
			Timestamp:   ts,
			Lat:         lat,
			Lon:         lon,
			Source:      source,
			Reliability: internal.ReliabilityHigh,
		},
		Source:         source,
		SourcePriority: priority,
	}
}

func TestMergeOrderIndependence(t *testing.T) {
	a := partial("x", "a", 1, baseTime, 1, 1)
	a.Callsign = "AAA123"
	b := partial("x", "b", 2, baseTime, 2, 2)
	b.Registration = "D-EFGH"
	c := partial("y", "b", 2, baseTime.Add(-time.Second), 3, 3)

	tests := []struct {
		name  string
		left  []internal.PartialRecord
		right []internal.PartialRecord
	}{
		{name: "timestamp tie", left: []internal.PartialRecord{a, b}, right: []internal.PartialRecord{b, a}},
		{name: "several ids", left: []internal.PartialRecord{a, b, c}, right: []internal.PartialRecord{c, b, a}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			left := Merge(tt.left)
			right := Merge(tt.right)
			if diff := cmp.Diff(left, right); diff != "" {
				t.Errorf("merge depends on input order (-left +right):\n%s", diff)
			}
		})
	}
}

func TestMergeDuplicateReportsOfOneSource(t *testing.T) {
	alt := func(v float64) *float64 { return &v }

	first := partial("x", "a", 1, baseTime, 1, 1)
	first.Registration = "A"
	first.Squawk = "1000"
	second := partial("x", "a", 1, baseTime, 1, 1)
	second.Registration = "B"
	second.AircraftType = "A320"
	third := partial("x", "a", 1, baseTime, 1, 1)
	third.Registration = "A"
	third.Position.Altitude = alt(12000)

	reports := []internal.PartialRecord{first, second, third}
	var want []internal.AircraftRecord
	for rotation := range 3 * len(reports) {
		rotated := make([]internal.PartialRecord, 0, len(reports))
		for i := range reports {
			rotated = append(rotated, reports[(i+rotation)%len(reports)])
		}
		if rotation%2 == 1 {
			rotated[0], rotated[len(rotated)-1] = rotated[len(rotated)-1], rotated[0]
		}

		got := Merge(rotated)
		if want == nil {
			want = got
			continue
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("rotation %d changed the merge (-want +got):\n%s", rotation, diff)
		}
	}

	require.Len(t, want, 1)
	assert.Equal(t, "A", want[0].Registration)
	assert.Equal(t, "A320", want[0].AircraftType)
	assert.Equal(t, "1000", want[0].Squawk)
	require.NotNil(t, want[0].Position.Altitude)
	assert.InDelta(t, 12000, *want[0].Position.Altitude, 0)
}

func TestMergeTimestampTieBrokenByPriority(t *testing.T) {
	a := partial("x", "a", 1, baseTime, 1, 1)
	b := partial("x", "b", 2, baseTime, 2, 2)

	records := Merge([]internal.PartialRecord{b, a})
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].Position.Source)
	assert.Equal(t, []string{"a", "b"}, records[0].Sources)
}

func TestMergeBackfillOnly(t *testing.T) {
	newer := partial("x", "b", 2, baseTime, 1, 1)
	newer.Callsign = "NEW1"
	older := partial("x", "a", 1, baseTime.Add(-5*time.Second), 2, 2)
	older.Callsign = "OLD1"
	older.AircraftType = "A320"
	older.Squawk = "7700"

	records := Merge([]internal.PartialRecord{older, newer})
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "NEW1", rec.Callsign)
	assert.Equal(t, "A320", rec.AircraftType)
	assert.Equal(t, "7700", rec.Squawk)
	assert.True(t, rec.IsEmergency())
}

// A is two seconds older than B but is the only one knowing the registration.
func TestMergeNewestPositionOlderRegistration(t *testing.T) {
	fromA := partial("x", "A", 1, baseTime.Add(-2*time.Second), 10, 10)
	fromA.Registration = "G-ABCD"
	fromB := partial("x", "B", 2, baseTime, 11, 11)

	records := Merge([]internal.PartialRecord{fromA, fromB})
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, baseTime, rec.LastUpdate)
	assert.Equal(t, "B", rec.Position.Source)
	assert.InDelta(t, 11, rec.Position.Lat, 0)
	assert.Equal(t, "G-ABCD", rec.Registration)
	assert.Equal(t, []string{"A", "B"}, rec.Sources)
}

func TestMergeSortsByIDAndSkipsEmptyIDs(t *testing.T) {
	records := Merge([]internal.PartialRecord{
		partial("c", "a", 1, baseTime, 1, 1),
		partial("", "a", 1, baseTime, 1, 1),
		partial("a", "a", 1, baseTime, 1, 1),
		partial("b", "a", 1, baseTime, 1, 1),
	})

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestMergeEmpty(t *testing.T) {
	records := Merge(nil)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}
