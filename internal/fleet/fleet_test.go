package fleet

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetmap/internal/projection"
)

const sampleGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="fleetmap-test" xmlns="http://www.topografix.com/GPX/1/1">
  <trk><name>JD S780</name><trkseg>
    <trkpt lat="46.850" lon="131.85"><time>2025-09-21T08:00:00Z</time></trkpt>
    <trkpt lat="46.851" lon="131.85"><time>2025-09-21T08:00:10Z</time></trkpt>
    <trkpt lat="46.852" lon="131.85"><time>2025-09-21T08:00:20Z</time></trkpt>
    <trkpt lat="46.853" lon="131.85"><time>2025-09-21T08:00:30Z</time></trkpt>
    <trkpt lat="46.854" lon="131.85"><time>2025-09-21T08:00:40Z</time></trkpt>
  </trkseg></trk>
</gpx>`

func TestParseGPX(t *testing.T) {
	traj, err := ParseGPX([]byte(sampleGPX), "m-1")
	require.NoError(t, err)

	assert.Equal(t, "m-1", traj.MachineID)
	assert.Equal(t, "2025-09-21", traj.Day)
	require.Len(t, traj.Points, 5)
	for i, p := range traj.Points {
		assert.Equal(t, i, p.Index)
		assert.True(t, p.HasSpeed)
		assert.InDelta(t, 40.03, p.Speed, 0.05)
	}
	assert.InDelta(t, 444.8, traj.Distance(), 0.5)
}

func TestLoadGPX_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.gpx")
	require.NoError(t, os.WriteFile(path, []byte(sampleGPX), 0o644))

	traj, err := LoadGPX(path, "m-2")

	require.NoError(t, err)
	assert.Len(t, traj.Points, 5)
}

func TestParseGPX_Empty(t *testing.T) {
	_, err := ParseGPX([]byte(`<?xml version="1.0" encoding="UTF-8"?><gpx version="1.1" creator="x" xmlns="http://www.topografix.com/GPX/1/1"></gpx>`), "m-1")

	assert.ErrorIs(t, err, ErrNoTrajectory)
}

func TestTrajectory_Trim(t *testing.T) {
	traj, err := ParseGPX([]byte(sampleGPX), "m-1")
	require.NoError(t, err)
	traj.Metric = []float64{1, 2, 3, 4, 5}

	byTime, err := traj.Trim("20s", "")
	require.NoError(t, err)
	require.Len(t, byTime.Points, 3)
	assert.Equal(t, 46.852, byTime.Points[0].Lat)
	assert.Equal(t, 0, byTime.Points[0].Index)
	assert.Equal(t, []float64{3, 4, 5}, byTime.Metric)

	byDist, err := traj.Trim("", "0.25km")
	require.NoError(t, err)
	assert.Len(t, byDist.Points, 3)

	_, err = traj.Trim("40s", "10s")
	assert.Error(t, err)
	_, err = traj.Trim("ten", "")
	assert.Error(t, err)

	assert.Len(t, traj.Points, 5)
}

func TestTrajectory_TimeSpanAndMetric(t *testing.T) {
	start := time.Date(2025, 9, 21, 7, 0, 0, 0, time.UTC)
	traj := Trajectory{Points: []TrajectoryPoint{{Time: start}, {Time: start.Add(time.Hour)}}}

	s, e, ok := traj.TimeSpan()
	require.True(t, ok)
	assert.Equal(t, start, s)
	assert.Equal(t, start.Add(time.Hour), e)
	assert.False(t, traj.HasMetric())

	traj.Metric = []float64{700, 650}
	assert.True(t, traj.HasMetric())

	_, _, ok = Trajectory{Points: []TrajectoryPoint{{}, {}}}.TimeSpan()
	assert.False(t, ok)
}

func TestTrajectory_Bounds(t *testing.T) {
	traj := Trajectory{Points: []TrajectoryPoint{
		{Lng: 131.86, Lat: 46.84},
		{Lng: 131.84, Lat: 46.87},
		{Lng: 131.85, Lat: 46.85},
	}}

	sw, ne, ok := traj.Bounds()

	require.True(t, ok)
	assert.Equal(t, projection.LngLat{Lng: 131.84, Lat: 46.84}, sw)
	assert.Equal(t, projection.LngLat{Lng: 131.86, Lat: 46.87}, ne)

	_, _, ok = Trajectory{}.Bounds()
	assert.False(t, ok)
}

func TestField_CentroidAndArea(t *testing.T) {
	f := Field{ID: "f-1", Name: "North 12", Boundary: []projection.LngLat{
		{Lng: 131.85, Lat: 46.85},
		{Lng: 131.86, Lat: 46.85},
		{Lng: 131.86, Lat: 46.86},
		{Lng: 131.85, Lat: 46.86},
	}}

	c, ok := f.Centroid()
	require.True(t, ok)
	assert.InDelta(t, 131.855, c.Lng, 1e-9)
	assert.InDelta(t, 46.855, c.Lat, 1e-9)

	assert.InDelta(t, 84.74, f.AreaHectares(), 0.1)

	_, ok = Field{Boundary: f.Boundary[:2]}.Centroid()
	assert.False(t, ok)
}

func TestStatusActive(t *testing.T) {
	assert.True(t, Working.Active())
	assert.True(t, Moving.Active())
	assert.False(t, Idle.Active())
	assert.False(t, Offline.Active())
}
