package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetmap/internal/fleet"
	"fleetmap/internal/projection"
	"fleetmap/internal/tiles"
)

const trackGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="fleetmap-test" xmlns="http://www.topografix.com/GPX/1/1">
  <trk><trkseg>
    <trkpt lat="46.850" lon="131.850"><time>2025-09-21T08:00:00Z</time></trkpt>
    <trkpt lat="46.851" lon="131.852"><time>2025-09-21T08:00:10Z</time></trkpt>
    <trkpt lat="46.852" lon="131.854"><time>2025-09-21T08:00:20Z</time></trkpt>
    <trkpt lat="46.853" lon="131.856"><time>2025-09-21T08:00:30Z</time></trkpt>
  </trkseg></trk>
</gpx>`

func writeTrack(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(trackGPX), 0o644))
	return path
}

func TestParseLngLat(t *testing.T) {
	p, err := parseLngLat("131.85, 46.85")
	require.NoError(t, err)
	assert.Equal(t, projection.LngLat{Lng: 131.85, Lat: 46.85}, p)

	_, err = parseLngLat("131.85")
	assert.Error(t, err)
	_, err = parseLngLat("east,46")
	assert.Error(t, err)
}

func TestParseBounds(t *testing.T) {
	b, err := parseBounds("131.69,46.72,132.01,46.98")
	require.NoError(t, err)
	assert.Equal(t, tiles.Bounds{West: 131.69, South: 46.72, East: 132.01, North: 46.98}, b)

	_, err = parseBounds("132.01,46.72,131.69,46.98")
	assert.Error(t, err, "west must be less than east")
	_, err = parseBounds("1,2,3")
	assert.Error(t, err)
}

func TestMachineID(t *testing.T) {
	assert.Equal(t, "combine-7", machineID("/data/tracks/combine-7.gpx"))
	assert.Equal(t, "tractor", machineID("tractor"))
}

func TestLoadScene_GPXOnly(t *testing.T) {
	path := writeTrack(t, "jd-s780.gpx")

	sc, err := loadScene(context.Background(), sceneOptions{gpx: []string{path}, noStore: true})
	require.NoError(t, err)

	assert.Equal(t, "2025-09-21", sc.day)
	require.Len(t, sc.trajectories, 1)
	require.Len(t, sc.machines, 1)

	m := sc.machines[0]
	assert.Equal(t, "jd-s780", m.ID)
	assert.Equal(t, fleet.Harvester, m.Type)
	assert.Equal(t, fleet.Working, m.Status)
	assert.InDelta(t, 131.856, m.Lng, 1e-9, "machine sits on the last point")
	assert.InDelta(t, 46.853, m.Lat, 1e-9)
}

func TestLoadScene_Trim(t *testing.T) {
	path := writeTrack(t, "jd-s780.gpx")

	sc, err := loadScene(context.Background(), sceneOptions{gpx: []string{path}, from: "10s", to: "30s", noStore: true})
	require.NoError(t, err)
	require.Len(t, sc.trajectories, 1)
	assert.Equal(t, 2, sc.trajectories[0].Len())
}

func TestSceneBounds(t *testing.T) {
	sc := scene{machines: []fleet.MachineSnapshot{
		{ID: "a", Lng: 131.80, Lat: 46.80},
		{ID: "b", Lng: 131.90, Lat: 46.90},
	}}
	sw, ne, ok := sc.bounds()
	require.True(t, ok)
	assert.Equal(t, projection.LngLat{Lng: 131.80, Lat: 46.80}, sw)
	assert.Equal(t, projection.LngLat{Lng: 131.90, Lat: 46.90}, ne)

	// Trajectories win over machine positions.
	sc.trajectories = []fleet.Trajectory{{MachineID: "a", Points: []fleet.TrajectoryPoint{
		{Lng: 131.82, Lat: 46.81}, {Lng: 131.83, Lat: 46.84},
	}}}
	sw, ne, ok = sc.bounds()
	require.True(t, ok)
	assert.Equal(t, projection.LngLat{Lng: 131.82, Lat: 46.81}, sw)
	assert.Equal(t, projection.LngLat{Lng: 131.83, Lat: 46.84}, ne)

	_, _, ok = scene{}.bounds()
	assert.False(t, ok)
}

func TestFrameView(t *testing.T) {
	sc := scene{machines: []fleet.MachineSnapshot{
		{ID: "a", Lng: 131.80, Lat: 46.80},
		{ID: "b", Lng: 131.90, Lat: 46.90},
	}}

	c, zoom, err := frameView(sc, "131.5,46.5", 14, 800, 600)
	require.NoError(t, err)
	assert.Equal(t, projection.LngLat{Lng: 131.5, Lat: 46.5}, c)
	assert.Equal(t, 14.0, zoom)

	c, zoom, err = frameView(sc, "", 0, 800, 600)
	require.NoError(t, err)
	assert.InDelta(t, 131.85, c.Lng, 1e-9)
	assert.Greater(t, zoom, 8.0)
	assert.LessOrEqual(t, zoom, 16.0)

	// The fitted scene is on screen.
	view := projection.View{Center: c, Zoom: zoom, Width: 800, Height: 600}
	x, y := view.ToPixel(131.80, 46.80)
	assert.True(t, view.Contains(x, y, 0))
	x, y = view.ToPixel(131.90, 46.90)
	assert.True(t, view.Contains(x, y, 0))

	_, _, err = frameView(sc, "bad", 0, 800, 600)
	assert.Error(t, err)
}

func TestScreenBounds(t *testing.T) {
	p := projection.LngLat{Lng: 131.85, Lat: 46.85}
	b := screenBounds(p, p, 12, 800, 600)

	assert.Less(t, b.West, p.Lng)
	assert.Greater(t, b.East, p.Lng)
	assert.Less(t, b.South, p.Lat)
	assert.Greater(t, b.North, p.Lat)

	// Half a screen of 800px at zoom 12 spans 400 world pixels.
	perPixel := 360 / (256 * 4096.0)
	assert.InDelta(t, 800*perPixel, b.East-b.West, 1e-6)
}

func TestTileDir(t *testing.T) {
	assert.Equal(t, "/srv/tiles", tileDir("/srv/tiles", "cache"))
	assert.Equal(t, "cache", tileDir("", "cache"))
	assert.Equal(t, defaultTileDir, tileDir("", ""))
}
