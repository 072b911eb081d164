package engine

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetmap/internal/compositor"
	"fleetmap/internal/fleet"
	"fleetmap/internal/input"
	"fleetmap/internal/overlay"
	"fleetmap/internal/playback"
	"fleetmap/internal/projection"
	"fleetmap/internal/tiles"
	"fleetmap/internal/viewport"
)

var farm = projection.LngLat{Lng: 131.85, Lat: 46.85}

var today = time.Date(2024, 6, 1, 10, 0, 0, 0, time.Local)

func testConfig() Config {
	return Config{
		Home:        farm,
		DefaultZoom: 12,
		Limits:      viewport.Limits{MinZoom: 8, MaxZoom: 18},
		Width:       800,
		Height:      600,
		Style:       tiles.StyleSatellite,
		Overlay:     overlay.DefaultOptions(),
		Now:         func() time.Time { return today },
	}
}

func newEngine(t *testing.T, mgr *tiles.Manager, src fleet.TrajectorySource) (*Engine, *compositor.ImageSurface) {
	t.Helper()
	surf := compositor.NewImageSurface()
	e, err := New(testConfig(), mgr, surf, src, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, surf
}

type solidFetcher struct{ c color.Color }

func (f solidFetcher) Fetch(_ context.Context, _ tiles.Style, _ tiles.Key) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, projection.TileSize, projection.TileSize))
	draw.Draw(img, img.Bounds(), image.NewUniform(f.c), image.Point{}, draw.Src)
	return img, nil
}

type fakeSource struct {
	mu     sync.Mutex
	byID   map[string]fleet.Trajectory
	failID string
	calls  int
}

func (s *fakeSource) TrajectoryForDay(_ context.Context, machineID, day string) (fleet.Trajectory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if machineID == s.failID {
		return fleet.Trajectory{}, errors.New("database is locked")
	}
	t, ok := s.byID[machineID]
	if !ok {
		return fleet.Trajectory{}, fleet.ErrNoTrajectory
	}
	t.Day = day
	return t, nil
}

func machines() []fleet.MachineSnapshot {
	return []fleet.MachineSnapshot{
		{ID: "m-1", Name: "Harvester 01", Lng: farm.Lng, Lat: farm.Lat, Type: fleet.Harvester, Status: fleet.Working, Brand: "john_deere"},
		{ID: "m-2", Name: "Tractor 02", Lng: 131.95, Lat: 46.95, Type: fleet.Tractor, Status: fleet.Idle, Brand: "claas"},
	}
}

func line(id string, n int) fleet.Trajectory {
	t := fleet.Trajectory{MachineID: id}
	for i := 0; i < n; i++ {
		f := float64(i) / float64(n-1)
		t.Points = append(t.Points, fleet.TrajectoryPoint{Lng: 131.80 + 0.02*f, Lat: 46.80 + 0.02*f, Index: i})
	}
	return t
}

func TestRun_RendersOnChange(t *testing.T) {
	e, surf := newEngine(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return surf.Presents() >= 1 }, time.Second, 5*time.Millisecond)

	e.Wheel(-1)
	require.Eventually(t, func() bool { return surf.Presents() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 12.5, e.View().Zoom)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_WithConcurrentRenderNow_SettlesClean(t *testing.T) {
	e, surf := newEngine(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()
	require.Eventually(t, func() bool { return surf.Presents() >= 1 }, time.Second, 5*time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, _ = e.RenderNow(ctx)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			if i%2 == 0 {
				e.Wheel(-1)
			} else {
				e.Wheel(1)
			}
		}
	}()
	wg.Wait()

	// Every change is eventually drawn, whoever held the compositor.
	require.Eventually(t, func() bool { return !e.Dirty() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 12.0, e.View().Zoom)
}

func TestRenderNow_DrawsTilesAndClearsDirty(t *testing.T) {
	mgr, err := tiles.NewManager(tiles.DefaultStyles(), solidFetcher{color.RGBA{0, 200, 0, 255}}, 64, nil, zerolog.Nop())
	require.NoError(t, err)
	e, surf := newEngine(t, mgr, nil)

	assert.True(t, e.Dirty())
	ok, err := e.RenderNow(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, e.Dirty())

	frame, err := surf.Frame()
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{0, 200, 0, 255}, frame.RGBAAt(5, 5))
	assert.NotNil(t, e.LastGood())
}

func TestSetBasemap(t *testing.T) {
	mgr, err := tiles.NewManager(tiles.DefaultStyles(), solidFetcher{color.White}, 8, nil, zerolog.Nop())
	require.NoError(t, err)
	e, _ := newEngine(t, mgr, nil)

	assert.Error(t, e.SetBasemap("terrain"))
	assert.Equal(t, tiles.StyleSatellite, e.Basemap())

	require.NoError(t, e.SetBasemap(tiles.StyleMap))
	assert.Equal(t, tiles.StyleMap, e.Basemap())
}

func TestPointerDrag_Pans(t *testing.T) {
	e, _ := newEngine(t, nil, nil)

	e.PointerDown(400, 300)
	e.PointerMove(300, 300)
	e.PointerUp()

	assert.InDelta(t, farm.Lng+100*360/(256*4096.0), e.View().Center.Lng, 1e-9)
	assert.True(t, e.Dirty())
}

func TestClick_SelectsAndFocuses(t *testing.T) {
	e, _ := newEngine(t, nil, nil)
	e.SetFleet(machines())

	var got []string
	e.OnMachineSelected(func(id string) { got = append(got, id) })

	assert.False(t, e.Click(440, 300))
	assert.True(t, e.Click(410, 295))

	assert.Equal(t, []string{"m-1"}, got)
	assert.Equal(t, "m-1", e.Selected())
	assert.Equal(t, input.SelectZoom, e.View().Zoom)
	assert.Equal(t, farm, e.View().Center)
}

func TestTouchTap_Selects(t *testing.T) {
	e, _ := newEngine(t, nil, nil)
	e.SetFleet(machines())

	e.Touch([]input.Touch{{ID: 1, X: 400, Y: 300}})
	e.Touch(nil)

	assert.Equal(t, "m-1", e.Selected())
}

func TestSelect(t *testing.T) {
	e, _ := newEngine(t, nil, nil)
	e.SetFleet(machines())

	e.Select("m-2")
	assert.Equal(t, "m-2", e.Selected())
	assert.Equal(t, projection.LngLat{Lng: 131.95, Lat: 46.95}, e.View().Center)

	e.Select("nope")
	assert.Empty(t, e.Selected())
	assert.Equal(t, projection.LngLat{Lng: 131.95, Lat: 46.95}, e.View().Center)
}

func TestSetDay_LoadsTrajectoriesAndReplaysMarkers(t *testing.T) {
	src := &fakeSource{byID: map[string]fleet.Trajectory{"m-1": line("m-1", 11)}}
	e, _ := newEngine(t, nil, src)
	e.SetFleet(machines())
	e.Scrub(40)

	require.NoError(t, e.SetDay(context.Background(), "2024-05-30"))
	assert.Equal(t, "2024-05-30", e.Day())
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, 0.0, e.Progress())
	assert.Equal(t, playback.Idle, e.PlaybackState())

	// At progress 0 the replay marker sits on the first point, not on the
	// live position.
	x, y := e.View().ToPixel(131.80, 46.80)
	assert.True(t, e.Click(x, y))
	assert.Equal(t, "m-1", e.Selected())
	assert.InDelta(t, 131.80, e.View().Center.Lng, 1e-9)
}

func TestSetDay_ErrorKeepsSession(t *testing.T) {
	src := &fakeSource{byID: map[string]fleet.Trajectory{"m-1": line("m-1", 5)}, failID: "m-2"}
	e, _ := newEngine(t, nil, src)
	e.SetFleet(machines())

	err := e.SetDay(context.Background(), "2024-05-30")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "m-2")
	assert.Equal(t, "2024-06-01", e.Day())

	assert.Error(t, e.SetDay(context.Background(), "yesterday"))
}

func TestClock(t *testing.T) {
	e, _ := newEngine(t, nil, nil)
	e.SetTrajectories("2024-05-30", []fleet.Trajectory{line("m-1", 3)})

	clock := e.Clock(50)
	assert.Equal(t, 13, clock.Hour())
	assert.Equal(t, 0, clock.Minute())
	assert.Equal(t, 30, clock.Day())

	start := time.Date(2024, 5, 30, 8, 0, 0, 0, time.UTC)
	timed := line("m-1", 3)
	for i := range timed.Points {
		timed.Points[i].Time = start.Add(time.Duration(i) * time.Hour)
	}
	e.SetTrajectories("2024-05-30", []fleet.Trajectory{timed})
	assert.Equal(t, start.Add(30*time.Minute), e.Clock(25))
}

func TestPlayback_NotifiesWithClock(t *testing.T) {
	e, _ := newEngine(t, nil, nil)
	e.SetTrajectories("2024-05-30", nil)

	var (
		mu     sync.Mutex
		states []playback.State
		clocks []time.Time
	)
	e.OnPlayback(func(_ float64, s playback.State, clock time.Time) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
		clocks = append(clocks, clock)
	})

	e.Scrub(100)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	assert.Equal(t, playback.Paused, states[len(states)-1])
	assert.Equal(t, 19, clocks[len(clocks)-1].Hour())
}

func TestFollow_TracksReplayMarker(t *testing.T) {
	e, _ := newEngine(t, nil, nil)
	e.SetFleet(machines())
	e.SetTrajectories("2024-05-30", []fleet.Trajectory{line("m-1", 11)})
	e.SetView(farm, 14)

	e.Scrub(100)
	require.True(t, e.Follow("m-1"))
	assert.InDelta(t, 131.82, e.View().Center.Lng, 1e-9)
	assert.InDelta(t, 46.82, e.View().Center.Lat, 1e-9)
	assert.Equal(t, 14.0, e.View().Zoom)

	assert.False(t, e.Follow("m-9"))
}

func TestReplayConfig_TodayIsNotLive(t *testing.T) {
	cfg := testConfig()
	cfg.Replay = true
	e, err := New(cfg, nil, compositor.NewImageSurface(), nil, nil, zerolog.Nop())
	require.NoError(t, err)
	defer e.Close()

	e.SetFleet(machines())
	e.SetTrajectories(fleet.DayOf(today), []fleet.Trajectory{line("m-1", 11)})

	x, y := e.View().ToPixel(131.80, 46.80)
	assert.True(t, e.Click(x, y))
}
