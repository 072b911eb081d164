package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleetmap/internal/fleet"
	"fleetmap/internal/input"
	"fleetmap/internal/overlay"
	"fleetmap/internal/playback"
	"fleetmap/internal/projection"
)

func (e *Engine) PointerDown(x, y float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.input.PointerDown(x, y)
}

func (e *Engine) PointerMove(x, y float64) {
	e.update(func() { e.input.PointerMove(e.vp, x, y) })
}

func (e *Engine) PointerUp() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.input.PointerUp()
}

func (e *Engine) PointerLeave() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.input.PointerLeave()
}

func (e *Engine) Wheel(deltaY float64) {
	e.update(func() { e.input.Wheel(e.vp, deltaY) })
}

func (e *Engine) ZoomIn() {
	e.update(func() { e.input.ZoomIn(e.vp) })
}

func (e *Engine) ZoomOut() {
	e.update(func() { e.input.ZoomOut(e.vp) })
}

func (e *Engine) Locate() {
	e.update(func() { e.input.Locate(e.vp) })
}

// SetView jumps to center at zoom, clamped to the limits.
func (e *Engine) SetView(center projection.LngLat, zoom float64) {
	e.update(func() { e.vp.Reset(center, zoom) })
}

// Follow centres on a machine where it is currently drawn, keeping the
// zoom. It reports false for an unknown id.
func (e *Engine) Follow(id string) bool {
	found := false
	e.update(func() {
		for _, m := range e.machines {
			if m.ID == id {
				e.vp.Reset(e.displayedLocked(m).Position(), e.vp.Zoom)
				found = true
				return
			}
		}
	})
	return found
}

func (e *Engine) Resize(width, height int) {
	e.update(func() { e.vp.Resize(width, height) })
}

// Touch feeds the active contacts; a tap is handled like a click.
func (e *Engine) Touch(touches []input.Touch) {
	var (
		x, y float64
		tap  bool
	)
	e.update(func() { x, y, tap = e.input.Touch(e.vp, touches) })
	if tap {
		e.Click(x, y)
	}
}

// Click selects the first machine drawn under (x, y). It reports whether
// anything was hit.
func (e *Engine) Click(x, y float64) bool {
	e.mu.Lock()
	hits := markerHits{
		markers: overlay.PlaceMarkers(e.vp.View(), e.sceneLocked()),
		radius:  e.renderer.Options().HitRadius,
	}
	m, ok := e.input.Click(x, y, hits)
	var fn func(string)
	if ok {
		e.selectLocked(m)
		fn = e.onSelect
	}
	e.mu.Unlock()

	if !ok {
		return false
	}
	e.requestRender()
	if fn != nil {
		fn(m.ID)
	}
	return true
}

type markerHits struct {
	markers []overlay.PlacedMarker
	radius  float64
}

func (h markerHits) HitTest(x, y float64) (fleet.MachineSnapshot, bool) {
	return overlay.HitTest(h.markers, x, y, h.radius)
}

// Select highlights a machine and centres on it. An unknown id or ""
// clears the selection without moving.
func (e *Engine) Select(id string) {
	e.update(func() {
		for _, m := range e.machines {
			if m.ID == id {
				e.selectLocked(m)
				return
			}
		}
		if e.selected != "" {
			e.selected = ""
			e.vp.MarkDirty()
		}
	})
}

func (e *Engine) selectLocked(m fleet.MachineSnapshot) {
	e.selected = m.ID
	input.Focus(e.vp, e.displayedLocked(m))
}

// displayedLocked is the machine as it is drawn: moved to its replay
// position on past days.
func (e *Engine) displayedLocked(m fleet.MachineSnapshot) fleet.MachineSnapshot {
	pos := overlay.MarkerPosition(m, e.trajectories[m.ID], e.liveLocked(), e.play.Progress())
	m.Lng, m.Lat = pos.Lng, pos.Lat
	return m
}

func (e *Engine) SetFleet(machines []fleet.MachineSnapshot) {
	e.update(func() {
		e.machines = append(e.machines[:0:0], machines...)
		e.vp.MarkDirty()
	})
}

func (e *Engine) SetFields(fields []fleet.Field) {
	e.update(func() {
		e.fields = append(e.fields[:0:0], fields...)
		e.vp.MarkDirty()
	})
}

func (e *Engine) SetMetricOverlay(on bool) {
	e.update(func() {
		e.metric = on
		e.vp.MarkDirty()
	})
}

// SetBasemap switches the tile style. Unknown styles are rejected and the
// current one is kept.
func (e *Engine) SetBasemap(style string) error {
	if e.tiles != nil {
		if _, err := e.tiles.Cache(style); err != nil {
			return err
		}
	}
	e.update(func() {
		e.style = style
		e.vp.MarkDirty()
	})
	return nil
}

func (e *Engine) Basemap() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.style
}

func (e *Engine) Day() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.day
}

// SetDay loads the trajectory of every machine in the fleet for day and
// resets playback. Machines without a recording for that day are skipped;
// any other error leaves the session unchanged.
func (e *Engine) SetDay(ctx context.Context, day string) error {
	if _, err := time.Parse(fleet.DayLayout, day); err != nil {
		return fmt.Errorf("invalid day %q: %w", day, err)
	}
	e.mu.Lock()
	machines := append([]fleet.MachineSnapshot(nil), e.machines...)
	e.mu.Unlock()

	loaded := make(map[string]fleet.Trajectory, len(machines))
	if e.source != nil {
		for _, m := range machines {
			t, err := e.source.TrajectoryForDay(ctx, m.ID, day)
			if errors.Is(err, fleet.ErrNoTrajectory) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to load trajectory of %s: %w", m.ID, err)
			}
			loaded[m.ID] = t
		}
	}

	e.update(func() {
		e.day = day
		e.trajectories = loaded
		e.vp.MarkDirty()
	})
	e.log.Info().Str("day", day).Int("trajectories", len(loaded)).Msg("day loaded")
	e.play.Reset()
	return nil
}

// SetTrajectories replaces the loaded trajectories directly, for hosts that
// read them from files.
func (e *Engine) SetTrajectories(day string, trajectories []fleet.Trajectory) {
	e.update(func() {
		e.day = day
		e.trajectories = make(map[string]fleet.Trajectory, len(trajectories))
		for _, t := range trajectories {
			e.trajectories[t.MachineID] = t
		}
		e.vp.MarkDirty()
	})
	e.play.Reset()
}

func (e *Engine) Play()             { e.play.Play() }
func (e *Engine) Pause()            { e.play.Pause() }
func (e *Engine) ResetPlayback()    { e.play.Reset() }
func (e *Engine) Scrub(p float64)   { e.play.Scrub(p) }
func (e *Engine) TickPlayback()     { e.play.Tick() }
func (e *Engine) Close()            { e.play.Close() }
func (e *Engine) Progress() float64 { return e.play.Progress() }

func (e *Engine) PlaybackState() playback.State {
	return e.play.State()
}

// Clock is the replay time at progress: the span of the loaded
// trajectories, or the 07:00 to 19:00 working day when they carry no
// timestamps.
func (e *Engine) Clock(progress float64) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clockLocked(progress)
}

func (e *Engine) clockLocked(progress float64) time.Time {
	var start, end time.Time
	for _, t := range e.trajectories {
		s, f, ok := t.TimeSpan()
		if !ok {
			continue
		}
		if start.IsZero() || s.Before(start) {
			start = s
		}
		if end.IsZero() || f.After(end) {
			end = f
		}
	}
	if start.IsZero() {
		day, err := time.ParseInLocation(fleet.DayLayout, e.day, time.Local)
		if err != nil {
			day = e.cfg.Now()
		}
		start, end = playback.WorkingDay(day)
	}
	return playback.Clock(progress, start, end)
}

func (e *Engine) playbackChanged(progress float64, state playback.State) {
	e.mu.Lock()
	e.vp.MarkDirty()
	fn := e.onPlayback
	clock := e.clockLocked(progress)
	e.mu.Unlock()

	e.requestRender()
	if fn != nil {
		fn(progress, state, clock)
	}
}
