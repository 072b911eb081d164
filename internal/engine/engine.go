// Package engine is one interactive map session. It owns the viewport, the
// input and playback controllers and the scene, and runs a render loop that
// draws a new frame whenever any of them changed.
package engine

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fleetmap/internal/compositor"
	"fleetmap/internal/fleet"
	"fleetmap/internal/input"
	"fleetmap/internal/overlay"
	"fleetmap/internal/playback"
	"fleetmap/internal/projection"
	"fleetmap/internal/tiles"
	"fleetmap/internal/viewport"
)

type Config struct {
	Home        projection.LngLat
	DefaultZoom float64
	Limits      viewport.Limits
	Width       int
	Height      int
	Style       string

	Input            input.Config
	Overlay          overlay.Options
	PlaybackInterval time.Duration
	PlaybackStep     float64
	Concurrency      int

	// Now decides which day is live. Defaults to time.Now.
	Now func() time.Time
	// Replay draws every day as a replay, today included.
	Replay bool
}

// PlaybackFunc receives every playback change together with the replay
// clock it corresponds to.
type PlaybackFunc func(progress float64, state playback.State, clock time.Time)

type Engine struct {
	cfg      Config
	tiles    *tiles.Manager
	source   fleet.TrajectorySource
	renderer *overlay.Renderer
	comp     *compositor.Compositor
	play     *playback.Controller
	log      zerolog.Logger

	wake chan struct{}

	mu           sync.Mutex
	vp           *viewport.State
	input        *input.Controller
	machines     []fleet.MachineSnapshot
	trajectories map[string]fleet.Trajectory
	fields       []fleet.Field
	selected     string
	day          string
	style        string
	metric       bool
	onSelect     func(id string)
	onPlayback   PlaybackFunc
}

// New builds a session drawing onto surface. A nil tile manager renders the
// background without basemap tiles, and a nil source disables SetDay.
func New(cfg Config, mgr *tiles.Manager, surface compositor.Surface, source fleet.TrajectorySource, rec compositor.Recorder, logger zerolog.Logger) (*Engine, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Input.Home == (projection.LngLat{}) {
		cfg.Input.Home = cfg.Home
	}
	if cfg.Input.HomeZoom == 0 {
		cfg.Input.HomeZoom = cfg.DefaultZoom
	}
	renderer, err := overlay.NewRenderer(cfg.Overlay)
	if err != nil {
		return nil, err
	}
	logger = logger.With().Str("component", "engine").Logger()

	e := &Engine{
		cfg:          cfg,
		tiles:        mgr,
		source:       source,
		renderer:     renderer,
		comp:         compositor.New(surface, renderer, cfg.Concurrency, rec, logger),
		log:          logger,
		wake:         make(chan struct{}, 1),
		vp:           viewport.New(cfg.Home, cfg.DefaultZoom, cfg.Width, cfg.Height, cfg.Limits),
		input:        input.New(cfg.Input),
		trajectories: map[string]fleet.Trajectory{},
		day:          fleet.DayOf(cfg.Now()),
		style:        cfg.Style,
		metric:       true,
	}
	e.play = playback.New(cfg.PlaybackInterval, cfg.PlaybackStep, e.playbackChanged)
	return e, nil
}

// OnMachineSelected registers the callback raised when a machine is picked
// by a click or tap.
func (e *Engine) OnMachineSelected(fn func(id string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSelect = fn
}

func (e *Engine) OnPlayback(fn PlaybackFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onPlayback = fn
}

// Run renders frames until ctx is done. It is the only goroutine that
// draws unless RenderNow is used.
func (e *Engine) Run(ctx context.Context) error {
	e.requestRender()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.wake:
		}
		if err := e.renderDirty(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.log.Warn().Err(err).Msg("render failed")
		}
	}
}

// renderDirty draws until the state stops changing. A pass skipped because
// RenderNow holds the compositor leaves the state dirty; whichever of the two
// finishes last wakes the loop again.
func (e *Engine) renderDirty(ctx context.Context) error {
	for {
		e.mu.Lock()
		dirty := e.vp.TakeDirty()
		frame := e.frameLocked()
		e.mu.Unlock()
		if !dirty {
			return nil
		}

		rendered, err := e.comp.Render(ctx, frame)
		if err != nil {
			return err
		}
		if !rendered {
			e.markDirty()
			// RenderNow may have finished and checked for pending work
			// before the skipped pass recorded it.
			if !e.comp.Busy() {
				e.requestRender()
			}
			return nil
		}
		e.comp.TakePending()
	}
}

// RenderNow draws one frame synchronously from the current state.
func (e *Engine) RenderNow(ctx context.Context) (bool, error) {
	e.mu.Lock()
	e.vp.TakeDirty()
	frame := e.frameLocked()
	e.mu.Unlock()

	rendered, err := e.comp.Render(ctx, frame)
	// A skipped pass still owes the frame it took the dirty flag for.
	if (err == nil && !rendered) || e.comp.TakePending() {
		e.markDirty()
		e.requestRender()
	}
	return rendered, err
}

func (e *Engine) markDirty() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vp.MarkDirty()
}

func (e *Engine) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vp.Dirty()
}

func (e *Engine) requestRender() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// update runs fn under the lock and schedules a frame when fn left the
// viewport dirty.
func (e *Engine) update(fn func()) {
	e.mu.Lock()
	fn()
	dirty := e.vp.Dirty()
	e.mu.Unlock()
	if dirty {
		e.requestRender()
	}
}

func (e *Engine) frameLocked() compositor.Frame {
	f := compositor.Frame{View: e.vp.View(), Scene: e.sceneLocked()}
	if e.tiles != nil {
		if c, err := e.tiles.Cache(e.style); err == nil {
			f.Tiles = c
		}
	}
	return f
}

// sceneLocked copies the scene so the render goroutine can draw it without
// holding the lock.
func (e *Engine) sceneLocked() overlay.Scene {
	trajectories := make(map[string]fleet.Trajectory, len(e.trajectories))
	for id, t := range e.trajectories {
		trajectories[id] = t
	}
	return overlay.Scene{
		Fleet:         append([]fleet.MachineSnapshot(nil), e.machines...),
		Trajectories:  trajectories,
		Fields:        append([]fleet.Field(nil), e.fields...),
		SelectedID:    e.selected,
		Progress:      e.play.Progress(),
		Live:          e.liveLocked(),
		MetricOverlay: e.metric,
	}
}

func (e *Engine) liveLocked() bool {
	return !e.cfg.Replay && e.day == fleet.DayOf(e.cfg.Now())
}

func (e *Engine) View() projection.View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vp.View()
}

func (e *Engine) Selected() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// LastGood is the most recent frame read back from the surface, or nil.
func (e *Engine) LastGood() image.Image {
	return e.comp.LastGood()
}
