package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"fleetmap/internal/compositor"
	"fleetmap/internal/engine"
	"fleetmap/internal/fleet"
	"fleetmap/internal/projection"
	"fleetmap/internal/store"
	"fleetmap/internal/tiles"
)

// sceneOptions select what a headless command draws: the store contents
// for a day, GPX files, or both.
type sceneOptions struct {
	day      string
	gpx      []string
	from, to string
	noStore  bool
}

type scene struct {
	day          string
	machines     []fleet.MachineSnapshot
	trajectories []fleet.Trajectory
	fields       []fleet.Field
}

func openStore() (*store.Store, error) {
	return store.Open(settings.Store.Path, logger)
}

func newTileManager(rec tiles.Recorder) (*tiles.Manager, error) {
	log := logger.With().Str("component", "tiles").Logger()
	return tiles.NewManager(settings.Styles(), settings.Fetcher(log), settings.Tiles.CacheSize, rec, log)
}

// machineID names a GPX machine after its file.
func machineID(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// gpxMachine stands in for a machine known only from a track: it sits on
// the last point.
func gpxMachine(t fleet.Trajectory) fleet.MachineSnapshot {
	last := t.Points[len(t.Points)-1]
	return fleet.MachineSnapshot{
		ID:     t.MachineID,
		Name:   t.MachineID,
		Lat:    last.Lat,
		Lng:    last.Lng,
		Type:   fleet.Harvester,
		Status: fleet.Working,
		Brand:  "john_deere",
	}
}

func loadScene(ctx context.Context, opts sceneOptions) (scene, error) {
	sc := scene{day: opts.day}
	have := map[string]bool{}

	for _, path := range opts.gpx {
		t, err := fleet.LoadGPX(path, machineID(path))
		if err != nil {
			return sc, fmt.Errorf("%s: %w", path, err)
		}
		if t, err = t.Trim(opts.from, opts.to); err != nil {
			return sc, fmt.Errorf("%s: %w", path, err)
		}
		if sc.day == "" {
			sc.day = t.Day
		}
		sc.trajectories = append(sc.trajectories, t)
		have[t.MachineID] = true
	}

	if !opts.noStore {
		st, err := openStore()
		if err != nil {
			return sc, err
		}
		defer st.Close()

		if sc.machines, err = st.Fleet(ctx); err != nil {
			return sc, err
		}
		if sc.fields, err = st.Fields(ctx); err != nil {
			return sc, err
		}
		if sc.day != "" {
			for _, m := range sc.machines {
				if have[m.ID] {
					continue
				}
				t, err := st.TrajectoryForDay(ctx, m.ID, sc.day)
				if errors.Is(err, fleet.ErrNoTrajectory) {
					continue
				}
				if err != nil {
					return sc, err
				}
				sc.trajectories = append(sc.trajectories, t)
			}
		}
	}

	known := map[string]bool{}
	for _, m := range sc.machines {
		known[m.ID] = true
	}
	for _, t := range sc.trajectories {
		if !known[t.MachineID] {
			sc.machines = append(sc.machines, gpxMachine(t))
			known[t.MachineID] = true
		}
	}
	if sc.day == "" {
		sc.day = fleet.DayOf(time.Now())
	}
	return sc, nil
}

// bounds covers every trajectory, or every machine when there are none.
func (sc scene) bounds() (sw, ne projection.LngLat, ok bool) {
	grow := func(a, b projection.LngLat) {
		if !ok {
			sw, ne, ok = a, b, true
			return
		}
		sw.Lng, sw.Lat = min(sw.Lng, a.Lng), min(sw.Lat, a.Lat)
		ne.Lng, ne.Lat = max(ne.Lng, b.Lng), max(ne.Lat, b.Lat)
	}
	for _, t := range sc.trajectories {
		if a, b, has := t.Bounds(); has {
			grow(a, b)
		}
	}
	if !ok {
		for _, m := range sc.machines {
			grow(m.Position(), m.Position())
		}
	}
	return sw, ne, ok
}

// newSession builds an engine drawing onto surface and loads sc into it.
func newSession(sc scene, width, height int, replay bool, mgr *tiles.Manager, surface compositor.Surface) (*engine.Engine, error) {
	cfg := settings.Engine()
	cfg.Width, cfg.Height = width, height
	cfg.Replay = replay
	e, err := engine.New(cfg, mgr, surface, nil, nil, logger)
	if err != nil {
		return nil, err
	}
	e.SetFleet(sc.machines)
	e.SetFields(sc.fields)
	e.SetTrajectories(sc.day, sc.trajectories)
	return e, nil
}

// frameView picks the view of a headless render: an explicit centre, a
// fit of the scene, or the configured home.
func frameView(sc scene, center string, zoom float64, width, height int) (projection.LngLat, float64, error) {
	if center != "" {
		c, err := parseLngLat(center)
		if err != nil {
			return c, 0, err
		}
		if zoom == 0 {
			zoom = settings.Map.DefaultZoom
		}
		return c, zoom, nil
	}
	if sw, ne, ok := sc.bounds(); ok {
		c, fit := projection.Fit(sw, ne, width, height, 40, 16)
		if zoom == 0 {
			zoom = fit
		}
		return c, zoom, nil
	}
	if zoom == 0 {
		zoom = settings.Map.DefaultZoom
	}
	return settings.Home(), zoom, nil
}

func parseLngLat(s string) (projection.LngLat, error) {
	v, err := parseFloats(s, 2)
	if err != nil {
		return projection.LngLat{}, fmt.Errorf("invalid coordinate %q: %w", s, err)
	}
	return projection.LngLat{Lng: v[0], Lat: v[1]}, nil
}

func parseBounds(s string) (tiles.Bounds, error) {
	v, err := parseFloats(s, 4)
	if err != nil {
		return tiles.Bounds{}, fmt.Errorf("invalid bounds %q: %w", s, err)
	}
	b := tiles.Bounds{West: v[0], South: v[1], East: v[2], North: v[3]}
	if b.West >= b.East || b.South >= b.North {
		return b, fmt.Errorf("invalid bounds %q: expected west,south,east,north", s)
	}
	return b, nil
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma separated numbers", n)
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// screenBounds grows sw..ne by half a screen at zoom on every side, which is
// what a view centred anywhere inside it can show.
func screenBounds(sw, ne projection.LngLat, zoom float64, width, height int) tiles.Bounds {
	w, h := float64(width), float64(height)
	west, south := projection.View{Center: sw, Zoom: zoom, Width: width, Height: height}.ToLngLat(0, h)
	east, north := projection.View{Center: ne, Zoom: zoom, Width: width, Height: height}.ToLngLat(w, 0)
	return tiles.Bounds{West: west, South: south, East: east, North: north}
}
