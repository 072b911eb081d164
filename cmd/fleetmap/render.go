package main

import (
	"context"

	"github.com/fogleman/gg"
	"github.com/spf13/cobra"

	"fleetmap/internal/compositor"
)

type renderOptions struct {
	scene    sceneOptions
	out      string
	progress float64
	selectID string
	zoom     float64
	center   string
	noMetric bool
}

func newRenderCmd() *cobra.Command {
	var opts renderOptions
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render one map frame to a PNG file",
		Long: `Render draws the fleet, fields and trajectories of a day onto the basemap
and saves the frame. Trajectories come from the store, from GPX files or both;
without --center the view fits every trajectory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRender(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.out, "out", "o", "frame.png", "output PNG file")
	f.Int("width", 800, "frame width in pixels")
	f.Int("height", 600, "frame height in pixels")
	f.StringVar(&opts.scene.day, "day", "", "day to draw (YYYY-MM-DD); defaults to the first GPX day or today")
	f.StringSliceVar(&opts.scene.gpx, "gpx", nil, "GPX track files, one machine each")
	f.StringVar(&opts.scene.from, "from", "", "trim GPX tracks from this offset (e.g. 90s, 1.5km)")
	f.StringVar(&opts.scene.to, "to", "", "trim GPX tracks up to this offset")
	f.BoolVar(&opts.scene.noStore, "no-store", false, "do not read the fleet store")
	f.Float64Var(&opts.progress, "progress", 100, "replay progress in percent")
	f.StringVar(&opts.selectID, "select", "", "machine to select")
	f.Float64Var(&opts.zoom, "zoom", 0, "zoom level; 0 fits the scene")
	f.StringVar(&opts.center, "center", "", "view centre as lng,lat")
	f.BoolVar(&opts.noMetric, "no-metric", false, "draw plain trajectories instead of the metric overlay")

	cmd.Annotations = map[string]string{"width": "map.width", "height": "map.height"}
	return cmd
}

func runRender(ctx context.Context, opts renderOptions) error {
	sc, err := loadScene(ctx, opts.scene)
	if err != nil {
		return err
	}
	mgr, err := newTileManager(nil)
	if err != nil {
		return err
	}

	w, h := settings.Map.Width, settings.Map.Height
	surface := compositor.NewImageSurface()
	e, err := newSession(sc, w, h, true, mgr, surface)
	if err != nil {
		return err
	}
	defer e.Close()

	center, zoom, err := frameView(sc, opts.center, opts.zoom, w, h)
	if err != nil {
		return err
	}
	e.SetView(center, zoom)
	e.SetMetricOverlay(!opts.noMetric)
	e.Scrub(opts.progress)
	if opts.selectID != "" {
		e.Select(opts.selectID)
	}

	if _, err := e.RenderNow(ctx); err != nil {
		return err
	}
	img, err := surface.Frame()
	if err != nil {
		return err
	}
	if err := gg.SavePNG(opts.out, img); err != nil {
		return err
	}
	logger.Info().
		Str("file", opts.out).
		Str("day", sc.day).
		Int("machines", len(sc.machines)).
		Int("trajectories", len(sc.trajectories)).
		Msg("frame saved")
	return nil
}
