package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fleetmap/internal/tiles"
)

// defaultTileDir is where prefetch keeps tiles when neither --dir nor
// tiles.cacheDir name a directory.
const defaultTileDir = "tiles"

type prefetchOptions struct {
	dir         string
	bounds      string
	gpx         []string
	minZoom     int
	maxZoom     int
	allStyles   bool
	delay       time.Duration
	concurrency int
}

func newPrefetchCmd() *cobra.Command {
	var opts prefetchOptions
	cmd := &cobra.Command{
		Use:   "prefetch",
		Short: "Download basemap tiles into the tile cache directory",
		Long: `Prefetch downloads every tile covering an area for a range of zoom levels so
later renders work offline. The area is --bounds, or the extent of the given GPX
tracks. Other commands read the directory only when tiles.cacheDir points at it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPrefetch(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.dir, "dir", "", "tile directory; defaults to tiles.cacheDir, then ./tiles")
	f.StringVar(&opts.bounds, "bounds", "131.69,46.72,132.01,46.98", "area as west,south,east,north")
	f.StringSliceVar(&opts.gpx, "gpx", nil, "prefetch around these GPX tracks instead of --bounds")
	f.IntVar(&opts.minZoom, "min-zoom", 8, "lowest zoom level")
	f.IntVar(&opts.maxZoom, "max-zoom", 16, "highest zoom level")
	f.BoolVar(&opts.allStyles, "all-styles", false, "fetch every basemap style, not just the configured one")
	f.DurationVar(&opts.delay, "delay", 50*time.Millisecond, "pause after each tile per worker")
	f.IntVar(&opts.concurrency, "concurrency", 0, "parallel downloads; 0 uses tiles.concurrency")
	return cmd
}

func runPrefetch(ctx context.Context, opts prefetchOptions) error {
	settings.Tiles.CacheDir = tileDir(opts.dir, settings.Tiles.CacheDir)
	if opts.minZoom < 0 || opts.maxZoom < opts.minZoom {
		return fmt.Errorf("invalid zoom range %d..%d", opts.minZoom, opts.maxZoom)
	}

	b, err := prefetchBounds(opts)
	if err != nil {
		return err
	}
	mgr, err := newTileManager(nil)
	if err != nil {
		return err
	}

	styles := []string{settings.Tiles.Style}
	if opts.allStyles {
		styles = mgr.Styles()
	}
	concurrency := opts.concurrency
	if concurrency <= 0 {
		concurrency = settings.Tiles.Concurrency
	}

	keys := tiles.KeysForBounds(b, opts.minZoom, opts.maxZoom)
	for _, style := range styles {
		cache, err := mgr.Cache(style)
		if err != nil {
			return err
		}
		logger.Info().Str("style", style).Str("dir", settings.Tiles.CacheDir).Int("tiles", len(keys)).Msg("prefetching tiles")
		failed, err := tiles.Prefetch(ctx, cache, keys, tiles.PrefetchOptions{
			Concurrency: concurrency,
			Delay:       opts.delay,
			Progress:    true,
		})
		if err != nil {
			return err
		}
		if failed > 0 {
			logger.Warn().Str("style", style).Int("failed", failed).Msg("some tiles could not be fetched")
		}
	}
	return nil
}

func tileDir(flag, configured string) string {
	switch {
	case flag != "":
		return flag
	case configured != "":
		return configured
	}
	return defaultTileDir
}

func prefetchBounds(opts prefetchOptions) (tiles.Bounds, error) {
	if len(opts.gpx) == 0 {
		return parseBounds(opts.bounds)
	}
	sc, err := loadScene(context.Background(), sceneOptions{gpx: opts.gpx, noStore: true})
	if err != nil {
		return tiles.Bounds{}, err
	}
	sw, ne, ok := sc.bounds()
	if !ok {
		return tiles.Bounds{}, fmt.Errorf("GPX tracks have no points")
	}
	return tiles.Bounds{West: sw.Lng, South: sw.Lat, East: ne.Lng, North: ne.Lat}, nil
}
