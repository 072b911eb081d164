package tiles

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"fleetmap/internal/projection"
)

// Bounds is a geographic rectangle in degrees.
type Bounds struct {
	West, South, East, North float64
}

// KeysForBounds lists every tile touching b for each zoom in [minZoom, maxZoom].
func KeysForBounds(b Bounds, minZoom, maxZoom int) []Key {
	var keys []Key
	for z := minZoom; z <= maxZoom; z++ {
		x0, y0 := projection.LngLatToTileIndex(b.West, b.North, z)
		x1, y1 := projection.LngLatToTileIndex(b.East, b.South, z)
		for x := x0; x <= x1; x++ {
			for y := y0; y <= y1; y++ {
				keys = append(keys, Key{Z: z, X: x, Y: y})
			}
		}
	}
	return keys
}

type PrefetchOptions struct {
	Concurrency int
	// Delay is slept by each worker after a tile, to stay polite with
	// public tile servers.
	Delay    time.Duration
	Progress bool
}

// Prefetch loads keys into c. Individual tile failures are counted, not
// returned; only cancellation aborts the run.
func Prefetch(ctx context.Context, c *Cache, keys []Key, opts PrefetchOptions) (failed int, err error) {
	var bar *progressbar.ProgressBar
	if opts.Progress {
		bar = progressbar.Default(int64(len(keys)), "Downloading Tiles")
	} else {
		bar = progressbar.DefaultSilent(int64(len(keys)))
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	var failures atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for _, k := range keys {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if _, err := c.Get(gctx, k); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failures.Add(1)
			}
			_ = bar.Add(1)
			if opts.Delay > 0 {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-time.After(opts.Delay):
				}
			}
			return nil
		})
	}
	err = g.Wait()
	_ = bar.Finish()
	if err == nil {
		err = ctx.Err()
	}
	return int(failures.Load()), err
}
