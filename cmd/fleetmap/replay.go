package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/fogleman/gg"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fleetmap/internal/compositor"
	"fleetmap/internal/engine"
	"fleetmap/internal/projection"
	"fleetmap/internal/tiles"
)

// frameWaitTimeout bounds how long the encoder waits for the next frame in
// order before assuming a worker hung.
const frameWaitTimeout = 60 * time.Second

type replayOptions struct {
	scene      sceneOptions
	out        string
	ffmpeg     string
	fps        float64
	bitrate    string
	frames     int
	workers    int
	follow     string
	zoom       float64
	center     string
	noMetric   bool
	firstFrame bool
}

func newReplayCmd() *cobra.Command {
	var opts replayOptions
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Encode the playback of a day into a video",
		Long: `Replay renders the playback of a day from 0 to 100 percent and pipes the
frames to ffmpeg. Frames are rendered in parallel, each worker with its own map
session, and written to the encoder in order.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReplay(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.out, "out", "o", "replay.mp4", "output video file")
	f.StringVar(&opts.ffmpeg, "ffmpeg", "ffmpeg", "ffmpeg executable")
	f.Float64Var(&opts.fps, "fps", 25, "video frame rate")
	f.StringVar(&opts.bitrate, "bitrate", "5M", "video bitrate")
	f.IntVar(&opts.frames, "frames", 250, "number of frames from start to end of the day")
	f.IntVar(&opts.workers, "workers", runtime.NumCPU(), "frames rendered in parallel")
	f.Int("width", 1280, "frame width in pixels")
	f.Int("height", 720, "frame height in pixels")
	f.StringVar(&opts.scene.day, "day", "", "day to replay (YYYY-MM-DD); defaults to the first GPX day")
	f.StringSliceVar(&opts.scene.gpx, "gpx", nil, "GPX track files, one machine each")
	f.StringVar(&opts.scene.from, "from", "", "trim GPX tracks from this offset (e.g. 90s, 1.5km)")
	f.StringVar(&opts.scene.to, "to", "", "trim GPX tracks up to this offset")
	f.BoolVar(&opts.scene.noStore, "no-store", false, "do not read the fleet store")
	f.StringVar(&opts.follow, "follow", "", "keep this machine centred and selected")
	f.Float64Var(&opts.zoom, "zoom", 0, "zoom level; 0 fits the scene")
	f.StringVar(&opts.center, "center", "", "view centre as lng,lat")
	f.BoolVar(&opts.noMetric, "no-metric", false, "draw plain trajectories instead of the metric overlay")
	f.BoolVar(&opts.firstFrame, "first-frame", false, "only render the first frame to first_frame.png")

	cmd.Annotations = map[string]string{"width": "map.width", "height": "map.height"}
	return cmd
}

// frameRenderer draws frame n of the replay.
type frameRenderer func(ctx context.Context, n int) (image.Image, error)

type encodedFrame struct {
	number int
	data   []byte
}

// replayProgress spreads total frames evenly over 0..100.
func replayProgress(n, total int) float64 {
	if total <= 1 {
		return 100
	}
	return 100 * float64(n) / float64(total-1)
}

func runReplay(ctx context.Context, opts replayOptions) error {
	if opts.frames <= 0 {
		return fmt.Errorf("invalid frame count %d", opts.frames)
	}
	if opts.workers <= 0 {
		opts.workers = 1
	}
	sc, err := loadScene(ctx, opts.scene)
	if err != nil {
		return err
	}
	if len(sc.trajectories) == 0 {
		return fmt.Errorf("nothing to replay on %s", sc.day)
	}
	mgr, err := newTileManager(nil)
	if err != nil {
		return err
	}

	w, h := settings.Map.Width, settings.Map.Height
	center, zoom, err := frameView(sc, opts.center, opts.zoom, w, h)
	if err != nil {
		return err
	}
	if err := prefetchReplay(ctx, mgr, sc, opts.follow != "", center, zoom, w, h); err != nil {
		return err
	}

	n := opts.workers
	if opts.firstFrame {
		n = 1
	}
	renderers := make([]frameRenderer, 0, n)
	for range n {
		surface := compositor.NewImageSurface()
		e, err := newSession(sc, w, h, true, mgr, surface)
		if err != nil {
			return err
		}
		defer e.Close()
		e.SetMetricOverlay(!opts.noMetric)
		if opts.follow != "" {
			e.Select(opts.follow)
		}
		e.SetView(center, zoom)
		renderers = append(renderers, replayRenderer(e, surface, opts.follow, opts.frames))
	}

	if opts.firstFrame {
		img, err := renderers[0](ctx, 0)
		if err != nil {
			return err
		}
		if err := gg.SavePNG("first_frame.png", img); err != nil {
			return err
		}
		logger.Info().Str("file", "first_frame.png").Msg("first frame saved")
		return nil
	}

	fps := strconv.FormatFloat(opts.fps, 'f', -1, 64)
	ffmpeg := exec.CommandContext(ctx, opts.ffmpeg,
		"-y", "-f", "image2pipe", "-vcodec", "png", "-r", fps, "-i", "-",
		"-c:v", "libx264", "-b:v", opts.bitrate, "-pix_fmt", "yuv420p", "-r", fps, opts.out)
	stdin, err := ffmpeg.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get ffmpeg stdin pipe: %w", err)
	}
	ffmpeg.Stderr = os.Stderr
	if err := ffmpeg.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	start := time.Now()
	bar := progressbar.Default(int64(opts.frames), "Encoding")
	pipeErr := runFramePipeline(ctx, stdin, opts.frames, renderers, bar)
	_ = stdin.Close()
	waitErr := ffmpeg.Wait()
	if pipeErr != nil {
		return pipeErr
	}
	if waitErr != nil {
		return fmt.Errorf("ffmpeg command failed: %w", waitErr)
	}
	logger.Info().
		Str("file", opts.out).
		Str("day", sc.day).
		Int("frames", opts.frames).
		Dur("took", time.Since(start)).
		Msg("video saved")
	return nil
}

func replayRenderer(e *engine.Engine, surface *compositor.ImageSurface, follow string, total int) frameRenderer {
	return func(ctx context.Context, n int) (image.Image, error) {
		e.Scrub(replayProgress(n, total))
		if follow != "" {
			e.Follow(follow)
		}
		if _, err := e.RenderNow(ctx); err != nil {
			return nil, err
		}
		return surface.Frame()
	}
}

// prefetchReplay loads every tile the replay can show at the replay zoom:
// the current screen, or the whole scene padded by a screen when following.
func prefetchReplay(ctx context.Context, mgr *tiles.Manager, sc scene, follow bool, center projection.LngLat, zoom float64, w, h int) error {
	sw, ne := center, center
	if follow {
		if a, b, ok := sc.bounds(); ok {
			sw, ne = a, b
		}
	}
	cache, err := mgr.Cache(settings.Tiles.Style)
	if err != nil {
		return err
	}
	z := int(math.Floor(zoom))
	keys := tiles.KeysForBounds(screenBounds(sw, ne, zoom, w, h), z, z)
	failed, err := tiles.Prefetch(ctx, cache, keys, tiles.PrefetchOptions{
		Concurrency: settings.Tiles.Concurrency,
		Progress:    true,
	})
	if err != nil {
		return err
	}
	if failed > 0 {
		logger.Warn().Int("failed", failed).Int("tiles", len(keys)).Msg("some tiles could not be fetched")
	}
	return nil
}

// runFramePipeline renders total frames with one goroutine per renderer,
// encodes them as PNG and writes them to out in frame order. A render error
// is returned in preference to the write error it causes.
func runFramePipeline(ctx context.Context, out io.Writer, total int, renderers []frameRenderer, bar *progressbar.ProgressBar) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	tasks := make(chan int, len(renderers)*2)
	frames := make(chan encodedFrame, len(renderers)*2)

	g.Go(func() error {
		defer close(tasks)
		for i := range total {
			select {
			case tasks <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for _, render := range renderers {
		g.Go(func() error {
			var buf bytes.Buffer
			for n := range tasks {
				if err := gctx.Err(); err != nil {
					return err
				}
				img, err := render(gctx, n)
				if err != nil {
					return fmt.Errorf("failed to render frame %d: %w", n, err)
				}
				buf.Reset()
				if err := png.Encode(&buf, img); err != nil {
					return fmt.Errorf("failed to encode frame %d: %w", n, err)
				}
				select {
				case frames <- encodedFrame{number: n, data: bytes.Clone(buf.Bytes())}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	rendered := make(chan error, 1)
	go func() {
		err := g.Wait()
		close(frames)
		rendered <- err
	}()

	writeErr := writeInOrder(gctx, out, total, frames, bar)
	if writeErr != nil {
		cancel()
	}
	if err := <-rendered; err != nil {
		return err
	}
	return writeErr
}

// writeInOrder buffers frames that arrive early and writes each one as soon
// as all frames before it are written.
func writeInOrder(ctx context.Context, out io.Writer, total int, frames <-chan encodedFrame, bar *progressbar.ProgressBar) error {
	buffered := make(map[int][]byte)
	next := 0
	timeout := time.NewTimer(frameWaitTimeout)
	defer timeout.Stop()

	for next < total {
		select {
		case f, ok := <-frames:
			if !ok {
				return fmt.Errorf("frame stream ended before frame %d", next)
			}
			buffered[f.number] = f.data
			timeout.Reset(frameWaitTimeout)

			for {
				data, found := buffered[next]
				if !found {
					break
				}
				if _, err := out.Write(data); err != nil {
					return fmt.Errorf("error writing frame %d: %w", next, err)
				}
				if bar != nil {
					_ = bar.Add(1)
				}
				delete(buffered, next)
				next++
			}
		case <-timeout.C:
			return fmt.Errorf("stuck waiting for frame %d for over %v", next, frameWaitTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
