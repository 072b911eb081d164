// Package compositor turns a viewport, a tile source and an overlay scene
// into one finished frame. Everything is drawn off-screen and handed to the
// visible surface in a single Present call, so a partially drawn frame is
// never shown.
package compositor

import (
	"context"
	"errors"
	"image"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fogleman/gg"
	"github.com/rs/zerolog"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"fleetmap/internal/overlay"
	"fleetmap/internal/projection"
	"fleetmap/internal/tiles"
)

const DefaultConcurrency = 8

// TileSource is satisfied by *tiles.Cache.
type TileSource interface {
	Get(ctx context.Context, key tiles.Key) (image.Image, error)
}

// OverlayDrawer is satisfied by *overlay.Renderer.
type OverlayDrawer interface {
	Draw(dc *gg.Context, view projection.View, s overlay.Scene) []overlay.PlacedMarker
}

// Recorder receives per-pass statistics; the metrics package implements it.
type Recorder interface {
	RenderPass(took time.Duration, missingTiles int)
	RenderSkipped()
}

type nopRecorder struct{}

func (nopRecorder) RenderPass(time.Duration, int) {}
func (nopRecorder) RenderSkipped()                {}

// Frame is the input of one render pass. A nil Tiles draws the fallback
// background only.
type Frame struct {
	View  projection.View
	Tiles TileSource
	Scene overlay.Scene
}

type Compositor struct {
	surface     Surface
	overlay     OverlayDrawer
	concurrency int
	rec         Recorder
	log         zerolog.Logger

	busy    atomic.Bool
	pending atomic.Bool

	// Only touched by the goroutine holding busy.
	img *image.RGBA
	dc  *gg.Context

	mu       sync.Mutex
	lastGood image.Image
}

func New(surface Surface, drawer OverlayDrawer, concurrency int, rec Recorder, logger zerolog.Logger) *Compositor {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Compositor{
		surface:     surface,
		overlay:     drawer,
		concurrency: concurrency,
		rec:         rec,
		log:         logger,
	}
}

// Render runs one pass. When a pass is already running it records the
// request and returns false at once; TakePending reports that request so the
// caller can render again afterwards.
func (c *Compositor) Render(ctx context.Context, f Frame) (bool, error) {
	if !c.busy.CompareAndSwap(false, true) {
		c.pending.Store(true)
		c.rec.RenderSkipped()
		return false, nil
	}
	defer c.busy.Store(false)

	start := time.Now()
	v := f.View
	c.ensureBuffer(v.Width, v.Height)

	z := int(math.Floor(v.Zoom))
	win := tileWindow(v, z)
	imgs, err := c.fetchAll(ctx, f.Tiles, win.keys)
	if err != nil {
		return false, err
	}

	c.dc.SetColor(overlay.Background())
	c.dc.Clear()

	missing := 0
	for i, key := range win.keys {
		if imgs[i] == nil {
			missing++
			continue
		}
		c.drawTile(imgs[i], win.rect(key))
	}

	if c.overlay != nil {
		c.overlay.Draw(c.dc, v, f.Scene)
	}

	if err := c.surface.Present(c.img); err != nil {
		return false, err
	}

	if snap, err := c.surface.Snapshot(); err == nil {
		c.mu.Lock()
		c.lastGood = snap
		c.mu.Unlock()
	} else if !errors.Is(err, ErrReadbackUnsupported) {
		c.log.Debug().Err(err).Msg("frame snapshot failed")
	}

	took := time.Since(start)
	c.rec.RenderPass(took, missing)
	c.log.Debug().Dur("took", took).Int("tiles", len(win.keys)).Int("missing", missing).Msg("frame rendered")
	return true, nil
}

// TakePending reports whether a render was requested while a pass was
// running, and clears the request.
func (c *Compositor) TakePending() bool {
	return c.pending.Swap(false)
}

func (c *Compositor) Busy() bool {
	return c.busy.Load()
}

// LastGood is the most recent frame read back from the surface, or nil.
func (c *Compositor) LastGood() image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastGood
}

func (c *Compositor) ensureBuffer(w, h int) {
	if c.img != nil && c.img.Bounds().Dx() == w && c.img.Bounds().Dy() == h {
		return
	}
	c.img = image.NewRGBA(image.Rect(0, 0, w, h))
	c.dc = gg.NewContextForRGBA(c.img)
}

// fetchAll requests every key concurrently and waits for all of them. A
// failed tile leaves a nil slot; only cancellation is an error.
func (c *Compositor) fetchAll(ctx context.Context, src TileSource, keys []tiles.Key) ([]image.Image, error) {
	imgs := make([]image.Image, len(keys))
	if src == nil {
		return imgs, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, key := range keys {
		g.Go(func() error {
			img, err := src.Get(gctx, key)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return nil
			}
			imgs[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return imgs, nil
}

func (c *Compositor) drawTile(img image.Image, dst image.Rectangle) {
	src := img.Bounds()
	if dst.Dx() == src.Dx() && dst.Dy() == src.Dy() {
		xdraw.Copy(c.img, dst.Min, img, src, xdraw.Over, nil)
		return
	}
	xdraw.BiLinear.Scale(c.img, dst, img, src, xdraw.Over, nil)
}

// window is the block of tiles covering the viewport at integer zoom z.
type window struct {
	keys   []tiles.Key
	view   projection.View
	z      int
	scale  float64
	cx, cy float64
}

func tileWindow(v projection.View, z int) window {
	scale := math.Pow(2, v.Zoom-float64(z))
	cx, cy := projection.WorldPixel(v.Center.Lng, v.Center.Lat, float64(z))
	centerX := int(math.Floor(cx / projection.TileSize))
	centerY := int(math.Floor(cy / projection.TileSize))

	nx := int(math.Ceil(float64(v.Width)/projection.TileSize)) + 2
	ny := int(math.Ceil(float64(v.Height)/projection.TileSize)) + 2
	startX, startY := centerX-nx/2, centerY-ny/2

	w := window{view: v, z: z, scale: scale, cx: cx, cy: cy}
	rows := 1 << z
	for dy := 0; dy < ny; dy++ {
		y := startY + dy
		if y < 0 || y >= rows {
			continue
		}
		for dx := 0; dx < nx; dx++ {
			w.keys = append(w.keys, tiles.Key{Z: z, X: startX + dx, Y: y})
		}
	}
	return w
}

// rect is where a tile lands on the surface. Edges are floored so
// neighbouring tiles share them exactly.
func (w window) rect(k tiles.Key) image.Rectangle {
	size := projection.TileSize * w.scale
	x0 := (float64(k.X*projection.TileSize)-w.cx)*w.scale + float64(w.view.Width)/2
	y0 := (float64(k.Y*projection.TileSize)-w.cy)*w.scale + float64(w.view.Height)/2
	return image.Rect(
		int(math.Floor(x0)), int(math.Floor(y0)),
		int(math.Floor(x0+size)), int(math.Floor(y0+size)),
	)
}
