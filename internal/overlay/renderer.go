// Package overlay draws everything that sits on top of the basemap:
// field outlines, trajectories, machine markers, the scale bar and the
// metric legend.
package overlay

import (
	"image/color"
	"math"
	"strings"

	"github.com/fogleman/gg"

	"fleetmap/internal/fleet"
	"fleetmap/internal/playback"
	"fleetmap/internal/projection"
)

type Options struct {
	Bands      Bands
	LabelZoom  float64
	LegendZoom float64
	HitRadius  float64
	// ScaleTarget is the preferred scale bar length in pixels.
	ScaleTarget float64
}

func DefaultOptions() Options {
	return Options{
		Bands:       DefaultBands(),
		LabelZoom:   13,
		LegendZoom:  12,
		HitRadius:   25,
		ScaleTarget: 100,
	}
}

// Scene is everything the overlay needs for one frame.
type Scene struct {
	Fleet        []fleet.MachineSnapshot
	Trajectories map[string]fleet.Trajectory
	Fields       []fleet.Field
	SelectedID   string
	// Progress in [0, 100] limits the drawn trajectory prefix unless Live.
	Progress float64
	// Live is set when the selected day is today: full paths and live
	// positions are shown.
	Live          bool
	MetricOverlay bool
}

// Renderer holds font faces and is therefore bound to one goroutine.
type Renderer struct {
	opts  Options
	faces *faces
}

func NewRenderer(opts Options) (*Renderer, error) {
	f, err := loadFaces()
	if err != nil {
		return nil, err
	}
	return &Renderer{opts: opts, faces: f}, nil
}

func (r *Renderer) Options() Options {
	return r.opts
}

// Draw renders the scene onto dc and returns the markers it placed, in fleet
// order, for hit-testing.
func (r *Renderer) Draw(dc *gg.Context, view projection.View, s Scene) []PlacedMarker {
	r.drawFields(dc, view, s.Fields)

	for _, m := range s.Fleet {
		traj, ok := s.Trajectories[m.ID]
		if !ok || len(traj.Points) == 0 {
			continue
		}
		r.drawTrajectory(dc, view, m, traj, s)
	}

	markers := PlaceMarkers(view, s)
	var selected *PlacedMarker
	for i := range markers {
		if markers[i].Machine.ID == s.SelectedID {
			selected = &markers[i]
			continue
		}
		r.drawMarker(dc, view, markers[i], false)
	}
	if selected != nil {
		r.drawMarker(dc, view, *selected, true)
	}

	r.drawScaleBar(dc, view)
	if s.MetricOverlay && view.Zoom >= r.opts.LegendZoom {
		r.drawLegend(dc, view)
	}
	return markers
}

func (r *Renderer) drawFields(dc *gg.Context, view projection.View, fields []fleet.Field) {
	for _, f := range fields {
		if len(f.Boundary) < 3 {
			continue
		}
		ring := f.Ring().Coordinates()
		for i := 0; i < ring.Length(); i++ {
			xy := ring.GetXY(i)
			x, y := view.ToPixel(xy.X, xy.Y)
			if i == 0 {
				dc.MoveTo(x, y)
			} else {
				dc.LineTo(x, y)
			}
		}
		dc.ClosePath()
		dc.SetColor(withAlpha(fieldColor, 0x33))
		dc.FillPreserve()
		dc.SetColor(withAlpha(fieldColor, 0xcc))
		dc.SetLineWidth(2)
		dc.Stroke()

		if view.Zoom < r.opts.LabelZoom {
			continue
		}
		if c, ok := f.Centroid(); ok {
			x, y := view.ToPixel(c.Lng, c.Lat)
			r.outlinedText(dc, f.Name, x, y, color.White)
		}
	}
}

func (r *Renderer) drawTrajectory(dc *gg.Context, view projection.View, m fleet.MachineSnapshot, traj fleet.Trajectory, s Scene) {
	brand := BrandColor(m.Brand)
	dc.SetLineCapRound()
	dc.SetLineJoinRound()

	// Faint full extent first so the remaining route stays visible.
	if len(traj.Points) > 1 {
		r.polyline(dc, view, traj.Points)
		dc.SetColor(withAlpha(brand, 0x4d))
		dc.SetLineWidth(3)
		dc.Stroke()
	}

	shown := traj.Points
	if !s.Live {
		shown = playback.Prefix(traj.Points, s.Progress)
	}
	if len(shown) < 2 {
		return
	}

	if s.MetricOverlay && traj.HasMetric() {
		dc.SetLineCapButt()
		dc.SetLineWidth(r.stripWidth(view, traj))
		for i := 1; i < len(shown); i++ {
			x1, y1 := view.ToPixel(shown[i-1].Lng, shown[i-1].Lat)
			x2, y2 := view.ToPixel(shown[i].Lng, shown[i].Lat)
			dc.SetColor(withAlpha(r.opts.Bands.Color(traj.Metric[i]), 0x99))
			dc.DrawLine(x1, y1, x2, y2)
			dc.Stroke()
		}
		dc.SetLineCapRound()
		return
	}

	r.polyline(dc, view, shown)
	dc.SetColor(brand)
	dc.SetLineWidth(3)
	dc.Stroke()
}

// stripWidth is the swath on screen when known, otherwise a width that
// grows with zoom.
func (r *Renderer) stripWidth(view projection.View, traj fleet.Trajectory) float64 {
	if traj.SwathWidth > 0 {
		mpp := projection.MetersPerPixel(view.Center.Lat, view.Zoom)
		return math.Max(2, traj.SwathWidth/mpp)
	}
	switch {
	case view.Zoom >= 15:
		return 12
	case view.Zoom >= 13:
		return 8
	default:
		return 4
	}
}

func (r *Renderer) polyline(dc *gg.Context, view projection.View, points []fleet.TrajectoryPoint) {
	for i, p := range points {
		x, y := view.ToPixel(p.Lng, p.Lat)
		if i == 0 {
			dc.MoveTo(x, y)
		} else {
			dc.LineTo(x, y)
		}
	}
}

func (r *Renderer) drawMarker(dc *gg.Context, view projection.View, pm PlacedMarker, selected bool) {
	m, x, y := pm.Machine, pm.X, pm.Y

	if m.Status.Active() {
		sc := StatusColor(m.Status)
		halo := gg.NewRadialGradient(x, y, 0, x, y, 35)
		halo.AddColorStop(0, withAlpha(sc, 0x70))
		halo.AddColorStop(0.5, withAlpha(sc, 0x30))
		halo.AddColorStop(1, withAlpha(sc, 0x00))
		dc.SetFillStyle(halo)
		dc.DrawCircle(x, y, 35)
		dc.Fill()
	}

	radius, ring, ringWidth, face := 16.0, color.RGBA{R: 255, G: 255, B: 255, A: 255}, 2.0, r.faces.glyph
	if selected {
		radius, ring, ringWidth, face = 20, selectRing, 4, r.faces.glyphLarge
	}
	dc.DrawCircle(x, y, radius)
	dc.SetColor(BrandColor(m.Brand))
	dc.FillPreserve()
	dc.SetColor(ring)
	dc.SetLineWidth(ringWidth)
	dc.Stroke()

	dc.SetFontFace(face)
	dc.SetColor(color.White)
	dc.DrawStringAnchored(glyph(m.Type), x, y, 0.5, 0.35)

	if view.Zoom >= r.opts.LabelZoom || selected {
		dc.SetFontFace(r.faces.label)
		r.outlinedText(dc, shortName(m.Name), x, y+30, color.White)
	}
}

func glyph(t fleet.MachineType) string {
	if t == fleet.Harvester {
		return "H"
	}
	return "T"
}

// shortName keeps the first two words of a machine name.
func shortName(name string) string {
	words := strings.Fields(name)
	if len(words) > 2 {
		words = words[:2]
	}
	return strings.Join(words, " ")
}

// outlinedText draws centred text with a dark outline so it reads on
// satellite imagery.
func (r *Renderer) outlinedText(dc *gg.Context, s string, x, y float64, fill color.Color) {
	if s == "" {
		return
	}
	dc.SetColor(color.Black)
	for dy := -1.5; dy <= 1.5; dy += 1.5 {
		for dx := -1.5; dx <= 1.5; dx += 1.5 {
			if dx != 0 || dy != 0 {
				dc.DrawStringAnchored(s, x+dx, y+dy, 0.5, 0.5)
			}
		}
	}
	dc.SetColor(fill)
	dc.DrawStringAnchored(s, x, y, 0.5, 0.5)
}

func (r *Renderer) drawScaleBar(dc *gg.Context, view projection.View) {
	sb := NewScaleBar(view.Center.Lat, view.Zoom, r.opts.ScaleTarget)
	x, y := 20.0, float64(view.Height)-30

	dc.DrawRectangle(x-5, y-20, sb.Pixels+60, 35)
	dc.SetColor(color.NRGBA{R: 255, G: 255, B: 255, A: 230})
	dc.FillPreserve()
	dc.SetColor(textDark)
	dc.SetLineWidth(2)
	dc.Stroke()

	dc.DrawRectangle(x, y, sb.Pixels, 6)
	dc.Fill()

	dc.SetFontFace(r.faces.title)
	dc.DrawString(sb.Label, x+sb.Pixels+8, y+5)
}

func (r *Renderer) drawLegend(dc *gg.Context, view projection.View) {
	const w, h = 120.0, 160.0
	x, y := float64(view.Width)-140, 80.0

	dc.DrawRoundedRectangle(x, y, w, h, 8)
	dc.SetColor(color.NRGBA{R: 255, G: 255, B: 255, A: 242})
	dc.FillPreserve()
	dc.SetColor(legendBorder)
	dc.SetLineWidth(1)
	dc.Stroke()

	dc.SetFontFace(r.faces.title)
	dc.SetColor(textDark)
	dc.DrawString("Yield "+r.opts.Bands.Unit, x+10, y+20)

	dc.SetFontFace(r.faces.small)
	for i, label := range r.opts.Bands.Labels() {
		ry := y + 40 + float64(i)*22
		dc.SetColor(bandColors[i])
		dc.DrawRectangle(x+10, ry, 16, 16)
		dc.Fill()
		dc.SetColor(textMuted)
		dc.DrawString(label, x+32, ry+12)
	}
}
