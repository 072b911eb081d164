package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetmap/internal/fleet"
	"fleetmap/internal/overlay"
	"fleetmap/internal/projection"
	"fleetmap/internal/viewport"
)

var farm = projection.LngLat{Lng: 131.85, Lat: 46.85}

func newViewport() *viewport.State {
	return viewport.New(farm, 12, 800, 600, viewport.Limits{MinZoom: 8, MaxZoom: 18})
}

func newController() *Controller {
	return New(Config{Home: farm, HomeZoom: 12})
}

type markerHits []overlay.PlacedMarker

func (m markerHits) HitTest(x, y float64) (fleet.MachineSnapshot, bool) {
	return overlay.HitTest(m, x, y, 25)
}

func TestDrag_PansByIncrementalDelta(t *testing.T) {
	vp := newViewport()
	c := newController()

	c.PointerDown(400, 300)
	c.PointerMove(vp, 350, 300)
	c.PointerMove(vp, 300, 300)
	c.PointerUp()

	want := 100 * 360 / (256 * 4096.0)
	assert.InDelta(t, farm.Lng+want, vp.Center.Lng, 1e-9)
	assert.InDelta(t, farm.Lat, vp.Center.Lat, 1e-9)

	c.PointerMove(vp, 0, 0)
	assert.InDelta(t, farm.Lng+want, vp.Center.Lng, 1e-9)
}

func TestDrag_EndsOnLeave(t *testing.T) {
	vp := newViewport()
	c := newController()

	c.PointerDown(10, 10)
	c.PointerLeave()
	c.PointerMove(vp, 200, 200)

	assert.Equal(t, farm, vp.Center)
	assert.False(t, c.Dragging())
}

func TestWheel(t *testing.T) {
	vp := newViewport()
	c := newController()

	c.Wheel(vp, 120)
	assert.Equal(t, 11.5, vp.Zoom)
	c.Wheel(vp, -3)
	c.Wheel(vp, -3)
	assert.Equal(t, 12.5, vp.Zoom)
	c.Wheel(vp, 0)
	assert.Equal(t, 12.5, vp.Zoom)

	for i := 0; i < 100; i++ {
		c.Wheel(vp, -1)
	}
	assert.Equal(t, 18.0, vp.Zoom)
}

func TestButtonsAndLocate(t *testing.T) {
	vp := newViewport()
	c := newController()

	c.ZoomIn(vp)
	c.ZoomIn(vp)
	c.ZoomOut(vp)
	assert.Equal(t, 12.5, vp.Zoom)

	vp.ApplyPan(300, 120)
	c.Locate(vp)
	assert.Equal(t, farm, vp.Center)
	assert.Equal(t, 12.0, vp.Zoom)
}

func TestClick_SelectsFirstHitUnlessDragged(t *testing.T) {
	vp := newViewport()
	c := newController()
	hits := markerHits{{Machine: fleet.MachineSnapshot{ID: "m-1"}, X: 400, Y: 300}}

	m, ok := c.Click(410, 295, hits)
	require.True(t, ok)
	assert.Equal(t, "m-1", m.ID)

	_, ok = c.Click(440, 300, hits)
	assert.False(t, ok)

	c.PointerDown(400, 300)
	c.PointerMove(vp, 402, 301)
	c.PointerUp()
	_, ok = c.Click(402, 301, hits)
	assert.True(t, ok, "movement within the slop is still a click")

	c.PointerDown(400, 300)
	c.PointerMove(vp, 420, 300)
	c.PointerUp()
	_, ok = c.Click(400, 300, hits)
	assert.False(t, ok, "a drag does not select")
	_, ok = c.Click(400, 300, hits)
	assert.True(t, ok)
}

func TestTouch_PinchDoublingAddsOneLevel(t *testing.T) {
	for _, start := range []float64{20, 100, 333} {
		vp := newViewport()
		c := newController()

		c.Touch(vp, []Touch{{ID: 1, X: 100, Y: 100}, {ID: 2, X: 100 + start, Y: 100}})
		c.Touch(vp, []Touch{{ID: 1, X: 100, Y: 100}, {ID: 2, X: 100 + start*1.5, Y: 100}})
		c.Touch(vp, []Touch{{ID: 1, X: 100, Y: 100}, {ID: 2, X: 100 + start*2, Y: 100}})

		assert.InDelta(t, 13.0, vp.Zoom, 1e-9, "start distance %v", start)
	}
}

func TestTouch_SingleContactDragsAndTaps(t *testing.T) {
	vp := newViewport()
	c := newController()

	c.Touch(vp, []Touch{{ID: 1, X: 400, Y: 300}})
	c.Touch(vp, []Touch{{ID: 1, X: 300, Y: 300}})
	_, _, tap := c.Touch(vp, nil)
	assert.False(t, tap)
	assert.InDelta(t, farm.Lng+100*360/(256*4096.0), vp.Center.Lng, 1e-9)

	c.Touch(vp, []Touch{{ID: 2, X: 50, Y: 60}})
	x, y, tap := c.Touch(vp, nil)
	assert.True(t, tap)
	assert.Equal(t, 50.0, x)
	assert.Equal(t, 60.0, y)
}

func TestTouch_PinchToOneFingerIsNotTap(t *testing.T) {
	vp := newViewport()
	c := newController()

	c.Touch(vp, []Touch{{ID: 1, X: 0, Y: 0}, {ID: 2, X: 100, Y: 0}})
	c.Touch(vp, []Touch{{ID: 1, X: 0, Y: 0}})
	_, _, tap := c.Touch(vp, nil)

	assert.False(t, tap)
	assert.Equal(t, 12.0, vp.Zoom)
}

func TestFocus(t *testing.T) {
	vp := newViewport()
	m := fleet.MachineSnapshot{ID: "m", Lng: 131.9, Lat: 46.9}

	Focus(vp, m)

	assert.Equal(t, m.Position(), vp.Center)
	assert.Equal(t, SelectZoom, vp.Zoom)
}
