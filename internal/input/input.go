// Package input turns pointer, wheel and touch gestures into viewport
// changes and marker selections.
//
// A Controller keeps gesture state only; the viewport it mutates is passed
// to every call, and the caller serialises access to both.
package input

import (
	"math"

	"fleetmap/internal/fleet"
	"fleetmap/internal/projection"
	"fleetmap/internal/viewport"
)

const (
	DefaultWheelStep = 0.5
	DefaultClickSlop = 4.0
	// SelectZoom is the minimum zoom after selecting a machine.
	SelectZoom = 16.0
)

type Config struct {
	WheelStep float64
	ClickSlop float64
	// Home is where Locate returns to.
	Home     projection.LngLat
	HomeZoom float64
}

// HitTester finds the machine drawn under a surface position.
type HitTester interface {
	HitTest(x, y float64) (fleet.MachineSnapshot, bool)
}

// Touch is one active contact.
type Touch struct {
	ID int     `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

type point struct{ x, y float64 }

type Controller struct {
	cfg Config

	dragging bool
	down     point
	last     point
	// dragged is set once a gesture moved further than the click slop; the
	// click that ends it is then ignored.
	dragged bool

	contacts  int
	pinchDist float64
}

func New(cfg Config) *Controller {
	if cfg.WheelStep <= 0 {
		cfg.WheelStep = DefaultWheelStep
	}
	if cfg.ClickSlop <= 0 {
		cfg.ClickSlop = DefaultClickSlop
	}
	return &Controller{cfg: cfg}
}

func (c *Controller) Dragging() bool {
	return c.dragging
}

func (c *Controller) PointerDown(x, y float64) {
	c.dragging = true
	c.dragged = false
	c.down = point{x, y}
	c.last = point{x, y}
}

// PointerMove pans by the movement since the previous event, not since the
// drag started.
func (c *Controller) PointerMove(vp *viewport.State, x, y float64) {
	if !c.dragging {
		return
	}
	vp.ApplyPan(x-c.last.x, y-c.last.y)
	c.last = point{x, y}
	if math.Hypot(x-c.down.x, y-c.down.y) > c.cfg.ClickSlop {
		c.dragged = true
	}
}

func (c *Controller) PointerUp() {
	c.dragging = false
}

func (c *Controller) PointerLeave() {
	c.dragging = false
}

// Wheel zooms by one fixed step; scrolling down (deltaY > 0) zooms out.
func (c *Controller) Wheel(vp *viewport.State, deltaY float64) {
	switch {
	case deltaY > 0:
		vp.ApplyZoom(-c.cfg.WheelStep)
	case deltaY < 0:
		vp.ApplyZoom(c.cfg.WheelStep)
	}
}

func (c *Controller) ZoomIn(vp *viewport.State) {
	vp.ApplyZoom(c.cfg.WheelStep)
}

func (c *Controller) ZoomOut(vp *viewport.State) {
	vp.ApplyZoom(-c.cfg.WheelStep)
}

// Locate returns to the home position and zoom.
func (c *Controller) Locate(vp *viewport.State) {
	vp.Reset(c.cfg.Home, c.cfg.HomeZoom)
}

// Click selects the first machine under (x, y) unless the click ends a drag.
func (c *Controller) Click(x, y float64, hits HitTester) (fleet.MachineSnapshot, bool) {
	if c.dragged {
		c.dragged = false
		return fleet.MachineSnapshot{}, false
	}
	return hits.HitTest(x, y)
}

// Focus centres the viewport on a selected machine.
func Focus(vp *viewport.State, m fleet.MachineSnapshot) {
	vp.CenterOn(m.Position(), SelectZoom)
}

// Touch takes the full list of active contacts after every touch event.
// One contact drags, two pinch, and lifting the last finger of a drag that
// never left the slop reports a tap at its last position.
func (c *Controller) Touch(vp *viewport.State, touches []Touch) (x, y float64, tap bool) {
	prev := c.contacts
	c.contacts = len(touches)

	switch {
	case len(touches) == 0:
		tap = prev == 1 && c.dragging && !c.dragged
		c.dragging = false
		c.pinchDist = 0
		return c.last.x, c.last.y, tap

	case len(touches) == 1:
		t := touches[0]
		if prev != 1 {
			c.PointerDown(t.X, t.Y)
			// Coming down from a pinch is never a tap.
			c.dragged = prev > 1
			c.pinchDist = 0
			return 0, 0, false
		}
		c.PointerMove(vp, t.X, t.Y)
		return 0, 0, false

	default:
		c.dragging = false
		c.dragged = true
		d := math.Hypot(touches[0].X-touches[1].X, touches[0].Y-touches[1].Y)
		if prev >= 2 && c.pinchDist > 0 {
			vp.ApplyPinch(c.pinchDist, d)
		}
		c.pinchDist = d
		return 0, 0, false
	}
}
