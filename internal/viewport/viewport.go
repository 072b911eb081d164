// Package viewport holds the mutable map session state: centre, zoom and
// surface size. Every mutation clamps zoom to the configured limits and marks
// the state dirty so the render loop knows a new frame is due.
//
// State is not safe for concurrent use; the engine guards it with its own
// mutex.
package viewport

import (
	"math"

	"fleetmap/internal/projection"
)

// Limits bounds the continuous zoom value.
type Limits struct {
	MinZoom float64
	MaxZoom float64
}

func (l Limits) clamp(zoom float64) float64 {
	return math.Max(l.MinZoom, math.Min(l.MaxZoom, zoom))
}

type State struct {
	Center projection.LngLat
	Zoom   float64
	Width  int
	Height int

	limits Limits
	dirty  bool
}

// New returns a dirty state so the first frame is always drawn.
func New(center projection.LngLat, zoom float64, width, height int, limits Limits) *State {
	s := &State{
		Center: center,
		Width:  max(width, 1),
		Height: max(height, 1),
		limits: limits,
		dirty:  true,
	}
	s.Zoom = limits.clamp(zoom)
	return s
}

func (s *State) Limits() Limits {
	return s.limits
}

// View captures the parameters of the current frame.
func (s *State) View() projection.View {
	return projection.View{Center: s.Center, Zoom: s.Zoom, Width: s.Width, Height: s.Height}
}

// ApplyPan moves the map content by (dx, dy) pixels. Dragging the content
// left (negative dx) moves the geographic centre east.
func (s *State) ApplyPan(dx, dy float64) {
	if dx == 0 && dy == 0 {
		return
	}
	lng, lat := s.View().ToLngLat(float64(s.Width)/2-dx, float64(s.Height)/2-dy)
	s.Center = projection.LngLat{Lng: lng, Lat: lat}
	s.dirty = true
}

// ApplyZoom adds delta to the zoom level.
func (s *State) ApplyZoom(delta float64) {
	s.SetZoom(s.Zoom + delta)
}

func (s *State) SetZoom(zoom float64) {
	s.Zoom = s.limits.clamp(zoom)
	s.dirty = true
}

// ApplyPinch zooms by log2(newDist/prevDist), so doubling the distance
// between two contacts is always exactly one zoom level.
func (s *State) ApplyPinch(prevDist, newDist float64) {
	if prevDist <= 0 || newDist <= 0 {
		return
	}
	s.ApplyZoom(math.Log2(newDist / prevDist))
}

// Resize changes the surface dimensions. It is the only way they change.
func (s *State) Resize(width, height int) {
	width, height = max(width, 1), max(height, 1)
	if width == s.Width && height == s.Height {
		return
	}
	s.Width, s.Height = width, height
	s.dirty = true
}

// CenterOn moves the centre to c and raises the zoom to at least minZoom.
func (s *State) CenterOn(c projection.LngLat, minZoom float64) {
	s.Center = c
	s.Zoom = s.limits.clamp(math.Max(s.Zoom, minZoom))
	s.dirty = true
}

// Reset jumps to c at exactly zoom.
func (s *State) Reset(c projection.LngLat, zoom float64) {
	s.Center = c
	s.Zoom = s.limits.clamp(zoom)
	s.dirty = true
}

func (s *State) MarkDirty() {
	s.dirty = true
}

func (s *State) Dirty() bool {
	return s.dirty
}

// TakeDirty reports the dirty flag and clears it.
func (s *State) TakeDirty() bool {
	d := s.dirty
	s.dirty = false
	return d
}
