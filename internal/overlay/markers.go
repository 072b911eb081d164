package overlay

import (
	"math"

	"fleetmap/internal/fleet"
	"fleetmap/internal/playback"
	"fleetmap/internal/projection"
)

// cullMargin is how far off-screen a marker may sit and still be drawn.
const cullMargin = 50

// PlacedMarker is a machine marker at its on-screen position.
type PlacedMarker struct {
	Machine fleet.MachineSnapshot
	X, Y    float64
}

// MarkerPosition is where a machine is drawn: its live position on the
// current day, otherwise the replay point path[floor(progress/100*(n-1))].
func MarkerPosition(m fleet.MachineSnapshot, traj fleet.Trajectory, live bool, progress float64) projection.LngLat {
	if live || len(traj.Points) == 0 {
		return m.Position()
	}
	p := traj.Points[playback.Index(len(traj.Points), progress)]
	return projection.LngLat{Lng: p.Lng, Lat: p.Lat}
}

// PlaceMarkers projects every machine of the scene and drops the ones more
// than the cull margin outside the surface. Fleet order is kept.
func PlaceMarkers(view projection.View, s Scene) []PlacedMarker {
	placed := make([]PlacedMarker, 0, len(s.Fleet))
	for _, m := range s.Fleet {
		pos := MarkerPosition(m, s.Trajectories[m.ID], s.Live, s.Progress)
		x, y := view.ToPixel(pos.Lng, pos.Lat)
		if !view.Contains(x, y, cullMargin) {
			continue
		}
		placed = append(placed, PlacedMarker{Machine: m, X: x, Y: y})
	}
	return placed
}

// HitTest returns the first marker within radius pixels of (x, y).
func HitTest(markers []PlacedMarker, x, y, radius float64) (fleet.MachineSnapshot, bool) {
	for _, m := range markers {
		if math.Hypot(m.X-x, m.Y-y) < radius {
			return m.Machine, true
		}
	}
	return fleet.MachineSnapshot{}, false
}
