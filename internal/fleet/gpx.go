package fleet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tkrajina/gpxgo/gpx"

	"fleetmap/internal/projection"
)

// LoadGPX reads every track point of a GPX file into a trajectory for one
// machine. The day is taken from the first timestamp.
func LoadGPX(path, machineID string) (Trajectory, error) {
	g, err := gpx.ParseFile(path)
	if err != nil {
		return Trajectory{}, fmt.Errorf("failed to parse GPX file: %w", err)
	}
	return fromGPX(g, machineID)
}

func ParseGPX(data []byte, machineID string) (Trajectory, error) {
	g, err := gpx.ParseBytes(data)
	if err != nil {
		return Trajectory{}, fmt.Errorf("failed to parse GPX: %w", err)
	}
	return fromGPX(g, machineID)
}

func fromGPX(g *gpx.GPX, machineID string) (Trajectory, error) {
	t := Trajectory{MachineID: machineID}
	for _, track := range g.Tracks {
		for _, segment := range track.Segments {
			for _, p := range segment.Points {
				t.Points = append(t.Points, TrajectoryPoint{
					Lng:   p.Longitude,
					Lat:   p.Latitude,
					Time:  p.Timestamp,
					Index: len(t.Points),
				})
			}
		}
	}
	if len(t.Points) == 0 {
		return Trajectory{}, fmt.Errorf("GPX has no track points: %w", ErrNoTrajectory)
	}
	if !t.Points[0].Time.IsZero() {
		t.Day = DayOf(t.Points[0].Time)
	}
	computeSpeeds(t.Points)
	return t, nil
}

// computeSpeeds fills Speed in km/h from a centred window of five points.
// Points without a time difference inherit the previous speed.
func computeSpeeds(points []TrajectoryPoint) {
	if len(points) < 2 {
		return
	}
	for i := 1; i < len(points); i++ {
		windowStart := max(i-2, 0)
		windowEnd := min(i+2, len(points)-1)

		var totalDist, totalTime float64
		for j := windowStart; j < windowEnd; j++ {
			a, b := points[j], points[j+1]
			totalDist += projection.Distance(projection.LngLat{Lng: a.Lng, Lat: a.Lat}, projection.LngLat{Lng: b.Lng, Lat: b.Lat})
			totalTime += b.Time.Sub(a.Time).Seconds()
		}
		if totalTime > 0 {
			points[i].Speed = totalDist / 1000 * 3600 / totalTime
			points[i].HasSpeed = true
		} else {
			points[i].Speed = points[i-1].Speed
			points[i].HasSpeed = points[i-1].HasSpeed
		}
	}
	points[0].Speed = points[1].Speed
	points[0].HasSpeed = points[1].HasSpeed
}

// Trim cuts the trajectory to the points between two boundaries. A boundary
// is an offset in seconds ("90s") or kilometres ("1.5km") from the start;
// an empty boundary leaves that end untouched.
func (t Trajectory) Trim(from, to string) (Trajectory, error) {
	start, err := t.boundaryIndex(from, 0)
	if err != nil {
		return t, err
	}
	end, err := t.boundaryIndex(to, len(t.Points))
	if err != nil {
		return t, err
	}
	if start >= end {
		return t, fmt.Errorf("empty range %q..%q", from, to)
	}

	out := t
	out.Points = append([]TrajectoryPoint(nil), t.Points[start:end]...)
	for i := range out.Points {
		out.Points[i].Index = i
	}
	if t.HasMetric() {
		out.Metric = append([]float64(nil), t.Metric[start:end]...)
	}
	return out, nil
}

func (t Trajectory) boundaryIndex(boundary string, fallback int) (int, error) {
	switch {
	case boundary == "":
		return fallback, nil
	case strings.HasSuffix(boundary, "km"):
		km, err := strconv.ParseFloat(strings.TrimSuffix(boundary, "km"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid distance boundary %q: %w", boundary, err)
		}
		var dist float64
		for i := 1; i < len(t.Points); i++ {
			a, b := t.Points[i-1], t.Points[i]
			dist += projection.Distance(projection.LngLat{Lng: a.Lng, Lat: a.Lat}, projection.LngLat{Lng: b.Lng, Lat: b.Lat}) / 1000
			if dist >= km {
				return i, nil
			}
		}
		return len(t.Points), nil
	case strings.HasSuffix(boundary, "s"):
		seconds, err := strconv.ParseFloat(strings.TrimSuffix(boundary, "s"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid time boundary %q: %w", boundary, err)
		}
		if len(t.Points) == 0 {
			return 0, nil
		}
		startTime := t.Points[0].Time
		for i, p := range t.Points {
			if p.Time.Sub(startTime).Seconds() >= seconds {
				return i, nil
			}
		}
		return len(t.Points), nil
	}
	return 0, fmt.Errorf("invalid boundary %q: want a suffix of s or km", boundary)
}
