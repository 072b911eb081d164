// Package fleet defines the machines, trajectories and fields the map draws,
// and the interfaces through which a host supplies them.
package fleet

import (
	"context"
	"errors"
	"math"
	"time"

	"fleetmap/internal/projection"
)

type MachineType string

const (
	Harvester MachineType = "harvester"
	Tractor   MachineType = "tractor"
)

type Status string

const (
	Working Status = "working"
	Moving  Status = "moving"
	Idle    Status = "idle"
	Offline Status = "offline"
)

// Active reports whether the machine is doing something worth highlighting.
func (s Status) Active() bool {
	return s == Working || s == Moving
}

// DayLayout formats the calendar day a trajectory belongs to.
const DayLayout = "2006-01-02"

func DayOf(t time.Time) string {
	return t.Format(DayLayout)
}

var ErrNoTrajectory = errors.New("no trajectory for machine and day")

// MachineSnapshot is the live position and state of one machine.
type MachineSnapshot struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Lat    float64     `json:"lat"`
	Lng    float64     `json:"lng"`
	Type   MachineType `json:"type"`
	Status Status      `json:"status"`
	Brand  string      `json:"brand"`
}

func (m MachineSnapshot) Position() projection.LngLat {
	return projection.LngLat{Lng: m.Lng, Lat: m.Lat}
}

type TrajectoryPoint struct {
	Lng      float64   `json:"lng"`
	Lat      float64   `json:"lat"`
	Time     time.Time `json:"time"`
	Index    int       `json:"index"`
	Speed    float64   `json:"speed,omitempty"` // km/h
	HasSpeed bool      `json:"hasSpeed,omitempty"`
	Status   Status    `json:"status,omitempty"`
}

// Trajectory is one machine's time-ordered path for one day. Metric, when
// present, holds one sample per point (yield for harvesters).
type Trajectory struct {
	MachineID  string            `json:"machineId"`
	Day        string            `json:"day"`
	Points     []TrajectoryPoint `json:"points"`
	Metric     []float64         `json:"metric,omitempty"`
	SwathWidth float64           `json:"swathWidth,omitempty"`
}

func (t Trajectory) Len() int {
	return len(t.Points)
}

// HasMetric reports whether every point carries a metric sample.
func (t Trajectory) HasMetric() bool {
	return len(t.Metric) > 0 && len(t.Metric) == len(t.Points)
}

func (t Trajectory) Path() []projection.LngLat {
	path := make([]projection.LngLat, len(t.Points))
	for i, p := range t.Points {
		path[i] = projection.LngLat{Lng: p.Lng, Lat: p.Lat}
	}
	return path
}

// TimeSpan returns the first and last timestamps, or false when the points
// carry no usable times.
func (t Trajectory) TimeSpan() (time.Time, time.Time, bool) {
	if len(t.Points) == 0 {
		return time.Time{}, time.Time{}, false
	}
	start, end := t.Points[0].Time, t.Points[len(t.Points)-1].Time
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// Bounds returns the south-west and north-east corners of the path.
func (t Trajectory) Bounds() (sw, ne projection.LngLat, ok bool) {
	if len(t.Points) == 0 {
		return sw, ne, false
	}
	sw = projection.LngLat{Lng: t.Points[0].Lng, Lat: t.Points[0].Lat}
	ne = sw
	for _, p := range t.Points[1:] {
		sw.Lng, sw.Lat = math.Min(sw.Lng, p.Lng), math.Min(sw.Lat, p.Lat)
		ne.Lng, ne.Lat = math.Max(ne.Lng, p.Lng), math.Max(ne.Lat, p.Lat)
	}
	return sw, ne, true
}

// Distance is the path length in metres.
func (t Trajectory) Distance() float64 {
	var d float64
	for i := 1; i < len(t.Points); i++ {
		a, b := t.Points[i-1], t.Points[i]
		d += projection.Distance(projection.LngLat{Lng: a.Lng, Lat: a.Lat}, projection.LngLat{Lng: b.Lng, Lat: b.Lat})
	}
	return d
}

// TrajectorySource supplies the recorded path of a machine for a day. It
// returns ErrNoTrajectory when nothing was recorded.
type TrajectorySource interface {
	TrajectoryForDay(ctx context.Context, machineID, day string) (Trajectory, error)
}

// FleetSource supplies the current fleet snapshot.
type FleetSource interface {
	Fleet(ctx context.Context) ([]MachineSnapshot, error)
}
