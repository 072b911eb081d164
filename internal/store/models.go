package store

import (
	"time"

	"fleetmap/internal/fleet"
	"fleetmap/internal/projection"
)

// models is every table the store migrates.
var models = []interface{}{
	&Machine{},
	&Trajectory{},
	&Point{},
	&Field{},
}

// Machine is the last known snapshot of a machine.
type Machine struct {
	ID        string    `gorm:"primarykey;size:64"`
	Name      string    `gorm:"size:127"`
	Type      string    `gorm:"size:16"`
	Status    string    `gorm:"size:16;index"`
	Brand     string    `gorm:"size:32"`
	Lat       float64
	Lng       float64
	UpdatedAt time.Time
}

// Trajectory is one machine-day. Its points are stored in Point rows.
type Trajectory struct {
	ID         uint   `gorm:"primarykey;autoIncrement"`
	MachineID  string `gorm:"size:64;uniqueIndex:idx_trajectory_machine_day"`
	Day        string `gorm:"size:10;uniqueIndex:idx_trajectory_machine_day;index"`
	SwathWidth float64
	HasMetric  bool
	CreatedAt  time.Time
	Points     []Point `gorm:"constraint:OnDelete:CASCADE"`
}

type Point struct {
	ID           uint `gorm:"primarykey;autoIncrement"`
	TrajectoryID uint `gorm:"index:idx_point_trajectory_seq"`
	Seq          int  `gorm:"index:idx_point_trajectory_seq"`
	Lng          float64
	Lat          float64
	Time         time.Time
	Speed        float64 // km/h
	HasSpeed     bool
	Status       string `gorm:"size:16"`
	Metric       float64
}

type Field struct {
	ID       string              `gorm:"primarykey;size:64"`
	Name     string              `gorm:"size:127"`
	Boundary []projection.LngLat `gorm:"serializer:json"`
}

func machineRow(m fleet.MachineSnapshot, now time.Time) Machine {
	return Machine{
		ID:        m.ID,
		Name:      m.Name,
		Type:      string(m.Type),
		Status:    string(m.Status),
		Brand:     m.Brand,
		Lat:       m.Lat,
		Lng:       m.Lng,
		UpdatedAt: now,
	}
}

func (m Machine) snapshot() fleet.MachineSnapshot {
	return fleet.MachineSnapshot{
		ID:     m.ID,
		Name:   m.Name,
		Lat:    m.Lat,
		Lng:    m.Lng,
		Type:   fleet.MachineType(m.Type),
		Status: fleet.Status(m.Status),
		Brand:  m.Brand,
	}
}

func trajectoryRow(t fleet.Trajectory) Trajectory {
	row := Trajectory{
		MachineID:  t.MachineID,
		Day:        t.Day,
		SwathWidth: t.SwathWidth,
		HasMetric:  t.HasMetric(),
		Points:     make([]Point, len(t.Points)),
	}
	for i, p := range t.Points {
		row.Points[i] = Point{
			Seq:      i,
			Lng:      p.Lng,
			Lat:      p.Lat,
			Time:     p.Time,
			Speed:    p.Speed,
			HasSpeed: p.HasSpeed,
			Status:   string(p.Status),
		}
		if row.HasMetric {
			row.Points[i].Metric = t.Metric[i]
		}
	}
	return row
}

func (t Trajectory) trajectory() fleet.Trajectory {
	out := fleet.Trajectory{
		MachineID:  t.MachineID,
		Day:        t.Day,
		SwathWidth: t.SwathWidth,
		Points:     make([]fleet.TrajectoryPoint, len(t.Points)),
	}
	if t.HasMetric {
		out.Metric = make([]float64, len(t.Points))
	}
	for i, p := range t.Points {
		out.Points[i] = fleet.TrajectoryPoint{
			Lng:      p.Lng,
			Lat:      p.Lat,
			Time:     p.Time,
			Index:    i,
			Speed:    p.Speed,
			HasSpeed: p.HasSpeed,
			Status:   fleet.Status(p.Status),
		}
		if t.HasMetric {
			out.Metric[i] = p.Metric
		}
	}
	return out
}
