// Package store keeps fleet snapshots, trajectories and field outlines in
// SQLite through gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"fleetmap/internal/fleet"
)

var ErrNotFound = errors.New("not found")

// Store implements fleet.TrajectorySource and fleet.FleetSource.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
	now func() time.Time
}

// Open opens or creates the database at path and migrates it. An empty
// path opens a private in-memory database.
func Open(path string, log zerolog.Logger) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = "file::memory:"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        2000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %q: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection also keeps an
	// in-memory database alive and shared.
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON;", "PRAGMA journal_mode = WAL;"} {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", pragma, err)
		}
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	log = log.With().Str("component", "store").Logger()
	if path == "" {
		log.Info().Msg("Using in-memory SQLite store")
	} else {
		log.Info().Str("path", path).Msg("Using SQLite store")
	}
	return &Store{db: db, log: log, now: time.Now}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveFleet upserts the snapshots by machine id.
func (s *Store) SaveFleet(ctx context.Context, machines []fleet.MachineSnapshot) error {
	if len(machines) == 0 {
		return nil
	}
	now := s.now()
	rows := make([]Machine, len(machines))
	for i, m := range machines {
		rows[i] = machineRow(m, now)
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to save fleet: %w", err)
	}
	return nil
}

// Fleet returns every known machine ordered by id.
func (s *Store) Fleet(ctx context.Context) ([]fleet.MachineSnapshot, error) {
	var rows []Machine
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load fleet: %w", err)
	}
	out := make([]fleet.MachineSnapshot, len(rows))
	for i, r := range rows {
		out[i] = r.snapshot()
	}
	return out, nil
}

func (s *Store) Machine(ctx context.Context, id string) (fleet.MachineSnapshot, error) {
	var row Machine
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fleet.MachineSnapshot{}, fmt.Errorf("machine %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fleet.MachineSnapshot{}, err
	}
	return row.snapshot(), nil
}

// SaveTrajectory stores t, replacing any trajectory already recorded for
// the same machine and day.
func (s *Store) SaveTrajectory(ctx context.Context, t fleet.Trajectory) error {
	if t.MachineID == "" || t.Day == "" {
		return fmt.Errorf("trajectory needs a machine id and a day")
	}
	row := trajectoryRow(t)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old []uint
		if err := tx.Model(&Trajectory{}).
			Where("machine_id = ? AND day = ?", t.MachineID, t.Day).
			Pluck("id", &old).Error; err != nil {
			return err
		}
		if len(old) > 0 {
			if err := tx.Where("trajectory_id IN ?", old).Delete(&Point{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&Trajectory{}, old).Error; err != nil {
				return err
			}
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save trajectory %s/%s: %w", t.MachineID, t.Day, err)
	}
	s.log.Debug().Str("machine", t.MachineID).Str("day", t.Day).Int("points", len(t.Points)).Msg("trajectory saved")
	return nil
}

// TrajectoryForDay returns fleet.ErrNoTrajectory when the machine has no
// recording for day.
func (s *Store) TrajectoryForDay(ctx context.Context, machineID, day string) (fleet.Trajectory, error) {
	var row Trajectory
	err := s.db.WithContext(ctx).
		Preload("Points", func(db *gorm.DB) *gorm.DB { return db.Order("seq") }).
		Where("machine_id = ? AND day = ?", machineID, day).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fleet.Trajectory{}, fleet.ErrNoTrajectory
	}
	if err != nil {
		return fleet.Trajectory{}, fmt.Errorf("failed to load trajectory %s/%s: %w", machineID, day, err)
	}
	return row.trajectory(), nil
}

// Days lists the days with a recording for the machine, newest first.
func (s *Store) Days(ctx context.Context, machineID string) ([]string, error) {
	var days []string
	err := s.db.WithContext(ctx).Model(&Trajectory{}).
		Where("machine_id = ?", machineID).
		Order("day DESC").
		Pluck("day", &days).Error
	if err != nil {
		return nil, err
	}
	return days, nil
}

func (s *Store) SaveFields(ctx context.Context, fields []fleet.Field) error {
	if len(fields) == 0 {
		return nil
	}
	rows := make([]Field, len(fields))
	for i, f := range fields {
		rows[i] = Field{ID: f.ID, Name: f.Name, Boundary: f.Boundary}
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to save fields: %w", err)
	}
	return nil
}

func (s *Store) Fields(ctx context.Context) ([]fleet.Field, error) {
	var rows []Field
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load fields: %w", err)
	}
	out := make([]fleet.Field, len(rows))
	for i, r := range rows {
		out[i] = fleet.Field{ID: r.ID, Name: r.Name, Boundary: r.Boundary}
	}
	return out, nil
}
