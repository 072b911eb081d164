package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"fleetmap/internal/fleet"
	"fleetmap/internal/natsfeed"
	"fleetmap/internal/store"
)

type importOptions struct {
	gpx     []string
	machine string
	name    string
	kind    string
	brand   string
	from    string
	to      string
	fleet   string
	fields  string
	publish bool
}

func newImportCmd() *cobra.Command {
	var opts importOptions
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load GPX tracks, fleet snapshots and field outlines into the store",
		Long: `Import writes data into the fleet store. Every GPX file becomes the trajectory
of one machine for the day of its first timestamp, replacing an earlier one for
the same machine and day. Machines not yet in the store are created.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImport(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.gpx, "gpx", nil, "GPX track files")
	f.StringVar(&opts.machine, "machine", "", "machine id for the tracks; defaults to the file name")
	f.StringVar(&opts.name, "name", "", "display name of a new machine")
	f.StringVar(&opts.kind, "type", string(fleet.Harvester), "type of a new machine (harvester or tractor)")
	f.StringVar(&opts.brand, "brand", "john_deere", "brand of a new machine")
	f.StringVar(&opts.from, "from", "", "trim tracks from this offset (e.g. 90s, 1.5km)")
	f.StringVar(&opts.to, "to", "", "trim tracks up to this offset")
	f.StringVar(&opts.fleet, "fleet", "", "JSON file with a fleet snapshot")
	f.StringVar(&opts.fields, "fields", "", "JSON file with field outlines")
	f.BoolVar(&opts.publish, "publish", false, "also publish the fleet snapshot on nats.subject")
	return cmd
}

func runImport(ctx context.Context, opts importOptions) error {
	if len(opts.gpx) == 0 && opts.fleet == "" && opts.fields == "" {
		return errors.New("nothing to import, use --gpx, --fleet or --fields")
	}
	kind := fleet.MachineType(opts.kind)
	if kind != fleet.Harvester && kind != fleet.Tractor {
		return fmt.Errorf("unknown machine type %q", opts.kind)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if opts.fleet != "" {
		data, err := os.ReadFile(opts.fleet)
		if err != nil {
			return err
		}
		machines, err := natsfeed.Decode(data)
		if err != nil {
			return fmt.Errorf("%s: %w", opts.fleet, err)
		}
		if err := st.SaveFleet(ctx, machines); err != nil {
			return err
		}
		logger.Info().Int("machines", len(machines)).Msg("fleet imported")
		if opts.publish {
			if err := publishFleet(ctx, machines); err != nil {
				return err
			}
		}
	}

	if opts.fields != "" {
		fields, err := readFields(opts.fields)
		if err != nil {
			return err
		}
		if err := st.SaveFields(ctx, fields); err != nil {
			return err
		}
		logger.Info().Int("fields", len(fields)).Msg("fields imported")
	}

	for _, path := range opts.gpx {
		id := opts.machine
		if id == "" {
			id = machineID(path)
		}
		t, err := fleet.LoadGPX(path, id)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if t, err = t.Trim(opts.from, opts.to); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if t.Day == "" {
			return fmt.Errorf("%s: track has no timestamps, its day is unknown", path)
		}

		if _, err := st.Machine(ctx, id); errors.Is(err, store.ErrNotFound) {
			m := gpxMachine(t)
			m.Type, m.Brand = kind, opts.brand
			if opts.name != "" {
				m.Name = opts.name
			}
			if err := st.SaveFleet(ctx, []fleet.MachineSnapshot{m}); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if err := st.SaveTrajectory(ctx, t); err != nil {
			return err
		}
		logger.Info().
			Str("machine", id).
			Str("day", t.Day).
			Int("points", t.Len()).
			Float64("km", t.Distance()/1000).
			Msg("trajectory imported")
	}
	return nil
}

// readFields parses a JSON array of fields. Fields without an id get one.
func readFields(path string) ([]fleet.Field, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fields []fleet.Field
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields in %s: %w", path, err)
	}
	for i := range fields {
		if fields[i].ID == "" {
			fields[i].ID = uuid.NewString()
		}
		if len(fields[i].Boundary) < 3 {
			return nil, fmt.Errorf("field %q in %s has fewer than 3 boundary points", fields[i].Name, path)
		}
	}
	return fields, nil
}

func publishFleet(ctx context.Context, machines []fleet.MachineSnapshot) error {
	feed, err := natsfeed.Connect(settings.NATS.URL, settings.NATS.Subject, logger)
	if err != nil {
		return err
	}
	defer feed.Close()
	if err := feed.Publish(ctx, machines); err != nil {
		return fmt.Errorf("failed to publish fleet snapshot: %w", err)
	}
	logger.Info().Str("subject", settings.NATS.Subject).Msg("fleet snapshot published")
	return nil
}
