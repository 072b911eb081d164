// Package natsfeed receives live fleet snapshots over NATS.
package natsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"fleetmap/internal/fleet"
)

const DefaultSubject = "fleet.snapshot"

var ErrNotConnected = errors.New("nats not connected")

// Decode parses a snapshot payload: a JSON array of machines. Entries
// without an id or with coordinates out of range are dropped.
func Decode(data []byte) ([]fleet.MachineSnapshot, error) {
	var raw []fleet.MachineSnapshot
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode fleet snapshot: %w", err)
	}
	out := raw[:0]
	for _, m := range raw {
		if m.ID == "" || math.Abs(m.Lat) > 90 || math.Abs(m.Lng) > 180 {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Feed keeps the latest snapshot seen on a subject and implements
// fleet.FleetSource.
type Feed struct {
	nc      *nats.Conn
	subject string
	log     zerolog.Logger

	mu       sync.Mutex
	latest   []fleet.MachineSnapshot
	received time.Time
	sub      *nats.Subscription
	handlers []func([]fleet.MachineSnapshot)
}

func Connect(url, subject string, log zerolog.Logger) (*Feed, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	log = log.With().Str("component", "natsfeed").Logger()
	opts := []nats.Option{
		nats.Name("fleetmap"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return &Feed{nc: nc, subject: subject, log: log}, nil
}

// OnSnapshot registers fn to run on every decoded snapshot. It must be
// called before Start.
func (f *Feed) OnSnapshot(fn func([]fleet.MachineSnapshot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fn)
}

func (f *Feed) Start() error {
	if f.nc == nil || f.nc.IsClosed() {
		return ErrNotConnected
	}
	sub, err := f.nc.Subscribe(f.subject, func(msg *nats.Msg) {
		f.handle(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", f.subject, err)
	}
	f.mu.Lock()
	f.sub = sub
	f.mu.Unlock()
	f.log.Info().Str("subject", f.subject).Msg("subscribed to fleet snapshots")
	return nil
}

func (f *Feed) handle(data []byte) {
	machines, err := Decode(data)
	if err != nil {
		f.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping fleet snapshot")
		return
	}
	f.mu.Lock()
	f.latest = machines
	f.received = time.Now()
	handlers := append(([]func([]fleet.MachineSnapshot))(nil), f.handlers...)
	f.mu.Unlock()

	for _, fn := range handlers {
		fn(machines)
	}
}

// Fleet returns a copy of the latest snapshot, which is empty until the
// first message arrives.
func (f *Feed) Fleet(_ context.Context) ([]fleet.MachineSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fleet.MachineSnapshot(nil), f.latest...), nil
}

// Received is when the latest snapshot arrived.
func (f *Feed) Received() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.received
}

// Publish sends a snapshot on the feed's subject.
func (f *Feed) Publish(_ context.Context, machines []fleet.MachineSnapshot) error {
	if f.nc == nil || f.nc.IsClosed() {
		return ErrNotConnected
	}
	data, err := json.Marshal(machines)
	if err != nil {
		return err
	}
	return f.nc.Publish(f.subject, data)
}

func (f *Feed) Close() {
	if f.nc != nil {
		_ = f.nc.Drain()
		f.nc.Close()
	}
}
