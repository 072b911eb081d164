// Package server exposes map sessions over websocket: clients send input
// events as JSON and receive rendered frames as binary PNG messages.
package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"fleetmap/internal/compositor"
	"fleetmap/internal/engine"
	"fleetmap/internal/fleet"
	"fleetmap/internal/metrics"
	"fleetmap/internal/tiles"
)

// FieldSource supplies field outlines; *store.Store implements it.
type FieldSource interface {
	Fields(ctx context.Context) ([]fleet.Field, error)
}

type Deps struct {
	Engine       engine.Config
	Tiles        *tiles.Manager
	Trajectories fleet.TrajectorySource
	Fleet        fleet.FleetSource
	Fields       FieldSource
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
}

type Server struct {
	deps     Deps
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

func New(d Deps) *Server {
	return &Server{
		deps: d,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:      d.Logger.With().Str("component", "server").Logger(),
		sessions: make(map[string]*session),
	}
}

// Handler routes /ws, /healthz and, when metrics are configured, /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.deps.Metrics != nil {
		mux.Handle("/metrics", s.deps.Metrics.Handler())
	}
	return mux
}

func (s *Server) recorder() compositor.Recorder {
	if s.deps.Metrics == nil {
		return nil
	}
	return s.deps.Metrics
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade error")
		return
	}
	sess, err := s.open(conn)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to open session")
		_ = conn.Close()
		return
	}
	s.add(sess)
	defer s.close(sess)

	var styles []string
	if s.deps.Tiles != nil {
		styles = s.deps.Tiles.Styles()
	}
	if err := sess.hello(styles); err != nil {
		sess.log.Warn().Err(err).Msg("failed to greet client")
		return
	}
	sess.start()
	sess.serve()
}

func (s *Server) add(sess *session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionOpened()
	}
}

func (s *Server) close(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	sess.shutdown()
	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionClosed()
	}
	sess.log.Info().Msg("session closed")
}

// Broadcast pushes a new live fleet snapshot to every session.
func (s *Server) Broadcast(machines []fleet.MachineSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.eng.SetFleet(machines)
	}
}

func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown closes every open session.
func (s *Server) Shutdown() {
	s.mu.Lock()
	open := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()
	for _, sess := range open {
		_ = sess.conn.Close()
	}
}
