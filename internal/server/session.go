package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"fleetmap/internal/compositor"
	"fleetmap/internal/engine"
	"fleetmap/internal/logging"
	"fleetmap/internal/playback"
)

const (
	writeTimeout = 10 * time.Second
	// maxSurface bounds the frame size a client may request.
	maxSurface = 4096
)

type session struct {
	id     string
	conn   *websocket.Conn
	eng    *engine.Engine
	log    zerolog.Logger
	noisy  zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// started is only touched by the connection's handler goroutine.
	started bool
	writeMu sync.Mutex
}

func (s *Server) open(conn *websocket.Conn) (*session, error) {
	id := uuid.NewString()
	log := s.log.With().Str("session", id).Logger()
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:     id,
		conn:   conn,
		log:    log,
		noisy:  logging.Sampled(log),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	eng, err := engine.New(s.deps.Engine, s.deps.Tiles, frameSurface{sess}, s.deps.Trajectories, s.recorder(), log)
	if err != nil {
		cancel()
		return nil, err
	}
	sess.eng = eng

	if s.deps.Fleet != nil {
		machines, err := s.deps.Fleet.Fleet(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to load fleet")
		}
		eng.SetFleet(machines)
	}
	if s.deps.Fields != nil {
		fields, err := s.deps.Fields.Fields(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to load fields")
		}
		eng.SetFields(fields)
	}

	eng.OnMachineSelected(func(id string) {
		_ = sess.writeJSON(Selected{Type: "selected", ID: id})
	})
	eng.OnPlayback(func(progress float64, state playback.State, clock time.Time) {
		_ = sess.writeJSON(Playback{
			Type:     "playback",
			Progress: progress,
			State:    state.String(),
			Clock:    clock.Format("15:04"),
		})
	})

	return sess, nil
}

func (sess *session) hello(styles []string) error {
	return sess.writeJSON(Hello{Type: "hello", Session: sess.id, Styles: styles, Day: sess.eng.Day()})
}

// start runs the render loop; the first frame follows the hello message.
func (sess *session) start() {
	sess.started = true
	go func() {
		defer close(sess.done)
		_ = sess.eng.Run(sess.ctx)
	}()
	sess.log.Info().Str("remote", sess.conn.RemoteAddr().String()).Msg("session opened")
}

// serve reads client events until the connection fails.
func (sess *session) serve() {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			sess.noisy.Warn().Err(err).Msg("dropping malformed message")
			_ = sess.writeJSON(Error{Type: "error", Error: "malformed message"})
			continue
		}
		if err := sess.dispatch(m); err != nil {
			_ = sess.writeJSON(Error{Type: "error", For: m.Type, Error: err.Error()})
		}
	}
}

func (sess *session) dispatch(m Message) error {
	e := sess.eng
	switch m.Type {
	case TypePointerDown:
		e.PointerDown(m.X, m.Y)
	case TypePointerMove:
		e.PointerMove(m.X, m.Y)
	case TypePointerUp:
		e.PointerUp()
	case TypePointerLeave:
		e.PointerLeave()
	case TypeClick:
		e.Click(m.X, m.Y)
	case TypeWheel:
		e.Wheel(m.DeltaY)
	case TypeTouch:
		e.Touch(m.Touches)
	case TypeResize:
		if m.Width <= 0 || m.Height <= 0 || m.Width > maxSurface || m.Height > maxSurface {
			return fmt.Errorf("invalid size %dx%d", m.Width, m.Height)
		}
		e.Resize(m.Width, m.Height)
	case TypePlay:
		e.Play()
	case TypePause:
		e.Pause()
	case TypeReset:
		e.ResetPlayback()
	case TypeScrub:
		e.Scrub(m.Progress)
	case TypeSelect:
		e.Select(m.ID)
	case TypeBasemap:
		return e.SetBasemap(m.Style)
	case TypeMetric:
		e.SetMetricOverlay(m.On)
	case TypeZoomIn:
		e.ZoomIn()
	case TypeZoomOut:
		e.ZoomOut()
	case TypeLocate:
		e.Locate()
	case TypeDay:
		return e.SetDay(sess.ctx, m.Day)
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

func (sess *session) shutdown() {
	sess.cancel()
	if sess.started {
		<-sess.done
	}
	sess.eng.Close()
	_ = sess.conn.Close()
}

func (sess *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return sess.write(websocket.TextMessage, data)
}

// write serialises writers: the render loop, input callbacks and the
// playback ticker all send on the same connection.
func (sess *session) write(kind int, data []byte) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	_ = sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return sess.conn.WriteMessage(kind, data)
}

// frameSurface presents frames by sending them to the client as PNG.
type frameSurface struct {
	sess *session
}

func (f frameSurface) Present(img image.Image) error {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return f.sess.write(websocket.BinaryMessage, buf.Bytes())
}

func (frameSurface) Snapshot() (image.Image, error) {
	return nil, compositor.ErrReadbackUnsupported
}
