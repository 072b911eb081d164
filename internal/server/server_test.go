package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetmap/internal/engine"
	"fleetmap/internal/fleet"
	"fleetmap/internal/metrics"
	"fleetmap/internal/overlay"
	"fleetmap/internal/projection"
	"fleetmap/internal/viewport"
)

type staticFleet []fleet.MachineSnapshot

func (f staticFleet) Fleet(context.Context) ([]fleet.MachineSnapshot, error) {
	return f, nil
}

func testDeps() Deps {
	return Deps{
		Engine: engine.Config{
			Home:        projection.LngLat{Lng: 131.85, Lat: 46.85},
			DefaultZoom: 12,
			Limits:      viewport.Limits{MinZoom: 8, MaxZoom: 18},
			Width:       400,
			Height:      300,
			Overlay:     overlay.DefaultOptions(),
		},
		Fleet: staticFleet{
			{ID: "m-1", Name: "Harvester 01", Lng: 131.85, Lat: 46.85, Type: fleet.Harvester, Status: fleet.Working, Brand: "john_deere"},
		},
		Metrics: metrics.New(),
		Logger:  zerolog.Nop(),
	}
}

type client struct {
	t    *testing.T
	conn *ws.Conn
}

func dial(t *testing.T, srv *httptest.Server) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(m Message) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(m))
}

// next reads until a message matches, failing after a few seconds.
func (c *client) next(match func(kind int, data []byte) bool) []byte {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		kind, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err)
		if match(kind, data) {
			return data
		}
	}
}

func (c *client) nextFrame(w, h int) {
	c.t.Helper()
	c.next(func(kind int, data []byte) bool {
		if kind != ws.BinaryMessage {
			return false
		}
		cfg, err := png.DecodeConfig(bytes.NewReader(data))
		require.NoError(c.t, err)
		return cfg.Width == w && cfg.Height == h
	})
}

func (c *client) nextText(typ string) map[string]any {
	c.t.Helper()
	data := c.next(func(kind int, data []byte) bool {
		if kind != ws.TextMessage {
			return false
		}
		var m map[string]any
		require.NoError(c.t, json.Unmarshal(data, &m))
		return m["type"] == typ
	})
	var m map[string]any
	require.NoError(c.t, json.Unmarshal(data, &m))
	return m
}

func TestSession_FramesSelectionAndPlayback(t *testing.T) {
	s := New(testDeps())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	c := dial(t, srv)

	hello := c.nextText("hello")
	assert.NotEmpty(t, hello["session"])
	c.nextFrame(400, 300)
	assert.Equal(t, 1, s.Sessions())

	c.send(Message{Type: TypeResize, Width: 320, Height: 240})
	c.nextFrame(320, 240)

	c.send(Message{Type: TypeClick, X: 165, Y: 120})
	sel := c.nextText("selected")
	assert.Equal(t, "m-1", sel["id"])

	c.send(Message{Type: TypeScrub, Progress: 50})
	pb := c.nextText("playback")
	assert.Equal(t, 50.0, pb["progress"])
	assert.Equal(t, "paused", pb["state"])
	assert.Equal(t, "13:00", pb["clock"])
}

func TestSession_Errors(t *testing.T) {
	s := New(testDeps())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	c := dial(t, srv)
	c.nextText("hello")

	c.send(Message{Type: "teleport"})
	e := c.nextText("error")
	assert.Equal(t, "teleport", e["for"])

	c.send(Message{Type: TypeResize, Width: 100000, Height: 10})
	e = c.nextText("error")
	assert.Equal(t, TypeResize, e["for"])

	c.send(Message{Type: TypeDay, Day: "tomorrow"})
	e = c.nextText("error")
	assert.Equal(t, TypeDay, e["for"])

	require.NoError(t, c.conn.WriteMessage(ws.TextMessage, []byte("{")))
	e = c.nextText("error")
	assert.Equal(t, "malformed message", e["error"])
}

func TestSession_ClosedIsRemoved(t *testing.T) {
	s := New(testDeps())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	c := dial(t, srv)
	c.nextText("hello")
	require.Equal(t, 1, s.Sessions())

	require.NoError(t, c.conn.Close())
	assert.Eventually(t, func() bool { return s.Sessions() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcast(t *testing.T) {
	s := New(testDeps())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	c := dial(t, srv)
	c.nextText("hello")
	c.nextFrame(400, 300)

	s.Broadcast([]fleet.MachineSnapshot{{ID: "m-7", Lng: 131.85, Lat: 46.85, Type: fleet.Tractor}})

	c.send(Message{Type: TypeClick, X: 200, Y: 150})
	sel := c.nextText("selected")
	assert.Equal(t, "m-7", sel["id"])
}

func TestHealthAndMetrics(t *testing.T) {
	s := New(testDeps())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "fleetmap_sessions")
}
