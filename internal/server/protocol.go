package server

import (
	"fleetmap/internal/input"
)

// Message is one client event. Only the fields relevant to Type are set.
type Message struct {
	Type     string        `json:"type"`
	X        float64       `json:"x,omitempty"`
	Y        float64       `json:"y,omitempty"`
	DeltaY   float64       `json:"deltaY,omitempty"`
	Touches  []input.Touch `json:"touches,omitempty"`
	Width    int           `json:"width,omitempty"`
	Height   int           `json:"height,omitempty"`
	Progress float64       `json:"progress,omitempty"`
	ID       string        `json:"id,omitempty"`
	Style    string        `json:"style,omitempty"`
	On       bool          `json:"on,omitempty"`
	Day      string        `json:"day,omitempty"`
}

// Client event types.
const (
	TypePointerDown  = "pointerdown"
	TypePointerMove  = "pointermove"
	TypePointerUp    = "pointerup"
	TypePointerLeave = "pointerleave"
	TypeClick        = "click"
	TypeWheel        = "wheel"
	TypeTouch        = "touch"
	TypeResize       = "resize"
	TypePlay         = "play"
	TypePause        = "pause"
	TypeReset        = "reset"
	TypeScrub        = "scrub"
	TypeSelect       = "select"
	TypeBasemap      = "basemap"
	TypeMetric       = "metric"
	TypeZoomIn       = "zoomin"
	TypeZoomOut      = "zoomout"
	TypeLocate       = "locate"
	TypeDay          = "day"
)

// Hello is the first text message of a session.
type Hello struct {
	Type    string   `json:"type"`
	Session string   `json:"session"`
	Styles  []string `json:"styles,omitempty"`
	Day     string   `json:"day"`
}

type Selected struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type Playback struct {
	Type     string  `json:"type"`
	Progress float64 `json:"progress"`
	State    string  `json:"state"`
	Clock    string  `json:"clock"`
}

type Error struct {
	Type  string `json:"type"`
	For   string `json:"for,omitempty"`
	Error string `json:"error"`
}
