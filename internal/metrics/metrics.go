// Package metrics exposes tile cache and render loop counters to
// Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fleetmap"

// Metrics implements tiles.Recorder and compositor.Recorder. It registers
// on its own registry so several instances can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	tileRequests *prometheus.CounterVec
	tileFetches  *prometheus.CounterVec
	tileFetchDur *prometheus.HistogramVec
	renders      prometheus.Counter
	renderDur    prometheus.Histogram
	skipped      prometheus.Counter
	missing      prometheus.Counter
	sessions     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tileRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tiles",
			Name:      "requests_total",
			Help:      "Tile cache lookups by style and result.",
		}, []string{"style", "result"}),
		tileFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tiles",
			Name:      "fetches_total",
			Help:      "Tile downloads by style and outcome.",
		}, []string{"style", "outcome"}),
		tileFetchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tiles",
			Name:      "fetch_duration_seconds",
			Help:      "Tile download latency.",
			Buckets:   prometheus.ExponentialBuckets(0.02, 2, 10),
		}, []string{"style"}),
		renders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "passes_total",
			Help:      "Completed render passes.",
		}),
		renderDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "pass_duration_seconds",
			Help:      "Render pass latency including tile waits.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "skipped_total",
			Help:      "Render requests folded into a running pass.",
		}),
		missing: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "missing_tiles_total",
			Help:      "Tiles drawn as background because they were unavailable.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Open interactive map sessions.",
		}),
	}
	m.registry.MustRegister(
		m.tileRequests, m.tileFetches, m.tileFetchDur,
		m.renders, m.renderDur, m.skipped, m.missing, m.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TileHit(style string) {
	m.tileRequests.WithLabelValues(style, "hit").Inc()
}

func (m *Metrics) TileMiss(style string) {
	m.tileRequests.WithLabelValues(style, "miss").Inc()
}

func (m *Metrics) TileFetched(style string, took time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.tileFetches.WithLabelValues(style, outcome).Inc()
	m.tileFetchDur.WithLabelValues(style).Observe(took.Seconds())
}

func (m *Metrics) RenderPass(took time.Duration, missingTiles int) {
	m.renders.Inc()
	m.renderDur.Observe(took.Seconds())
	m.missing.Add(float64(missingTiles))
}

func (m *Metrics) RenderSkipped() {
	m.skipped.Inc()
}

func (m *Metrics) SessionOpened() {
	m.sessions.Inc()
}

func (m *Metrics) SessionClosed() {
	m.sessions.Dec()
}
