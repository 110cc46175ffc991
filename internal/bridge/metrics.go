package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/muurk/brlink/internal/link"
)

const metricsNamespace = "brlink"

// metrics holds the Prometheus collectors for one bridge. Link counters are
// read from Link.Stats at scrape time so they never drift from the link.
type metrics struct {
	registry *prometheus.Registry

	clients        prometheus.Gauge
	broadcastDrops prometheus.Counter
	wsRejected     *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
}

func newMetrics(l Link) *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	stat := func(pick func(s link.Stats) uint64) func() float64 {
		return func() float64 { return float64(pick(l.Stats())) }
	}

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "frames_received_total",
		Help:      "Frames decoded from the link with a valid checksum",
	}, stat(func(s link.Stats) uint64 { return s.FramesDecoded }))

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "frames_sent_total",
		Help:      "Frames written to the link",
	}, stat(func(s link.Stats) uint64 { return s.FramesSent }))

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "checksum_errors_total",
		Help:      "Frames dropped because the checksum did not match",
	}, stat(func(s link.Stats) uint64 { return s.ChecksumErrors }))

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "oversize_frames_total",
		Help:      "Frames rejected for declaring a payload above the configured limit",
	}, stat(func(s link.Stats) uint64 { return s.OversizeFrames }))

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "discarded_bytes_total",
		Help:      "Bytes skipped while hunting for a frame start",
	}, stat(func(s link.Stats) uint64 { return s.DiscardedBytes }))

	return &metrics{
		registry: registry,

		clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "websocket_clients",
			Help:      "Number of connected WebSocket clients",
		}),

		broadcastDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcast_drops_total",
			Help:      "Frames not delivered to a WebSocket client whose send buffer was full",
		}),

		wsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "websocket_rejected_total",
			Help:      "Inbound WebSocket messages that were not forwarded to the link",
		}, []string{"reason"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}
}
