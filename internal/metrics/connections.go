package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtsptrace",
		Subsystem: "monitor",
		Name:      "connections_started_total",
		Help:      "RTSP connections opened",
	}, []string{"camera"})

	connectionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtsptrace",
		Subsystem: "monitor",
		Name:      "connections_ended_total",
		Help:      "RTSP connections ended, by outcome (lost or clean)",
	}, []string{"camera", "outcome"})

	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rtsptrace",
		Subsystem: "monitor",
		Name:      "active_connections",
		Help:      "Connections currently recording",
	})

	streamsSeen = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtsptrace",
		Subsystem: "monitor",
		Name:      "streams_seen_total",
		Help:      "Streams announced by connected cameras",
	}, []string{"camera", "media"})
)

// ConnectionStarted counts a newly recording connection.
func ConnectionStarted(camera string) {
	connectionsStarted.WithLabelValues(camera).Inc()
	activeConnections.Inc()
}

// ConnectionEnded counts a finished connection. outcome is "lost" or "clean".
func ConnectionEnded(camera, outcome string) {
	connectionsEnded.WithLabelValues(camera, outcome).Inc()
	activeConnections.Dec()
}

// StreamSeen counts a stream announcement.
func StreamSeen(camera, media string) {
	streamsSeen.WithLabelValues(camera, media).Inc()
}
