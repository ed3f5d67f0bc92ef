// Package metrics provides Prometheus metrics for the quillchat relay and duplex channel.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quillchat"

var (
	// RelayRequestsTotal counts relay requests by route and status.
	RelayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Total number of relay HTTP requests by route and status.",
		},
		[]string{"route", "status"},
	)

	// RelayRequestDurationSeconds is relay latency, excluding long-lived streams.
	RelayRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "request_duration_seconds",
			Help:      "Relay HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2.5, 10),
		},
		[]string{"route"},
	)

	// SSEStreamsActive is the number of open event-stream relays.
	SSEStreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "sse_streams_active",
			Help:      "Number of active server-sent event streams.",
		},
	)

	// WebSocketBridgesActive is the number of bridged duplex connections.
	WebSocketBridgesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "websocket_bridges_active",
			Help:      "Number of active bridged WebSocket connections.",
		},
	)

	// RelayFramesTotal counts frames relayed by kind (parsed, raw, error, ping).
	RelayFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Total number of frames written to relay clients by kind.",
		},
		[]string{"kind"},
	)

	// TransportReconnectsTotal counts reconnect attempts of the duplex channel.
	TransportReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "reconnects_total",
			Help:      "Total number of scheduled reconnect attempts.",
		},
	)

	// TransportFramesDroppedTotal counts inbound frames that failed to decode.
	TransportFramesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_dropped_total",
			Help:      "Total number of inbound frames dropped as undecodable.",
		},
	)

	// TransportStatus is the channel state: 0 disconnected, 1 connecting, 2 connected.
	TransportStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "status",
			Help:      "Duplex channel status (0 disconnected, 1 connecting, 2 connected).",
		},
	)
)
