// Package metrics exposes the prometheus/client_golang collectors tracking
// Hydra head state, connection liveness, and proxied request traffic,
// promauto-registered the way the teacher's gateway app does it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CreditsAvailable is the current prepaid request balance per peer.
	CreditsAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hydra_bridge_credits_available",
			Help: "Number of requests the peer may still send before the next microtransaction",
		},
		[]string{"peer"},
	)

	// OpenHeads tracks how many Hydra heads are currently in the Open state.
	OpenHeads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hydra_bridge_open_heads",
			Help: "Number of Hydra heads currently in the Open state",
		},
	)

	// PingRTT observes round-trip time between a Ping and its matching Pong.
	PingRTT = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "hydra_bridge_ping_rtt_seconds",
			Help: "Round-trip time between a Ping frame and its Pong reply",
		},
		[]string{"peer"},
	)

	// TunnelBytesTotal counts bytes forwarded through the TCP-over-WebSocket tunnel.
	TunnelBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hydra_bridge_tunnel_bytes_total",
			Help: "Total bytes forwarded through the tunnel, by direction",
		},
		[]string{"peer", "direction"},
	)

	// RequestDuration observes proxied HTTP request latency end to end.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "hydra_bridge_request_duration_seconds",
			Help: "Duration of a proxied HTTP request, from envelope receipt to response send",
		},
		[]string{"method", "status"},
	)

	// RequestsRejected counts requests denied before reaching the backend.
	RequestsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hydra_bridge_requests_rejected_total",
			Help: "Requests rejected by the credit gate, by reason",
		},
		[]string{"reason"},
	)

	// HeadTransitions counts observed Hydra head status changes.
	HeadTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hydra_bridge_head_transitions_total",
			Help: "Observed Hydra head status transitions, by destination status",
		},
		[]string{"status"},
	)
)
