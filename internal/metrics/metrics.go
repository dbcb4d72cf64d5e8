// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpstreamConnected is 1 while the bot gateway connection is open.
	UpstreamConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_upstream_connected",
			Help: "Whether the bot gateway connection is open",
		},
	)

	UpstreamReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_upstream_reconnects_total",
			Help: "Total number of scheduled reconnection attempts to the bot gateway",
		},
	)

	UpstreamFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_upstream_frames_total",
			Help: "Total number of frames received from the bot gateway by type",
		},
		[]string{"type"},
	)

	UpstreamMalformedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_upstream_malformed_frames_total",
			Help: "Total number of gateway frames discarded because they were not JSON objects",
		},
	)

	StaffClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_staff_clients",
			Help: "Number of connected staff websocket clients",
		},
	)

	StaffUpgradeRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_staff_upgrade_rejected_total",
			Help: "Total number of staff websocket upgrades rejected as unauthorized",
		},
	)

	Broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_broadcasts_total",
			Help: "Total number of events fanned out to staff clients by type",
		},
		[]string{"type"},
	)

	EventFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_event_failures_total",
			Help: "Total number of relay events dropped after a processing failure",
		},
		[]string{"type"},
	)

	StaffReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_staff_replies_total",
			Help: "Total number of staff replies by forwarding outcome",
		},
		[]string{"outcome"},
	)
)

// RecordUpstreamState updates the upstream connection gauge.
func RecordUpstreamState(connected bool) {
	if connected {
		UpstreamConnected.Set(1)
		return
	}
	UpstreamConnected.Set(0)
}

func RecordFrame(frameType string) {
	if frameType == "" {
		frameType = "untyped"
	}
	UpstreamFrames.WithLabelValues(frameType).Inc()
}

func RecordEventFailure(eventType string) {
	EventFailures.WithLabelValues(eventType).Inc()
}

func RecordBroadcast(eventType string) {
	Broadcasts.WithLabelValues(eventType).Inc()
}

func RecordStaffReply(forwarded bool) {
	if forwarded {
		StaffReplies.WithLabelValues("forwarded").Inc()
		return
	}
	StaffReplies.WithLabelValues("saved_only").Inc()
}
