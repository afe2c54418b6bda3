// Package metrics registers the bridge's prometheus collectors. They are
// served by the status API at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshbridge_messages_received_total",
		Help: "Text messages received, per link.",
	}, []string{"link"})

	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshbridge_messages_sent_total",
		Help: "Text messages forwarded out, per link.",
	}, []string{"link"})

	SendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshbridge_send_errors_total",
		Help: "Failed forward attempts, per link.",
	}, []string{"link"})

	DuplicatesSuppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshbridge_duplicates_suppressed_total",
		Help: "Messages dropped by the dedup tracker, per receiving link.",
	}, []string{"link"})

	ProtocolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshbridge_protocol_errors_total",
		Help: "Malformed inbound messages dropped, per link.",
	}, []string{"link"})

	TrackerSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meshbridge_tracker_entries",
		Help: "Message identifiers currently held by the dedup tracker.",
	})

	LinkUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meshbridge_link_up",
		Help: "1 when the link is Connected, 0 otherwise.",
	}, []string{"link"})

	HealthProbeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshbridge_health_probe_failures_total",
		Help: "Failed liveness probes, per link.",
	}, []string{"link"})

	Escalations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshbridge_recovery_escalations_total",
		Help: "Reboot-then-reconnect escalations triggered, per link.",
	}, []string{"link"})
)

func init() {
	prometheus.MustRegister(
		MessagesReceived,
		MessagesSent,
		SendErrors,
		DuplicatesSuppressed,
		ProtocolErrors,
		TrackerSize,
		LinkUp,
		HealthProbeFailures,
		Escalations,
	)
}
