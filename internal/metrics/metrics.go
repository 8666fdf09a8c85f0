package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	StreamConnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushrelay_stream_connects_total",
			Help: "Total number of successfully established inbound stream connections.",
		},
	)

	StreamReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrelay_stream_reconnects_total",
			Help: "Total number of stream reconnect attempts by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, network, stream_closed, unexpected
	)

	MessagesRelayedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushrelay_messages_relayed_total",
			Help: "Total number of stream messages handed to the dispatcher.",
		},
	)

	MalformedLinesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushrelay_malformed_lines_total",
			Help: "Total number of stream lines that failed to decode.",
		},
	)

	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrelay_dispatches_total",
			Help: "Total number of webhook dispatches by status.",
		},
		[]string{"status"}, // delivered / failed
	)

	ListenerRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushrelay_listener_restarts_total",
			Help: "Total number of listener tasks restarted after finishing.",
		},
	)

	ActiveListeners = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pushrelay_active_listeners",
			Help: "Number of listener tasks currently registered.",
		},
	)

	AuditPublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrelay_audit_publishes_total",
			Help: "Total number of audit-feed publishes by status.",
		},
		[]string{"status"}, // published / failed
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		StreamConnectsTotal,
		StreamReconnectsTotal,
		MessagesRelayedTotal,
		MalformedLinesTotal,
		DispatchesTotal,
		ListenerRestartsTotal,
		ActiveListeners,
		AuditPublishesTotal,
	)
}
