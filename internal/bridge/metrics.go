package bridge

import "github.com/prometheus/client_golang/prometheus"

var (
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "editorbridge_bridge_messages_received_total",
			Help: "Inbound bridge messages accepted, by type.",
		},
		[]string{"type"},
	)

	messagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "editorbridge_bridge_messages_dropped_total",
			Help: "Inbound bridge messages discarded, by reason.",
		},
		[]string{"reason"},
	)

	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "editorbridge_bridge_messages_sent_total",
			Help: "Outbound bridge messages delivered to the host, by type.",
		},
		[]string{"type"},
	)

	sendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "editorbridge_bridge_send_failures_total",
			Help: "Outbound bridge messages that could not be delivered.",
		},
	)
)

func init() {
	prometheus.MustRegister(messagesReceived)
	prometheus.MustRegister(messagesDropped)
	prometheus.MustRegister(messagesSent)
	prometheus.MustRegister(sendFailures)
}
