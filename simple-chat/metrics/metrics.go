package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Message flow
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simple_chat_messages_sent_total",
			Help: "Messages authored locally and appended to the history",
		},
	)

	MessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simple_chat_messages_received_total",
			Help: "Messages received from the relay and appended",
		},
	)

	MessagesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simple_chat_messages_deleted_total",
			Help: "Messages removed from the local history",
		},
	)

	EchoSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simple_chat_echo_suppressed_total",
			Help: "Received copies of own messages dropped in echo mode",
		},
	)

	// Transport
	EmitFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simple_chat_emit_failures_total",
			Help: "Outbound events that could not be written",
		},
		[]string{"reason"}, // "disconnected" or "write"
	)

	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simple_chat_frames_dropped_total",
			Help: "Inbound frames that were not a known event",
		},
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simple_chat_reconnects_total",
			Help: "Successful dials after the first one",
		},
	)

	Connected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "simple_chat_relay_connected",
			Help: "1 while a relay connection is open",
		},
	)
)
