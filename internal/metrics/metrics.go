// Package metrics provides Prometheus instrumentation for the chat client:
// connection lifecycle counters, event throughput, and queue depth.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconnects counts reconnection attempts, labeled by outcome:
	// "success" or "failure".
	Reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aetherchat_reconnects_total",
		Help: "Reconnection attempts by outcome",
	}, []string{"outcome"})

	// EventsTotal counts realtime events, labeled by direction: "in",
	// "out", or "dropped" (malformed inbound payloads).
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aetherchat_events_total",
		Help: "Realtime events processed by direction",
	}, []string{"direction"})

	// QueueDepth tracks the current number of outbound intents waiting for
	// a connection.
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aetherchat_outbound_queue_depth",
		Help: "Outbound intents queued while disconnected",
	})

	// SendLatency records the time from optimistic append to server
	// confirmation, in seconds.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aetherchat_send_latency_seconds",
		Help:    "Time from optimistic append to server confirmation",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	})
)

func init() {
	prometheus.MustRegister(
		Reconnects,
		EventsTotal,
		QueueDepth,
		SendLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
