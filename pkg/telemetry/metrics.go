// Package telemetry exposes the client's Prometheus metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sagecell"

var (
	// Session metrics
	HandshakesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "handshakes_total",
			Help:      "Kernel handshakes by result",
		},
		[]string{"result"},
	)

	HandshakeLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "handshake_seconds",
			Help:      "Kernel handshake latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// Transport metrics
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_received_total",
			Help:      "SockJS frames received by frame type",
		},
		[]string{"frame"},
	)

	FramesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_sent_total",
			Help:      "SockJS frames sent",
		},
	)

	TransportErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "errors_total",
			Help:      "Transport failures by operation",
		},
		[]string{"op"},
	)

	// Router metrics
	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "dispatches_total",
			Help:      "Inbound envelopes dispatched by outcome and fragment kind",
		},
		[]string{"outcome", "kind"},
	)

	DispatchMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "dispatch_misses_total",
			Help:      "Inbound envelopes addressed to an unregistered request id",
		},
	)

	MalformedEnvelopes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "malformed_envelopes_total",
			Help:      "Inbound payloads that failed to decode",
		},
	)

	RegisteredRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "registered_requests",
			Help:      "Requests currently holding a routing entry",
		},
	)

	// Preview server metrics
	Renders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "preview",
			Name:      "renders_total",
			Help:      "Document renders by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	RenderLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "preview",
			Name:      "render_seconds",
			Help:      "Document render latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	PreviewClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "preview",
			Name:      "ws_clients",
			Help:      "Connected preview websocket clients",
		},
	)
)

// RecordHandshake records one handshake attempt.
func RecordHandshake(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	HandshakesTotal.WithLabelValues(result).Inc()
	HandshakeLatency.Observe(d.Seconds())
}

// RecordFrameReceived counts an inbound SockJS frame.
func RecordFrameReceived(frame string) {
	FramesReceived.WithLabelValues(frame).Inc()
}

// RecordFrameSent counts an outbound SockJS frame.
func RecordFrameSent() {
	FramesSent.Inc()
}

// RecordTransportError counts a transport failure.
func RecordTransportError(op string) {
	TransportErrors.WithLabelValues(op).Inc()
}

// RecordDispatch counts a router dispatch.
func RecordDispatch(outcome, kind string) {
	Dispatches.WithLabelValues(outcome, kind).Inc()
}

// RecordDispatchMiss counts an envelope with no registered sink.
func RecordDispatchMiss() {
	DispatchMisses.Inc()
}

// RecordMalformedEnvelope counts an undecodable payload.
func RecordMalformedEnvelope() {
	MalformedEnvelopes.Inc()
}

// SetRegisteredRequests publishes the router table size.
func SetRegisteredRequests(n int) {
	RegisteredRequests.Set(float64(n))
}

// RecordRender records one preview render.
func RecordRender(trigger string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	Renders.WithLabelValues(trigger, result).Inc()
	RenderLatency.Observe(d.Seconds())
}
