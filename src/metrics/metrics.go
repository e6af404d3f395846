package metrics

import (
	"net/http"

	"market-streamer/src/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketstream"

// -----------------------------------------------------------------------------

// StreamMetrics holds the stream client collectors on a private registry.
// A nil *StreamMetrics is valid and records nothing.
type StreamMetrics struct {
	registry *prometheus.Registry

	connectionState  prometheus.Gauge
	dialAttempts     prometheus.Counter
	connectionsTotal prometheus.Counter
	messagesReceived *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	sendsDropped     prometheus.Counter
	samplesIngested  prometheus.Counter
	activeSeries     prometheus.Gauge
	published        *prometheus.CounterVec
}

// -----------------------------------------------------------------------------

// NewStreamMetrics creates and registers all collectors
func NewStreamMetrics(component string) *StreamMetrics {
	labels := prometheus.Labels{"component": component}

	m := &StreamMetrics{
		registry: prometheus.NewRegistry(),

		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "connection",
			Name:        "state",
			Help:        "Connection state (0 disconnected, 1 connecting, 2 connected, 3 closing)",
			ConstLabels: labels,
		}),
		dialAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "connection",
			Name:        "dial_attempts_total",
			Help:        "Total connection attempts",
			ConstLabels: labels,
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "connection",
			Name:        "opened_total",
			Help:        "Total successful handshakes",
			ConstLabels: labels,
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "stream",
			Name:        "messages_received_total",
			Help:        "Decoded messages by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "stream",
			Name:        "errors_total",
			Help:        "Errors by type",
			ConstLabels: labels,
		}, []string{"type"}),
		sendsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "stream",
			Name:        "sends_dropped_total",
			Help:        "Outbound messages dropped while disconnected",
			ConstLabels: labels,
		}),
		samplesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "series",
			Name:        "samples_ingested_total",
			Help:        "Samples appended to series buffers",
			ConstLabels: labels,
		}),
		activeSeries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "series",
			Name:        "active",
			Help:        "Number of buffered series",
			ConstLabels: labels,
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "publisher",
			Name:        "messages_total",
			Help:        "Updates republished to the message bus by result",
			ConstLabels: labels,
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.connectionState,
		m.dialAttempts,
		m.connectionsTotal,
		m.messagesReceived,
		m.errorsTotal,
		m.sendsDropped,
		m.samplesIngested,
		m.activeSeries,
		m.published,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// -----------------------------------------------------------------------------

// Registry returns the underlying Prometheus registry
func (m *StreamMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// -----------------------------------------------------------------------------

// Handler serves the registry in the Prometheus exposition format
func (m *StreamMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// -----------------------------------------------------------------------------

// ObserveState records a connection state transition
func (m *StreamMetrics) ObserveState(to models.MConnectionState) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(to))
	switch to {
	case models.StateConnecting:
		m.dialAttempts.Inc()
	case models.StateConnected:
		m.connectionsTotal.Inc()
	}
}

// -----------------------------------------------------------------------------

// MessageReceived counts one decoded message
func (m *StreamMetrics) MessageReceived(kind models.MEnvelopeKind) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(string(kind)).Inc()
}

// -----------------------------------------------------------------------------

// Error counts one error of the given type
func (m *StreamMetrics) Error(kind string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(kind).Inc()
}

// -----------------------------------------------------------------------------

// SendDropped counts one message dropped while disconnected
func (m *StreamMetrics) SendDropped() {
	if m == nil {
		return
	}
	m.sendsDropped.Inc()
}

// -----------------------------------------------------------------------------

// SampleIngested counts one sample and updates the series gauge
func (m *StreamMetrics) SampleIngested(activeSeries int) {
	if m == nil {
		return
	}
	m.samplesIngested.Inc()
	m.activeSeries.Set(float64(activeSeries))
}

// -----------------------------------------------------------------------------

// SetActiveSeries sets the series gauge
func (m *StreamMetrics) SetActiveSeries(n int) {
	if m == nil {
		return
	}
	m.activeSeries.Set(float64(n))
}

// -----------------------------------------------------------------------------

// Published counts one republish attempt; result is "ok" or "error"
func (m *StreamMetrics) Published(result string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(result).Inc()
}
