package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "realtime"

// PromMetrics implements realtime.Metrics using Prometheus.
type PromMetrics struct {
	connections       prometheus.Counter
	disconnects       prometheus.Counter
	reconnectAttempts prometheus.Counter
	inbound           *prometheus.CounterVec
	outbound          *prometheus.CounterVec
	connStatus        prometheus.Gauge
}

// NewMetrics creates and registers the client metrics.
// If registry is nil, the global default registry is used.
func NewMetrics(registry prometheus.Registerer, labels map[string]string) *PromMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	m := &PromMetrics{
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "connections_total",
			Help:        "Total number of realtime sessions that reached the connected state.",
			ConstLabels: labels,
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "disconnects_total",
			Help:        "Total number of realtime disconnects.",
			ConstLabels: labels,
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "reconnect_attempts_total",
			Help:        "Total number of scheduled reconnect attempts.",
			ConstLabels: labels,
		}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "inbound_events_total",
			Help:        "Server events received, by event name.",
			ConstLabels: labels,
		}, []string{"event"}),
		outbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "outbound_events_total",
			Help:        "Client events written to the transport, by event name.",
			ConstLabels: labels,
		}, []string{"event"}),
		connStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "connection_status",
			Help:        "Current status of the connection (1 = connected, 0 = disconnected).",
			ConstLabels: labels,
		}),
	}

	registry.MustRegister(m.connections, m.disconnects, m.reconnectAttempts, m.inbound, m.outbound, m.connStatus)
	return m
}

func (m *PromMetrics) IncConnections() {
	m.connections.Inc()
}

func (m *PromMetrics) IncDisconnects() {
	m.disconnects.Inc()
}

func (m *PromMetrics) IncReconnectAttempts() {
	m.reconnectAttempts.Inc()
}

func (m *PromMetrics) IncInbound(event string) {
	m.inbound.WithLabelValues(event).Inc()
}

func (m *PromMetrics) IncOutbound(event string) {
	m.outbound.WithLabelValues(event).Inc()
}

func (m *PromMetrics) SetConnectionStatus(status float64) {
	m.connStatus.Set(status)
}

// Handler returns the metrics handler for the given gatherer, or the
// default one when g is nil. Mount it at "/metrics".
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
