package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the coordinator's prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	joins          *prometheus.CounterVec
	leaves         prometheus.Counter
	denials        prometheus.Counter
	clientEvents   *prometheus.CounterVec
	notifyFailures *prometheus.CounterVec
	storeErrors    *prometheus.CounterVec
	connections    prometheus.Gauge
}

// New registers all collectors under namespace on a private registry.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_joins_total",
			Help:      "Successful channel joins by channel kind.",
		}, []string{"kind"}),
		leaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_leaves_total",
			Help:      "Channel leaves of joined connections.",
		}),
		denials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_denials_total",
			Help:      "Private channel joins denied by the backend.",
		}),
		clientEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_events_total",
			Help:      "Client originated events by outcome.",
		}, []string{"result"}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Lifecycle notifications that failed, by sink.",
		}, []string{"sink"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Membership store failures by operation.",
		}, []string{"op"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_live",
			Help:      "Currently connected sockets.",
		}),
	}

	m.registry.MustRegister(
		m.joins, m.leaves, m.denials, m.clientEvents,
		m.notifyFailures, m.storeErrors, m.connections,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Join(kind string) {
	if m != nil {
		m.joins.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Leave() {
	if m != nil {
		m.leaves.Inc()
	}
}

func (m *Metrics) Denial() {
	if m != nil {
		m.denials.Inc()
	}
}

func (m *Metrics) ClientEvent(accepted bool) {
	if m == nil {
		return
	}
	result := "dropped"
	if accepted {
		result = "broadcast"
	}
	m.clientEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) NotifyFailure(sink string) {
	if m != nil {
		m.notifyFailures.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) StoreError(op string) {
	if m != nil {
		m.storeErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}
