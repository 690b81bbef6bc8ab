package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ringline"

// Metrics holds the collectors for one process. Each instance owns its
// registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	CallsCreated       *prometheus.CounterVec
	CallsTerminal      *prometheus.CounterVec
	RegistryErrors     *prometheus.CounterVec
	PublishFailures    prometheus.Counter
	SessionTransitions *prometheus.CounterVec
	StaleEventsDropped prometheus.Counter
	GatewayClients     prometheus.Gauge
	ReaperSweeps       prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CallsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_created_total",
			Help:      "Calls created, by kind.",
		}, []string{"kind"}),
		CallsTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_terminal_total",
			Help:      "Calls that reached a terminal status, by status.",
		}, []string{"status"}),
		RegistryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_errors_total",
			Help:      "Failed registry operations, by operation.",
		}, []string{"op"}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_publish_failures_total",
			Help:      "Signaling events that could not be published.",
		}),
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Client session state transitions.",
		}, []string{"from", "to"}),
		StaleEventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_stale_events_dropped_total",
			Help:      "Incoming-call events discarded as older than the ring window.",
		}),
		GatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_clients",
			Help:      "Open signaling WebSocket connections.",
		}),
		ReaperSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_sweeps_total",
			Help:      "Ring reaper runs.",
		}),
	}

	m.registry.MustRegister(
		m.CallsCreated,
		m.CallsTerminal,
		m.RegistryErrors,
		m.PublishFailures,
		m.SessionTransitions,
		m.StaleEventsDropped,
		m.GatewayClients,
		m.ReaperSweeps,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
