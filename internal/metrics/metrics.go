// Package metrics exposes prometheus instrumentation for the command server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's collectors on a private registry. All record
// methods are safe on a nil receiver so instrumentation can be disabled by
// simply not constructing one.
type Metrics struct {
	registry *prometheus.Registry

	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge
	commandsTotal     *prometheus.CounterVec
	protocolErrors    *prometheus.CounterVec
	pluginsLoaded     prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		connectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "beacon_connections_total", Help: "accepted connections"},
		),
		connectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "beacon_connections_active", Help: "currently open connections"},
		),
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "beacon_commands_total", Help: "dispatched commands by name"},
			[]string{"cmd"},
		),
		protocolErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "beacon_protocol_errors_total", Help: "protocol errors by kind"},
			[]string{"kind"},
		),
		pluginsLoaded: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "beacon_plugins_loaded_total", Help: "plugin modules loaded"},
		),
	}

	m.registry.MustRegister(
		m.connectionsTotal,
		m.connectionsActive,
		m.commandsTotal,
		m.protocolErrors,
		m.pluginsLoaded,
	)

	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

func (m *Metrics) Command(name string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(name).Inc()
}

func (m *Metrics) ProtocolError(kind string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) PluginLoaded() {
	if m == nil {
		return
	}
	m.pluginsLoaded.Inc()
}
