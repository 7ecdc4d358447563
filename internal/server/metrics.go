package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for the relay. All helper methods
// handle a nil receiver. The server always builds a Metrics value; with
// the metrics listener disabled the collectors exist but are not
// registered.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ActiveConnections prometheus.Gauge
	RegisteredClients prometheus.Gauge

	// RelayedTotal counts relayed messages by kind (broadcast,
	// unicast, multicast, roster).
	RelayedTotal *prometheus.CounterVec

	RelayFailuresTotal         prometheus.Counter
	UnknownDestTotal           prometheus.Counter
	RejectedRegistrationsTotal prometheus.Counter
	DroppedPayloadsTotal       prometheus.Counter
}

// NewMetrics creates and registers relay metrics. Pass nil to create
// them without registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_connections_total",
			Help: "Total accepted client connections",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_active_connections",
			Help: "Currently open client connections",
		}),
		RegisteredClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_registered_clients",
			Help: "Currently registered handles",
		}),
		RelayedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatrelay_relayed_messages_total",
				Help: "Messages relayed or answered by kind",
			},
			[]string{"kind"},
		),
		RelayFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_relay_failures_total",
			Help: "Sends to a recipient that failed and were dropped",
		}),
		UnknownDestTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_unknown_destination_total",
			Help: "Destination handles that did not resolve",
		}),
		RejectedRegistrationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_rejected_registrations_total",
			Help: "Registrations refused for duplicate or invalid handles",
		}),
		DroppedPayloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_dropped_payloads_total",
			Help: "Payloads ignored: unknown flags, traffic from unregistered connections, unicasts without exactly one destination, and server-to-client flags",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ConnectionsTotal,
			m.ActiveConnections,
			m.RegisteredClients,
			m.RelayedTotal,
			m.RelayFailuresTotal,
			m.UnknownDestTotal,
			m.RejectedRegistrationsTotal,
			m.DroppedPayloadsTotal,
		)
	}
	return m
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
	m.ActiveConnections.Inc()
}

func (m *Metrics) connClosed(registered bool) {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
	if registered {
		m.RegisteredClients.Dec()
	}
}

func (m *Metrics) registered() {
	if m == nil {
		return
	}
	m.RegisteredClients.Inc()
}

func (m *Metrics) registrationRejected() {
	if m == nil {
		return
	}
	m.RejectedRegistrationsTotal.Inc()
}

func (m *Metrics) relayed(kind string) {
	if m == nil {
		return
	}
	m.RelayedTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) relayFailed() {
	if m == nil {
		return
	}
	m.RelayFailuresTotal.Inc()
}

func (m *Metrics) unknownDest() {
	if m == nil {
		return
	}
	m.UnknownDestTotal.Inc()
}

func (m *Metrics) dropped() {
	if m == nil {
		return
	}
	m.DroppedPayloadsTotal.Inc()
}
