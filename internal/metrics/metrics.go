// Package metrics exposes the daemon's Prometheus counters and gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	labelFromState = "from"
	labelToState   = "to"
	labelStatus    = "status"

	statusSuccess = "success"
	statusError   = "error"
)

// Metrics bundles the daemon's collectors against a given registerer, so
// tests can use a private registry instead of the global default one.
type Metrics struct {
	StateTransitionsTotal *prometheus.CounterVec
	TrafficEventsTotal    prometheus.Counter
	AttachRetriesTotal    *prometheus.CounterVec
	IdleSeconds           prometheus.Gauge
}

// New registers and returns the daemon's metric collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StateTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wg_ondemand_state_transitions_total",
				Help: "Total number of tunnel state machine transitions",
			},
			[]string{labelFromState, labelToState},
		),
		TrafficEventsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wg_ondemand_traffic_events_total",
				Help: "Total number of classified egress traffic events observed",
			},
		),
		AttachRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wg_ondemand_attach_retries_total",
				Help: "Total number of eBPF filter attach retry attempts",
			},
			[]string{labelStatus},
		),
		IdleSeconds: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wg_ondemand_idle_seconds",
				Help: "Seconds since the last observed tunnel activity",
			},
		),
	}
}

// RecordTransition increments the transition counter for a (from, to) pair.
func (m *Metrics) RecordTransition(from, to string) {
	m.StateTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordAttachRetry increments the retry counter with a success/error label.
func (m *Metrics) RecordAttachRetry(err error) {
	status := statusSuccess
	if err != nil {
		status = statusError
	}
	m.AttachRetriesTotal.WithLabelValues(status).Inc()
}
