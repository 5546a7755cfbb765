package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics records payment reconciliation activity.
type PaymentMetrics struct {
	transitions    *prometheus.CounterVec
	observations   *prometheus.CounterVec
	activeMonitors prometheus.Gauge
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transitions_total",
		Help: "Payment status transitions applied by the reconciler.",
	}, []string{"from", "to"})
	observations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_observations_total",
		Help: "Payment observations received, by source and outcome.",
	}, []string{"source", "outcome"})
	activeMonitors := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "payment_active_monitors",
		Help: "Address monitors currently polling.",
	})
	reg.MustRegister(transitions, observations, activeMonitors)
	return &PaymentMetrics{
		transitions:    transitions,
		observations:   observations,
		activeMonitors: activeMonitors,
	}
}

// IncTransition counts one applied payment status transition.
func (p *PaymentMetrics) IncTransition(from, to string) {
	if p == nil || p.transitions == nil {
		return
	}
	p.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

// IncObservation counts one received observation and its outcome.
func (p *PaymentMetrics) IncObservation(source, outcome string) {
	if p == nil || p.observations == nil {
		return
	}
	p.observations.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

// SetActiveMonitors publishes the current number of polling monitors.
func (p *PaymentMetrics) SetActiveMonitors(count int) {
	if p == nil || p.activeMonitors == nil {
		return
	}
	p.activeMonitors.Set(float64(count))
}
