// Package telemetry exposes prometheus metrics for the evaluation loop.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal     prometheus.Counter
	CycleFailures   prometheus.Counter
	TicksDropped    prometheus.Counter
	CycleDuration   prometheus.Gauge
	ActiveAlerts    prometheus.Gauge
	PDUsInLastCycle prometheus.Gauge
	SuppressedRacks prometheus.Gauge
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rackwatch_cycles_total",
			Help: "Evaluation cycles attempted.",
		}),
		CycleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rackwatch_cycle_failures_total",
			Help: "Evaluation cycles that failed before reconciliation.",
		}),
		TicksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rackwatch_ticks_dropped_total",
			Help: "Ticks dropped because a cycle was still running.",
		}),
		CycleDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rackwatch_cycle_duration_seconds",
			Help: "Duration of the most recent evaluation cycle.",
		}),
		ActiveAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rackwatch_active_alerts",
			Help: "Rows currently in the active critical alert table.",
		}),
		PDUsInLastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rackwatch_pdus_last_cycle",
			Help: "PDUs evaluated in the most recent successful cycle.",
		}),
		SuppressedRacks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rackwatch_suppressed_racks",
			Help: "Racks currently in maintenance.",
		}),
	}
	registry.MustRegister(
		m.CyclesTotal, m.CycleFailures, m.TicksDropped,
		m.CycleDuration, m.ActiveAlerts, m.PDUsInLastCycle, m.SuppressedRacks,
	)
	return m
}

// Handler serves the registry in the standard exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
