// Package metrics holds Prometheus instruments that are used across the
// control plane.  All collectors are registered with the global registry,
// so importing this package in main.go is enough to expose them on
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pool_active_sessions",
			Help: "Number of tenant sessions currently open in the pool.",
		})

	SessionOpenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pool_session_open_total",
			Help: "Cumulative number of sessions successfully opened.",
		})

	SessionOpenErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pool_session_open_errors_total",
			Help: "Cumulative number of session open failures.",
		})

	SessionEvictTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pool_session_evict_total",
			Help: "Cumulative number of sessions evicted from the pool.",
		})

	ProvisionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provision_workflows_total",
			Help: "Provisioning workflows by kind and outcome.",
		},
		[]string{"kind", "outcome"})

	AuditWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Cumulative number of best-effort audit writes that failed.",
		})
)

func init() {
	prometheus.MustRegister(
		ActiveSessions,
		SessionOpenTotal,
		SessionOpenErrorsTotal,
		SessionEvictTotal,
		ProvisionTotal,
		AuditWriteFailuresTotal,
	)
}
