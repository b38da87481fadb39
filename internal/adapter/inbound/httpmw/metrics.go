// Package httpmw provides a net/http middleware adapter over the evaluation
// engine. It is the thin request-handling layer the core library is consumed
// by; the library itself never runs a server.
package httpmw

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the middleware.
// Pass to components that need to record metrics.
type Metrics struct {
	DecisionsTotal  *prometheus.CounterVec
	EvalDuration    prometheus.Histogram
	StateKeys       prometheus.GaugeFunc
	AuditDropsTotal prometheus.CounterFunc
	CommitsTotal    prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
// stateKeys and auditDrops may be nil when the corresponding gauge is not
// wanted.
func NewMetrics(reg prometheus.Registerer, stateKeys func() float64, auditDrops func() float64) *Metrics {
	m := &Metrics{
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Name:      "decisions_total",
				Help:      "Total evaluation decisions by outcome",
			},
			[]string{"outcome"}, // allow/deny/rate_limited/spending_cap_exceeded
		),
		EvalDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "tollgate",
				Name:      "evaluation_duration_seconds",
				Help:      "Policy evaluation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		CommitsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Name:      "commits_total",
				Help:      "Total usage commits after successful requests",
			},
		),
	}
	if stateKeys != nil {
		m.StateKeys = promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "tollgate",
				Name:      "state_keys",
				Help:      "Number of tracked rate/spending state keys",
			},
			stateKeys,
		)
	}
	if auditDrops != nil {
		m.AuditDropsTotal = promauto.With(reg).NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Name:      "audit_drops_total",
				Help:      "Total audit records dropped due to backpressure",
			},
			auditDrops,
		)
	}
	return m
}
