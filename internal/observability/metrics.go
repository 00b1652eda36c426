// Package observability provides the Prometheus metrics and OpenTelemetry
// providers shared across the decision services.
package observability

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "aegis"

// Metrics holds all Prometheus metrics for the decision engine.
// Pass to components that need to record metrics.
type Metrics struct {
	DecisionsTotal     *prometheus.CounterVec
	DenyReasonsTotal   *prometheus.CounterVec
	EscalationsTotal   prometheus.Counter
	StageBlocksTotal   *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	ResultCacheEvents  *prometheus.CounterVec
	AuditDropsTotal    prometheus.Counter
	PendingApprovals   prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "decisions_total",
				Help:      "Total authorization decisions by verdict",
			},
			[]string{"verdict"}, // verdict=allowed/denied/escalated/approved/rejected
		),
		DenyReasonsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "deny_reasons_total",
				Help:      "Hard-gate denials by gate",
			},
			[]string{"gate"},
		),
		EscalationsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "escalations_total",
				Help:      "Decisions routed to human review",
			},
		),
		StageBlocksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "stage_blocks_total",
				Help:      "Pipeline blocks by stage",
			},
			[]string{"stage"},
		),
		EvaluationDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Policy evaluation duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 12), // 1µs to ~16s
			},
		),
		ResultCacheEvents: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "result_cache_events_total",
				Help:      "Decision result cache events",
			},
			[]string{"event"}, // event=hit/miss
		),
		AuditDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "audit_drops_total",
				Help:      "Audit records dropped due to backpressure",
			},
		),
		PendingApprovals: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "pending_approvals",
				Help:      "Approval requests awaiting a reviewer",
			},
		),
	}
}

// GateOf maps a deny reason back to the gate that produced it, keyed on
// the stable reason prefixes. Unrecognized reasons map to "other".
func GateOf(reason string) string {
	switch {
	case strings.HasPrefix(reason, "Action "):
		return "action"
	case strings.HasPrefix(reason, "Outside time window"):
		return "time_window"
	case strings.HasPrefix(reason, "Rate limit"):
		return "rate_limit"
	case strings.HasPrefix(reason, "Insufficient funds"):
		return "wallet"
	case strings.HasPrefix(reason, "Trust too low"):
		return "trust"
	case strings.HasPrefix(reason, "Condition"):
		return "condition"
	default:
		return "other"
	}
}
