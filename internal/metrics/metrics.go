package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ledger's Prometheus collectors.
type Metrics struct {
	SubmissionsTotal  *prometheus.CounterVec
	CreditsCharged    prometheus.Counter
	CreditsRefunded   prometheus.Counter
	RefundsTotal      prometheus.Counter
	TransitionsTotal  *prometheus.CounterVec
	PricingFallbacks  *prometheus.CounterVec
	ReportsTotal      *prometheus.CounterVec
	HTTPRequestsTotal *prometheus.CounterVec
}

// New registers all collectors on reg. Tests pass a fresh prometheus.NewRegistry().
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "genledger"
	}
	f := promauto.With(reg)

	return &Metrics{
		SubmissionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "submissions_total",
				Help:      "Generation submissions by result",
			},
			[]string{"provider", "result"}, // result: admitted, insufficient_credit, pricing_error, replayed, error
		),
		CreditsCharged: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "credits_charged_total",
				Help:      "Credits debited at admission",
			},
		),
		CreditsRefunded: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "credits_refunded_total",
				Help:      "Credits returned by refunds",
			},
		),
		RefundsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "refunds_total",
				Help:      "Jobs moved to refunded",
			},
		),
		TransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "transitions_total",
				Help:      "Job state transitions by target status and result",
			},
			[]string{"to", "result"}, // result: applied, duplicate, rejected
		),
		PricingFallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pricing",
				Name:      "fallback_total",
				Help:      "Price lookups that fell back to the default key",
			},
			[]string{"provider", "model"},
		),
		ReportsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "reports_total",
				Help:      "Executor reports processed by outcome and result",
			},
			[]string{"outcome", "result"},
		),
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
	}
}

// NewNop returns metrics registered on a private registry.
func NewNop() *Metrics {
	return New("genledger", prometheus.NewRegistry())
}
