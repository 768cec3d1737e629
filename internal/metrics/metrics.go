package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	OutboxDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxgate_outbox_deliveries_total",
			Help: "Webhook delivery attempts by outcome (delivered, retry, dead_letter)",
		},
		[]string{"outcome"},
	)

	OutboxDeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rxgate_outbox_delivery_duration_seconds",
			Help:    "Duration of webhook delivery attempts",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxReconciledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rxgate_outbox_reconciled_total",
			Help: "Approval events backfilled by the reconciler",
		},
	)

	FallbackEmailsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxgate_fallback_emails_total",
			Help: "Dead-letter fallback emails by result",
		},
		[]string{"result"},
	)

	GateDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxgate_gate_decisions_total",
			Help: "Purchase and fulfillment gate decisions",
		},
		[]string{"gate", "decision"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rxgate_http_request_duration_seconds",
			Help:    "HTTP request duration by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(OutboxDeliveriesTotal)
		prometheus.MustRegister(OutboxDeliveryDuration)
		prometheus.MustRegister(OutboxReconciledTotal)
		prometheus.MustRegister(FallbackEmailsTotal)
		prometheus.MustRegister(GateDecisionsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
	})
}
