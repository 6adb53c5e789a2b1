// Package metrics exposes the Prometheus collectors of the payables core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InvoiceMatches counts matching runs by outcome: auto_matched,
	// pending_review, no_candidates or skipped.
	InvoiceMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payables_invoice_matches_total",
		Help: "Invoice matching runs by outcome",
	}, []string{"outcome"})

	MatchConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payables_invoice_match_confidence",
		Help:    "Best candidate confidence per matching run",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	InvoiceReviews = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payables_invoice_reviews_total",
		Help: "Reviewer actions on invoice documents",
	}, []string{"action"})

	// Payments counts payment actions: recorded or undone, per item.
	Payments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payables_payments_total",
		Help: "Cost item payments recorded or undone",
	}, []string{"action"})

	DispatchGroups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payables_dispatch_groups_total",
		Help: "Invoice request groups by result",
	}, []string{"result"})

	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payables_dispatch_send_seconds",
		Help:    "Time spent sending one invoice request group",
		Buckets: prometheus.DefBuckets,
	})

	// Transitions counts controller mutations by result: applied, rejected
	// or conflict.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payables_lifecycle_transitions_total",
		Help: "Cost item mutations applied by the lifecycle controller",
	}, []string{"result"})

	AuditFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payables_audit_write_failures_total",
		Help: "Audit entries that could not be written",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payables_match_queue_depth",
		Help: "Match jobs waiting in the in-process queue",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payables_http_requests_total",
		Help: "REST requests by method and status",
	}, []string{"method", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payables_http_request_duration_seconds",
		Help:    "REST request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)
