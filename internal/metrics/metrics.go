// Package metrics holds the Prometheus collectors shared by the server and the worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "credits_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "endpoint"})

	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_ledger_operations_total",
		Help: "Credit ledger debits and credits by outcome",
	}, []string{"operation", "outcome"})

	LedgerRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credits_ledger_retries_total",
		Help: "Ledger units of work retried after a concurrent modification",
	})

	TransformDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "credits_transform_duration_seconds",
		Help:    "Image transform latency",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
	}, []string{"kind", "outcome"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_jobs_processed_total",
		Help: "Background jobs processed by outcome",
	}, []string{"kind", "outcome"})

	PaymentEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_payment_events_total",
		Help: "Payment provider notifications by outcome",
	}, []string{"provider", "outcome"})
)
