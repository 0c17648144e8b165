package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics exposed on /metrics. Registered once at package load.
var (
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opshub",
		Subsystem: "jobs",
		Name:      "processed_total",
		Help:      "Jobs settled by the worker, by type and outcome.",
	}, []string{"type", "outcome"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "opshub",
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Handler execution time by job type.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"type"})

	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opshub",
		Subsystem: "webhooks",
		Name:      "received_total",
		Help:      "Inbound webhook deliveries, by platform and disposition.",
	}, []string{"platform", "disposition"})

	GatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opshub",
		Subsystem: "gateway",
		Name:      "calls_total",
		Help:      "Outbound platform API calls, by platform and outcome.",
	}, []string{"platform", "outcome"})

	GatewayRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opshub",
		Subsystem: "gateway",
		Name:      "rate_limited_total",
		Help:      "Calls denied locally by a token bucket, by platform and bucket.",
	}, []string{"platform", "bucket"})

	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "opshub",
		Subsystem: "stream",
		Name:      "clients",
		Help:      "Connected change-stream websocket clients.",
	})

	DiscrepanciesFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opshub",
		Subsystem: "reconcile",
		Name:      "discrepancies_total",
		Help:      "Drift findings by kind and severity.",
	}, []string{"kind", "severity"})

	BudgetFreezes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "opshub",
		Subsystem: "budgets",
		Name:      "freezes_total",
		Help:      "Budget circuit breakers tripped.",
	})
)
