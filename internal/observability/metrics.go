package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evreg_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evreg_registrations_total",
			Help: "Registration attempts by outcome",
		},
		[]string{"outcome"}, // approved, waitlisted, pending, denied, duplicate
	)

	PromotionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evreg_waitlist_promotions_total",
			Help: "Waitlisted registrations promoted to approved",
		},
	)

	TicketIssueFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evreg_ticket_issue_failures_total",
			Help: "Best-effort ticket issuance failures",
		},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evreg_db_tx_seconds",
			Help:    "Duration of registration units of work",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evreg_outbox_lag_seconds",
			Help: "Age of the oldest unpublished notification",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evreg_rate_limit_exceeded_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)
