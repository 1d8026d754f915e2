package services

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-circulation-backend/internal/domain"
)

// Domain counters. Label values are drawn from small fixed sets.
var (
	borrowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "circulation_borrows_total",
			Help: "Number of successful borrows.",
		},
	)

	// outcome: on_time | late
	returnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circulation_returns_total",
			Help: "Number of returns by outcome.",
		},
		[]string{"outcome"},
	)

	// reason: overdue | missed_pickup | monthly_recovery | manual
	creditAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circulation_credit_adjustments_total",
			Help: "Number of credit ledger entries by reason.",
		},
		[]string{"reason"},
	)

	// event: queued | allocated | fulfilled | expired | requeued
	reservationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circulation_reservations_total",
			Help: "Reservation lifecycle events.",
		},
		[]string{"event"},
	)

	// result: ok | partial | busy | error
	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circulation_job_runs_total",
			Help: "Maintenance job runs by result.",
		},
		[]string{"job", "result"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "circulation_job_duration_seconds",
			Help:    "Duration of maintenance job runs in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)
)

func init() {
	prometheus.MustRegister(borrowsTotal, returnsTotal, creditAdjustments, reservationEvents, jobRuns, jobDuration)
}

// reasonLabel buckets free-text ledger reasons into a bounded label set.
func reasonLabel(reason string) string {
	switch {
	case reason == domain.ReasonMissedHold:
		return "missed_pickup"
	case reason == domain.ReasonMonthly:
		return "monthly_recovery"
	case strings.HasPrefix(reason, "overdue return"):
		return "overdue"
	}
	return "manual"
}
