// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookingd_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookingd_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookingd_transitions_total",
			Help: "Booking status transitions by outcome",
		},
		[]string{"from", "to", "result"},
	)

	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookingd_assignments_total",
			Help: "Staff assignment operations by outcome",
		},
		[]string{"op", "result"},
	)

	PaymentAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookingd_payment_attempts_total",
			Help: "Payment attempts created or reused",
		},
		[]string{"method", "kind"},
	)

	ReconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookingd_reconciliations_total",
			Help: "Gateway callbacks by result and effect",
		},
		[]string{"result", "effect"},
	)

	OutboxPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookingd_outbox_published_total",
			Help: "Outbox events handed to a publisher",
		},
		[]string{"publisher", "status"},
	)

	CompletedUnsettledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookingd_completed_unsettled_total",
			Help: "Bookings completed before their payment settled",
		},
		[]string{"payment_status"},
	)

	CompletedUnsettledAmount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookingd_completed_unsettled_amount_total",
			Help: "Booking totals outstanding at completion",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookingd_outbox_pending",
			Help: "Events fetched but not yet published in the last relay pass",
		},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordTransition(from, to, result string) {
	TransitionsTotal.WithLabelValues(from, to, result).Inc()
}

func RecordAssignment(op, result string) {
	AssignmentsTotal.WithLabelValues(op, result).Inc()
}

func RecordPaymentAttempt(method, kind string) {
	PaymentAttemptsTotal.WithLabelValues(method, kind).Inc()
}

func RecordReconciliation(result, effect string) {
	ReconciliationsTotal.WithLabelValues(result, effect).Inc()
}

func RecordCompletedUnsettled(paymentStatus string, amount int64) {
	CompletedUnsettledTotal.WithLabelValues(paymentStatus).Inc()
	CompletedUnsettledAmount.Add(float64(amount))
}

func RecordPublish(publisher, status string) {
	OutboxPublishedTotal.WithLabelValues(publisher, status).Inc()
}
