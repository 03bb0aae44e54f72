package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parking_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	bookings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_bookings_total",
		Help: "Booking attempts by result code",
	}, []string{"result"})

	closes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_reservation_closes_total",
		Help: "Reservation close attempts by kind (vacate, force) and result code",
	}, []string{"kind", "result"})

	revenue = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parking_revenue_total",
		Help: "Sum of costs charged on closed reservations",
	})

	parkedDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parking_parked_duration_hours",
		Help:    "Parked time of closed reservations",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 12, 24, 48},
	})

	reconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_reconcile_runs_total",
		Help: "Reconciliation runs by trigger source and result",
	}, []string{"source", "result"})

	reconcileCorrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_reconcile_corrections_total",
		Help: "Spot statuses rewritten by reconciliation, by target status",
	}, []string{"to"})

	txRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_tx_retries_total",
		Help: "Transactions retried after serialization failures or deadlocks",
	}, []string{"code"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_availability_cache_lookups_total",
		Help: "Availability cache lookups by outcome",
	}, []string{"outcome"})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func ObserveBooking(result string) {
	bookings.WithLabelValues(result).Inc()
}

// ObserveClose counts a close attempt. cost and parked are only recorded on success.
func ObserveClose(kind, result string, cost float64, parked time.Duration) {
	closes.WithLabelValues(kind, result).Inc()
	if result != "ok" {
		return
	}
	revenue.Add(cost)
	parkedDuration.Observe(parked.Hours())
}

func ObserveReconcile(source, result string) {
	reconcileRuns.WithLabelValues(source, result).Inc()
}

func ObserveCorrection(to string) {
	reconcileCorrections.WithLabelValues(to).Inc()
}

func ObserveTxRetry(code string) {
	txRetries.WithLabelValues(code).Inc()
}

func ObserveCacheLookup(outcome string) {
	cacheLookups.WithLabelValues(outcome).Inc()
}
