package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "widesquare_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "widesquare_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	listingsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "widesquare_listings_submitted_total",
		Help: "Listings created, by initial status",
	}, []string{"status"})

	listingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "widesquare_listing_transitions_total",
		Help: "Listing moderation decisions, by target status",
	}, []string{"status"})

	bookingAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "widesquare_booking_attempts_total",
		Help: "Schedule and enquiry attempts, by kind and result",
	}, []string{"kind", "result"})

	appointmentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "widesquare_appointment_transitions_total",
		Help: "Appointment status changes, by target status and path",
	}, []string{"status", "path"})

	notificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "widesquare_notifications_total",
		Help: "Notification dispatches, by result",
	}, []string{"result"})

	imageCleanups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "widesquare_image_cleanup_total",
		Help: "Best-effort stored image deletions, by result",
	}, []string{"result"})
)

// ObserveHTTPRequest records an HTTP request metric.
func ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// ObserveListingSubmitted counts a created listing by its initial status.
func ObserveListingSubmitted(status string) {
	listingsSubmitted.WithLabelValues(status).Inc()
}

// ObserveListingTransition counts an approve or reject decision.
func ObserveListingTransition(status string) {
	listingTransitions.WithLabelValues(status).Inc()
}

// ObserveBooking counts a schedule or enquiry attempt with its outcome
// ("created", "slot_conflict", "not_found", "invalid", "error").
func ObserveBooking(kind, result string) {
	bookingAttempts.WithLabelValues(kind, result).Inc()
}

// ObserveAppointmentTransition counts a status change; path is "strict",
// "force", "cancel" or "feedback".
func ObserveAppointmentTransition(status, path string) {
	appointmentTransitions.WithLabelValues(status, path).Inc()
}

// ObserveNotification counts a dispatch attempt ("sent" or "failed").
func ObserveNotification(result string) {
	notificationsSent.WithLabelValues(result).Inc()
}

// ObserveImageCleanup counts a best-effort image deletion ("deleted" or "failed").
func ObserveImageCleanup(result string) {
	imageCleanups.WithLabelValues(result).Inc()
}
