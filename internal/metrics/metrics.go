package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ayursutra_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ayursutra_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	sessionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ayursutra_sessions_created_total",
			Help: "Total therapy sessions created by therapy type",
		},
		[]string{"therapy_type"},
	)

	scheduleConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ayursutra_schedule_conflicts_total",
			Help: "Schedule generation or reschedule requests rejected on a slot conflict",
		},
	)

	notificationsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ayursutra_notifications_scheduled_total",
			Help: "Reminder notifications created by the scheduler",
		},
	)

	notificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ayursutra_notifications_dispatched_total",
			Help: "Outbound delivery attempts by terminal status and channel",
		},
		[]string{"status", "channel"},
	)

	dispatchDeferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ayursutra_dispatch_deferred_total",
			Help: "Sends deferred to a later tick by the gateway rate limit",
		},
		[]string{"channel"},
	)

	deliveryCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ayursutra_delivery_callbacks_total",
			Help: "Provider delivery-status callbacks applied, by mapped status",
		},
		[]string{"status"},
	)

	schedulerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ayursutra_scheduler_tick_duration_seconds",
			Help:    "Reminder scheduler tick duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 15, 60},
		},
	)

	schedulerTickErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ayursutra_scheduler_tick_errors_total",
			Help: "Scheduler ticks that hit a top-level error",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ayursutra_idempotency_hits_total",
			Help: "Requests served from the idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ayursutra_rate_limit_rejections_total",
			Help: "Requests rejected by the API rate limiter",
		},
		[]string{"key"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSessionsCreated counts sessions persisted by a generation request
func RecordSessionsCreated(therapyType string, count int) {
	sessionsCreated.WithLabelValues(therapyType).Add(float64(count))
}

// RecordScheduleConflict counts a rejected booking
func RecordScheduleConflict() {
	scheduleConflicts.Inc()
}

// RecordNotificationScheduled counts a reminder created by the scheduler
func RecordNotificationScheduled() {
	notificationsScheduled.Inc()
}

// RecordNotificationDispatched records a delivery attempt outcome
func RecordNotificationDispatched(status, channel string) {
	notificationsDispatched.WithLabelValues(status, channel).Inc()
}

// RecordDispatchDeferred records a send deferred by the gateway rate limit
func RecordDispatchDeferred(channel string) {
	dispatchDeferred.WithLabelValues(channel).Inc()
}

// RecordDeliveryCallback records an applied provider status callback
func RecordDeliveryCallback(status string) {
	deliveryCallbacks.WithLabelValues(status).Inc()
}

// RecordSchedulerTick records one tick's duration
func RecordSchedulerTick(duration time.Duration) {
	schedulerTickDuration.Observe(duration.Seconds())
}

// RecordSchedulerTickError counts a tick that failed at the top level
func RecordSchedulerTickError() {
	schedulerTickErrors.Inc()
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(key string) {
	rateLimitRejections.WithLabelValues(key).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
