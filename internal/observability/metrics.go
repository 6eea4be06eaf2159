package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Effect outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds all Prometheus metric instruments for the answer desk.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Effect worker metrics
	EffectsTotal    *prometheus.CounterVec
	EffectDuration  *prometheus.HistogramVec
	EffectsInFlight *prometheus.GaugeVec

	// Store metrics
	StoreTransitionsTotal *prometheus.CounterVec

	// Backend invocation metrics
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState prometheus.Gauge
	BackendRetriesTotal        *prometheus.CounterVec

	// Outbound messages
	CollaboratorIntentsTotal *prometheus.CounterVec
	NotificationsTotal       *prometheus.CounterVec
	EventSubscribers         prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "answerdesk_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "answerdesk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "answerdesk_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "answerdesk_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Effects
		EffectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "answerdesk_effect_total",
			Help: "Total number of completed effect workers.",
		}, []string{"intent", "outcome"}),
		EffectDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "answerdesk_effect_duration_seconds",
			Help:    "Effect worker duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"intent"}),
		EffectsInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "answerdesk_effects_in_flight",
			Help: "Number of running effect workers.",
		}, []string{"intent"}),

		// Store
		StoreTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "answerdesk_store_transitions_total",
			Help: "Total number of applied workflow transitions.",
		}, []string{"transition"}),

		// Backend
		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "answerdesk_backend_requests_total",
			Help: "Total number of answer service requests.",
		}, []string{"operation", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "answerdesk_backend_request_duration_seconds",
			Help:    "Answer service request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"operation"}),
		BackendCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "answerdesk_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		BackendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "answerdesk_backend_retries_total",
			Help: "Total number of answer service retries.",
		}, []string{"operation"}),

		// Outbound
		CollaboratorIntentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "answerdesk_collaborator_intents_total",
			Help: "Total number of intents sent to the question list.",
		}, []string{"type", "outcome"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "answerdesk_notifications_total",
			Help: "Total number of user notifications emitted.",
		}, []string{"level"}),
		EventSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "answerdesk_event_subscribers",
			Help: "Number of connected workflow event streams.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Effects
		m.EffectsTotal,
		m.EffectDuration,
		m.EffectsInFlight,
		// Store
		m.StoreTransitionsTotal,
		// Backend
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.BackendRetriesTotal,
		// Outbound
		m.CollaboratorIntentsTotal,
		m.NotificationsTotal,
		m.EventSubscribers,
	)

	return m
}

// --- Recording helpers ---
//
// All helpers are safe to call on a nil *Metrics, so components can be
// built without a registry in tests.

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// EffectStarted increments the in-flight gauge for intent.
func (m *Metrics) EffectStarted(intent string) {
	if m == nil {
		return
	}
	m.EffectsInFlight.WithLabelValues(intent).Inc()
}

// EffectFinished records a completed effect worker.
func (m *Metrics) EffectFinished(intent, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.EffectsInFlight.WithLabelValues(intent).Dec()
	m.EffectsTotal.WithLabelValues(intent, outcome).Inc()
	m.EffectDuration.WithLabelValues(intent).Observe(duration.Seconds())
}

// RecordTransition records one applied store transition.
func (m *Metrics) RecordTransition(name string) {
	if m == nil {
		return
	}
	m.StoreTransitionsTotal.WithLabelValues(name).Inc()
}

// RecordBackendRequest records an answer service request. status is 0 for
// transport failures.
func (m *Metrics) RecordBackendRequest(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the circuit breaker state.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetBackendCircuitBreakerState(state float64) {
	if m == nil {
		return
	}
	m.BackendCircuitBreakerState.Set(state)
}

// RecordBackendRetry records an answer service retry.
func (m *Metrics) RecordBackendRetry(operation string) {
	if m == nil {
		return
	}
	m.BackendRetriesTotal.WithLabelValues(operation).Inc()
}

// RecordCollaboratorIntent records an intent sent to the question list.
func (m *Metrics) RecordCollaboratorIntent(intentType, outcome string) {
	if m == nil {
		return
	}
	m.CollaboratorIntentsTotal.WithLabelValues(intentType, outcome).Inc()
}

// RecordNotification records an emitted user notification.
func (m *Metrics) RecordNotification(level string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(level).Inc()
}

// AddEventSubscribers adjusts the connected event stream gauge by delta.
func (m *Metrics) AddEventSubscribers(delta float64) {
	if m == nil {
		return
	}
	m.EventSubscribers.Add(delta)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Flush forwards to the underlying writer so event streams are not buffered.
func (w *metricsResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *metricsResponseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
