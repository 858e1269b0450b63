package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pulse_build_info",
			Help: "Build information of the Pulse client",
		},
		[]string{"version", "commit", "date"},
	)

	// Backend API client metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_api_requests_total",
			Help: "Total number of requests made to the Pulse backend API",
		},
		[]string{"operation", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_api_request_duration_seconds",
			Help:    "Duration of Pulse backend API requests in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
		[]string{"operation"},
	)

	APIRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_api_retries_total",
			Help: "Total number of retried Pulse backend API requests",
		},
		[]string{"operation"},
	)

	// Workflow runner metrics
	WorkflowStartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_workflow_starts_total",
			Help: "Total number of workflow start attempts",
		},
		[]string{"result"}, // "ok", "validation_error", "schema_unavailable", "transport_error"
	)

	WorkflowPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_workflow_polls_total",
			Help: "Total number of workflow step polls",
		},
		[]string{"result"}, // "ok", "error", "discarded"
	)

	WorkflowRunsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_workflow_runs_completed_total",
			Help: "Total number of workflow runs observed reaching a terminal state",
		},
		[]string{"outcome"}, // "done", "failed"
	)

	WorkflowPollsPerRun = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pulse_workflow_polls_per_run",
			Help:    "Number of polls issued before a run completed",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 30, 60, 120, 300},
		},
	)

	// Handoff service metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_handoff_http_requests_total",
			Help: "Total number of HTTP requests served by the handoff service",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_handoff_http_request_duration_seconds",
			Help:    "Duration of handoff service HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available so keys do not explode the label set.
		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = r.URL.Path
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordAPIRequest records metrics for a backend API request.
func RecordAPIRequest(operation string, statusCode int, duration time.Duration, err error) {
	status := strconv.Itoa(statusCode)
	if statusCode == 0 && err != nil {
		status = "transport_error"
	}
	APIRequestsTotal.WithLabelValues(operation, status).Inc()
	APIRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordWorkflowStart records the outcome of a workflow start attempt.
func RecordWorkflowStart(result string) {
	WorkflowStartsTotal.WithLabelValues(result).Inc()
}

// RecordWorkflowPoll records the outcome of a single poll.
func RecordWorkflowPoll(result string) {
	WorkflowPollsTotal.WithLabelValues(result).Inc()
}

// RecordWorkflowCompleted records a run reaching a terminal state.
func RecordWorkflowCompleted(failed bool, polls int) {
	outcome := "done"
	if failed {
		outcome = "failed"
	}
	WorkflowRunsCompletedTotal.WithLabelValues(outcome).Inc()
	WorkflowPollsPerRun.Observe(float64(polls))
}
