// Package metrics wraps the in-memory Prometheus registry exposed at
// /metrics (spec §1: "a separate in-memory Prometheus registry is not
// authoritative storage" — internal/domain/metric + internal/storage own
// that; this package is purely the dashboard-facing counters/histograms).
// Grounded on the teacher's internal/app/metrics/metrics.go collector
// layout, generalized from HTTP/function/automation subsystems to
// workflow/node/retention subsystems.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds REFLUX's application-specific Prometheus collectors.
var Registry = prometheus.NewRegistry()

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reflux", Subsystem: "http", Name: "inflight_requests",
		Help: "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reflux", Subsystem: "http", Name: "requests_total",
		Help: "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reflux", Subsystem: "http", Name: "request_duration_seconds",
		Help:    "Duration of HTTP requests.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "path"})

	workflowRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reflux", Subsystem: "workflow", Name: "runs_total",
		Help: "Total number of workflow runs by terminal status.",
	}, []string{"status"})

	workflowDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reflux", Subsystem: "workflow", Name: "run_duration_seconds",
		Help:    "Duration of workflow runs.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"status"})

	nodeExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reflux", Subsystem: "node", Name: "executions_total",
		Help: "Total number of node dispatches by type and outcome.",
	}, []string{"node_type", "status", "error_type"})

	nodeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reflux", Subsystem: "node", Name: "execution_duration_ms",
		Help:    "Duration of node executions in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 12),
	}, []string{"node_type", "status"})

	cleanupDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reflux", Subsystem: "cleanup", Name: "deleted_total",
		Help: "Total rows deleted by the retention service, by category.",
	}, []string{"category"})

	cleanupRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reflux", Subsystem: "cleanup", Name: "runs_total",
		Help: "Total retention cleanup invocations by outcome.",
	}, []string{"triggered_by", "success"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		workflowRuns,
		workflowDuration,
		nodeExecutions,
		nodeDuration,
		cleanupDeleted,
		cleanupRuns,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// InstrumentHandler wraps next with HTTP in-flight/count/duration metrics.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordWorkflowRun records a terminal run transition.
func RecordWorkflowRun(status string, duration time.Duration) {
	workflowRuns.WithLabelValues(status).Inc()
	if duration > 0 {
		workflowDuration.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// RecordNodeExecution records one node dispatch outcome.
func RecordNodeExecution(nodeType, status, errorType string, duration time.Duration) {
	nodeExecutions.WithLabelValues(nodeType, status, errorType).Inc()
	nodeDuration.WithLabelValues(nodeType, status).Observe(float64(duration.Milliseconds()))
}

// RecordCleanup records one retention cleanup invocation and its deleted
// row counts by category.
func RecordCleanup(triggeredBy string, success bool, deleted map[string]int64) {
	cleanupRuns.WithLabelValues(triggeredBy, strconv.FormatBool(success)).Inc()
	for category, n := range deleted {
		if n > 0 {
			cleanupDeleted.WithLabelValues(category).Add(float64(n))
		}
	}
}

// canonicalPath collapses path segments that look like opaque ids (uuids,
// numeric ids) into a placeholder so /metrics doesn't explode into one
// label series per run/flow id.
func canonicalPath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if looksLikeID(seg) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

func looksLikeID(seg string) bool {
	if len(seg) < 8 {
		return false
	}
	hasDigit := false
	for _, r := range seg {
		if r >= '0' && r <= '9' {
			hasDigit = true
		} else if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '-') {
			return false
		}
	}
	return hasDigit
}
