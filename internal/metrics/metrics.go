package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EvaluatorTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "evaluator_ticks_total",
			Help: "Total number of rule evaluation ticks",
		},
	)

	EvaluatorTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evaluator_tick_duration_seconds",
			Help:    "Duration of one full evaluation tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	AlertsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_opened_total",
			Help: "Alerts opened, by type",
		},
		[]string{"type"},
	)

	AlertsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_resolved_total",
			Help: "Alerts resolved, by type",
		},
		[]string{"type"},
	)

	RuleErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_errors_total",
			Help: "Rule evaluation failures, by type",
		},
		[]string{"type"},
	)

	SamplesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "samples_ingested_total",
			Help: "Samples accepted by the ingestion gateway, by kind",
		},
		[]string{"kind"},
	)

	SamplesRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "samples_rejected_total",
			Help: "Samples rejected by the ingestion gateway",
		},
	)

	TotalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func init() {
	prometheus.MustRegister(EvaluatorTicks)
	prometheus.MustRegister(EvaluatorTickDuration)
	prometheus.MustRegister(AlertsOpened)
	prometheus.MustRegister(AlertsResolved)
	prometheus.MustRegister(RuleErrors)
	prometheus.MustRegister(SamplesIngested)
	prometheus.MustRegister(SamplesRejected)
	prometheus.MustRegister(TotalRequests)
	prometheus.MustRegister(RequestDuration)
}

// Middleware records request count and latency per route.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{w, http.StatusOK}
		next.ServeHTTP(rw, r)

		RequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		TotalRequests.WithLabelValues(r.Method, r.URL.Path, http.StatusText(rw.status)).Inc()
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
