package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "certrenew_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "certrenew_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	impactLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "certrenew_impact_lookups_total",
		Help: "Impact preview lookups by source and outcome.",
	}, []string{"source", "outcome"})

	pendingCSRs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "certrenew_pending_csrs",
		Help: "Signing requests currently in a non-terminal state.",
	})

	deployRunsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "certrenew_deploy_runs_total",
		Help: "Batch deploy runs recorded in history.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, impactLookupsTotal, pendingCSRs, deployRunsTotal)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(dur)
	})
}
