package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests chi did not route, so scanners hitting the
// ops port cannot grow label cardinality.
const unmatchedRoute = "unmatched"

var (
	opsRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokpool",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Ops endpoint requests by route, method and status class",
		},
		[]string{"route", "method", "code"},
	)

	opsRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tokpool",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Ops endpoint latency by route",
			// /readyz waits on worker probes; everything else is a snapshot.
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"route"},
	)

	readinessFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokpool",
			Subsystem: "http",
			Name:      "readiness_failures_total",
			Help:      "Failed /readyz checks by status code",
		},
		[]string{"status"},
	)

	adapterInvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokpool",
			Subsystem: "http",
			Name:      "adapter_invalidations_total",
			Help:      "Invalidate requests by outcome",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(opsRequestsTotal, opsRequestDuration, readinessFailuresTotal, adapterInvalidationsTotal)
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware records ops endpoint traffic. Scrapes of /metrics itself
// are not counted.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)
		// The route pattern is only known once chi has routed the request.
		route := routeLabel(r)
		if route == "/metrics" {
			return
		}
		opsRequestsTotal.WithLabelValues(route, r.Method, statusClass(sr.status)).Inc()
		opsRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// routeLabel returns the chi route pattern, or unmatchedRoute.
func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return unmatchedRoute
}

// statusClass folds a status code into "2xx", "4xx" and so on.
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code/100) + "xx"
}
