// Package metrics holds the Prometheus collectors the server exports on
// /metrics.
//
// Collectors are owned by a *Metrics value instead of package globals so
// tests can build one against a fresh registry. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sandbox"

// Outcome labels for auth events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

type Metrics struct {
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	authEvents        *prometheus.CounterVec
	sessionsPurged    prometheus.Counter
	httpRequests      *prometheus.CounterVec
	rateLimited       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. It panics if a
// collector is already registered, following client_golang's MustRegister.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "API operations by name and result code (empty code is success).",
		}, []string{"operation", "code"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "API operation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Authentication lifecycle events (sign_up, sign_in, sign_out, ...) by outcome.",
		}, []string{"event", "outcome"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_purged_total",
			Help:      "Expired sessions removed by the purge job.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status.",
		}, []string{"method", "status"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"operation"}),
	}
	reg.MustRegister(
		m.operations,
		m.operationDuration,
		m.authEvents,
		m.sessionsPurged,
		m.httpRequests,
		m.rateLimited,
	)
	return m
}

func (m *Metrics) ObserveOperation(operation, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, code).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) AuthEvent(event string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.authEvents.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) SessionsPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsPurged.Add(float64(n))
}

func (m *Metrics) HTTPRequest(method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, statusClass(status)).Inc()
}

func (m *Metrics) RateLimited(operation string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(operation).Inc()
}

// statusClass collapses status codes to 2xx/3xx/4xx/5xx to bound label
// cardinality.
func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
