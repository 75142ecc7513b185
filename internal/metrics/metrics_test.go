package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOperation("signIn", "", 10*time.Millisecond)
	m.ObserveOperation("signIn", "INVALID_CREDENTIALS", 10*time.Millisecond)
	m.AuthEvent("sign_in", nil)
	m.AuthEvent("sign_in", errors.New("nope"))
	m.AuthEvent("sign_in", errors.New("nope"))
	m.SessionsPurged(3)
	m.SessionsPurged(0)
	m.HTTPRequest("POST", 200)
	m.HTTPRequest("POST", 503)
	m.RateLimited("signIn")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("signIn", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("signIn", "INVALID_CREDENTIALS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authEvents.WithLabelValues("sign_in", OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.authEvents.WithLabelValues("sign_in", OutcomeFailure)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sessionsPurged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "5xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited.WithLabelValues("signIn")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveOperation("x", "", time.Second)
		m.AuthEvent("x", nil)
		m.SessionsPurged(1)
		m.HTTPRequest("GET", 200)
		m.RateLimited("x")
	})
}

func TestNew_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestStatusClass(t *testing.T) {
	for status, want := range map[int]string{200: "2xx", 302: "3xx", 404: "4xx", 500: "5xx", 101: "2xx"} {
		assert.Equal(t, want, statusClass(status), "status %d", status)
	}
}
