package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveHTTP("GET", "/v1/session", 200, 5*time.Millisecond)
	m.ObserveHTTP("GET", "/v1/session", 200, 5*time.Millisecond)
	m.RelayRequest("accepted")
	m.RelayRequest("busy")
	m.RelayDecision("reject", true)
	m.SetPending(true)
	m.PortOpened()
	m.PortOpened()
	m.PortClosed()
	m.SessionTransition("unlocked")
	m.NotificationAdded()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/v1/session", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayRequests.WithLabelValues("busy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayDecisions.WithLabelValues("reject", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayPorts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionTransitions.WithLabelValues("unlocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications))

	m.SetPending(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.relayPending))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RelayRequest("accepted")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `walletd_relay_requests_total{outcome="accepted"} 1`)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveHTTP("GET", "/", 200, time.Millisecond)
		m.RelayRequest("accepted")
		m.RelayDecision("accept", false)
		m.SetPending(true)
		m.PortOpened()
		m.PortClosed()
		m.SessionTransition("locked")
		m.NotificationAdded()
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
