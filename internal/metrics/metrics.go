// Package metrics exposes Prometheus collectors for the wallet daemon.
// All methods are safe on a nil *Metrics, which disables collection.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "walletd"

// Metrics holds every collector on its own registry
type Metrics struct {
	registry *prometheus.Registry

	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	relayRequests      *prometheus.CounterVec
	relayDecisions     *prometheus.CounterVec
	relayPending       prometheus.Gauge
	relayPorts         prometheus.Gauge
	sessionTransitions *prometheus.CounterVec
	notifications      prometheus.Counter
}

// New registers all collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		relayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_requests_total",
			Help:      "Client requests received from content scripts, by outcome.",
		}, []string{"outcome"}),
		relayDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_decisions_total",
			Help:      "Client request decisions, by decision and delivery result.",
		}, []string{"decision", "delivered"}),
		relayPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_pending_requests",
			Help:      "1 while a client request awaits a decision.",
		}),
		relayPorts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_open_ports",
			Help:      "Connected content-script ports.",
		}),
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state machine transitions, by event.",
		}, []string{"event"}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications appended to account logs.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.relayRequests,
		m.relayDecisions,
		m.relayPending,
		m.relayPorts,
		m.sessionTransitions,
		m.notifications,
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RelayRequest counts an inbound client request: accepted, busy, invalid or expired
func (m *Metrics) RelayRequest(outcome string) {
	if m == nil {
		return
	}
	m.relayRequests.WithLabelValues(outcome).Inc()
}

// RelayDecision counts a resolved request
func (m *Metrics) RelayDecision(decision string, delivered bool) {
	if m == nil {
		return
	}
	m.relayDecisions.WithLabelValues(decision, strconv.FormatBool(delivered)).Inc()
}

// SetPending sets the pending-request gauge
func (m *Metrics) SetPending(pending bool) {
	if m == nil {
		return
	}
	if pending {
		m.relayPending.Set(1)
	} else {
		m.relayPending.Set(0)
	}
}

// PortOpened increments the open port gauge
func (m *Metrics) PortOpened() {
	if m == nil {
		return
	}
	m.relayPorts.Inc()
}

// PortClosed decrements the open port gauge
func (m *Metrics) PortClosed() {
	if m == nil {
		return
	}
	m.relayPorts.Dec()
}

// SessionTransition counts a session event
func (m *Metrics) SessionTransition(event string) {
	if m == nil {
		return
	}
	m.sessionTransitions.WithLabelValues(event).Inc()
}

// NotificationAdded counts an appended notification
func (m *Metrics) NotificationAdded() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}
