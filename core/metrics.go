package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "terrabia_web"

// gatewayRequests counts backend calls by endpoint name and status code ("error" when no response).
var gatewayRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "gateway_requests_total",
		Help:      "Backend requests issued by the gateway, by endpoint and status.",
	},
	[]string{"endpoint", "status"},
)

var gatewayLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "gateway_request_duration_seconds",
		Help:      "Latency of backend requests that received a response.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"endpoint"},
)

// unauthorizedTotal counts 401 responses that cleared a token store.
var unauthorizedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "gateway_unauthorized_total",
		Help:      "Backend 401 responses that ended a browser session.",
	},
)

// authOperations counts auth session operations.
// Labels:
//   - op: startup, login, register, logout
//   - result: authenticated, anonymous, failed, busy, abandoned
var authOperations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "auth_operations_total",
		Help:      "Auth session operations by outcome.",
	},
	[]string{"op", "result"},
)

var guardDecisions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "guard_decisions_total",
		Help:      "Route guard decisions by route and decision.",
	},
	[]string{"route", "decision"},
)

var activeSessions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "auth_sessions_active",
		Help:      "Auth sessions currently held in memory.",
	},
)
