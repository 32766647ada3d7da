// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the omnigate dispatcher.
package observability

import "github.com/prometheus/client_golang/prometheus"

// DispatchBuckets defines histogram buckets suited for handler and stage
// latencies, ranging from 1ms to 30s.
var DispatchBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnigate_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omnigate_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: DispatchBuckets,
		},
		[]string{"method"},
	)

	// DispatchTotal counts dispatched units of work by protocol and outcome.
	// The outcome is "ok" or the error kind.
	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnigate_dispatch_total",
			Help: "Dispatched units of work",
		},
		[]string{"protocol", "outcome"},
	)

	// StageDuration records the duration of each dispatch stage
	// (decode, route, invoke, encode, send).
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omnigate_dispatch_stage_duration_seconds",
			Help:    "Dispatch stage duration",
			Buckets: DispatchBuckets,
		},
		[]string{"protocol", "stage"},
	)

	// InFlight tracks handler invocations currently holding a concurrency slot.
	InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "omnigate_dispatch_in_flight",
			Help: "Handler invocations in flight",
		},
	)

	// Queued tracks units of work waiting for a concurrency slot.
	Queued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "omnigate_dispatch_queued",
			Help: "Units of work waiting for a concurrency slot",
		},
	)

	// EncodeRetriesTotal counts handler re-invocations after transient
	// encode failures.
	EncodeRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnigate_encode_retries_total",
			Help: "Re-invocations after transient encode failures",
		},
		[]string{"protocol"},
	)

	// SessionsActive tracks open sessions by protocol.
	SessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "omnigate_sessions_active",
			Help: "Live sessions",
		},
		[]string{"protocol"},
	)

	// SessionsClosedTotal counts closed sessions by protocol and close reason.
	SessionsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnigate_sessions_closed_total",
			Help: "Closed sessions",
		},
		[]string{"protocol", "reason"},
	)

	// SessionDropsTotal counts outbound messages discarded by a drop policy.
	SessionDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnigate_session_drops_total",
			Help: "Outbound messages dropped by backpressure policy",
		},
		[]string{"protocol", "policy"},
	)

	// ConnectionsTotal counts accepted network connections.
	ConnectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "omnigate_connections_total",
			Help: "Accepted connections",
		},
	)

	// ConnectionsActive tracks currently open network connections.
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "omnigate_connections_active",
			Help: "Open connections",
		},
	)

	// HandshakeRejectedTotal counts opening handshakes rejected before
	// reaching the router.
	HandshakeRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnigate_handshake_rejected_total",
			Help: "Rejected opening handshakes",
		},
		[]string{"protocol"},
	)

	// WebhookDeliveriesTotal counts recorded webhook deliveries by source.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnigate_webhook_deliveries_total",
			Help: "Recorded webhook deliveries",
		},
		[]string{"source"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnigate_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		DispatchTotal,
		StageDuration,
		InFlight,
		Queued,
		EncodeRetriesTotal,
		SessionsActive,
		SessionsClosedTotal,
		SessionDropsTotal,
		ConnectionsTotal,
		ConnectionsActive,
		HandshakeRejectedTotal,
		WebhookDeliveriesTotal,
		RateLimitRejectedTotal,
	)
}
