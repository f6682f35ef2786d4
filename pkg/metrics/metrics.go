package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Gate decisions keyed by terminal action (pass, redirect, deny, forbidden)
	// and route bucket. The request path is intentionally not a label.
	GateDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_gate_decisions_total",
		Help: "Total number of request gate decisions grouped by action and route bucket",
	}, []string{"action", "bucket"})
	GateRedirects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_gate_redirects_total",
		Help: "Total number of gate redirects grouped by target",
	}, []string{"target"})
	RateLimitDenied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_ratelimit_denied_total",
		Help: "Total number of requests denied by the rate limiter",
	}, []string{"bucket"})
	RateLimitBackendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_ratelimit_backend_errors_total",
		Help: "Total number of shared rate-limit backend failures (requests were allowed)",
	}, []string{"bucket"})
	CSRFFlagged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_csrf_flagged_total",
		Help: "Total number of mutating requests without same-origin evidence",
	}, []string{"method", "enforced"})

	// Authentication
	AdminTokenValidationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_admin_token_validation_failures_total",
		Help: "Total number of admin access tokens rejected by the auth platform",
	})
	PortalLogins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_portal_logins_total",
		Help: "Total number of portal login attempts grouped by result",
	}, []string{"result"})
	PortalInvalidCookies = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_portal_invalid_cookies_total",
		Help: "Total number of portal cookies purged because the signature did not verify",
	})

	// Audit pipeline
	AuditEventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_audit_events_emitted_total",
		Help: "Total number of audit events handed to a sink",
	}, []string{"sink"})
	AuditEventsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_audit_events_failed_total",
		Help: "Total number of audit events a sink failed to write",
	}, []string{"sink"})
	AuditEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_audit_events_dropped_total",
		Help: "Total number of audit events dropped because the queue was full",
	})
	AuditBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orders_audit_batch_size",
		Help:    "Number of audit events per batch handed to a batching sink",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
	})
	// 0 closed, 1 open, 2 half-open
	AuditCircuitState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orders_audit_circuit_state",
		Help: "State of the circuit breaker in front of an audit sink",
	}, []string{"sink"})
	AuditCircuitRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_audit_circuit_rejections_total",
		Help: "Total number of audit writes rejected because the sink's circuit was open",
	}, []string{"sink"})
)

func init() {
	prometheus.MustRegister(GateDecisions)
	prometheus.MustRegister(GateRedirects)
	prometheus.MustRegister(RateLimitDenied)
	prometheus.MustRegister(RateLimitBackendErrors)
	prometheus.MustRegister(CSRFFlagged)
	prometheus.MustRegister(AdminTokenValidationFailures)
	prometheus.MustRegister(PortalLogins)
	prometheus.MustRegister(PortalInvalidCookies)
	prometheus.MustRegister(AuditEventsEmitted)
	prometheus.MustRegister(AuditEventsFailed)
	prometheus.MustRegister(AuditEventsDropped)
	prometheus.MustRegister(AuditBatchSize)
	prometheus.MustRegister(AuditCircuitState)
	prometheus.MustRegister(AuditCircuitRejections)
}

// Handler returns the Prometheus scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
