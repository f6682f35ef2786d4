// Package metrics defines Prometheus metrics for the orders server, covering
// gate decisions, rate-limit denials, portal logins, admin token validation
// and the audit pipeline.
package metrics
