// Package api serves the monitor's own HTTP surface: liveness and
// readiness probes plus the Prometheus metrics endpoint.
package api
