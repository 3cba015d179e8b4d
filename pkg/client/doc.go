// Package client implements the orchestrator API surface the decision core
// consumes: a plain HTTP client for the DolphinScheduler REST API, a TTL
// cache decorator for slow-changing listings, and a Prometheus metrics
// decorator. All three satisfy the API interface and compose freely.
package client
