// Package api hosts the operator HTTP surface of the collector:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the most recent run report.
package api
