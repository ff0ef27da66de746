// Package api hosts the HTTP server, middleware, and REST handlers for the
// scanner service. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scans plus the per-scan chunk, niche, and credential routes
//     that drive the scan state machine.
//   - GET /v1/scans/{scan_id}/events for SSE progress streaming.
package api
