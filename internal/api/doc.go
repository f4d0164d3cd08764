// Package api hosts the HTTP server, middleware, and REST handlers for operator
// and display access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the live scan status polled by the display.
//   - POST /v1/scans to queue a scan, GET /v1/scan-requests/{id} to follow it.
//   - GET /v1/scans and /v1/scans/{scan_id}/regions for scan history via the
//     store.ScanRepository interface.
package api
