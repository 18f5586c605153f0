// Package api hosts the HTTP server, middleware, and handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/catalog to parse an uploaded CSV or XLSX catalog.
//   - POST /v1/runs to source images for a catalog, streaming progress as
//     server-sent events.
//   - GET /v1/runs and /v1/runs/{run_id} for run history via the RunHistory
//     interface.
package api
