// Package api hosts the operator HTTP server. Routes:
//   - GET /healthz and /readyz for probes; readiness pings the database.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs and /v1/runs/{run_id} for recorded dispatcher runs via the
//     store.RunRepository interface.
package api
