// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to queue a pipeline run, GET /v1/runs and
//     /v1/runs/{run_id} to follow it.
//   - GET /v1/stats, /v1/articles/{id} and /v1/articles/search for reading
//     the article collection.
package api
