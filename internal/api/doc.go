// Package api hosts the HTTP server, middleware, and REST handlers that
// expose a crawl session. Notable routes:
//   - GET /healthz / readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawl, /v1/crawl/batch and /v1/detect to drive the session.
//   - GET /v1/stats, PUT /v1/stealth and POST /v1/reset to inspect and steer it.
//   - GET /v1/results for the most recent results held in memory.
package api
