// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET / and GET /v1/hello for liveness; they never touch the scraper.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scraper/crawl to crawl a site and extract a clinic record.
//     Parameters (url, max_depth, max_pages) come from the query string or a JSON body.
package api
