// Package main hosts the scraper service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes liveness (/, /v1/hello, /healthz, /readyz), Prometheus metrics and
//     POST /v1/scraper/crawl. Parameters are validated before any network activity.
//   - Crawl: a colly collector per request walks the site breadth-first through colly's queue, bounded by max_depth
//     and max_pages and kept to the seed host. Script-driven pages can be promoted to headless Chrome (chromedp).
//   - Text: pages are cleaned with goquery, converted to markdown and framed per page with character caps.
//   - Extraction: a single Gemini call with a JSON response schema returns the clinic record; the reply is decoded
//     strictly and any failure is reported as a 502.
//   - Fanout: successful results are published to Pub/Sub when a topic is configured, otherwise kept in memory.
//
// Quick checklist:
//   - Required: GEMINI_API_KEY (or SCRAPER_GEMINI_API_KEY). The process refuses to start without it.
//   - Listen address: HOST and PORT (default 0.0.0.0:8080), or SCRAPER_SERVER_HOST / SCRAPER_SERVER_PORT.
//   - Optional: SCRAPER_HEADLESS_ENABLED, SCRAPER_CRAWLER_IGNORE_ROBOTS, SCRAPER_AUTH_ENABLED with
//     SCRAPER_AUTH_API_KEY, SCRAPER_PUBSUB_PROJECT_ID with SCRAPER_PUBSUB_TOPIC_NAME.
//   - Run locally: go run ./cmd/scraper -config config.yaml (or rely solely on env overrides).
package main
