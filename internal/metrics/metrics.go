// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the scrape and extraction counters.
const (
	OutcomeSuccess = "success"
	OutcomeInvalid = "invalid"
	OutcomeCrawl   = "crawl_error"
	OutcomeExtract = "extraction_error"
	OutcomeFailure = "failure"
)

var (
	crawlerPagesTotal          *prometheus.CounterVec
	crawlerBytesTotal          *prometheus.CounterVec
	crawlerRenderTotal         *prometheus.CounterVec
	crawlerRobotsFallbackTotal *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	extractionsTotal           *prometheus.CounterVec
	extractionDurationSeconds  prometheus.Histogram
	scrapesTotal               *prometheus.CounterVec
	scrapePagesCrawled         prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages crawled, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerRenderTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_headless_renders_total",
				Help: "Pages sent to headless Chrome, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		crawlerRobotsFallbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_robots_fallback_total",
				Help: "robots.txt probes that fell back to allow-all, labeled by site and reason.",
			},
			[]string{"site", "reason"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delay_seconds",
				Help:    "Time spent waiting on per-host rate limits, labeled by stage and site.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"stage", "site"},
		)

		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_extractions_total",
				Help: "Model extraction calls, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		extractionDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_extraction_duration_seconds",
				Help:    "Latency of model extraction calls.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
			},
		)

		scrapesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_requests_total",
				Help: "Scrape requests handled, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		scrapePagesCrawled = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_pages_per_request",
				Help:    "Pages captured per successful crawl.",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 200},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCrawl records one fetched page and its size.
func ObserveCrawl(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveRender records a headless render attempt.
func ObserveRender(site string, success bool) {
	Init()
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeFailure
	}
	crawlerRenderTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveRobotsFallback records a robots.txt probe that could not be completed.
func ObserveRobotsFallback(site, reason string) {
	Init()
	crawlerRobotsFallbackTotal.WithLabelValues(SanitizeSite(site), reason).Inc()
}

// ObserveRateLimitDelay records time spent blocked on a host's rate limit.
func ObserveRateLimitDelay(stage, host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(stage, strings.ToLower(host)).Observe(d.Seconds())
}

// ObserveExtraction records one model call.
func ObserveExtraction(outcome string, duration time.Duration) {
	Init()
	extractionsTotal.WithLabelValues(outcome).Inc()
	extractionDurationSeconds.Observe(duration.Seconds())
}

// ObserveScrape records the outcome of a full scrape request.
func ObserveScrape(outcome string, pages int) {
	Init()
	scrapesTotal.WithLabelValues(outcome).Inc()
	if pages > 0 {
		scrapePagesCrawled.Observe(float64(pages))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
