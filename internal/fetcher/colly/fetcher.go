// Package collyfetcher implements crawler.Crawler using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/queue"
	"go.uber.org/zap"

	"github.com/JakeFAU/clinic-scraper/internal/content"
	"github.com/JakeFAU/clinic-scraper/internal/crawler"
	"github.com/JakeFAU/clinic-scraper/internal/hash/sha256"
	"github.com/JakeFAU/clinic-scraper/internal/metrics"
	"github.com/JakeFAU/clinic-scraper/internal/policy/ratelimit"
)

const (
	defaultTimeout = 15 * time.Second
	queueCapacity  = 10000
)

var (
	errNoPages = errors.New("no pages captured")

	// nonHTMLPath matches links to resources that never carry page text.
	nonHTMLPath = regexp.MustCompile(`(?i)\.(pdf|jpe?g|png|gif|webp|svg|ico|bmp|tiff?|mp[34]|m4a|mov|avi|wmv|webm|wav|zip|gz|tgz|rar|7z|dmg|exe|docx?|xlsx?|pptx?|css|js|json|xml|rss|woff2?|ttf|eot)$`)
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	RenderMode    crawler.RenderMode
	MaxBodyBytes  int
}

// Crawler walks one site breadth-first with a fresh Colly collector per call.
type Crawler struct {
	cfg       Config
	transport http.RoundTripper
	renderer  crawler.Renderer
	detector  crawler.HeadlessDetector
	limiter   *ratelimit.Limiter
	blocklist *crawler.HostBlocklist
	hasher    crawler.Hasher
	logger    *zap.Logger
}

// Option customizes a Crawler.
type Option func(*Crawler)

// WithRenderer enables headless rendering. The detector decides promotion in auto mode.
func WithRenderer(renderer crawler.Renderer, detector crawler.HeadlessDetector) Option {
	return func(c *Crawler) {
		c.renderer = renderer
		c.detector = detector
	}
}

// WithRateLimiter paces page fetches per host.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(c *Crawler) {
		c.limiter = l
	}
}

// WithBlocklist refuses seeds whose host matches the list.
func WithBlocklist(b *crawler.HostBlocklist) Option {
	return func(c *Crawler) {
		c.blocklist = b
	}
}

// WithHasher replaces the SHA-256 page fingerprint.
func WithHasher(h crawler.Hasher) Option {
	return func(c *Crawler) {
		if h != nil {
			c.hasher = h
		}
	}
}

// WithLogger sets the crawler's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Crawler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type requestQueue interface {
	AddRequest(*colly.Request) error
}

// New builds a Crawler. The HTTP transport is shared by every crawl.
func New(cfg Config, opts ...Option) *Crawler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RenderMode == "" {
		cfg.RenderMode = crawler.RenderAuto
	}
	c := &Crawler{cfg: cfg, hasher: sha256.New(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	c.transport = newRobotsAwareTransport(newHTTPTransport(), c.logger)
	return c
}

// Crawl visits the seed and same-site links up to the request's depth and page bounds.
func (c *Crawler) Crawl(ctx context.Context, req crawler.CrawlRequest) (crawler.CrawlResult, error) {
	if err := req.Validate(); err != nil {
		return crawler.CrawlResult{}, err
	}
	seed, err := crawler.ParseSeedURL(req.URL)
	if err != nil {
		return crawler.CrawlResult{}, err
	}
	if c.blocklist.Blocked(seed.Hostname()) {
		return crawler.CrawlResult{}, &crawler.ValidationError{Field: "url", Reason: "host is not allowed"}
	}
	if seed.Path == "" {
		seed.Path = "/"
	}
	seedURL, err := crawler.NormalizeURL(seed.String())
	if err != nil {
		return crawler.CrawlResult{}, &crawler.ValidationError{Field: "url", Reason: "could not be normalized"}
	}

	start := time.Now()
	q, err := queue.New(1, &queue.InMemoryQueueStorage{MaxSize: queueCapacity})
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("create crawl queue: %w", err)
	}
	run := newCrawlRun(ctx, req, seed.Hostname(), q)
	collector := c.buildCollector(ctx, seed, req)
	c.configureCollectorHooks(collector, run)

	c.logger.Info("crawl started",
		zap.String("url", seedURL),
		zap.Int("max_depth", req.MaxDepth),
		zap.Int("max_pages", req.MaxPages),
	)
	if err := run.enqueue(seedURL, 1); err != nil {
		return crawler.CrawlResult{}, &crawler.CrawlError{URL: seedURL, Err: err}
	}
	if err := c.runQueue(ctx, q, collector); err != nil {
		return crawler.CrawlResult{}, &crawler.CrawlError{URL: seedURL, Err: err}
	}

	result := run.result(seedURL, time.Since(start))
	if seedErr := run.seedError(); seedErr != nil {
		return crawler.CrawlResult{}, &crawler.CrawlError{URL: seedURL, Err: seedErr}
	}
	if len(result.Pages) == 0 {
		return crawler.CrawlResult{}, &crawler.CrawlError{URL: seedURL, Err: errNoPages}
	}
	c.logger.Info("crawl finished",
		zap.String("url", seedURL),
		zap.Int("pages", len(result.Pages)),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (c *Crawler) buildCollector(ctx context.Context, seed *url.URL, req crawler.CrawlRequest) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.Async(false),
		colly.MaxDepth(req.MaxDepth + 1),
		colly.AllowedDomains(crawler.SiteHosts(seed.Hostname())...),
		colly.StdlibContext(ctx),
	}
	if c.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(c.cfg.UserAgent))
	}
	collector := colly.NewCollector(opts...)
	collector.IgnoreRobotsTxt = !c.cfg.RespectRobots
	if c.cfg.MaxBodyBytes > 0 {
		collector.MaxBodySize = c.cfg.MaxBodyBytes
	}
	collector.SetRequestTimeout(c.cfg.Timeout)
	collector.WithTransport(c.transport)
	return collector
}

func (c *Crawler) configureCollectorHooks(hooks collectorHooks, run *crawlRun) {
	hooks.OnRequest(func(r *colly.Request) {
		if run.ctx.Err() != nil || run.full() {
			r.Abort()
			return
		}
		if err := c.limiter.Wait(run.ctx, r.URL.String()); err != nil {
			c.logger.Debug("fetch skipped while waiting for host budget", zap.String("url", r.URL.String()), zap.Error(err))
			r.Abort()
			return
		}
		r.Headers.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		c.logger.Debug("fetching page", zap.String("url", r.URL.String()), zap.Int("depth", r.Depth-1))
	})

	hooks.OnResponse(func(r *colly.Response) {
		c.handleResponse(run, r)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		pageURL, depth, status := describeResponse(r)
		metrics.ObserveCrawl(pageURL, statusLabel(status), 0)
		if depth <= 1 {
			run.setSeedError(err)
			c.logger.Warn("seed fetch failed", zap.String("url", pageURL), zap.Int("status", status), zap.Error(err))
			return
		}
		run.recordFailure()
		c.logger.Debug("page fetch failed", zap.String("url", pageURL), zap.Int("status", status), zap.Error(err))
	})
}

func (c *Crawler) handleResponse(run *crawlRun, r *colly.Response) {
	resp := crawler.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    cloneHeader(r.Headers),
		Body:       r.Body,
	}
	if !isHTML(resp) {
		metrics.ObserveCrawl(resp.URL, "skipped", len(resp.Body))
		c.logger.Debug("skipping non-html response", zap.String("url", resp.URL))
		if r.Request.Depth <= 1 {
			run.setSeedError(fmt.Errorf("seed is not an html page (%s)", resp.Headers.Get("Content-Type")))
		}
		return
	}

	html := string(resp.Body)
	finalURL := resp.URL
	rendered := false
	if c.shouldRender(resp) {
		page, err := c.renderer.Render(run.ctx, resp.URL)
		metrics.ObserveRender(resp.URL, err == nil)
		if err != nil {
			c.logger.Warn("headless render failed, using raw html", zap.String("url", resp.URL), zap.Error(err))
		} else {
			html = page.HTML
			rendered = true
			if page.URL != "" {
				finalURL = page.URL
			}
		}
	}

	title, text, err := content.ToText(finalURL, html)
	if err != nil {
		run.recordFailure()
		c.logger.Warn("page conversion failed", zap.String("url", resp.URL), zap.Error(err))
		return
	}
	metrics.ObserveCrawl(resp.URL, statusLabel(resp.StatusCode), len(resp.Body))
	digest, err := c.hasher.Hash([]byte(text))
	if err != nil {
		c.logger.Debug("page hash failed", zap.String("url", resp.URL), zap.Error(err))
	}

	depth := r.Request.Depth
	if !run.addPage(crawler.Page{
		URL:         resp.URL,
		FinalURL:    finalURL,
		Title:       title,
		Text:        text,
		StatusCode:  resp.StatusCode,
		Rendered:    rendered,
		Depth:       depth - 1,
		ContentHash: digest,
	}) {
		return
	}
	if depth >= run.collectorDepth {
		return
	}
	for _, link := range run.sameSiteLinks(finalURL, html) {
		if err := run.enqueue(link, depth+1); err != nil {
			c.logger.Debug("enqueue failed", zap.String("url", link), zap.Error(err))
		}
	}
}

func (c *Crawler) shouldRender(resp crawler.FetchResponse) bool {
	if c.renderer == nil {
		return false
	}
	switch c.cfg.RenderMode {
	case crawler.RenderAlways:
		return true
	case crawler.RenderNever:
		return false
	default:
		return c.detector != nil && c.detector.ShouldPromote(resp)
	}
}

func (c *Crawler) runQueue(ctx context.Context, q *queue.Queue, collector *colly.Collector) error {
	done := make(chan error, 1)
	go func() {
		done <- q.Run(collector)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly crawl canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly queue run: %w", err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("colly crawl canceled: %w", ctx.Err())
		}
		return nil
	}
}

// crawlRun holds the mutable state of a single Crawl call.
type crawlRun struct {
	ctx            context.Context
	maxPages       int
	collectorDepth int
	hosts          map[string]struct{}
	queue          requestQueue

	mu      sync.Mutex
	seen    map[string]struct{}
	pages   []crawler.Page
	failed  int
	seedErr error
}

func newCrawlRun(ctx context.Context, req crawler.CrawlRequest, host string, q requestQueue) *crawlRun {
	hosts := make(map[string]struct{})
	for _, h := range crawler.SiteHosts(host) {
		hosts[h] = struct{}{}
	}
	return &crawlRun{
		ctx:            ctx,
		maxPages:       req.MaxPages,
		collectorDepth: req.MaxDepth + 1,
		hosts:          hosts,
		queue:          q,
		seen:           make(map[string]struct{}),
	}
}

func (r *crawlRun) enqueue(rawURL string, depth int) error {
	if depth > r.collectorDepth {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse queued url: %w", err)
	}
	r.mu.Lock()
	if _, ok := r.seen[rawURL]; ok || len(r.pages) >= r.maxPages {
		r.mu.Unlock()
		return nil
	}
	r.seen[rawURL] = struct{}{}
	r.mu.Unlock()

	if err := r.queue.AddRequest(&colly.Request{URL: u, Method: http.MethodGet, Depth: depth}); err != nil {
		return fmt.Errorf("queue request: %w", err)
	}
	return nil
}

func (r *crawlRun) full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pages) >= r.maxPages
}

// addPage records page unless the page bound is already met.
func (r *crawlRun) addPage(page crawler.Page) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pages) >= r.maxPages {
		return false
	}
	r.pages = append(r.pages, page)
	return true
}

func (r *crawlRun) recordFailure() {
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()
}

func (r *crawlRun) setSeedError(err error) {
	r.mu.Lock()
	if r.seedErr == nil {
		r.seedErr = err
	}
	r.mu.Unlock()
}

func (r *crawlRun) seedError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seedErr
}

func (r *crawlRun) result(seedURL string, elapsed time.Duration) crawler.CrawlResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	pages := make([]crawler.Page, len(r.pages))
	copy(pages, r.pages)
	return crawler.CrawlResult{
		SeedURL:  seedURL,
		Pages:    pages,
		Failed:   r.failed,
		Duration: elapsed,
	}
}

// sameSiteLinks returns the normalized, de-duplicated page links of html that stay on the site.
func (r *crawlRun) sameSiteLinks(pageURL, html string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = resolved
		}
	}

	var links []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		u, err := base.Parse(href)
		if err != nil {
			return
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		if _, ok := r.hosts[strings.ToLower(u.Hostname())]; !ok {
			return
		}
		if nonHTMLPath.MatchString(u.Path) {
			return
		}
		normalized, err := crawler.NormalizeURL(u.String())
		if err != nil {
			return
		}
		if _, ok := seen[normalized]; ok {
			return
		}
		seen[normalized] = struct{}{}
		links = append(links, normalized)
	})
	return links
}

func describeResponse(r *colly.Response) (string, int, int) {
	if r == nil || r.Request == nil || r.Request.URL == nil {
		return "", 0, 0
	}
	return r.Request.URL.String(), r.Request.Depth, r.StatusCode
}

func statusLabel(status int) string {
	if status == 0 {
		return "error"
	}
	return strconv.Itoa(status)
}

func isHTML(resp crawler.FetchResponse) bool {
	ct := resp.Headers.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(resp.Body)
	}
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func cloneHeader(h *http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}
