package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/clinic-scraper/internal/crawler"
	"github.com/JakeFAU/clinic-scraper/internal/policy/ratelimit"
)

// newClinicSite serves a small clinic website:
//
//	/         -> /about, /contact, a PDF, an off-site link, a mailto link
//	/about    -> /team
//	/contact
//	/team
func newClinicSite(t *testing.T, robots string) (*httptest.Server, *hitCounter) {
	t.Helper()
	hits := &hitCounter{counts: map[string]int{}}
	mux := http.NewServeMux()
	page := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			hits.add(r.URL.Path)
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, body)
		}
	}
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		if robots == "" {
			http.NotFound(w, nil)
			return
		}
		fmt.Fprint(w, robots)
	})
	mux.HandleFunc("/about", page(`<html><head><title>About</title></head><body>
		<h2>About Oak Street Vet</h2><a href="/team">Our team</a><a href="/">Home</a></body></html>`))
	mux.HandleFunc("/contact", page(`<html><body><p>Call (555) 123-4567</p></body></html>`))
	mux.HandleFunc("/team", page(`<html><body><p>Dr. Jane Smith, DVM</p></body></html>`))
	mux.HandleFunc("/brochure.pdf", func(w http.ResponseWriter, r *http.Request) {
		hits.add(r.URL.Path)
		w.Header().Set("Content-Type", "application/pdf")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		page(`<html><head><title>Oak Street Vet</title></head><body>
			<h1>Welcome to Oak Street Vet</h1>
			<a href="/about">About</a>
			<a href="/contact#form">Contact</a>
			<a href="/contact">Contact again</a>
			<a href="/brochure.pdf">Brochure</a>
			<a href="https://other.example.org/x">Partner</a>
			<a href="mailto:front@oak.example.com">Email</a>
		</body></html>`)(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, hits
}

type hitCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (h *hitCounter) add(path string) {
	h.mu.Lock()
	h.counts[path]++
	h.mu.Unlock()
}

func (h *hitCounter) get(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[path]
}

func pageURLs(pages []crawler.Page) []string {
	out := make([]string, 0, len(pages))
	for _, p := range pages {
		out = append(out, p.URL)
	}
	return out
}

func TestCrawlBreadthFirstWithinDepth(t *testing.T) {
	t.Parallel()

	srv, hits := newClinicSite(t, "")
	c := New(Config{UserAgent: "test-agent", Timeout: 5 * time.Second})

	result, err := c.Crawl(context.Background(), crawler.CrawlRequest{URL: srv.URL, MaxDepth: 1, MaxPages: 10})
	require.NoError(t, err)
	require.Equal(t, []string{srv.URL + "/", srv.URL + "/about", srv.URL + "/contact"}, pageURLs(result.Pages))
	require.Equal(t, srv.URL+"/", result.SeedURL)
	require.Equal(t, 0, result.Pages[0].Depth)
	require.Equal(t, 1, result.Pages[1].Depth)
	require.Equal(t, "Oak Street Vet", result.Pages[0].Title)
	require.Contains(t, result.Pages[2].Text, "(555) 123-4567")
	require.Zero(t, hits.get("/team"))
	require.Zero(t, hits.get("/brochure.pdf"))
	require.Equal(t, 1, hits.get("/contact"))
	require.Len(t, result.Pages[0].ContentHash, 64)
	require.NotEqual(t, result.Pages[0].ContentHash, result.Pages[1].ContentHash)
}

func TestCrawlFollowsDeeperLinks(t *testing.T) {
	t.Parallel()

	srv, _ := newClinicSite(t, "")
	c := New(Config{Timeout: 5 * time.Second})

	result, err := c.Crawl(context.Background(), crawler.CrawlRequest{URL: srv.URL + "/", MaxDepth: 2, MaxPages: 10})
	require.NoError(t, err)
	require.Equal(t,
		[]string{srv.URL + "/", srv.URL + "/about", srv.URL + "/contact", srv.URL + "/team"},
		pageURLs(result.Pages),
	)
	require.Equal(t, 2, result.Pages[3].Depth)
}

func TestCrawlStopsAtMaxPages(t *testing.T) {
	t.Parallel()

	srv, hits := newClinicSite(t, "")
	c := New(Config{Timeout: 5 * time.Second})

	result, err := c.Crawl(context.Background(), crawler.CrawlRequest{URL: srv.URL, MaxDepth: 3, MaxPages: 2})
	require.NoError(t, err)
	require.Len(t, result.Pages, 2)
	require.Zero(t, hits.get("/contact"))
	require.Zero(t, hits.get("/team"))
}

func TestCrawlPacesFetchesPerHost(t *testing.T) {
	t.Parallel()

	srv, _ := newClinicSite(t, "")
	c := New(Config{Timeout: 5 * time.Second}, WithRateLimiter(ratelimit.New(ratelimit.Config{RPS: 20, Burst: 1})))

	start := time.Now()
	result, err := c.Crawl(context.Background(), crawler.CrawlRequest{URL: srv.URL, MaxDepth: 1, MaxPages: 10})
	require.NoError(t, err)
	require.Len(t, result.Pages, 3)
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestCrawlRefusesBlockedHost(t *testing.T) {
	t.Parallel()

	srv, hits := newClinicSite(t, "")
	c := New(Config{Timeout: 5 * time.Second}, WithBlocklist(crawler.NewHostBlocklist([]string{"127.0.0.1"})))

	_, err := c.Crawl(context.Background(), crawler.CrawlRequest{URL: srv.URL, MaxDepth: 1, MaxPages: 10})
	var vErr *crawler.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "url", vErr.Field)
	require.Zero(t, hits.get("/"))
}

func TestCrawlRespectsRobots(t *testing.T) {
	t.Parallel()

	srv, hits := newClinicSite(t, "User-agent: *\nDisallow: /contact\n")
	c := New(Config{RespectRobots: true, Timeout: 5 * time.Second})

	result, err := c.Crawl(context.Background(), crawler.CrawlRequest{URL: srv.URL, MaxDepth: 1, MaxPages: 10})
	require.NoError(t, err)
	require.Equal(t, []string{srv.URL + "/", srv.URL + "/about"}, pageURLs(result.Pages))
	require.Zero(t, hits.get("/contact"))
}

func TestCrawlSeedFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{Timeout: 5 * time.Second})
	_, err := c.Crawl(context.Background(), crawler.CrawlRequest{URL: srv.URL, MaxDepth: 1, MaxPages: 10})
	var crawlErr *crawler.CrawlError
	require.ErrorAs(t, err, &crawlErr)
	require.Equal(t, srv.URL+"/", crawlErr.URL)
}

func TestCrawlUnreachableHost(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := New(Config{Timeout: 2 * time.Second})
	_, err := c.Crawl(context.Background(), crawler.CrawlRequest{URL: addr, MaxDepth: 1, MaxPages: 1})
	var crawlErr *crawler.CrawlError
	require.ErrorAs(t, err, &crawlErr)
}

func TestCrawlNonHTMLSeed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c := New(Config{Timeout: 5 * time.Second})
	_, err := c.Crawl(context.Background(), crawler.CrawlRequest{URL: srv.URL, MaxDepth: 1, MaxPages: 10})
	var crawlErr *crawler.CrawlError
	require.ErrorAs(t, err, &crawlErr)
}

func TestCrawlCanceledContext(t *testing.T) {
	t.Parallel()

	srv, _ := newClinicSite(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(Config{Timeout: 5 * time.Second})
	_, err := c.Crawl(ctx, crawler.CrawlRequest{URL: srv.URL, MaxDepth: 1, MaxPages: 10})
	var crawlErr *crawler.CrawlError
	require.ErrorAs(t, err, &crawlErr)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCrawlRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	_, err := c.Crawl(context.Background(), crawler.CrawlRequest{URL: "ftp://example.com", MaxDepth: 1, MaxPages: 1})
	var vErr *crawler.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestCrawlRendersPromotedPages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><div id="__next"></div></body></html>`)
	}))
	defer srv.Close()

	renderer := &stubRenderer{html: `<html><body><p>Open Monday to Friday 8-6</p></body></html>`}
	c := New(Config{Timeout: 5 * time.Second}, WithRenderer(renderer, stubDetector{promote: true}), WithLogger(zap.NewNop()))

	result, err := c.Crawl(context.Background(), crawler.CrawlRequest{URL: srv.URL, MaxDepth: 1, MaxPages: 1})
	require.NoError(t, err)
	require.Len(t, result.Pages, 1)
	require.True(t, result.Pages[0].Rendered)
	require.Contains(t, result.Pages[0].Text, "Open Monday to Friday")
	require.Equal(t, 1, renderer.calls)
}

func TestCrawlFallsBackWhenRenderFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><p>Raw clinic text</p></body></html>`)
	}))
	defer srv.Close()

	renderer := &stubRenderer{err: errors.New("chrome missing")}
	c := New(Config{Timeout: 5 * time.Second, RenderMode: crawler.RenderAlways}, WithRenderer(renderer, nil))

	result, err := c.Crawl(context.Background(), crawler.CrawlRequest{URL: srv.URL, MaxDepth: 1, MaxPages: 1})
	require.NoError(t, err)
	require.False(t, result.Pages[0].Rendered)
	require.Contains(t, result.Pages[0].Text, "Raw clinic text")
}

func TestShouldRenderModes(t *testing.T) {
	t.Parallel()

	resp := crawler.FetchResponse{StatusCode: http.StatusOK}
	require.False(t, New(Config{}).shouldRender(resp))

	renderer := &stubRenderer{}
	require.True(t, New(Config{RenderMode: crawler.RenderAlways}, WithRenderer(renderer, nil)).shouldRender(resp))
	require.False(t, New(Config{RenderMode: crawler.RenderNever}, WithRenderer(renderer, stubDetector{promote: true})).shouldRender(resp))
	require.True(t, New(Config{}, WithRenderer(renderer, stubDetector{promote: true})).shouldRender(resp))
	require.False(t, New(Config{}, WithRenderer(renderer, stubDetector{})).shouldRender(resp))
	require.False(t, New(Config{}, WithRenderer(renderer, nil)).shouldRender(resp))
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	q := &stubQueue{}
	run := newCrawlRun(context.Background(), crawler.CrawlRequest{MaxDepth: 1, MaxPages: 1}, "example.com", q)
	c := New(Config{})
	hooks := &stubHooks{}
	c.configureCollectorHooks(hooks, run)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	req := &colly.Request{URL: mustParseURL(t, "https://example.com/"), Headers: &http.Header{}, Depth: 1}
	hooks.onRequest(req)
	require.Equal(t, "en-US,en;q=0.9", req.Headers.Get("Accept-Language"))

	hooks.onError(&colly.Response{
		StatusCode: http.StatusNotFound,
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/missing"), Depth: 2},
	}, errors.New("Not Found"))
	require.Equal(t, 1, run.result("", 0).Failed)
	require.NoError(t, run.seedError())

	hooks.onError(&colly.Response{
		Request: &colly.Request{URL: mustParseURL(t, "https://example.com/"), Depth: 1},
	}, errors.New("boom"))
	require.EqualError(t, run.seedError(), "boom")

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`<html><body><p>hello</p><a href="/next">next</a></body></html>`),
		Headers:    &http.Header{"Content-Type": {"text/html"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/"), Depth: 1},
	})
	require.True(t, run.full())
	require.Empty(t, q.added, "no links are queued once the page bound is met")
}

func TestSameSiteLinks(t *testing.T) {
	t.Parallel()

	run := newCrawlRun(context.Background(), crawler.CrawlRequest{MaxDepth: 1, MaxPages: 5}, "example.com", &stubQueue{})
	html := `<html><body>
		<a href="/services?b=2&a=1#top">Services</a>
		<a href="https://www.example.com/contact">Contact</a>
		<a href="https://EXAMPLE.com/services?a=1&b=2">Dup</a>
		<a href="https://evil.example.net/">Off site</a>
		<a href="/logo.PNG">Logo</a>
		<a href="tel:5551234567">Call</a>
		<a href="javascript:void(0)">JS</a>
		<a href="#section">Anchor</a>
	</body></html>`
	links := run.sameSiteLinks("https://example.com/", html)
	require.Equal(t, []string{
		"https://example.com/services?a=1&b=2",
		"https://www.example.com/contact",
	}, links)

	base := `<html><head><base href="https://example.com/clinic/"></head><body><a href="hours">Hours</a></body></html>`
	require.Equal(t, []string{"https://example.com/clinic/hours"}, run.sameSiteLinks("https://example.com/", base))
}

func TestEnqueueDeduplicatesAndBoundsDepth(t *testing.T) {
	t.Parallel()

	q := &stubQueue{}
	run := newCrawlRun(context.Background(), crawler.CrawlRequest{MaxDepth: 1, MaxPages: 5}, "example.com", q)
	require.NoError(t, run.enqueue("https://example.com/", 1))
	require.NoError(t, run.enqueue("https://example.com/", 1))
	require.NoError(t, run.enqueue("https://example.com/a", 2))
	require.NoError(t, run.enqueue("https://example.com/b", 3))
	require.Len(t, q.added, 2)
	require.Equal(t, 2, q.added[1].Depth)
}

func TestIsHTML(t *testing.T) {
	t.Parallel()

	require.True(t, isHTML(crawler.FetchResponse{Headers: http.Header{"Content-Type": {"text/html; charset=utf-8"}}}))
	require.True(t, isHTML(crawler.FetchResponse{Body: []byte("<!DOCTYPE html><html></html>")}))
	require.False(t, isHTML(crawler.FetchResponse{Headers: http.Header{"Content-Type": {"image/png"}}}))
	require.False(t, isHTML(crawler.FetchResponse{Body: []byte(strings.Repeat("x", 10))}))
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}

type stubQueue struct {
	added []*colly.Request
}

func (s *stubQueue) AddRequest(r *colly.Request) error {
	s.added = append(s.added, r)
	return nil
}

type stubRenderer struct {
	mu    sync.Mutex
	html  string
	err   error
	calls int
}

func (s *stubRenderer) Render(_ context.Context, rawURL string) (crawler.RenderedPage, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return crawler.RenderedPage{}, s.err
	}
	return crawler.RenderedPage{URL: rawURL, StatusCode: http.StatusOK, HTML: s.html}, nil
}

type stubDetector struct {
	promote bool
}

func (s stubDetector) ShouldPromote(crawler.FetchResponse) bool {
	return s.promote
}
