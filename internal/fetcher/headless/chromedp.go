// Package headless renders pages in headless Chrome via chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/clinic-scraper/internal/crawler"
	"github.com/JakeFAU/clinic-scraper/internal/policy/ratelimit"
)

const defaultNavTimeout = 45 * time.Second

// ErrClosed is returned by Render after Close.
var ErrClosed = errors.New("headless renderer closed")

// Config controls the behavior of the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration

	// DomainQPS caps renders per host; zero disables the limit.
	DomainQPS float64

	// SettleDelay is waited after the body is ready so client-side rendering can finish.
	SettleDelay time.Duration
}

// Renderer implements crawler.Renderer using chromedp and headless Chrome.
type Renderer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	hostLimiter *ratelimit.Limiter
	logger      *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewChromedp creates a renderer backed by chromedp. Chrome is started lazily on the first render.
func NewChromedp(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.DomainQPS < 0 {
		return nil, fmt.Errorf("domain qps must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.NoSandbox,
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		hostLimiter: ratelimit.New(ratelimit.Config{RPS: cfg.DomainQPS, Burst: 1, Stage: "render"}),
		logger:      logger,
	}, nil
}

// Close cancels the allocator context, terminating Chrome.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.allocCancel()
}

// Ready returns ErrClosed once Close has been called.
func (r *Renderer) Ready(_ context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	return nil
}

// Render navigates to rawURL and returns the rendered DOM.
func (r *Renderer) Render(ctx context.Context, rawURL string) (crawler.RenderedPage, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return crawler.RenderedPage{}, ErrClosed
	}

	if err := r.acquire(ctx); err != nil {
		return crawler.RenderedPage{}, err
	}
	defer r.release()

	if err := r.hostLimiter.Wait(ctx, rawURL); err != nil {
		return crawler.RenderedPage{}, fmt.Errorf("render rate limit: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(r.allocator)
	defer tabCancel()

	taskCtx, cancel := context.WithTimeout(tabCtx, r.navTimeout())
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := r.run(taskCtx, rawURL)
	if err != nil {
		return crawler.RenderedPage{}, err
	}

	status, responseURL := meta.snapshotWithFallbacks(rawURL, finalURL)
	r.logger.Debug("page rendered",
		zap.String("url", rawURL),
		zap.String("final_url", responseURL),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(start)),
	)
	return crawler.RenderedPage{
		URL:        responseURL,
		StatusCode: status,
		HTML:       html,
		Duration:   time.Since(start),
	}, nil
}

func (r *Renderer) run(ctx context.Context, rawURL string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if r.cfg.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(r.cfg.SettleDelay))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

func (r *Renderer) navTimeout() time.Duration {
	if r.cfg.NavigationTimeout > 0 {
		return r.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

// forwardCancel cancels the tab when the caller's context ends.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, u := m.status, m.url
	m.mu.RUnlock()
	switch {
	case finalURL != "":
		u = finalURL
	case u != "":
	default:
		u = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, u
}
