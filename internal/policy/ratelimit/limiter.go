// Package ratelimit paces outbound requests with one token bucket per host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/clinic-scraper/internal/metrics"
)

const defaultIdleTTL = 10 * time.Minute

// Limiter manages per-host rate limits. A nil *Limiter never waits.
// Hosts idle for longer than the idle TTL are dropped once their bucket has refilled.
type Limiter struct {
	mu        sync.Mutex
	limiters  map[string]*hostLimiter
	rate      rate.Limit
	burst     int
	stage     string
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type hostLimiter struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the sustained requests per second per host; zero or less means unlimited.
	RPS   float64
	Burst int

	// Stage labels the wait metric, e.g. "fetch" or "render".
	Stage string

	// IdleTTL is how long a host may go unused before its limiter is released. Defaults to 10m.
	IdleTTL time.Duration
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	stage := cfg.Stage
	if stage == "" {
		stage = "fetch"
	}
	idleTTL := cfg.IdleTTL
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	return &Limiter{
		limiters: make(map[string]*hostLimiter),
		rate:     r,
		burst:    burst,
		stage:    stage,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// Unlimited reports whether Wait always returns immediately.
func (l *Limiter) Unlimited() bool {
	return l == nil || l.rate == rate.Inf
}

// Wait blocks until a token is available for rawURL's host or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if l.Unlimited() {
		return nil
	}
	host := hostKey(rawURL)
	limiter := l.forHost(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(l.stage, host, waited)
	}
	return nil
}

// Hosts reports how many hosts currently hold a limiter.
func (l *Limiter) Hosts() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.evictIdle(now)
	}
	entry, ok := l.limiters[host]
	if !ok {
		entry = &hostLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[host] = entry
	}
	entry.lastUsed = now
	return entry.limiter
}

// evictIdle drops hosts that have been idle past the TTL and whose bucket is full again,
// so a fresh limiter would behave identically. Callers hold l.mu.
func (l *Limiter) evictIdle(now time.Time) {
	for host, entry := range l.limiters {
		if now.Sub(entry.lastUsed) < l.idleTTL {
			continue
		}
		if entry.limiter.TokensAt(now) < float64(l.burst) {
			continue
		}
		delete(l.limiters, host)
	}
	l.lastSweep = now
}

func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
