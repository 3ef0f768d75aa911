package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/clinic-scraper/internal/metrics"
)

const (
	robotsFallbackReasonTimeout     = "timeout"
	robotsFallbackReasonServerError = "server_error"
)

var robotsRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsAwareTransport retries robots.txt probes that time out and answers allow-all when the
// probe keeps failing or the server errors. Colly otherwise fails the page request (on transport
// errors) or disallows the whole site (on 5xx).
type robotsAwareTransport struct {
	base    http.RoundTripper
	logger  *zap.Logger
	backoff []time.Duration
}

func newRobotsAwareTransport(base http.RoundTripper, logger *zap.Logger) *robotsAwareTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &robotsAwareTransport{base: base, logger: logger, backoff: robotsRetryBackoff}
}

func (t *robotsAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("robots transport base roundtrip: %w", err)
		}
		return resp, nil
	}
	return t.roundTripWithRetry(req)
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

func (t *robotsAwareTransport) roundTripWithRetry(req *http.Request) (*http.Response, error) {
	maxAttempts := len(t.backoff) + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := t.base.RoundTrip(cloneRequest(req))
		if err == nil {
			if resp.StatusCode >= http.StatusInternalServerError {
				drain(resp)
				return t.fallback(req, robotsFallbackReasonServerError), nil
			}
			return resp, nil
		}
		if !isTransientError(err) {
			return nil, fmt.Errorf("robots roundtrip non-transient: %w", err)
		}
		if attempt == maxAttempts-1 {
			return t.fallback(req, robotsFallbackReasonTimeout), nil
		}
		if err := sleepWithContext(req.Context(), t.backoff[attempt]); err != nil {
			return nil, fmt.Errorf("robots roundtrip backoff sleep: %w", err)
		}
	}
	return nil, fmt.Errorf("robots roundtrip exhausted retries")
}

func (t *robotsAwareTransport) fallback(req *http.Request, reason string) *http.Response {
	t.logger.Warn("robots.txt unavailable, allowing crawl",
		zap.String("url", req.URL.String()),
		zap.String("reason", reason),
	)
	metrics.ObserveRobotsFallback(req.URL.String(), reason)
	return syntheticRobotsAllowAllResponse(req)
}

func cloneRequest(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	clone.Body = req.Body
	return clone
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff sleep context: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func syntheticRobotsAllowAllResponse(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        http.Header{"Content-Type": {"text/plain"}},
		Request:       req,
	}
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
