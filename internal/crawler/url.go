package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, and sorts query parameters.
// It also removes fragments.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ParseSeedURL checks that rawURL is an absolute http(s) URL with a host.
func ParseSeedURL(rawURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, &ValidationError{Field: "url", Reason: "is required"}
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, &ValidationError{Field: "url", Reason: "could not be parsed"}
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, &ValidationError{Field: "url", Reason: "must use http or https scheme"}
	}
	if u.Hostname() == "" {
		return nil, &ValidationError{Field: "url", Reason: "must include a host"}
	}
	return u, nil
}

// SiteHosts returns the hosts considered part of the same site as host:
// the host itself and its "www." twin.
func SiteHosts(host string) []string {
	host = strings.ToLower(host)
	if bare, ok := strings.CutPrefix(host, "www."); ok {
		return []string{host, bare}
	}
	return []string{host, "www." + host}
}

// Validate enforces the URL and bound rules for a request.
func (r CrawlRequest) Validate() error {
	if _, err := ParseSeedURL(r.URL); err != nil {
		return err
	}
	if r.MaxDepth < MinDepth || r.MaxDepth > MaxDepth {
		return &ValidationError{
			Field:  "max_depth",
			Reason: fmt.Sprintf("must be between %d and %d", MinDepth, MaxDepth),
		}
	}
	if r.MaxPages < MinPages || r.MaxPages > MaxPages {
		return &ValidationError{
			Field:  "max_pages",
			Reason: fmt.Sprintf("must be between %d and %d", MinPages, MaxPages),
		}
	}
	return nil
}
