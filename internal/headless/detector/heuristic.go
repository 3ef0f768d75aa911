// Package detector decides when a crawled page must be rendered in a headless browser.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/clinic-scraper/internal/crawler"
)

// Heuristic flags script-driven pages whose raw HTML carries little readable text.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next_data__"),
	[]byte("id=\"__next\""),
	[]byte("id=\"root\"></div>"),
	[]byte("id=\"app\"></div>"),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("window.__nuxt__"),
	[]byte("wix-warmup-data"),
}

var jsRequiredMarkers = [][]byte{
	[]byte("enable javascript"),
	[]byte("javascript is required"),
	[]byte("javascript must be enabled"),
}

// ShouldPromote reports whether the raw response should be re-fetched with JavaScript enabled.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if ct := resp.Headers.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return false
	}
	body := bytes.ToLower(resp.Body)
	if len(body) == 0 {
		return true
	}
	for _, marker := range jsRequiredMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether <script> blocks cover a quarter or more of a lowercased body.
func scriptDensityHigh(lower []byte) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	openTag := []byte("<script")
	closeTag := []byte("</script>")
	scriptCoverage := 0
	searchPos := 0

	for searchPos < total {
		relativeStart := bytes.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := bytes.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Unterminated tag: the rest of the document counts as script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := bytes.Index(lower[contentStart:], closeTag)
		nextSearch := total
		if relativeEnd != -1 {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	return scriptCoverage*100/total >= 25
}
