package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/JakeFAU/clinic-scraper/internal/config"
	"github.com/JakeFAU/clinic-scraper/internal/crawler"
)

const maxBodyBytes = 1 << 20

type crawlBody struct {
	URL      *string         `json:"url"`
	MaxDepth json.RawMessage `json:"max_depth"`
	MaxPages json.RawMessage `json:"max_pages"`
}

// parseCrawlRequest reads url, max_depth and max_pages from the query string and an optional JSON body.
// Body values win over query values; absent numbers take the configured defaults.
func parseCrawlRequest(r *http.Request, defaults config.CrawlerConfig) (crawler.CrawlRequest, error) {
	req := crawler.CrawlRequest{
		MaxDepth: defaults.MaxDepthDefault,
		MaxPages: defaults.MaxPagesDefault,
	}
	if req.MaxDepth == 0 {
		req.MaxDepth = crawler.DefaultMaxDepth
	}
	if req.MaxPages == 0 {
		req.MaxPages = crawler.DefaultMaxPages
	}

	q := r.URL.Query()
	if v := q.Get("url"); v != "" {
		req.URL = strings.TrimSpace(v)
	}
	if err := queryInt(q.Get("max_depth"), "max_depth", &req.MaxDepth); err != nil {
		return crawler.CrawlRequest{}, err
	}
	if err := queryInt(q.Get("max_pages"), "max_pages", &req.MaxPages); err != nil {
		return crawler.CrawlRequest{}, err
	}

	body, err := readBody(r)
	if err != nil {
		return crawler.CrawlRequest{}, err
	}
	if body != nil {
		if body.URL != nil {
			req.URL = strings.TrimSpace(*body.URL)
		}
		if err := bodyInt(body.MaxDepth, "max_depth", &req.MaxDepth); err != nil {
			return crawler.CrawlRequest{}, err
		}
		if err := bodyInt(body.MaxPages, "max_pages", &req.MaxPages); err != nil {
			return crawler.CrawlRequest{}, err
		}
	}

	if err := req.Validate(); err != nil {
		return crawler.CrawlRequest{}, err
	}
	return req, nil
}

func readBody(r *http.Request) (*crawlBody, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, &crawler.ValidationError{Field: "body", Reason: "could not be read"}
	}
	if len(raw) > maxBodyBytes {
		return nil, &crawler.ValidationError{Field: "body", Reason: "too large"}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var body crawlBody
	if err := dec.Decode(&body); err != nil {
		return nil, &crawler.ValidationError{Field: "body", Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &crawler.ValidationError{Field: "body", Reason: "unexpected data after JSON object"}
	}
	return &body, nil
}

func queryInt(raw, field string, dst *int) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return &crawler.ValidationError{Field: field, Reason: "must be an integer"}
	}
	*dst = n
	return nil
}

// bodyInt accepts a JSON integer or a string holding one. null leaves dst unchanged.
func bodyInt(raw json.RawMessage, field string, dst *int) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return &crawler.ValidationError{Field: field, Reason: "must be an integer"}
		}
		return queryInt(s, field, dst)
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return &crawler.ValidationError{Field: field, Reason: "must be an integer"}
	}
	*dst = n
	return nil
}
