package crawler

import (
	"context"
)

// Crawler traverses a site from a seed URL within the request bounds.
type Crawler interface {
	Crawl(ctx context.Context, request CrawlRequest) (CrawlResult, error)
}

// Renderer executes a page in a headless browser and returns its DOM.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (RenderedPage, error)
}

// HeadlessDetector decides whether a fetched document needs JavaScript rendering.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Extractor turns assembled site text into a ClinicRecord.
type Extractor interface {
	Extract(ctx context.Context, text string) (ClinicRecord, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher fingerprints page text so duplicate bodies can be skipped.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces request IDs.
type IDGenerator interface {
	NewID() (string, error)
}
