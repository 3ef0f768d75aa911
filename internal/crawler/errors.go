package crawler

import (
	"fmt"
)

// ValidationError reports a request parameter rejected before any network activity.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CrawlError reports a network, navigation, or timeout failure from the crawl client.
type CrawlError struct {
	URL string
	Err error
}

func (e *CrawlError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("crawl %s failed", e.URL)
	}
	return fmt.Sprintf("crawl %s: %v", e.URL, e.Err)
}

func (e *CrawlError) Unwrap() error {
	return e.Err
}

// ExtractionError reports a failed or unusable response from the extraction model.
type ExtractionError struct {
	Stage string
	Err   error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("extraction %s failed", e.Stage)
	}
	return fmt.Sprintf("extraction %s: %v", e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
