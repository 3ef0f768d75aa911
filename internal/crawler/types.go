// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// Request bounds accepted at the API boundary.
const (
	MinDepth        = 1
	MaxDepth        = 10
	MinPages        = 1
	MaxPages        = 200
	DefaultMaxDepth = 1
	DefaultMaxPages = 10
)

// RenderMode selects when crawled pages are re-rendered in headless Chrome.
type RenderMode string

// Render modes.
const (
	RenderAuto   RenderMode = "auto"
	RenderAlways RenderMode = "always"
	RenderNever  RenderMode = "never"
)

// CrawlRequest is a single validated crawl-and-extract request.
type CrawlRequest struct {
	URL      string `json:"url"`
	MaxDepth int    `json:"max_depth"`
	MaxPages int    `json:"max_pages"`
}

// Page is the text captured from one crawled document.
type Page struct {
	URL        string `json:"url"`
	FinalURL   string `json:"final_url,omitempty"`
	Title      string `json:"title,omitempty"`
	Text       string `json:"text"`
	StatusCode int    `json:"status_code"`
	Rendered   bool   `json:"rendered"`
	Depth      int    `json:"depth"`

	// ContentHash fingerprints Text; pages with equal hashes carry the same text.
	ContentHash string `json:"content_hash,omitempty"`
}

// CrawlResult holds the pages captured for one request, in crawl order.
type CrawlResult struct {
	SeedURL  string        `json:"seed_url"`
	Pages    []Page        `json:"pages"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// FetchResponse is the raw document handed to the headless detector.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// RenderedPage is the DOM snapshot produced by a headless renderer.
type RenderedPage struct {
	URL        string
	StatusCode int
	HTML       string
	Duration   time.Duration
}

// BusinessHours holds opening hours per weekday as free text ("9:00 AM - 5:00 PM", "Closed").
type BusinessHours struct {
	Monday    string `json:"monday"`
	Tuesday   string `json:"tuesday"`
	Wednesday string `json:"wednesday"`
	Thursday  string `json:"thursday"`
	Friday    string `json:"friday"`
	Saturday  string `json:"saturday"`
	Sunday    string `json:"sunday"`
}

// Professional is a named team member listed on the site.
type Professional struct {
	Name        string `json:"name"`
	Role        string `json:"role"`
	IsAvailable *bool  `json:"is_available,omitempty"`
}

// ClinicRecord is the structured business record extracted from a crawl.
// Every field is optional; nil means the model found no value.
type ClinicRecord struct {
	Name               *string        `json:"name"`
	Phone              *string        `json:"phone"`
	Address            *string        `json:"address"`
	Email              *string        `json:"email"`
	Hours              *string        `json:"hours"`
	Services           []string       `json:"services"`
	City               *string        `json:"city,omitempty"`
	State              *string        `json:"state,omitempty"`
	PostalCode         *string        `json:"postal_code,omitempty"`
	Website            *string        `json:"website,omitempty"`
	BusinessHours      *BusinessHours `json:"business_hours,omitempty"`
	Is24x7             *bool          `json:"is_24_7,omitempty"`
	HolidayClosures    *string        `json:"holiday_closures,omitempty"`
	Professionals      []Professional `json:"professionals,omitempty"`
	Manager            *string        `json:"manager,omitempty"`
	OperationsLead     *string        `json:"operations_lead,omitempty"`
	ServicesNotOffered *string        `json:"services_not_offered,omitempty"`
	Specialties        []string       `json:"specialties,omitempty"`
}
