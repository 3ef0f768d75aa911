// Package scraper orchestrates one crawl-and-extract request.
package scraper

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/clinic-scraper/internal/content"
	"github.com/JakeFAU/clinic-scraper/internal/crawler"
	"github.com/JakeFAU/clinic-scraper/internal/logging"
	"github.com/JakeFAU/clinic-scraper/internal/metrics"
)

// EventScrapeCompleted is the event name attached to published results.
const EventScrapeCompleted = "scrape.completed"

// ErrNoContent is wrapped in a CrawlError when the crawl produced no usable text.
var ErrNoContent = errors.New("no textual content")

const publishTimeout = 10 * time.Second

// Result is the outcome of a successful scrape.
type Result struct {
	Record       crawler.ClinicRecord
	PagesCrawled int
}

// Event is the payload published after a successful scrape.
type Event struct {
	RequestID    string               `json:"request_id"`
	URL          string               `json:"url"`
	PagesCrawled int                  `json:"pages_crawled"`
	Record       crawler.ClinicRecord `json:"record"`
	Timestamp    time.Time            `json:"timestamp"`
}

// PubSubAttributes exposes routing attributes for Pub/Sub.
func (e Event) PubSubAttributes() map[string]string {
	return map[string]string{"request_id": e.RequestID}
}

// Service runs validate, crawl, assemble, extract and publish in order.
type Service struct {
	crawler   crawler.Crawler
	extractor crawler.Extractor
	publisher crawler.Publisher
	limits    content.Limits
	logger    *zap.Logger
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithPublisher publishes an Event after every successful scrape.
func WithPublisher(p crawler.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithLimits sets the text assembly limits.
func WithLimits(limits content.Limits) Option {
	return func(s *Service) {
		s.limits = limits
	}
}

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service.
func New(c crawler.Crawler, e crawler.Extractor, opts ...Option) (*Service, error) {
	if c == nil {
		return nil, errors.New("scraper: crawler is required")
	}
	if e == nil {
		return nil, errors.New("scraper: extractor is required")
	}
	s := &Service{
		crawler:   c,
		extractor: e,
		limits:    content.DefaultLimits(),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Scrape validates req, crawls the site and extracts a ClinicRecord from the assembled text.
// Errors are *crawler.ValidationError, *crawler.CrawlError or *crawler.ExtractionError.
func (s *Service) Scrape(ctx context.Context, req crawler.CrawlRequest) (Result, error) {
	logger := logging.FromContext(ctx, s.logger).With(zap.String("url", req.URL))

	if err := req.Validate(); err != nil {
		metrics.ObserveScrape(metrics.OutcomeInvalid, 0)
		return Result{}, err
	}

	crawled, err := s.crawler.Crawl(ctx, req)
	if err != nil {
		metrics.ObserveScrape(metrics.OutcomeCrawl, 0)
		return Result{}, asCrawlError(req.URL, err)
	}
	pages := len(crawled.Pages)
	logger.Info("crawl finished",
		zap.Int("pages", pages),
		zap.Int("failed", crawled.Failed),
		zap.Duration("duration", crawled.Duration),
	)

	text := content.Assemble(crawled.Pages, s.limits)
	if strings.TrimSpace(text) == "" {
		metrics.ObserveScrape(metrics.OutcomeCrawl, pages)
		return Result{}, &crawler.CrawlError{URL: req.URL, Err: ErrNoContent}
	}

	record, err := s.extractor.Extract(ctx, text)
	if err != nil {
		metrics.ObserveScrape(metrics.OutcomeExtract, pages)
		return Result{}, asExtractionError(err)
	}

	metrics.ObserveScrape(metrics.OutcomeSuccess, pages)
	s.publish(ctx, logger, Event{
		RequestID:    logging.RequestID(ctx),
		URL:          req.URL,
		PagesCrawled: pages,
		Record:       record,
		Timestamp:    s.now().UTC(),
	})

	return Result{Record: record, PagesCrawled: pages}, nil
}

// publish sends the event without failing the request. It outlives a canceled request context.
func (s *Service) publish(ctx context.Context, logger *zap.Logger, event Event) {
	if s.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	id, err := s.publisher.Publish(pubCtx, EventScrapeCompleted, event)
	if err != nil {
		logger.Warn("publish result failed", zap.Error(err))
		return
	}
	logger.Debug("result published", zap.String("message_id", id))
}

func asCrawlError(rawURL string, err error) error {
	var crawlErr *crawler.CrawlError
	var validationErr *crawler.ValidationError
	if errors.As(err, &crawlErr) || errors.As(err, &validationErr) {
		return err
	}
	return &crawler.CrawlError{URL: rawURL, Err: err}
}

func asExtractionError(err error) error {
	var extractionErr *crawler.ExtractionError
	if errors.As(err, &extractionErr) {
		return err
	}
	return &crawler.ExtractionError{Stage: "extract", Err: err}
}
