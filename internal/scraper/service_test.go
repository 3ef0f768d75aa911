package scraper_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/clinic-scraper/internal/content"
	"github.com/JakeFAU/clinic-scraper/internal/crawler"
	"github.com/JakeFAU/clinic-scraper/internal/logging"
	"github.com/JakeFAU/clinic-scraper/internal/publisher/memory"
	"github.com/JakeFAU/clinic-scraper/internal/scraper"
)

// MockCrawler mocks crawler.Crawler.
type MockCrawler struct {
	mock.Mock
}

// Crawl satisfies crawler.Crawler.
func (m *MockCrawler) Crawl(ctx context.Context, req crawler.CrawlRequest) (crawler.CrawlResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(crawler.CrawlResult), args.Error(1)
}

// MockExtractor mocks crawler.Extractor.
type MockExtractor struct {
	mock.Mock
}

// Extract satisfies crawler.Extractor.
func (m *MockExtractor) Extract(ctx context.Context, text string) (crawler.ClinicRecord, error) {
	args := m.Called(ctx, text)
	return args.Get(0).(crawler.ClinicRecord), args.Error(1)
}

func strPtr(s string) *string { return &s }

func validRequest() crawler.CrawlRequest {
	return crawler.CrawlRequest{URL: "https://oak.example.com", MaxDepth: 1, MaxPages: 10}
}

func twoPages() crawler.CrawlResult {
	return crawler.CrawlResult{
		SeedURL: "https://oak.example.com/",
		Pages: []crawler.Page{
			{URL: "https://oak.example.com/", Text: "Oak Street Animal Hospital"},
			{URL: "https://oak.example.com/contact", Text: "Call (555) 010-2000"},
		},
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := scraper.New(nil, &MockExtractor{})
	require.Error(t, err)
	_, err = scraper.New(&MockCrawler{}, nil)
	require.Error(t, err)
}

func TestScrapeSuccess(t *testing.T) {
	t.Parallel()

	crawlerMock := &MockCrawler{}
	extractorMock := &MockExtractor{}
	pub := memory.New()
	fixed := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	record := crawler.ClinicRecord{Name: strPtr("Oak Street Animal Hospital"), Services: []string{"Microchipping"}}
	crawlerMock.On("Crawl", mock.Anything, validRequest()).Return(twoPages(), nil).Once()
	extractorMock.On("Extract", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "--- PAGE: https://oak.example.com/ ---\nOak Street Animal Hospital") &&
			strings.Contains(text, "--- PAGE: https://oak.example.com/contact ---\nCall (555) 010-2000")
	})).Return(record, nil).Once()

	svc, err := scraper.New(crawlerMock, extractorMock,
		scraper.WithPublisher(pub),
		scraper.WithClock(func() time.Time { return fixed }),
	)
	require.NoError(t, err)

	ctx := logging.WithRequestID(context.Background(), "req-1")
	res, err := svc.Scrape(ctx, validRequest())
	require.NoError(t, err)
	require.Equal(t, 2, res.PagesCrawled)
	require.Equal(t, record, res.Record)

	crawlerMock.AssertExpectations(t)
	extractorMock.AssertExpectations(t)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, scraper.EventScrapeCompleted, msgs[0].Topic)

	var event scraper.Event
	require.NoError(t, json.Unmarshal(msgs[0].Data, &event))
	require.Equal(t, "req-1", event.RequestID)
	require.Equal(t, "https://oak.example.com", event.URL)
	require.Equal(t, 2, event.PagesCrawled)
	require.True(t, fixed.Equal(event.Timestamp))
	require.Equal(t, "Oak Street Animal Hospital", *event.Record.Name)
}

func TestScrapeValidationCallsNothing(t *testing.T) {
	t.Parallel()

	crawlerMock := &MockCrawler{}
	extractorMock := &MockExtractor{}
	svc, err := scraper.New(crawlerMock, extractorMock)
	require.NoError(t, err)

	tests := []crawler.CrawlRequest{
		{URL: "", MaxDepth: 1, MaxPages: 10},
		{URL: "ftp://oak.example.com", MaxDepth: 1, MaxPages: 10},
		{URL: "https://oak.example.com", MaxDepth: 0, MaxPages: 10},
		{URL: "https://oak.example.com", MaxDepth: 11, MaxPages: 10},
		{URL: "https://oak.example.com", MaxDepth: 1, MaxPages: 0},
		{URL: "https://oak.example.com", MaxDepth: 1, MaxPages: 201},
	}
	for _, req := range tests {
		_, err := svc.Scrape(context.Background(), req)
		var validationErr *crawler.ValidationError
		require.ErrorAs(t, err, &validationErr, "%+v", req)
	}

	crawlerMock.AssertNotCalled(t, "Crawl", mock.Anything, mock.Anything)
	extractorMock.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}

func TestScrapeCrawlErrorSkipsExtraction(t *testing.T) {
	t.Parallel()

	crawlerMock := &MockCrawler{}
	extractorMock := &MockExtractor{}
	pub := memory.New()
	crawlErr := &crawler.CrawlError{URL: "https://oak.example.com", Err: errors.New("dial tcp: refused")}
	crawlerMock.On("Crawl", mock.Anything, mock.Anything).Return(crawler.CrawlResult{}, crawlErr).Once()

	svc, err := scraper.New(crawlerMock, extractorMock, scraper.WithPublisher(pub))
	require.NoError(t, err)

	_, err = svc.Scrape(context.Background(), validRequest())
	require.ErrorIs(t, err, crawlErr)
	extractorMock.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
	require.Empty(t, pub.Messages())
}

func TestScrapeWrapsForeignCrawlErrors(t *testing.T) {
	t.Parallel()

	crawlerMock := &MockCrawler{}
	crawlerMock.On("Crawl", mock.Anything, mock.Anything).Return(crawler.CrawlResult{}, context.DeadlineExceeded).Once()

	svc, err := scraper.New(crawlerMock, &MockExtractor{})
	require.NoError(t, err)

	_, err = svc.Scrape(context.Background(), validRequest())
	var crawlErr *crawler.CrawlError
	require.ErrorAs(t, err, &crawlErr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScrapeEmptyTextIsCrawlError(t *testing.T) {
	t.Parallel()

	crawlerMock := &MockCrawler{}
	extractorMock := &MockExtractor{}
	blank := crawler.CrawlResult{Pages: []crawler.Page{{URL: "https://oak.example.com/", Text: "  \n"}}}
	crawlerMock.On("Crawl", mock.Anything, mock.Anything).Return(blank, nil).Once()

	svc, err := scraper.New(crawlerMock, extractorMock)
	require.NoError(t, err)

	_, err = svc.Scrape(context.Background(), validRequest())
	var crawlErr *crawler.CrawlError
	require.ErrorAs(t, err, &crawlErr)
	require.ErrorIs(t, err, scraper.ErrNoContent)
	extractorMock.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}

func TestScrapeExtractionError(t *testing.T) {
	t.Parallel()

	crawlerMock := &MockCrawler{}
	extractorMock := &MockExtractor{}
	pub := memory.New()
	crawlerMock.On("Crawl", mock.Anything, mock.Anything).Return(twoPages(), nil).Once()
	extractorMock.On("Extract", mock.Anything, mock.Anything).Return(crawler.ClinicRecord{}, errors.New("quota")).Once()

	svc, err := scraper.New(crawlerMock, extractorMock, scraper.WithPublisher(pub))
	require.NoError(t, err)

	_, err = svc.Scrape(context.Background(), validRequest())
	var extractionErr *crawler.ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	require.Empty(t, pub.Messages())
}

func TestScrapePublishFailureDoesNotFailRequest(t *testing.T) {
	t.Parallel()

	crawlerMock := &MockCrawler{}
	extractorMock := &MockExtractor{}
	pub := memory.New()
	pub.FailWith(errors.New("pubsub down"))
	crawlerMock.On("Crawl", mock.Anything, mock.Anything).Return(twoPages(), nil).Once()
	extractorMock.On("Extract", mock.Anything, mock.Anything).Return(crawler.ClinicRecord{Services: []string{}}, nil).Once()

	svc, err := scraper.New(crawlerMock, extractorMock, scraper.WithPublisher(pub))
	require.NoError(t, err)

	res, err := svc.Scrape(context.Background(), validRequest())
	require.NoError(t, err)
	require.Equal(t, 2, res.PagesCrawled)
}

func TestScrapeAppliesLimits(t *testing.T) {
	t.Parallel()

	crawlerMock := &MockCrawler{}
	extractorMock := &MockExtractor{}
	long := crawler.CrawlResult{Pages: []crawler.Page{{URL: "https://oak.example.com/", Text: strings.Repeat("a", 50)}}}
	crawlerMock.On("Crawl", mock.Anything, mock.Anything).Return(long, nil).Once()
	extractorMock.On("Extract", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, strings.Repeat("a", 10)+content.TruncationMarker) &&
			!strings.Contains(text, strings.Repeat("a", 11))
	})).Return(crawler.ClinicRecord{}, nil).Once()

	svc, err := scraper.New(crawlerMock, extractorMock,
		scraper.WithLimits(content.Limits{MaxPageChars: 10, MaxTotalChars: 1000}),
	)
	require.NoError(t, err)

	_, err = svc.Scrape(context.Background(), validRequest())
	require.NoError(t, err)
	extractorMock.AssertExpectations(t)
}

func TestEventAttributes(t *testing.T) {
	t.Parallel()

	require.Equal(t, map[string]string{"request_id": "r"}, scraper.Event{RequestID: "r"}.PubSubAttributes())
}
