package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/clinic-scraper/internal/crawler"
	"github.com/JakeFAU/clinic-scraper/internal/logging"
)

// Generic messages returned for server-side failures. Details stay in the logs.
const (
	msgCrawlFailed      = "failed to crawl the requested site"
	msgExtractionFailed = "failed to extract business information"
	msgTimeout          = "request timed out"
	msgInternal         = "internal server error"
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// classify maps an error onto a status code and the message safe to return to clients.
func classify(err error) (int, string) {
	var validationErr *crawler.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, validationErr.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, msgTimeout
	}
	var crawlErr *crawler.CrawlError
	if errors.As(err, &crawlErr) {
		return http.StatusBadGateway, msgCrawlFailed
	}
	var extractionErr *crawler.ExtractionError
	if errors.As(err, &extractionErr) {
		return http.StatusBadGateway, msgExtractionFailed
	}
	return http.StatusInternalServerError, msgInternal
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	logger := logging.FromContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logger.Error("scrape failed", zap.Int("status", status), zap.Error(err))
	} else {
		logger.Info("request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, r, status, msg)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: logging.RequestID(r.Context())})
}
