// Package api exposes the HTTP interface for the scraper service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/clinic-scraper/internal/config"
	"github.com/JakeFAU/clinic-scraper/internal/crawler"
	"github.com/JakeFAU/clinic-scraper/internal/logging"
	"github.com/JakeFAU/clinic-scraper/internal/metrics"
	"github.com/JakeFAU/clinic-scraper/internal/scraper"
)

// Scraper runs one crawl-and-extract request.
type Scraper interface {
	Scrape(ctx context.Context, req crawler.CrawlRequest) (scraper.Result, error)
}

// ReadinessCheck reports whether downstream dependencies can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// HeaderPagesCrawled carries the number of pages behind a successful response.
const HeaderPagesCrawled = "X-Pages-Crawled"

// Server wires HTTP handlers to the scraper.
type Server struct {
	router  chi.Router
	scraper Scraper
	idGen   crawler.IDGenerator
	cfg     config.Config
	logger  *zap.Logger
	ready   ReadinessCheck
}

// Option customizes a Server.
type Option func(*Server)

// WithReadinessCheck makes /readyz report the result of check.
func WithReadinessCheck(check ReadinessCheck) Option {
	return func(s *Server) {
		s.ready = check
	}
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	scraper Scraper,
	idGen crawler.IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		scraper: scraper,
		idGen:   idGen,
		cfg:     cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(idGen, logger))
	r.Use(loggingMiddleware)
	r.Use(recoverMiddleware)
	r.Use(corsMiddleware(cfg.Server.CORSAllowedOrigins))
	r.Use(metrics.Middleware)

	r.Get("/", s.root)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/hello", s.hello)
		r.Route("/scraper", func(r chi.Router) {
			if cfg.Auth.Enabled {
				r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
			}
			r.Use(timeoutMiddleware(cfg.RequestTimeout()))
			r.Post("/crawl", s.crawl)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "scraper"})
}

func (s *Server) hello(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "hello"})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			logging.FromContext(r.Context(), s.logger).Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx, s.logger)

	req, err := parseCrawlRequest(r, s.cfg.Crawler)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	res, err := s.scraper.Scrape(ctx, req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	logger.Info("scrape succeeded",
		zap.String("url", req.URL),
		zap.Int("max_depth", req.MaxDepth),
		zap.Int("max_pages", req.MaxPages),
		zap.Int("pages_crawled", res.PagesCrawled),
	)
	w.Header().Set(HeaderPagesCrawled, strconv.Itoa(res.PagesCrawled))
	writeJSON(w, http.StatusOK, res.Record)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}
