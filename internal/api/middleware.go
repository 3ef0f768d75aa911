package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/clinic-scraper/internal/crawler"
	"github.com/JakeFAU/clinic-scraper/internal/id/uuid"
	"github.com/JakeFAU/clinic-scraper/internal/logging"
	"github.com/JakeFAU/clinic-scraper/internal/metrics"
)

// HeaderRequestID carries the request ID in both directions.
const HeaderRequestID = "X-Request-ID"

// requestIDMiddleware assigns a request ID and stores a request-scoped logger on the context.
// A well-formed UUID supplied by the client is reused.
func requestIDMiddleware(idGen crawler.IDGenerator, base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := strings.TrimSpace(r.Header.Get(HeaderRequestID))
			if !uuid.Valid(reqID) {
				reqID = ""
				if idGen != nil {
					if id, err := idGen.NewID(); err == nil {
						reqID = id
					} else {
						base.Warn("generate request id", zap.Error(err))
					}
				}
			}

			ctx := r.Context()
			logger := base
			if reqID != "" {
				w.Header().Set(HeaderRequestID, reqID)
				ctx = logging.WithRequestID(ctx, reqID)
				logger = base.With(zap.String("request_id", reqID))
			}
			ctx = logging.WithContext(ctx, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.FromContext(r.Context(), nil).Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", metrics.ResponseStatus(ww)),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.FromContext(r.Context(), nil).Error("panic recovered",
					zap.Any("panic", rec),
					zap.Stack("stack"),
				)
				writeError(w, r, http.StatusInternalServerError, msgInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware answers preflight requests and sets CORS headers for allowed origins.
// "*" allows every origin.
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	allowAll := false
	origins := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		origins[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				_, ok := origins[origin]
				switch {
				case allowAll:
					w.Header().Set("Access-Control-Allow-Origin", "*")
				case ok:
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-ID")
				w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-Pages-Crawled")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// timeoutMiddleware bounds the request context. Handlers map the resulting deadline error themselves.
func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
