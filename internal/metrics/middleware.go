package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Middleware is a chi middleware that records HTTP request metrics by route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		routePattern := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			routePattern = rctx.RoutePattern()
		}
		if routePattern == "" {
			routePattern = "unknown"
		}

		ObserveHTTPRequest(r.Method, routePattern, ResponseStatus(ww), time.Since(start))
	})
}

// ResponseStatus returns the status written through ww, or 200 when the handler never set one.
func ResponseStatus(ww middleware.WrapResponseWriter) int {
	if status := ww.Status(); status != 0 {
		return status
	}
	return http.StatusOK
}
