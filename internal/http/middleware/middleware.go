// Package middleware wraps the router with cross-cutting HTTP behaviour:
// CORS, panic recovery, request logging and request metrics.
package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aanand-mishra/student-records-api/internal/metrics"
	"github.com/felixge/httpsnoop"
	"github.com/gorilla/handlers"
)

// Middleware is the usual func(http.Handler) http.Handler decorator.
type Middleware func(http.Handler) http.Handler

// Chain applies mws so that the first one is the outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// CORS lets the single browser origin call the API with credentials.
func CORS(origin string) Middleware {
	return handlers.CORS(
		handlers.AllowedOrigins([]string{origin}),
		handlers.AllowedMethods([]string{
			http.MethodGet, http.MethodPost, http.MethodOptions,
			http.MethodPut, http.MethodPatch, http.MethodDelete,
		}),
		handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type"}),
		handlers.AllowCredentials(),
	)
}

// Recover turns a panicking handler into a 500 and logs the stack.
func Recover(log *slog.Logger) Middleware {
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(log.Handler(), slog.LevelError)),
		handlers.PrintRecoveryStack(true),
	)
}

// Logger writes one line per request.
func Logger(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)

			log.Info("request served",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", route(r)),
				slog.Int("status", m.Code),
				slog.Int64("bytes", m.Written),
				slog.Duration("duration", m.Duration),
			)
		})
	}
}

// Metrics records request counts and latencies, labelled by route
// pattern rather than raw path to keep label cardinality bounded.
func Metrics(m *metrics.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snoop := httpsnoop.CaptureMetrics(next, w, r)

			rt := route(r)
			m.RequestsTotal.WithLabelValues(r.Method, rt, strconv.Itoa(snoop.Code)).Inc()
			m.RequestDuration.WithLabelValues(r.Method, rt).Observe(snoop.Duration.Seconds())
		})
	}
}

// route is the ServeMux pattern that matched r. The mux sets it on the
// request it was handed, which is the same one the middleware holds.
func route(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	return r.Pattern
}
