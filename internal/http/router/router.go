// Package router assembles the HTTP handler tree: routes, optional static
// files and metrics, and the middleware around them.
package router

import (
	"log/slog"
	"net/http"

	"github.com/aanand-mishra/student-records-api/internal/config"
	"github.com/aanand-mishra/student-records-api/internal/http/handlers/student"
	"github.com/aanand-mishra/student-records-api/internal/http/middleware"
	"github.com/aanand-mishra/student-records-api/internal/metrics"
	"github.com/aanand-mishra/student-records-api/internal/storage"
)

// New returns the application's root handler. m may be nil, in which case
// no metrics are recorded or served.
//
// Route table:
//
//	POST   /students        → create a new student
//	GET    /students        → search students (all when no query)
//	GET    /students/{id}   → get one student by id
//	PUT    /students/{id}   → replace a student
//	DELETE /students/{id}   → delete a student
func New(cfg *config.Config, store storage.Storage, log *slog.Logger, m *metrics.Metrics) http.Handler {
	rules := student.Rules{
		Strict:         cfg.Validation.Strict,
		MinGPA:         cfg.Validation.MinGPA,
		MaxGPA:         cfg.Validation.MaxGPA,
		EnrolledValues: cfg.Validation.EnrolledValues,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /students", student.New(store, rules))
	mux.HandleFunc("GET /students", student.Search(store))
	// the browser client searches with a trailing slash: /students/?firstName=..
	mux.HandleFunc("GET /students/{$}", student.Search(store))
	mux.HandleFunc("GET /students/{id}", student.GetByID(store))
	mux.HandleFunc("PUT /students/{id}", student.Update(store, rules))
	mux.HandleFunc("DELETE /students/{id}", student.Delete(store))

	if m != nil {
		mux.Handle("GET "+cfg.Metrics.Path, m.Handler())
	}

	if cfg.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	mws := []middleware.Middleware{
		middleware.CORS(cfg.CORS.AllowedOrigin),
		middleware.Logger(log),
	}
	if m != nil {
		mws = append(mws, middleware.Metrics(m))
	}
	mws = append(mws, middleware.Recover(log))

	return middleware.Chain(mux, mws...)
}
