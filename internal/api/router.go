package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/vodwatch/internal/api/middleware"
	"github.com/kiranshivaraju/vodwatch/internal/api/response"
)

// Dependencies holds all handler dependencies for the router.
type Dependencies struct {
	Metrics http.Handler

	// PushState tags request logs; Panics counts recovered handler panics.
	PushState mw.PushStateFunc
	Panics    mw.PanicRecorder

	LivenessHandler   http.HandlerFunc
	JobHandler        http.HandlerFunc
	HealthHandler     http.HandlerFunc
	ConnectionHandler http.HandlerFunc
	RecentJobsHandler http.HandlerFunc
	JobDetailHandler  http.HandlerFunc
	JobEventsHandler  http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger(deps.PushState))
	r.Use(mw.Recovery(deps.Panics))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	// Operational endpoints
	r.Get("/healthz", orNotImplemented(deps.LivenessHandler))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Live views
		r.Get("/job", orNotImplemented(deps.JobHandler))
		r.Get("/health", orNotImplemented(deps.HealthHandler))
		r.Get("/connection", orNotImplemented(deps.ConnectionHandler))

		// Proxied job history
		r.Get("/jobs/recent", orNotImplemented(deps.RecentJobsHandler))
		r.Get("/jobs/{jobID}", orNotImplemented(deps.JobDetailHandler))
		r.Get("/jobs/{jobID}/events", orNotImplemented(deps.JobEventsHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
