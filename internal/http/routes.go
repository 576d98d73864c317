// Package httpx exposes the entity lifecycle over a small JSON API.
package httpx

import (
	"log/slog"
	"net/http"
)

// RouterServices holds the services needed by the HTTP router.
type RouterServices struct {
	Entities  EntityService
	Lifecycle LifecycleService
	Jobs      JobService
	// Ready, when set, backs GET /readyz.
	Ready Pinger
	// Metrics, when set, is served unauthenticated at GET /metrics.
	Metrics http.Handler
	// APIToken, when non-empty, is required as a bearer token on /api routes.
	APIToken string
	Logger   *slog.Logger
}

// NewRouter registers every route and wraps the mux with recovery and request logging.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("HEAD /healthz", healthHandler)
	mux.Handle("GET /readyz", readyHandler(services.Ready))
	if services.Metrics != nil {
		mux.Handle("GET /metrics", services.Metrics)
	}

	api := http.NewServeMux()
	entities := &EntityHandlers{
		Entities:  services.Entities,
		Lifecycle: services.Lifecycle,
		Jobs:      services.Jobs,
		Logger:    logger,
	}
	registerEntityRoutes(api, entities)
	registerJobRoutes(api, &JobHandlers{Svc: services.Jobs, Logger: logger})

	mux.Handle("/api/", RequireToken(services.APIToken)(api))

	return Chain(mux, RequestID(), Recover(logger), Logging(logger))
}

func registerEntityRoutes(mux *http.ServeMux, h *EntityHandlers) {
	mux.HandleFunc("POST /api/entities", h.Create)
	mux.HandleFunc("GET /api/entities/{type}/{id}", h.Get)
	mux.HandleFunc("POST /api/entities/{type}/{id}/erase", h.Erase)
	mux.HandleFunc("POST /api/entities/{type}/{id}/safe-erase", h.SafeErase)
	mux.HandleFunc("POST /api/entities/{type}/{id}/schedule-deletion", h.ScheduleDeletion)
	mux.HandleFunc("POST /api/entities/{type}/{id}/finalize", h.Finalize)
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("GET /api/jobs", h.List)
	mux.HandleFunc("GET /api/jobs/{id}", h.Get)
	mux.HandleFunc("DELETE /api/jobs/{id}", h.Delete)
	mux.HandleFunc("GET /api/jobs/{type}/stats", h.Stats)
}
