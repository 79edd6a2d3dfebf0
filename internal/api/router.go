package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

// RouterConfig controls optional parts of the router.
type RouterConfig struct {
	AuthEnabled bool
	Token       string
	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events http.Handler
	// WriteLimiter throttles POST /observations and source writes. Nil
	// disables throttling.
	WriteLimiter *rate.Limiter
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(h *Handler, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(cfg.AuthEnabled, cfg.Token))

	r.Get("/entities", h.ListEntities)
	r.Get("/entities/{id}", h.GetEntity)
	r.Get("/lookup", h.Lookup)
	limited := RateLimitMiddleware(cfg.WriteLimiter)
	r.With(limited).Post("/observations", h.RecordObservation)

	r.Get("/graph", h.Graph)
	r.Get("/stats", h.Stats)

	if h.sources != nil {
		r.Get("/sources", h.ListSources)
		r.Get("/sources/*", h.GetSource)
		r.With(limited).Put("/sources/*", h.PutSource)
		r.With(limited).Delete("/sources/*", h.DeleteSource)
	}

	if cfg.Events != nil {
		r.Get("/events", cfg.Events.ServeHTTP)
	}

	return r
}
