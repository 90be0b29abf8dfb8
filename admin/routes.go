package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// NewRouter returns the HTTP surface of a node: health, metrics (when
// metrics is non-nil), profiling and the authenticated /admin routes
func NewRouter(h *AdminHandlers, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	r.Mount("/debug", middleware.Profiler())

	r.Route("/admin", func(r chi.Router) {
		r.Use(AuthMiddleware(h.secret))
		r.Get("/cluster", h.handleClusterMembers)
		r.Post("/cluster/{nodeID}/down", h.handleMemberStatus(false))
		r.Post("/cluster/{nodeID}/up", h.handleMemberStatus(true))
		r.Get("/paxos/{keyspace}/{table}/{key}", h.handlePaxosState)
	})

	log.Info().Bool("metrics", metrics != nil).Msg("Admin endpoints enabled at /admin/*")
	return r
}
