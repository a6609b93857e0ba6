package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/watchpost/internal/auth"
	"github.com/kozaktomas/watchpost/internal/web/handlers"
	"github.com/kozaktomas/watchpost/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	observationsHandler := handlers.NewObservationsHandler(s.pipeline)
	identitiesHandler := handlers.NewIdentitiesHandler(s.pipeline, s.config.Matching.Dim)
	registryHandler := handlers.NewRegistryHandler(s.pipeline)
	historyHandler := handlers.NewHistoryHandler(s.config.History.Limit)
	statsHandler := handlers.NewStatsHandler(s.pipeline, s.hub)
	configHandler := handlers.NewConfigHandler(s.config)
	streamHandler := handlers.NewStreamHandler(s.hub, middleware.OriginHosts(s.config.Web.CORSOrigins))

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Read-only views
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(s.tokens, auth.RoleViewer))

			r.Get("/config", configHandler.Get)
			r.Get("/stats", statsHandler.Get)

			r.Get("/registry", registryHandler.Get)
			r.Get("/cooldowns/{id}", registryHandler.GetCooldown)

			r.Get("/identities", identitiesHandler.List)
			r.Get("/identities/{id}", identitiesHandler.Get)

			r.Get("/history/matches", historyHandler.Matches)
			r.Get("/history/alerts", historyHandler.Alerts)

			r.Get("/events", streamHandler.Events)
			r.Get("/ws", streamHandler.Websocket)
		})

		// Camera ingestion
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(s.tokens, auth.RoleCamera))
			r.Use(middleware.RateLimit(s.config.Web.RateRPS, s.config.Web.RateBurst))

			r.Post("/observations", observationsHandler.Submit)
			r.Post("/observations/batch", observationsHandler.SubmitBatch)
		})

		// Identity management
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(s.tokens, auth.RoleOperator))

			r.Post("/identities", identitiesHandler.Create)
			r.Put("/identities/{id}", identitiesHandler.Update)
			r.Delete("/identities/{id}", identitiesHandler.Delete)
			r.Post("/identities/{id}/embeddings", identitiesHandler.AddEmbedding)

			r.Post("/registry/rebuild", registryHandler.Rebuild)
			r.Delete("/cooldowns/{id}", registryHandler.ResetCooldown)
		})
	})
}
