package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/watchpost/internal/auth"
	"github.com/kozaktomas/watchpost/internal/config"
	"github.com/kozaktomas/watchpost/internal/pipeline"
	"github.com/kozaktomas/watchpost/internal/web/handlers"
	"github.com/kozaktomas/watchpost/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	pipeline   *pipeline.Pipeline
	hub        *handlers.EventHub
	tokens     *auth.Manager
}

// NewServer creates a new web server. hub receives pipeline events for the live
// stream and tokens may be nil to disable authentication.
func NewServer(cfg *config.Config, p *pipeline.Pipeline, hub *handlers.EventHub, tokens *auth.Manager) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:   cfg,
		router:   r,
		pipeline: p,
		hub:      hub,
		tokens:   tokens,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Web.CORSOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: SSE and websocket streams stay open.
	}

	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	log.Info("starting web server", "addr", s.httpServer.Addr, "auth", s.tokens != nil)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("shutting down web server")

	// Close live streams so Shutdown does not wait for them.
	if s.hub != nil {
		s.hub.Close()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

// requestLogger logs each request through charmbracelet/log.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"took", time.Since(start),
			"request_id", chiMiddleware.GetReqID(r.Context()))
	})
}
