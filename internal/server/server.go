// Package server exposes the read API consumed by the dashboard frontend:
// narrative lists, narrative detail with timelines, the source network
// graph, and a refresh trigger. All state comes from aggregator snapshots;
// no handler mutates cluster state directly.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"narrascope/internal/aggregate"
	"narrascope/internal/config"
	"narrascope/internal/logger"
	"narrascope/internal/pipeline"
)

// Server is the HTTP server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	agg        *aggregate.Aggregator
	pipe       *pipeline.Pipeline
	log        *slog.Logger
}

// New creates a server over the given aggregator. pipe may be nil, in which
// case the refresh endpoint reports that ingestion is not configured.
func New(agg *aggregate.Aggregator, pipe *pipeline.Pipeline, cfg config.Server) *Server {
	s := &Server{
		router: chi.NewRouter(),
		agg:    agg,
		pipe:   pipe,
		log:    logger.Get(),
	}

	s.setupMiddleware(cfg)
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) setupMiddleware(cfg config.Server) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if len(cfg.AllowedOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/narratives", s.handleListNarratives)
		r.Get("/narratives/{narrativeID}", s.handleGetNarrative)
		r.Get("/graph", s.handleGraph)
		r.Post("/refresh", s.handleRefresh)
	})
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
