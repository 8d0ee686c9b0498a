// Package web provides the HTTP API for import sessions and the
// canonical field catalog.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fieldimport/internal/catalog"
	"fieldimport/internal/config"
	"fieldimport/internal/importer"
	"fieldimport/internal/logging"
)

// Server is the HTTP server for the field import service.
type Server struct {
	sessions *importer.Service
	catalog  catalog.Catalog
	cfg      *config.Config
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a new Server instance.
func NewServer(sessions *importer.Service, cat catalog.Catalog, cfg *config.Config) *Server {
	s := &Server{
		sessions: sessions,
		catalog:  cat,
		cfg:      cfg,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(trustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))

	if s.cfg.Rate.Enabled {
		limiter := newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(limiter.middleware)
	}
}

// setupRoutes configures all HTTP routes. The request timeout applies
// per route group: progress streams and the blocking result endpoint
// stay outside it, bounded by the import timeout and the client
// connection instead.
func (s *Server) setupRoutes() {
	timeout := middleware.Timeout(s.cfg.Server.RequestTimeout)

	s.router.With(timeout).Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(timeout)

			// Field catalog
			r.Get("/fields", s.handleListFields)
			r.Get("/fields/suggest-key", s.handleSuggestKey)

			// Import sessions
			if s.cfg.Rate.Enabled && s.cfg.Rate.SessionLimit > 0 {
				sessionLimiter := newRateLimiter(s.cfg.Rate.SessionLimit, time.Minute)
				r.With(sessionLimiter.middleware).Post("/sessions", s.handleCreateSession)
			} else {
				r.Post("/sessions", s.handleCreateSession)
			}
		})

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(timeout)
				r.Get("/", s.handleGetSession)
				r.Put("/mapping", s.handleSetMapping)
				r.Post("/fields", s.handleCreateField)
				r.Post("/preview", s.handlePreview)
				r.Post("/import", s.handleStartImport)
				r.Post("/cancel", s.handleCancel)
				r.Post("/restart", s.handleRestartMapping)
			})

			r.Get("/progress", s.handleProgress)
			r.Get("/result", s.handleResult)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout, // 0 keeps SSE streams open
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	logging.FromContext(context.Background()).Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
