package server

import (
	"net/http"

	"github.com/agentstation/zenginsync/internal/server/handlers"
	"github.com/agentstation/zenginsync/internal/server/middleware"
)

// setupRouter creates the HTTP handler with routes and middleware.
func (s *Server) setupRouter() http.Handler {
	mux := http.NewServeMux()
	h := handlers.New(s.client, s.background, s.logger, s.app.Version())
	s.registerRoutes(mux, h)
	return s.applyMiddleware(mux)
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux, h *handlers.Handlers) {
	prefix := s.config.PathPrefix

	// Favicon handler (return 204 No Content to avoid 404 logs)
	mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Public health endpoints (no auth required)
	mux.HandleFunc("GET /health", h.HandleHealth)
	if prefix != "" {
		mux.HandleFunc("GET "+prefix+"/health", h.HandleHealth)
	}

	// Chat webhook (signature verified)
	mux.HandleFunc("POST "+s.config.SlackPath, h.HandleSlackInteractive)

	// Run endpoints
	mux.HandleFunc("POST "+prefix+"/detections", h.HandleDetect)
	mux.HandleFunc("POST "+prefix+"/executions", h.HandleExecute)
	mux.HandleFunc("GET "+prefix+"/runs/{id}", h.HandleGetRun)
	mux.HandleFunc("GET "+prefix+"/runs/{id}/export", h.HandleExportRun)

	// Metrics endpoint (optional)
	if s.config.MetricsEnabled && s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// applyMiddleware wraps handler with middleware chain.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	cfg := s.config

	authConfig := middleware.DefaultAuthConfig()
	authConfig.Enabled = cfg.AuthEnabled
	authConfig.APIKey = cfg.APIKey
	authConfig.HeaderName = cfg.AuthHeader
	authConfig.PublicPaths = []string{"/health", "/favicon.ico", "/metrics", cfg.SlackPath, cfg.PathPrefix + "/health"}

	slackConfig := middleware.SlackConfig{
		SigningSecret: cfg.SigningSecret,
		Tolerance:     cfg.SignatureTolerance,
		Paths:         []string{cfg.SlackPath},
	}

	return middleware.Chain(
		middleware.Recovery(s.logger),
		middleware.Logger(s.logger),
		middleware.SlackSignature(slackConfig, s.logger),
		middleware.Auth(authConfig, s.logger),
	)(handler)
}
