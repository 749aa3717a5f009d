// Package server provides the HTTP front door of zengin-sync: the chat
// webhook that receives approval actions and a small authenticated API to
// trigger detections and executions.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/zenginsync"
	"github.com/agentstation/zenginsync/cmd/application"
	"github.com/agentstation/zenginsync/internal/metrics"
	"github.com/agentstation/zenginsync/internal/server/handlers"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	app        application.Application
	client     zenginsync.Client
	metrics    *metrics.Metrics
	background *handlers.Background
	logger     *zerolog.Logger
	config     Config
	startTime  time.Time
}

// New creates a new server instance with the given configuration.
func New(app application.Application, cfg Config) (*Server, error) {
	logger := app.Logger()
	logger.Debug().Msg("Creating new server instance")

	client, err := app.Client()
	if err != nil {
		return nil, err
	}

	defaults := DefaultConfig()
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = defaults.PathPrefix
	}
	if cfg.SlackPath == "" {
		cfg.SlackPath = defaults.SlackPath
	}
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = defaults.AuthHeader
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	s := &Server{
		app:        app,
		client:     client,
		metrics:    app.Metrics(),
		background: handlers.NewBackground(cfg.ActionTimeout),
		logger:     logger,
		config:     cfg,
		startTime:  time.Now(),
	}
	s.connectHooks()

	logger.Debug().Msg("Server instance created successfully")
	return s, nil
}

// connectHooks feeds client events into the metrics registry.
func (s *Server) connectHooks() {
	if s.metrics == nil {
		return
	}
	m := s.metrics
	s.client.OnDetection(m.ObserveDetection)
	s.client.OnApproval(func(action zengin.ActionID, outcome string) {
		m.ObserveApproval(action.String(), outcome)
	})
	s.client.OnExecution(m.ObserveExecution)
	s.logger.Debug().Msg("Client hooks connected to metrics")
}

// Handler returns the configured http.Handler with middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.setupRouter()
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown waits for acknowledged webhook actions, then for executions they
// started in process.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Waiting for background actions")
	if err := s.background.Wait(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Background actions did not finish before shutdown")
		return err
	}
	if err := s.client.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Executions did not finish before shutdown")
		return err
	}
	s.logger.Info().Dur("uptime", time.Since(s.startTime)).Msg("Server stopped")
	return nil
}
