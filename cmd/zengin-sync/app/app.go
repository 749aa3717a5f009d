// Package app provides the application context and dependency management
// for the zengin-sync CLI. It centralizes configuration, logging and the
// lazily built sync client.
package app

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/zenginsync"
	"github.com/agentstation/zenginsync/cmd/application"
	"github.com/agentstation/zenginsync/internal/config"
	"github.com/agentstation/zenginsync/internal/metrics"
	"github.com/agentstation/zenginsync/pkg/errors"
)

// App represents the zengin-sync process with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string
	builtBy string

	flags  *Flags
	config *config.Config
	logger *zerolog.Logger

	metricsOnce sync.Once
	metrics     *metrics.Metrics

	// Client (lazy-initialized, singleton)
	mu      sync.RWMutex
	client  zenginsync.Client
	closers []io.Closer
}

// Compile-time interface check to ensure proper implementation.
var _ application.Application = (*App)(nil)

// New creates an App with the given version information. Configuration is
// loaded from the default locations; --config reloads it once flags are parsed.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
		flags:   &Flags{},
	}

	cfg, err := config.Load("")
	if err != nil {
		return nil, errors.WrapResource("load", "config", "", err)
	}
	app.config = cfg

	logger := NewLogger(app.flags, app.config, "")
	app.logger = &logger

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// Version returns the version information.
func (a *App) Version() string {
	return a.version
}

// Commit returns the git commit hash.
func (a *App) Commit() string {
	return a.commit
}

// Date returns the build date.
func (a *App) Date() string {
	return a.date
}

// BuiltBy returns the build system identifier.
func (a *App) BuiltBy() string {
	return a.builtBy
}

// Config returns the application configuration.
func (a *App) Config() *config.Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// Metrics returns the process-wide metrics registry.
func (a *App) Metrics() *metrics.Metrics {
	a.metricsOnce.Do(func() {
		if a.metrics == nil {
			a.metrics = metrics.New()
		}
	})
	return a.metrics
}

// Client returns the sync client, building it from configuration on first
// use. Safe for concurrent use; only one instance is created.
func (a *App) Client() (zenginsync.Client, error) {
	a.mu.RLock()
	if a.client != nil {
		c := a.client
		a.mu.RUnlock()
		return c, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	// Double-check after acquiring write lock
	if a.client != nil {
		return a.client, nil
	}

	ctx := a.logger.WithContext(context.Background())
	built, err := buildClient(ctx, a.config, a.logger)
	if err != nil {
		return nil, errors.WrapResource("create", "client", "", err)
	}
	a.client = built.client
	a.closers = built.closers
	return a.client, nil
}

// Shutdown waits for in-process executions, then releases connections
// opened by the client.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	client, closers := a.client, a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	if client != nil {
		if err := client.Shutdown(ctx); err != nil {
			a.logger.Error().Err(err).Msg("Executions still running during shutdown")
			errs = append(errs, err)
		}
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close resource during shutdown")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(cfg *config.Config) Option {
	return func(a *App) error {
		if cfg == nil {
			return &errors.ValidationError{Field: "config", Message: "cannot be nil"}
		}
		a.config = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		if logger == nil {
			return &errors.ValidationError{Field: "logger", Message: "cannot be nil"}
		}
		a.logger = logger
		return nil
	}
}

// WithClient sets a prebuilt client (useful for testing).
func WithClient(c zenginsync.Client) Option {
	return func(a *App) error {
		a.client = c
		return nil
	}
}

// WithMetrics sets a custom metrics registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *App) error {
		a.metrics = m
		return nil
	}
}
