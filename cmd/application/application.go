// Package application provides the application interface for zengin-sync
// commands and the HTTP server.
//
// Commands accept this interface rather than the concrete App type so they
// can be tested with application.Mock:
//
//	mock := &application.Mock{
//	    ClientFunc: func() (zenginsync.Client, error) {
//	        return testClient, nil
//	    },
//	}
//	cmd := detect.NewCommand(mock)
package application

import (
	"github.com/rs/zerolog"

	"github.com/agentstation/zenginsync"
	"github.com/agentstation/zenginsync/internal/config"
	"github.com/agentstation/zenginsync/internal/metrics"
)

// Application provides what commands need from the running process.
//
// Thread Safety: All methods must be safe for concurrent access.
type Application interface {
	// Client returns the lazily built sync client. Collaborators are
	// constructed from configuration on first use and cached.
	Client() (zenginsync.Client, error)

	// Config returns the loaded runtime settings.
	Config() *config.Config

	// Metrics returns the metrics registry fed by the client hooks.
	Metrics() *metrics.Metrics

	// Logger returns the configured logger instance.
	Logger() *zerolog.Logger

	// Version returns the application version string.
	Version() string

	// Commit returns the git commit hash.
	Commit() string

	// Date returns the build date.
	Date() string

	// BuiltBy returns the build system identifier.
	BuiltBy() string
}
