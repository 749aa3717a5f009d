// Package serve provides the serve command.
package serve

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentstation/zenginsync/cmd/application"
	"github.com/agentstation/zenginsync/internal/server"
	"github.com/agentstation/zenginsync/pkg/logging"
)

// NewCommand creates the serve command.
func NewCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		Short:   "Start the approval webhook and execution API",
		Long: `Start the HTTP front door of zengin-sync.

Endpoints:
  POST /slack/interactive        approval actions (signed requests)
  POST /api/v1/detections        trigger a detection pass
  POST /api/v1/executions        apply a run's batch
  GET  /api/v1/runs/{id}         read a run record
  GET  /api/v1/runs/{id}/export  CSV export of a run
  GET  /health, GET /metrics

The API endpoints require the api_key setting in the X-API-Key header or
as a bearer token.`,
		Example: `  zengin-sync serve
  zengin-sync serve --port 3000 --no-auth`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := parseConfig(cmd, app)
			logger := app.Logger()

			logger.Info().
				Str("host", cfg.Host).
				Int("port", cfg.Port).
				Str("prefix", cfg.PathPrefix).
				Bool("auth", cfg.AuthEnabled).
				Bool("signature", cfg.SigningSecret != "").
				Msg("Starting server")

			srv, err := server.New(app, cfg)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			return srv.Run(logging.WithLogger(cmd.Context(), logger))
		},
	}

	defaults := server.DefaultConfig()
	cmd.Flags().Int("port", 0, "server port (default http_port)")
	cmd.Flags().String("host", "", "bind address (default http_host)")
	cmd.Flags().Bool("no-auth", false, "disable API key authentication")
	cmd.Flags().String("prefix", defaults.PathPrefix, "API path prefix")
	cmd.Flags().Bool("metrics", defaults.MetricsEnabled, "enable the metrics endpoint")
	cmd.Flags().Duration("action-timeout", defaults.ActionTimeout, "time limit of one approval action")
	cmd.Flags().Duration("shutdown-timeout", defaults.ShutdownTimeout, "graceful shutdown limit")
	return cmd
}

// parseConfig merges the settings with command flags.
func parseConfig(cmd *cobra.Command, app application.Application) server.Config {
	settings := app.Config()
	cfg := server.DefaultConfig()

	cfg.Host = settings.HTTPHost
	cfg.Port = settings.HTTPPort
	cfg.APIKey = settings.APIKey
	cfg.SigningSecret = settings.SlackSigningSecret

	if v, _ := cmd.Flags().GetString("host"); v != "" {
		cfg.Host = v
	}
	if v, _ := cmd.Flags().GetInt("port"); v > 0 {
		cfg.Port = v
	}
	if v, _ := cmd.Flags().GetBool("no-auth"); v {
		cfg.AuthEnabled = false
	}
	cfg.PathPrefix, _ = cmd.Flags().GetString("prefix")
	cfg.MetricsEnabled, _ = cmd.Flags().GetBool("metrics")
	cfg.ActionTimeout = durationFlag(cmd, "action-timeout", cfg.ActionTimeout)
	cfg.ShutdownTimeout = durationFlag(cmd, "shutdown-timeout", cfg.ShutdownTimeout)
	return cfg
}

func durationFlag(cmd *cobra.Command, name string, fallback time.Duration) time.Duration {
	v, err := cmd.Flags().GetDuration(name)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
