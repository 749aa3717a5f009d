// Package logging provides structured logging for zengin-sync using zerolog.
// Console output is used on a terminal, JSON everywhere else (schedulers,
// containers, log shippers).
//
// Example usage:
//
//	logger := logging.ConfigureFromEnv(func(c *logging.Config) { c.Service = "detect" })
//	logger.Info().Str("run_id", runID).Int("total_changes", n).Msg("Diff detected")
//
//	ctx = logging.WithRunID(ctx, runID)
//	logging.FromContext(ctx).Warn().Str("key", key).Msg("Update matched no rows")
package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var defaultLogger = New(ConfigFromEnv())

// New builds a logger from cfg. A nil cfg reads the environment. The global
// zerolog level follows cfg.Level.
func New(cfg *Config) zerolog.Logger {
	if cfg == nil {
		cfg = ConfigFromEnv()
	}
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	zc := zerolog.New(cfg.writer()).Level(level).With().Timestamp()
	if cfg.AddCaller || level <= zerolog.DebugLevel {
		zc = zc.Caller()
	}
	if cfg.Service != "" {
		zc = zc.Str("service", cfg.Service)
	}
	for k, v := range cfg.Fields {
		zc = zc.Str(k, v)
	}
	return zc.Logger()
}

// ConfigureFromEnv builds a logger from the LOG_* environment with the
// overrides applied in order, installs it as the default and returns it.
func ConfigureFromEnv(overrides ...func(*Config)) zerolog.Logger {
	cfg := ConfigFromEnv()
	for _, override := range overrides {
		override(cfg)
	}
	logger := New(cfg)
	SetDefault(logger)
	return logger
}

// Default returns the process-wide logger.
func Default() *zerolog.Logger {
	return &defaultLogger
}

// SetDefault replaces the process-wide logger, including zerolog's global one.
func SetDefault(logger zerolog.Logger) {
	defaultLogger = logger
	log.Logger = logger
}

// Debug starts a debug event on the default logger.
func Debug() *zerolog.Event {
	return defaultLogger.Debug()
}

// Warn starts a warning event on the default logger.
func Warn() *zerolog.Event {
	return defaultLogger.Warn()
}

func isatty() bool {
	info, err := os.Stderr.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
