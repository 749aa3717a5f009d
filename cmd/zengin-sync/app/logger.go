package app

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/agentstation/zenginsync/internal/config"
	"github.com/agentstation/zenginsync/pkg/logging"
)

// NewLogger creates the process logger for the named command from the LOG_*
// environment, then applies the config file settings and the flags.
// Log level precedence (highest to lowest):
//  1. --log-level flag
//  2. -v/--verbose flag (shortcut for debug)
//  3. -q/--quiet flag (shortcut for warn)
//  4. LOG_LEVEL environment variable
//  5. Default (info)
func NewLogger(flags *Flags, cfg *config.Config, service string) zerolog.Logger {
	level := flagLogLevel(flags)

	return logging.ConfigureFromEnv(func(c *logging.Config) {
		if cfg != nil {
			if cfg.LogFormat != "" {
				c.Format = cfg.LogFormat
			}
			if cfg.LogOutput != "" {
				c.Output = cfg.LogOutput
			}
			c.MergeFields(logging.ParseFields(cfg.LogFields))
		}
		if level != "" {
			c.Level = level
		}
		if service != "" {
			c.Service = service
		}
		if flags.NoColor {
			c.NoColor = true
		}
		if c.Level == "debug" || c.Level == "trace" {
			c.AddCaller = true
		}
	})
}

// flagLogLevel returns the level chosen by flags, or "" to keep LOG_LEVEL.
func flagLogLevel(flags *Flags) string {
	if flags.LogLevel != "" {
		validated := validateLogLevel(flags.LogLevel)
		if validated != flags.LogLevel {
			fmt.Fprintf(os.Stderr, "Warning: invalid log level %q, using %q\n", flags.LogLevel, validated)
		}
		return validated
	}

	if flags.Verbose && flags.Quiet {
		fmt.Fprintf(os.Stderr, "Warning: both --verbose and --quiet specified, using --quiet\n")
		return "warn"
	}
	if flags.Verbose {
		return "debug"
	}
	if flags.Quiet {
		return "warn"
	}
	return ""
}

// validateLogLevel returns level when valid and "info" otherwise.
func validateLogLevel(level string) string {
	switch level {
	case "trace", "debug", "info", "warn", "error":
		return level
	}
	return "info"
}
