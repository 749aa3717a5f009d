package logging

import (
	"io"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvLevel      = "LOG_LEVEL"
	EnvFormat     = "LOG_FORMAT"
	EnvOutput     = "LOG_OUTPUT"
	EnvTimeFormat = "LOG_TIME_FORMAT"
	EnvCaller     = "LOG_CALLER"
	EnvFields     = "LOG_FIELDS"
	EnvService    = "LOG_SERVICE"
)

// Config describes where and how a logger writes.
type Config struct {
	// Level is trace, debug, info, warn, error or disabled.
	Level string

	// Format is json, console or auto. Auto picks console on a terminal.
	Format string

	// Output is stderr, stdout, discard or a file path.
	Output string

	// TimeFormat names a layout (rfc3339, kitchen, unix) or is a Go layout.
	TimeFormat string

	NoColor   bool
	AddCaller bool

	// Fields are attached to every entry.
	Fields map[string]string

	// Service names the process in every entry (detect, serve, execute).
	Service string
}

// ConfigFromEnv reads the LOG_* variables on top of the defaults.
func ConfigFromEnv() *Config {
	cfg := &Config{
		Level:      "info",
		Format:     "auto",
		Output:     "stderr",
		TimeFormat: "rfc3339",
		NoColor:    os.Getenv("NO_COLOR") != "",
		Fields:     ParseFields(os.Getenv(EnvFields)),
		Service:    os.Getenv(EnvService),
	}
	for env, dst := range map[string]*string{
		EnvLevel:      &cfg.Level,
		EnvFormat:     &cfg.Format,
		EnvOutput:     &cfg.Output,
		EnvTimeFormat: &cfg.TimeFormat,
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
	cfg.AddCaller, _ = strconv.ParseBool(os.Getenv(EnvCaller))
	return cfg
}

// ParseFields parses comma separated key=value pairs. Malformed pairs are
// skipped.
func ParseFields(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if k = strings.TrimSpace(k); ok && k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}

// MergeFields adds extra to cfg.Fields, replacing existing keys.
func (c *Config) MergeFields(extra map[string]string) {
	if len(extra) == 0 {
		return
	}
	if c.Fields == nil {
		c.Fields = make(map[string]string, len(extra))
	}
	maps.Copy(c.Fields, extra)
}

var levelAliases = map[string]zerolog.Level{
	"warning": zerolog.WarnLevel,
	"off":     zerolog.Disabled,
	"none":    zerolog.Disabled,
}

// parseLevel maps a level name to a zerolog level, falling back to info.
func parseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if l, ok := levelAliases[s]; ok {
		return l
	}
	l, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return l
}

var timeLayouts = map[string]string{
	"rfc3339":     time.RFC3339,
	"rfc3339nano": time.RFC3339Nano,
	"kitchen":     time.Kitchen,
	"stamp":       time.Stamp,
	"stampmilli":  time.StampMilli,
	"unix":        "",
}

// timeLayout resolves a named layout. Strings that look like a Go layout
// are used as is.
func timeLayout(name string) string {
	if l, ok := timeLayouts[strings.ToLower(name)]; ok {
		return l
	}
	if strings.Contains(name, "2006") || strings.Contains(name, "15:04") {
		return name
	}
	return time.RFC3339
}

// writer opens the output named by cfg and wraps it for console output.
// A file that cannot be opened falls back to stderr.
func (c *Config) writer() io.Writer {
	var out io.Writer
	switch strings.ToLower(c.Output) {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	case "discard", "none":
		out = io.Discard
	default:
		f, err := os.OpenFile(c.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			out = os.Stderr
		} else {
			out = f
		}
	}

	format := strings.ToLower(c.Format)
	if format == "auto" || format == "" {
		format = "json"
		if out == os.Stderr && isatty() {
			format = "console"
		}
	}
	if format == "console" || format == "pretty" {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: timeLayout(c.TimeFormat), NoColor: c.NoColor}
	}
	return out
}
