package server

import "time"

// Config holds server configuration.
type Config struct {
	// Server settings
	Host string
	Port int

	// API settings
	PathPrefix string

	// Authentication settings
	AuthEnabled bool
	AuthHeader  string
	APIKey      string

	// Webhook settings
	SlackPath          string
	SigningSecret      string
	SignatureTolerance time.Duration
	ActionTimeout      time.Duration

	// HTTP timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Features
	MetricsEnabled bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		PathPrefix:         "/api/v1",
		AuthEnabled:        true,
		AuthHeader:         "X-API-Key",
		SlackPath:          "/slack/interactive",
		SignatureTolerance: 5 * time.Minute,
		ActionTimeout:      5 * time.Minute,
		ReadTimeout:        10 * time.Second,
		// executions run inside the request
		WriteTimeout:    15 * time.Minute,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		MetricsEnabled:  true,
	}
}
