package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/zenginsync/pkg/logging"
)

// restoreDefault puts the process logger and global level back after t.
func restoreDefault(t *testing.T) {
	t.Helper()
	original := *logging.Default()
	level := zerolog.GlobalLevel()
	t.Cleanup(func() {
		logging.SetDefault(original)
		zerolog.SetGlobalLevel(level)
	})
}

func TestDefaultLogger(t *testing.T) {
	restoreDefault(t)

	buf := &bytes.Buffer{}
	logging.SetDefault(zerolog.New(buf).Level(zerolog.DebugLevel))

	logging.Debug().Str("run_id", "diff-1").Msg("debug message")
	logging.Warn().Msg("warn message")

	assert.Contains(t, buf.String(), `"run_id":"diff-1"`)
	assert.Contains(t, buf.String(), "warn message")
}

func TestContextLogger(t *testing.T) {
	testLogger := logging.NewTestLogger(t)

	ctx := logging.WithLogger(context.Background(), testLogger.Logger)
	ctx = logging.WithRunID(ctx, "diff-20250101-000000")
	ctx = logging.WithActor(ctx, "tanaka")
	ctx = logging.WithAction(ctx, "approve_update")
	ctx = logging.WithOperation(ctx, "approve")

	logging.FromContext(ctx).Info().Msg("approved")

	require.Len(t, testLogger.Lines(), 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(testLogger.Lines()[0]), &entry))
	assert.Equal(t, "diff-20250101-000000", entry["run_id"])
	assert.Equal(t, "tanaka", entry["user"])
	assert.Equal(t, "approve_update", entry["action_id"])
	assert.Equal(t, "approve", entry["operation"])
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Equal(t, logging.Default(), logging.FromContext(context.Background()))
}

func TestRequestID(t *testing.T) {
	testLogger := logging.NewTestLogger(t)
	ctx := logging.WithLogger(context.Background(), testLogger.Logger)
	ctx = logging.WithRequestID(ctx, "req-123")

	assert.Equal(t, "req-123", logging.RequestID(ctx))
	assert.Empty(t, logging.RequestID(context.Background()))
	logging.FromContext(ctx).Info().Msg("handled")
	testLogger.AssertContains(t, `"request_id":"req-123"`)
}

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		visible []string
		hidden  []string
	}{
		{name: "debug", level: "debug", visible: []string{"debug message", "info message"}},
		{name: "warning alias", level: "warning", visible: []string{"warn message"}, hidden: []string{"info message"}},
		{name: "invalid falls back to info", level: "loud", visible: []string{"info message"}, hidden: []string{"debug message"}},
		{name: "off", level: "off", hidden: []string{"warn message"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restoreDefault(t)

			buf := &bytes.Buffer{}
			logger := logging.New(&logging.Config{Level: tt.level, Format: "json", Output: "discard"}).Output(buf)

			logger.Debug().Msg("debug message")
			logger.Info().Msg("info message")
			logger.Warn().Msg("warn message")

			for _, s := range tt.visible {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tt.hidden {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestParseFields(t *testing.T) {
	assert.Equal(t, map[string]string{"team": "payments", "region": "tokyo"},
		logging.ParseFields(" team = payments,region=tokyo,broken,=empty"))
	assert.Empty(t, logging.ParseFields(""))
}

func TestConfigureFromEnv(t *testing.T) {
	restoreDefault(t)

	file := filepath.Join(t.TempDir(), "zengin.log")
	t.Setenv(logging.EnvLevel, "warn")
	t.Setenv(logging.EnvFormat, "json")
	t.Setenv(logging.EnvOutput, file)
	t.Setenv(logging.EnvCaller, "true")
	t.Setenv(logging.EnvFields, "team=payments")
	t.Setenv(logging.EnvService, "from-env")

	logger := logging.ConfigureFromEnv(func(c *logging.Config) {
		c.Service = "execute"
		c.MergeFields(map[string]string{"environment": "stg"})
	})
	logger.Info().Msg("hidden entry")
	logger.Warn().Msg("visible entry")
	logging.Warn().Msg("default entry")

	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	out := string(raw)
	assert.NotContains(t, out, "hidden entry")
	assert.Contains(t, out, "visible entry")
	assert.Contains(t, out, "default entry")
	assert.Contains(t, out, `"service":"execute"`)
	assert.Contains(t, out, `"team":"payments"`)
	assert.Contains(t, out, `"environment":"stg"`)
	assert.Contains(t, out, `"caller":`)
}
