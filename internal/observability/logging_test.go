package observability

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cory-johannsen/diceengine/internal/config"
)

func TestNewLogger_JSON(t *testing.T) {
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestNewLogger_Console(t *testing.T) {
	cfg := config.LoggingConfig{Level: "debug", Format: "console"}
	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	cfg := config.LoggingConfig{Level: "trace", Format: "json"}
	_, err := NewLogger(cfg)
	assert.Error(t, err)
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	cfg := config.LoggingConfig{Level: "info", Format: "xml"}
	_, err := NewLogger(cfg)
	assert.Error(t, err)
}

func TestNewLogger_AllLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		cfg := config.LoggingConfig{Level: level, Format: "json"}
		logger, err := NewLogger(cfg)
		require.NoError(t, err, "level %q should be valid", level)
		assert.NotNil(t, logger)
	}
}

func TestTracerProvider_LogsEndedSpans(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tp := NewTracerProvider(zap.New(core))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("test").Start(context.Background(), "dice.evaluate")
	span.SetAttributes(attribute.String("expression", "2d6+3"), attribute.Int("rolls", 2))
	span.End()

	entries := logs.FilterMessage("span ended").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "dice.evaluate", fields["span"])
	assert.Equal(t, "2d6+3", fields["expression"])
	assert.Equal(t, int64(2), fields["rolls"])
}

func TestTracerProvider_SilentAboveDebug(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	tp := NewTracerProvider(zap.New(core))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("test").Start(context.Background(), "quiet")
	span.End()
	assert.Zero(t, logs.Len())
}

func TestNewLogger_ComponentAndOutputs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dice.log")
	logger, err := NewLogger(
		config.LoggingConfig{Level: "info", Format: "json"},
		WithComponent("dice-test"),
		WithOutputs(path),
	)
	require.NoError(t, err)
	logger.Info("evaluation complete", zap.String("expression", "1d6"))
	require.NoError(t, logger.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, "dice-test", entry["component"])
	assert.Equal(t, "evaluation complete", entry["msg"])
	assert.Equal(t, "1d6", entry["expression"])
}

func TestNewLogger_NoComponent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dice.log")
	logger, err := NewLogger(
		config.LoggingConfig{Level: "info", Format: "json"},
		WithComponent(""),
		WithOutputs(path),
	)
	require.NoError(t, err)
	logger.Info("hello")
	require.NoError(t, logger.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"component"`)
}
