// Package observability provides logging and tracing setup.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/diceengine/internal/config"
)

// DefaultComponent tags loggers built without WithComponent.
const DefaultComponent = "diceengine"

type loggerOptions struct {
	component string
	outputs   []string
}

// LoggerOption adjusts a logger built by NewLogger.
type LoggerOption func(*loggerOptions)

// WithComponent sets the "component" field attached to every entry.
func WithComponent(name string) LoggerOption {
	return func(o *loggerOptions) { o.component = name }
}

// WithOutputs replaces the default stderr sink. Paths follow zap's sink
// syntax ("stdout", "stderr", file paths).
func WithOutputs(paths ...string) LoggerOption {
	return func(o *loggerOptions) { o.outputs = paths }
}

// NewLogger creates a structured logger from the given logging configuration.
// Entries go to stderr unless WithOutputs says otherwise; stdout is left to
// command output.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig, opts ...LoggerOption) (*zap.Logger, error) {
	o := loggerOptions{component: DefaultComponent, outputs: []string{"stderr"}}
	for _, opt := range opts {
		opt(&o)
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
		// Evaluation logs are per request; sampling would drop most of them.
		zapCfg.Sampling = nil
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.OutputPaths = o.outputs
	zapCfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	if o.component == "" {
		return logger, nil
	}
	return logger.With(zap.String("component", o.component)), nil
}
