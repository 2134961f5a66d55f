package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// NewTracerProvider returns an SDK tracer provider that reports every ended
// span to logger at Debug level. Callers own the provider and must call
// Shutdown.
//
// Precondition: logger must be non-nil.
func NewTracerProvider(logger *zap.Logger, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	opts = append([]sdktrace.TracerProviderOption{
		sdktrace.WithSpanProcessor(&logSpanProcessor{logger: logger.Named("trace")}),
	}, opts...)
	return sdktrace.NewTracerProvider(opts...)
}

// logSpanProcessor writes ended spans to a zap logger.
type logSpanProcessor struct {
	logger *zap.Logger
}

func (p *logSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if !p.logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	fields := []zap.Field{
		zap.String("span", s.Name()),
		zap.String("trace_id", s.SpanContext().TraceID().String()),
		zap.String("span_id", s.SpanContext().SpanID().String()),
		zap.Duration("duration", s.EndTime().Sub(s.StartTime())),
		zap.String("status", s.Status().Code.String()),
	}
	for _, kv := range s.Attributes() {
		fields = append(fields, attributeField(kv))
	}
	p.logger.Debug("span ended", fields...)
}

func (p *logSpanProcessor) Shutdown(context.Context) error {
	_ = p.logger.Sync()
	return nil
}

func (p *logSpanProcessor) ForceFlush(context.Context) error { return nil }

func attributeField(kv attribute.KeyValue) zap.Field {
	key := string(kv.Key)
	switch kv.Value.Type() {
	case attribute.BOOL:
		return zap.Bool(key, kv.Value.AsBool())
	case attribute.INT64:
		return zap.Int64(key, kv.Value.AsInt64())
	case attribute.FLOAT64:
		return zap.Float64(key, kv.Value.AsFloat64())
	default:
		return zap.String(key, kv.Value.Emit())
	}
}
