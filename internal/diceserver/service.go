package diceserver

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/diceengine/internal/dice"
	"github.com/cory-johannsen/diceengine/internal/engine"
	"github.com/cory-johannsen/diceengine/internal/preset"
	"github.com/cory-johannsen/diceengine/internal/scripting"
)

const tracerName = "github.com/cory-johannsen/diceengine/internal/diceserver"

// Service implements DiceServiceServer over an Engine.
type Service struct {
	engine  *engine.Engine
	scripts *scripting.Manager
	tracer  trace.Tracer
	logger  *zap.Logger
}

// NewService creates a Service. scripts may be nil, in which case RunScript
// reports Unimplemented.
//
// Precondition: eng, tp and logger must be non-nil.
func NewService(eng *engine.Engine, scripts *scripting.Manager, tp trace.TracerProvider, logger *zap.Logger) *Service {
	return &Service{
		engine:  eng,
		scripts: scripts,
		tracer:  tp.Tracer(tracerName),
		logger:  logger,
	}
}

// Evaluate handles dice.v1.DiceService/Evaluate.
func (s *Service) Evaluate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.evaluate(ctx, "Evaluate", in, s.engine.Evaluate)
}

// Explain handles dice.v1.DiceService/Explain.
func (s *Service) Explain(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.evaluate(ctx, "Explain", in, s.engine.Explain)
}

func (s *Service) evaluate(ctx context.Context, name string, in *structpb.Struct, fn func(context.Context, string) (engine.Result, error)) (*structpb.Struct, error) {
	expr := in.GetFields()["expression"].GetStringValue()
	ctx, span := s.tracer.Start(ctx, "DiceService/"+name, trace.WithAttributes(
		attribute.String("dice.expression", expr),
	))
	defer span.End()

	if expr == "" {
		err := status.Error(codes.InvalidArgument, "expression is required")
		span.SetStatus(otelcodes.Error, "expression is required")
		return nil, err
	}

	res, err := fn(ctx, expr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		span.SetAttributes(attribute.String("dice.error_kind", dice.KindOf(err).String()))
		return nil, StatusError(err)
	}
	span.SetAttributes(
		attribute.String("dice.evaluation_id", res.ID),
		attribute.Float64("dice.value", res.Value),
		attribute.String("dice.cache", string(res.Cache)),
	)

	out, err := structpb.NewStruct(resultMap(res))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding result: %v", err)
	}
	return out, nil
}

// ListPresets handles dice.v1.DiceService/ListPresets.
func (s *Service) ListPresets(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	_, span := s.tracer.Start(ctx, "DiceService/ListPresets")
	defer span.End()

	list := []any{}
	if reg := s.engine.Presets(); reg != nil {
		for _, p := range reg.All() {
			tags := make([]any, len(p.Tags))
			for i, t := range p.Tags {
				tags[i] = t
			}
			list = append(list, map[string]any{
				"name":        p.Name,
				"expression":  p.Expression,
				"description": p.Description,
				"tags":        tags,
			})
		}
	}
	span.SetAttributes(attribute.Int("dice.presets", len(list)))
	out, err := structpb.NewStruct(map[string]any{"presets": list})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding presets: %v", err)
	}
	return out, nil
}

// RunScript handles dice.v1.DiceService/RunScript.
func (s *Service) RunScript(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	fn := fields["function"].GetStringValue()
	ctx, span := s.tracer.Start(ctx, "DiceService/RunScript", trace.WithAttributes(
		attribute.String("script.function", fn),
	))
	defer span.End()

	if s.scripts == nil {
		return nil, status.Error(codes.Unimplemented, "scripting is disabled")
	}
	if fn == "" {
		return nil, status.Error(codes.InvalidArgument, "function is required")
	}
	var args []any
	for _, v := range fields["args"].GetListValue().GetValues() {
		args = append(args, v.AsInterface())
	}

	ret, err := s.scripts.Call(ctx, fn, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, StatusError(err)
	}
	out, err := structpb.NewStruct(map[string]any{"result": scripting.FromLua(ret)})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding script result: %v", err)
	}
	return out, nil
}

// StatusError maps engine, preset and scripting errors onto gRPC status codes.
func StatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, preset.ErrUnknownPreset), errors.Is(err, scripting.ErrUnknownFunction):
		code = codes.NotFound
	case errors.Is(err, scripting.ErrInstructionLimit):
		code = codes.ResourceExhausted
	default:
		switch dice.KindOf(err) {
		case dice.KindLexical, dice.KindSyntax, dice.KindEvaluation:
			code = codes.InvalidArgument
		case dice.KindTimeout:
			code = codes.DeadlineExceeded
		case dice.KindMaxRerolls:
			code = codes.ResourceExhausted
		}
	}
	return status.Error(code, err.Error())
}

func resultMap(r engine.Result) map[string]any {
	rolls := make([]any, len(r.Rolls))
	for i, roll := range r.Rolls {
		faces := make([]any, len(roll.Rolls))
		for j, f := range roll.Rolls {
			faces[j] = f
		}
		rolls[i] = map[string]any{
			"expression": roll.Expression,
			"total":      roll.Total,
			"rolls":      faces,
			"summary":    roll.String(),
		}
	}
	m := map[string]any{
		"id":                  r.ID,
		"expression":          r.Expression,
		"value":               r.Value,
		"min":                 r.MinValue,
		"max":                 r.MaxValue,
		"rolls":               rolls,
		"execution_time_ms":   float64(r.ExecutionTime.Microseconds()) / 1000,
		"cache":               string(r.Cache),
		"max_rerolls_reached": r.MaxRerollsReached(),
	}
	if r.Preset != "" {
		m["preset"] = r.Preset
	}
	if mt := r.Metrics; mt != nil {
		m["metrics"] = map[string]any{
			"nodes_evaluated":   mt.NodesEvaluated,
			"dice_rolled":       mt.DiceRolled,
			"rerolls_performed": mt.RerollsPerformed,
		}
	}
	if e := r.Explanation; e != nil {
		steps := make([]any, len(e.Steps))
		for i, st := range e.Steps {
			steps[i] = map[string]any{
				"sequence":    st.Sequence,
				"operation":   st.Operation,
				"description": st.Description,
				"value":       st.Value,
				"detail":      st.Detail,
			}
		}
		tokens := make([]any, len(e.Tokenization))
		for i, tok := range e.Tokenization {
			tokens[i] = tok
		}
		m["steps"] = steps
		m["tokens"] = tokens
		m["tree"] = e.Parsing
		m["text"] = e.Render()
	}
	return m
}

// JSON renders a response Struct as indented JSON.
func JSON(s *structpb.Struct) (string, error) {
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding response: %w", err)
	}
	return string(b), nil
}
