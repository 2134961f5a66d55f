// Package diceserver exposes the evaluation engine over gRPC.
//
// Messages are google.protobuf.Struct values, so the service needs no
// generated code: the ServiceDesc below is written by hand and both ends
// exchange JSON-shaped maps.
package diceserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dice.v1.DiceService"

// Full method names.
const (
	EvaluateMethod    = "/" + ServiceName + "/Evaluate"
	ExplainMethod     = "/" + ServiceName + "/Explain"
	ListPresetsMethod = "/" + ServiceName + "/ListPresets"
	RunScriptMethod   = "/" + ServiceName + "/RunScript"
)

// DiceServiceServer is the server API for dice.v1.DiceService.
type DiceServiceServer interface {
	// Evaluate takes {expression} and returns the detailed result.
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Explain takes {expression} and returns the result plus its trace.
	Explain(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// ListPresets returns {presets: [...]}.
	ListPresets(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// RunScript takes {function, args} and returns {result}.
	RunScript(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(DiceServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DiceServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DiceServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes dice.v1.DiceService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DiceServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: unaryHandler(EvaluateMethod, DiceServiceServer.Evaluate)},
		{MethodName: "Explain", Handler: unaryHandler(ExplainMethod, DiceServiceServer.Explain)},
		{MethodName: "ListPresets", Handler: unaryHandler(ListPresetsMethod, DiceServiceServer.ListPresets)},
		{MethodName: "RunScript", Handler: unaryHandler(RunScriptMethod, DiceServiceServer.RunScript)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dice/v1/dice.proto",
}

// RegisterDiceServiceServer registers srv with s.
func RegisterDiceServiceServer(s grpc.ServiceRegistrar, srv DiceServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls dice.v1.DiceService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Evaluate evaluates expr remotely.
func (c *Client) Evaluate(ctx context.Context, expr string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, EvaluateMethod, map[string]any{"expression": expr}, opts...)
}

// Explain evaluates expr remotely with its explanation.
func (c *Client) Explain(ctx context.Context, expr string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ExplainMethod, map[string]any{"expression": expr}, opts...)
}

// ListPresets lists the server's presets.
func (c *Client) ListPresets(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ListPresetsMethod, map[string]any{}, opts...)
}

// RunScript calls a Lua macro on the server.
func (c *Client) RunScript(ctx context.Context, fn string, args []any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, RunScriptMethod, map[string]any{"function": fn, "args": args}, opts...)
}
