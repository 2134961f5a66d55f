//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/cory-johannsen/diceengine/internal/config"
	"github.com/cory-johannsen/diceengine/internal/diceserver"
)

// InitializeApp wires config into a runnable App. The cleanup function
// releases the cache backend, script VM, tracer provider and logger.
func InitializeApp(ctx context.Context, cfg config.Config) (*App, func(), error) {
	panic(wire.Build(
		ProvideLogger,
		ProvideTracerProvider,
		wire.Bind(new(trace.TracerProvider), new(*sdktrace.TracerProvider)),
		ProvideResultCache,
		ProvidePresets,
		ProvideEngine,
		ProvideScripts,
		diceserver.NewService,
		wire.Bind(new(diceserver.DiceServiceServer), new(*diceserver.Service)),
		ProvideGRPCServer,
		NewApp,
	))
}
