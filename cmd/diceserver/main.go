// Package main runs the dice evaluation gRPC server.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/diceengine/internal/config"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	app, cleanup, err := InitializeApp(ctx, cfg)
	if err != nil {
		log.Fatalf("initializing server: %v", err)
	}
	defer cleanup()

	app.Logger.Info("dice server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("grpc_addr", cfg.Server.Addr()),
		zap.String("cache_policy", cfg.Evaluator.EffectiveCachePolicy()),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	if err := app.Lifecycle.Run(ctx); err != nil {
		app.Logger.Error("server error", zap.Error(err))
		cleanup()
		log.Fatalf("server error: %v", err)
	}
}
