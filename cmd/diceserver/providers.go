package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/cory-johannsen/diceengine/internal/cache"
	"github.com/cory-johannsen/diceengine/internal/config"
	"github.com/cory-johannsen/diceengine/internal/dice"
	"github.com/cory-johannsen/diceengine/internal/diceserver"
	"github.com/cory-johannsen/diceengine/internal/engine"
	"github.com/cory-johannsen/diceengine/internal/observability"
	"github.com/cory-johannsen/diceengine/internal/preset"
	"github.com/cory-johannsen/diceengine/internal/scripting"
	"github.com/cory-johannsen/diceengine/internal/server"
	"github.com/cory-johannsen/diceengine/internal/storage/postgres"
)

// App is the assembled dice server.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Lifecycle *server.Lifecycle
}

// ProvideLogger builds the process logger.
func ProvideLogger(cfg config.Config) (*zap.Logger, func(), error) {
	logger, err := observability.NewLogger(cfg.Logging, observability.WithComponent("diceserver"))
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}
	return logger, func() { _ = logger.Sync() }, nil
}

// ProvideTracerProvider builds the span-logging tracer provider.
func ProvideTracerProvider(logger *zap.Logger) (*sdktrace.TracerProvider, func()) {
	tp := observability.NewTracerProvider(logger)
	return tp, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}
}

// ProvideResultCache builds the configured cache backend, or returns nil when
// the effective cache policy is off.
func ProvideResultCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (*engine.ResultCache, func(), error) {
	noop := func() {}
	if cfg.Evaluator.EffectiveCachePolicy() == config.CachePolicyOff {
		return nil, noop, nil
	}
	type result = dice.DetailedEvaluationResult

	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Cache.RedisAddr, err)
		}
		logger.Info("result cache ready", zap.String("backend", "redis"), zap.String("addr", cfg.Cache.RedisAddr))
		return cache.New[result](cache.NewRedisBackend[result](rc, cfg.Cache.KeyPrefix, cfg.Cache.TTL)),
			func() { _ = rc.Close() }, nil

	case config.CacheBackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Database,
			postgres.WithStatementTimeout(cfg.Evaluator.MaxExecutionTime))
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		logger.Info("result cache ready", zap.String("backend", "postgres"), zap.String("host", cfg.Database.Host))
		return cache.New[result](postgres.NewResultStore[result](pool, cfg.Cache.KeyPrefix, cfg.Cache.TTL)),
			pool.Close, nil

	default:
		var opts []cache.MemoryOption
		if cfg.Cache.TTL > 0 {
			opts = append(opts, cache.WithTTL(cfg.Cache.TTL))
		}
		logger.Info("result cache ready", zap.String("backend", "memory"))
		return cache.New[result](cache.NewMemoryBackend[result](opts...)), noop, nil
	}
}

// ProvidePresets loads presets from the configured directory. An empty
// directory setting yields an empty registry.
func ProvidePresets(cfg config.Config, logger *zap.Logger) (*preset.Registry, error) {
	tcfg := cfg.Tokenizer.Dice()
	if cfg.Presets.Dir == "" {
		return preset.NewRegistry(tcfg), nil
	}
	reg, err := preset.LoadDirectory(cfg.Presets.Dir, tcfg)
	if err != nil {
		return nil, err
	}
	logger.Info("presets loaded", zap.String("dir", cfg.Presets.Dir), zap.Int("count", reg.Len()))
	return reg, nil
}

// ProvideEngine builds the evaluation engine.
func ProvideEngine(cfg config.Config, rc *engine.ResultCache, presets *preset.Registry, logger *zap.Logger) *engine.Engine {
	return engine.New(cfg.DiceOptions(),
		engine.WithCache(rc, engine.Policy(cfg.Evaluator.EffectiveCachePolicy())),
		engine.WithPresets(presets),
		engine.WithLogger(logger.Named("engine")),
	)
}

// ProvideScripts loads Lua macros. It returns a nil Manager when scripting
// is disabled.
func ProvideScripts(ctx context.Context, cfg config.Config, eng *engine.Engine, logger *zap.Logger) (*scripting.Manager, func(), error) {
	if cfg.Scripting.Dir == "" {
		return nil, func() {}, nil
	}
	mgr := scripting.NewManager(eng, logger.Named("scripting"), cfg.Scripting.InstructionLimit)
	if err := mgr.Load(ctx, cfg.Scripting.Dir); err != nil {
		mgr.Close()
		return nil, nil, err
	}
	return mgr, mgr.Close, nil
}

// ProvideGRPCServer builds the gRPC server for svc.
func ProvideGRPCServer(svc diceserver.DiceServiceServer, logger *zap.Logger) *grpc.Server {
	return diceserver.NewGRPCServer(svc, logger.Named("grpc"))
}

// NewApp registers the gRPC listener with a Lifecycle.
func NewApp(cfg config.Config, logger *zap.Logger, srv *grpc.Server) *App {
	lc := server.NewLifecycle(logger, server.WithShutdownTimeout(cfg.Server.ShutdownTimeout))
	lc.Add("grpc", diceserver.LifecycleService(srv, cfg.Server.Addr(), logger))
	return &App{Config: cfg, Logger: logger, Lifecycle: lc}
}
