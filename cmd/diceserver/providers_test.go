package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/diceengine/internal/config"
	"github.com/cory-johannsen/diceengine/internal/engine"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.GRPCPort = 0
	return cfg
}

func TestProvideResultCache_OffReturnsNil(t *testing.T) {
	cfg := testConfig(t)
	cfg.Evaluator.EnableCaching = false
	rc, cleanup, err := ProvideResultCache(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer cleanup()
	assert.Nil(t, rc)
}

func TestProvideResultCache_Memory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Evaluator.EnableCaching = true
	cfg.Cache.TTL = time.Minute
	rc, cleanup, err := ProvideResultCache(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer cleanup()
	require.NotNil(t, rc)

	eng := ProvideEngine(cfg, rc, nil, zaptest.NewLogger(t))
	assert.Equal(t, engine.PolicyDeterministic, eng.Policy())
}

func TestProvideResultCache_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Evaluator.EnableCaching = true
	cfg.Cache.Backend = config.CacheBackendRedis
	cfg.Cache.RedisAddr = "127.0.0.1:1"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := ProvideResultCache(ctx, cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestProvidePresets(t *testing.T) {
	cfg := testConfig(t)
	reg, err := ProvidePresets(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Zero(t, reg.Len())

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p.yaml"), []byte("name: stat\nexpression: 4d6kh3\n"), 0644))
	cfg.Presets.Dir = dir
	reg, err = ProvidePresets(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
}

func TestProvideScripts(t *testing.T) {
	cfg := testConfig(t)
	eng := ProvideEngine(cfg, nil, nil, zaptest.NewLogger(t))

	mgr, cleanup, err := ProvideScripts(context.Background(), cfg, eng, zaptest.NewLogger(t))
	require.NoError(t, err)
	cleanup()
	assert.Nil(t, mgr)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.lua"), []byte(`function two() return 2 end`), 0644))
	cfg.Scripting.Dir = dir
	mgr, cleanup, err = ProvideScripts(context.Background(), cfg, eng, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, []string{"two"}, mgr.Functions())
}

func TestInitializeApp_RunsUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Logging.Level = "error"
	ctx, cancel := context.WithCancel(context.Background())

	app, cleanup, err := InitializeApp(ctx, cfg)
	require.NoError(t, err)
	defer cleanup()

	done := make(chan error, 1)
	go func() { done <- app.Lifecycle.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle did not stop")
	}
}
