package scripting_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/diceengine/internal/dice"
	"github.com/cory-johannsen/diceengine/internal/engine"
	"github.com/cory-johannsen/diceengine/internal/scripting"
)

func newTestManager(t testing.TB, src dice.RandomSource, limit int) (*scripting.Manager, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	opts := dice.DefaultOptions()
	opts.Random = src
	eng := engine.New(opts, engine.WithLogger(logger))
	mgr := scripting.NewManager(eng, logger, limit)
	t.Cleanup(mgr.Close)
	return mgr, logs
}

func writeLua(t testing.TB, dir, filename, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(src), 0644))
}

func TestManager_Load_CallsFunction(t *testing.T) {
	mgr, logs := newTestManager(t, nil, 0)
	dir := t.TempDir()
	writeLua(t, dir, "add.lua", `
		function add(a, b)
			return a + b
		end
	`)
	require.NoError(t, mgr.Load(context.Background(), dir))
	ret, err := mgr.Call(context.Background(), "add", 3, 4)
	require.NoError(t, err)
	assert.Equal(t, lua.LNumber(7), ret)
	assert.Equal(t, 1, logs.FilterMessage("scripts loaded").Len())
}

func TestManager_Load_MultipleFilesOrderedByName(t *testing.T) {
	mgr, _ := newTestManager(t, nil, 0)
	dir := t.TempDir()
	writeLua(t, dir, "b.lua", `value = value .. "b"`)
	writeLua(t, dir, "a.lua", `value = "a"`)
	writeLua(t, dir, "c.lua", `function get() return value end`)
	writeLua(t, dir, "readme.txt", `not lua`)
	require.NoError(t, mgr.Load(context.Background(), dir))
	ret, err := mgr.Call(context.Background(), "get")
	require.NoError(t, err)
	assert.Equal(t, lua.LString("ab"), ret)
}

func TestManager_Load_InvalidLuaKeepsPreviousVM(t *testing.T) {
	mgr, _ := newTestManager(t, nil, 0)
	require.NoError(t, mgr.LoadString(context.Background(), "inline", `function one() return 1 end`))

	dir := t.TempDir()
	writeLua(t, dir, "bad.lua", `function broken(`)
	err := mgr.Load(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.lua")

	ret, err := mgr.Call(context.Background(), "one")
	require.NoError(t, err)
	assert.Equal(t, lua.LNumber(1), ret)
}

func TestManager_Load_MissingDir(t *testing.T) {
	mgr, _ := newTestManager(t, nil, 0)
	assert.Error(t, mgr.Load(context.Background(), filepath.Join(t.TempDir(), "absent")))
}

func TestManager_Call_UnknownFunction(t *testing.T) {
	mgr, _ := newTestManager(t, nil, 0)
	_, err := mgr.Call(context.Background(), "nope")
	assert.ErrorIs(t, err, scripting.ErrUnknownFunction)

	_, err = mgr.Call(context.Background(), "print")
	assert.ErrorIs(t, err, scripting.ErrUnknownFunction, "builtins are not callable macros")
}

func TestManager_Call_RuntimeErrorReturnedAndLogged(t *testing.T) {
	mgr, logs := newTestManager(t, nil, 0)
	require.NoError(t, mgr.LoadString(context.Background(), "inline", `function boom() error("kaboom") end`))
	_, err := mgr.Call(context.Background(), "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, 1, logs.FilterMessage("script error").Len())
}

func TestManager_InstructionLimit(t *testing.T) {
	mgr, _ := newTestManager(t, nil, 50)
	require.NoError(t, mgr.LoadString(context.Background(), "inline", `function spin() while true do end end`))
	_, err := mgr.Call(context.Background(), "spin")
	assert.ErrorIs(t, err, scripting.ErrInstructionLimit)
}

func TestManager_InstructionLimitIsPerCall(t *testing.T) {
	mgr, _ := newTestManager(t, nil, 200)
	require.NoError(t, mgr.LoadString(context.Background(), "inline", `
		function small()
			local s = 0
			for i = 1, 10 do s = s + i end
			return s
		end
	`))
	for range 50 {
		ret, err := mgr.Call(context.Background(), "small")
		require.NoError(t, err)
		assert.Equal(t, lua.LNumber(55), ret)
	}
}

func TestManager_CallContextCancelled(t *testing.T) {
	mgr, _ := newTestManager(t, nil, 0)
	require.NoError(t, mgr.LoadString(context.Background(), "inline", `function spin() while true do end end`))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := mgr.Call(ctx, "spin")
	require.Error(t, err)
	assert.False(t, errors.Is(err, scripting.ErrInstructionLimit))
}

func TestManager_Functions(t *testing.T) {
	mgr, _ := newTestManager(t, nil, 0)
	assert.Empty(t, mgr.Functions())
	require.NoError(t, mgr.LoadString(context.Background(), "inline", `
		function zeta() end
		function alpha() end
		local function hidden() end
		answer = 42
	`))
	assert.Equal(t, []string{"alpha", "zeta"}, mgr.Functions())
}

func TestNewManager_PanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { scripting.NewManager(nil, zap.NewNop(), 0) })
	eng := engine.New(dice.DefaultOptions())
	assert.Panics(t, func() { scripting.NewManager(eng, nil, 0) })
}

func TestManager_ConcurrentCalls(t *testing.T) {
	mgr, _ := newTestManager(t, dice.Seeded(1), 0)
	require.NoError(t, mgr.LoadString(context.Background(), "inline", `
		function attack() local v = dice.roll("1d20+5") return v end
	`))
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ret, err := mgr.Call(context.Background(), "attack")
			assert.NoError(t, err)
			n, ok := ret.(lua.LNumber)
			assert.True(t, ok)
			assert.GreaterOrEqual(t, float64(n), 6.0)
			assert.LessOrEqual(t, float64(n), 25.0)
		}()
	}
	wg.Wait()
}

func TestToLuaFromLua(t *testing.T) {
	L := scripting.NewSandboxedState()
	defer L.Close()
	assert.Equal(t, lua.LString("x"), scripting.ToLua(L, "x"))
	assert.Equal(t, lua.LNumber(2), scripting.ToLua(L, 2))
	assert.Equal(t, lua.LTrue, scripting.ToLua(L, true))
	assert.Equal(t, lua.LNil, scripting.ToLua(L, nil))

	tbl := scripting.ToLua(L, []string{"a", "b"})
	assert.Equal(t, []any{"a", "b"}, scripting.FromLua(tbl))

	m := L.NewTable()
	m.RawSetString("k", lua.LNumber(1))
	assert.Equal(t, map[string]any{"k": 1.0}, scripting.FromLua(m))
	assert.Nil(t, scripting.FromLua(lua.LNil))
}

// Property: any finite instruction budget stops an infinite loop.
func TestProperty_InstructionLimitAlwaysErrors(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(1, 500).Draw(rt, "limit")
		mgr, _ := newTestManager(t, nil, limit)
		err := mgr.LoadString(context.Background(), "spin", `while true do end`)
		if !errors.Is(err, scripting.ErrInstructionLimit) {
			rt.Fatalf("limit=%d: got %v, want ErrInstructionLimit", limit, err)
		}
	})
}

func TestShippedScriptsLoad(t *testing.T) {
	mgr, _ := newTestManager(t, dice.Seeded(3), 0)
	require.NoError(t, mgr.Load(context.Background(), filepath.Join("..", "..", "content", "scripts")))
	assert.Equal(t, []string{"attack", "damage", "stat_block"}, mgr.Functions())

	ret, err := mgr.Call(context.Background(), "stat_block")
	require.NoError(t, err)
	scores, ok := scripting.FromLua(ret).([]any)
	require.True(t, ok)
	require.Len(t, scores, 6)
	for i := 1; i < len(scores); i++ {
		assert.GreaterOrEqual(t, scores[i-1].(float64), scores[i].(float64))
	}

	ret, err = mgr.Call(context.Background(), "damage", "2d1", "3", "true")
	require.NoError(t, err)
	assert.Equal(t, lua.LNumber(7), ret)
}
