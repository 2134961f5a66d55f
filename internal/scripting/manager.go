package scripting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// ErrUnknownFunction is returned by Call when no script defines the function.
var ErrUnknownFunction = errors.New("scripting: unknown function")

// Manager owns one sandboxed LState holding every loaded macro.
//
// An LState is single-threaded, so Load and Call are serialized. Each load
// and each call gets a fresh instruction budget.
type Manager struct {
	mu       sync.Mutex
	L        *lua.LState
	builtins map[string]bool
	ctx      context.Context
	eval     Evaluator
	logger   *zap.Logger
	limit    int
}

// NewManager creates a Manager with an empty VM.
//
// Precondition: eval and logger must be non-nil; instLimit <= 0 uses
// DefaultInstructionLimit.
// Postcondition: Returns a non-nil Manager with the dice table registered.
func NewManager(eval Evaluator, logger *zap.Logger, instLimit int) *Manager {
	if eval == nil {
		panic("scripting.NewManager: eval must not be nil")
	}
	if logger == nil {
		panic("scripting.NewManager: logger must not be nil")
	}
	m := &Manager{eval: eval, logger: logger, limit: instLimit, ctx: context.Background()}
	m.L, m.builtins = m.newState()
	return m
}

func (m *Manager) newState() (*lua.LState, map[string]bool) {
	L := NewSandboxedState()
	m.RegisterModules(L)
	builtins := make(map[string]bool)
	L.G.Global.ForEach(func(k, _ lua.LValue) {
		builtins[k.String()] = true
	})
	return L, builtins
}

// Load replaces the VM with one that has executed every *.lua file in dir in
// lexicographic order. On error the previous VM is kept.
//
// Precondition: dir must be a readable directory.
func (m *Manager) Load(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("scripting: reading script dir %q: %w", dir, err)
	}
	var luaFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(luaFiles)

	m.mu.Lock()
	defer m.mu.Unlock()

	L, builtins := m.newState()
	for _, path := range luaFiles {
		err := m.run(ctx, L, func() error { return L.DoFile(path) })
		if err != nil {
			L.Close()
			return fmt.Errorf("scripting: loading %q: %w", path, err)
		}
	}
	m.L.Close()
	m.L, m.builtins = L, builtins
	m.logger.Info("scripts loaded",
		zap.String("dir", dir),
		zap.Int("files", len(luaFiles)),
	)
	return nil
}

// LoadString executes src in the current VM, adding its definitions.
func (m *Manager) LoadString(ctx context.Context, name, src string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.run(ctx, m.L, func() error { return m.L.DoString(src) }); err != nil {
		return fmt.Errorf("scripting: loading %q: %w", name, err)
	}
	return nil
}

// Functions lists the global functions defined by loaded scripts.
func (m *Manager) Functions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	m.L.G.Global.ForEach(func(k, v lua.LValue) {
		if _, ok := v.(*lua.LFunction); ok && !m.builtins[k.String()] {
			names = append(names, k.String())
		}
	})
	sort.Strings(names)
	return names
}

// Call invokes the global function fn with args converted by ToLua.
//
// Postcondition: Returns the function's first result, or an error wrapping
// ErrUnknownFunction, ErrInstructionLimit or the Lua runtime error.
func (m *Manager) Call(ctx context.Context, fn string, args ...any) (lua.LValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.L.GetGlobal(fn).(*lua.LFunction)
	if !ok || m.builtins[fn] {
		return lua.LNil, fmt.Errorf("%w %q", ErrUnknownFunction, fn)
	}
	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = ToLua(m.L, a)
	}

	err := m.run(ctx, m.L, func() error {
		return m.L.CallByParam(lua.P{Fn: f, NRet: 1, Protect: true}, largs...)
	})
	if err != nil {
		m.logger.Warn("script error",
			zap.String("function", fn),
			zap.Error(err),
		)
		return lua.LNil, fmt.Errorf("scripting: calling %q: %w", fn, err)
	}
	ret := m.L.Get(-1)
	m.L.Pop(1)
	return ret, nil
}

// run executes fn under the instruction limit with ctx visible to the dice
// module. Caller holds m.mu.
func (m *Manager) run(ctx context.Context, L *lua.LState, fn func() error) error {
	m.ctx = ctx
	defer func() { m.ctx = context.Background() }()
	return runLimited(ctx, L, m.limit, fn)
}

// callContext is the context of the load or call in progress.
func (m *Manager) callContext() context.Context { return m.ctx }

// Close releases the VM.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.L.Close()
}

// ToLua converts a Go value to a Lua value. Unsupported types become their
// fmt representation.
func ToLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return x
	case string:
		return lua.LString(x)
	case bool:
		return lua.LBool(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case []string:
		t := L.CreateTable(len(x), 0)
		for _, s := range x {
			t.Append(lua.LString(s))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(x))
	}
}

// FromLua converts a Lua value to a Go value: numbers to float64, tables with
// only array entries to []any, other tables to map[string]any.
func FromLua(v lua.LValue) any {
	switch x := v.(type) {
	case lua.LBool:
		return bool(x)
	case lua.LNumber:
		return float64(x)
	case lua.LString:
		return string(x)
	case *lua.LTable:
		if n := x.Len(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, FromLua(x.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		x.ForEach(func(k, val lua.LValue) { out[k.String()] = FromLua(val) })
		return out
	default:
		return nil
	}
}
