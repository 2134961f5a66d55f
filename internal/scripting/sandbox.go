// Package scripting runs dice macros written in Lua. Scripts execute in a
// sandboxed GopherLua VM and reach the evaluation engine only through the
// global dice table.
package scripting

import (
	"context"
	"errors"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// DefaultInstructionLimit is the maximum number of Lua opcodes allowed per
// load or call when no limit is configured.
const DefaultInstructionLimit = 100_000

// ErrInstructionLimit is returned when a script runs out of instructions.
var ErrInstructionLimit = errors.New("scripting: instruction limit exceeded")

// countingContext is a context.Context that cancels itself after Done() has
// been called limit times. GopherLua's mainLoopWithContext calls Done() once
// per opcode, making this an exact instruction-count limit.
type countingContext struct {
	context.Context
	cancel    context.CancelFunc
	remaining *atomic.Int64
}

// Done returns the underlying cancellation channel. Each call decrements the
// remaining counter; when it reaches zero the cancel function fires,
// terminating the Lua VM on the next opcode boundary.
func (c *countingContext) Done() <-chan struct{} {
	if c.remaining.Add(-1) <= 0 {
		c.cancel()
	}
	return c.Context.Done()
}

// exhausted reports whether the instruction budget, rather than the parent
// context, ended execution.
func (c *countingContext) exhausted() bool {
	return c.remaining.Load() <= 0
}

// newCountingContext returns a context derived from parent that cancels after
// limit calls to Done().
//
// Precondition: limit > 0.
func newCountingContext(parent context.Context, limit int) (*countingContext, context.CancelFunc) {
	base, cancel := context.WithCancel(parent)
	rem := &atomic.Int64{}
	rem.Store(int64(limit))
	return &countingContext{
		Context:   base,
		cancel:    cancel,
		remaining: rem,
	}, cancel
}

// NewSandboxedState creates a GopherLua LState with:
//   - Only safe stdlib loaded: base, table, string, math
//   - Dangerous globals removed: dofile, loadfile, load, loadstring,
//     collectgarbage, require
//
// Postcondition: Returns a non-nil LState with no instruction limit; bound
// each run with runLimited. The caller must call L.Close() when done.
func NewSandboxedState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "collectgarbage", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// runLimited runs fn with L bound to a context that allows at most limit
// opcodes and is cancelled with ctx.
//
// Precondition: limit <= 0 uses DefaultInstructionLimit.
// Postcondition: L has no context attached when runLimited returns.
func runLimited(ctx context.Context, L *lua.LState, limit int, fn func() error) error {
	if limit <= 0 {
		limit = DefaultInstructionLimit
	}
	cc, cancel := newCountingContext(ctx, limit)
	defer cancel()
	L.SetContext(cc)
	defer L.RemoveContext()

	err := fn()
	if err != nil && cc.exhausted() && ctx.Err() == nil {
		return errors.Join(ErrInstructionLimit, err)
	}
	return err
}
