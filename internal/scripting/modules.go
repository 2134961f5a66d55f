package scripting

import (
	"context"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/diceengine/internal/engine"
)

// Evaluator is the engine surface exposed to scripts.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string) (engine.Result, error)
	Explain(ctx context.Context, expr string) (engine.Result, error)
	Range(expr string) (lo, hi float64, err error)
}

// RegisterModules installs the global dice table into L:
//
//	dice.roll(expr)    -> value, rolls
//	dice.explain(expr) -> text
//	dice.range(expr)   -> min, max
//	dice.log(msg)
//
// rolls is an array of {expression, total, rolls} tables, one per dice term.
// Evaluation failures raise Lua errors, so scripts may use pcall.
//
// Precondition: L must be from NewSandboxedState.
func (m *Manager) RegisterModules(L *lua.LState) {
	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"roll":    m.luaRoll,
		"explain": m.luaExplain,
		"range":   m.luaRange,
		"log":     m.luaLog,
	})
	L.SetGlobal("dice", mod)
}

func (m *Manager) luaRoll(L *lua.LState) int {
	expr := L.CheckString(1)
	res, err := m.eval.Evaluate(m.callContext(), expr)
	if err != nil {
		L.RaiseError("dice.roll(%q): %s", expr, err.Error())
		return 0
	}
	rolls := L.CreateTable(len(res.Rolls), 0)
	for _, r := range res.Rolls {
		faces := L.CreateTable(len(r.Rolls), 0)
		for _, f := range r.Rolls {
			faces.Append(lua.LNumber(f))
		}
		entry := L.CreateTable(0, 3)
		entry.RawSetString("expression", lua.LString(r.Expression))
		entry.RawSetString("total", lua.LNumber(r.Total))
		entry.RawSetString("rolls", faces)
		rolls.Append(entry)
	}
	L.Push(lua.LNumber(res.Value))
	L.Push(rolls)
	return 2
}

func (m *Manager) luaExplain(L *lua.LState) int {
	expr := L.CheckString(1)
	res, err := m.eval.Explain(m.callContext(), expr)
	if err != nil {
		L.RaiseError("dice.explain(%q): %s", expr, err.Error())
		return 0
	}
	L.Push(lua.LString(res.Explanation.Render()))
	return 1
}

func (m *Manager) luaRange(L *lua.LState) int {
	expr := L.CheckString(1)
	lo, hi, err := m.eval.Range(expr)
	if err != nil {
		L.RaiseError("dice.range(%q): %s", expr, err.Error())
		return 0
	}
	L.Push(lua.LNumber(lo))
	L.Push(lua.LNumber(hi))
	return 2
}

func (m *Manager) luaLog(L *lua.LState) int {
	m.logger.Info("script log", zap.String("message", L.CheckString(1)))
	return 0
}
