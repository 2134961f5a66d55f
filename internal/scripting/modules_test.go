package scripting_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/diceengine/internal/dice"
)

func TestDiceRoll_ReturnsValueAndRolls(t *testing.T) {
	mgr, _ := newTestManager(t, dice.Faces(6, 4, 5), 0)
	require.NoError(t, mgr.LoadString(context.Background(), "inline", `
		function attack()
			local value, rolls = dice.roll("2d6+3")
			return {
				value = value,
				terms = #rolls,
				expr = rolls[1].expression,
				total = rolls[1].total,
				first = rolls[1].rolls[1],
				second = rolls[1].rolls[2],
			}
		end
	`))
	ret, err := mgr.Call(context.Background(), "attack")
	require.NoError(t, err)
	tbl, ok := ret.(*lua.LTable)
	require.True(t, ok)
	assert.Equal(t, lua.LNumber(12), tbl.RawGetString("value"))
	assert.Equal(t, lua.LNumber(1), tbl.RawGetString("terms"))
	assert.Equal(t, lua.LString("2d6"), tbl.RawGetString("expr"))
	assert.Equal(t, lua.LNumber(9), tbl.RawGetString("total"))
	assert.Equal(t, lua.LNumber(4), tbl.RawGetString("first"))
	assert.Equal(t, lua.LNumber(5), tbl.RawGetString("second"))
}

func TestDiceRoll_ErrorIsCatchable(t *testing.T) {
	mgr, _ := newTestManager(t, nil, 0)
	require.NoError(t, mgr.LoadString(context.Background(), "inline", `
		function safe()
			local ok, err = pcall(dice.roll, "1/0")
			if ok then return "no error" end
			return err
		end
		function unsafe() return dice.roll("2d6 $") end
	`))
	ret, err := mgr.Call(context.Background(), "safe")
	require.NoError(t, err)
	assert.Contains(t, ret.String(), "division by zero")

	_, err = mgr.Call(context.Background(), "unsafe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dice.roll")
}

func TestDiceExplain_ReturnsRenderedText(t *testing.T) {
	mgr, _ := newTestManager(t, dice.Faces(6, 4, 5), 0)
	require.NoError(t, mgr.LoadString(context.Background(), "inline", `
		function why() return dice.explain("2d6+3") end
	`))
	ret, err := mgr.Call(context.Background(), "why")
	require.NoError(t, err)
	assert.Contains(t, ret.String(), "Expression: 2d6+3")
	assert.Contains(t, ret.String(), "Result: 12")
}

func TestDiceRange(t *testing.T) {
	mgr, _ := newTestManager(t, nil, 0)
	require.NoError(t, mgr.LoadString(context.Background(), "inline", `
		function bounds(expr)
			local lo, hi = dice.range(expr)
			return lo * 1000 + hi
		end
	`))
	ret, err := mgr.Call(context.Background(), "bounds", "3d6")
	require.NoError(t, err)
	assert.Equal(t, lua.LNumber(3018), ret)
}

func TestDiceLog_WritesToLogger(t *testing.T) {
	mgr, logs := newTestManager(t, nil, 0)
	require.NoError(t, mgr.LoadString(context.Background(), "inline", `dice.log("hello from lua")`))
	entries := logs.FilterMessage("script log").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "hello from lua", entries[0].ContextMap()["message"])
}

// Property: dice.roll stays within the static range of the expression.
func TestProperty_DiceRollWithinRange(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		count := rapid.IntRange(1, 6).Draw(rt, "count")
		sides := rapid.IntRange(1, 20).Draw(rt, "sides")
		mod := rapid.IntRange(0, 10).Draw(rt, "mod")
		expr := dice.Describe(&dice.BinaryNode{
			Op:    '+',
			Left:  &dice.DiceNode{Count: count, Sides: sides},
			Right: &dice.NumberNode{Value: mod},
		})
		mgr, _ := newTestManager(t, dice.Seeded(rapid.Uint64().Draw(rt, "seed")), 0)
		require.NoError(rt, mgr.LoadString(context.Background(), "inline", `
			function check(expr)
				local v = dice.roll(expr)
				local lo, hi = dice.range(expr)
				return v >= lo and v <= hi
			end
		`))
		ret, err := mgr.Call(context.Background(), "check", expr)
		if err != nil || ret != lua.LTrue {
			rt.Fatalf("%s: got %v, %v", expr, ret, err)
		}
	})
}
