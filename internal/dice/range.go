package dice

import (
	"fmt"
	"math"
)

// Range returns bounds [lo, hi] that every successful evaluation of n lies
// within, given a reroll budget of maxRerolls. Unbounded ends are reported as
// ±math.MaxFloat64.
func Range(n Node, maxRerolls int) (lo, hi float64) {
	lo, hi = rangeOf(n, max(maxRerolls, 0))
	return clampFinite(lo, -math.MaxFloat64), clampFinite(hi, math.MaxFloat64)
}

func rangeOf(n Node, budget int) (float64, float64) {
	switch n := n.(type) {
	case *NumberNode:
		v := float64(n.Value)
		return v, v
	case *GroupNode:
		return rangeOf(n.Inner, budget)
	case *NegateNode:
		lo, hi := rangeOf(n.Operand, budget)
		return -hi, -lo
	case *DiceNode:
		return diceRange(n.Count, n.Sides)
	case *ConditionalNode:
		if !validSpec(n.Dice) {
			return 0, 0
		}
		return 0, float64(n.Dice.Count)
	case *RerollNode:
		if !validSpec(n.Dice) {
			return 0, 0
		}
		lo, hi := diceRange(n.Dice.Count, n.Dice.Sides)
		if n.Mode == RerollExploding {
			hi += float64(budget) * float64(n.Dice.Sides)
		}
		return lo, hi
	case *KeepNode:
		if !validSpec(n.Dice) {
			return 0, 0
		}
		kept := min(max(n.Amount, 0), n.Dice.Count)
		if n.Mode == DropHighest || n.Mode == DropLowest {
			kept = n.Dice.Count - kept
		}
		return diceRange(kept, n.Dice.Sides)
	case *BinaryNode:
		return binaryRange(n, budget)
	}
	panic(fmt.Sprintf("dice: Range: unhandled node type %T", n))
}

func binaryRange(n *BinaryNode, budget int) (float64, float64) {
	llo, lhi := rangeOf(n.Left, budget)
	rlo, rhi := rangeOf(n.Right, budget)
	switch n.Op {
	case '+':
		return llo + rlo, lhi + rhi
	case '-':
		return llo - rhi, lhi - rlo
	case '*':
		return extremes(llo*rlo, llo*rhi, lhi*rlo, lhi*rhi)
	case '/':
		if rlo <= 0 && rhi >= 0 {
			return -math.MaxFloat64, math.MaxFloat64
		}
		return extremes(llo/rlo, llo/rhi, lhi/rlo, lhi/rhi)
	}
	return -math.MaxFloat64, math.MaxFloat64
}

func diceRange(count, sides int) (float64, float64) {
	if count <= 0 || sides < 1 {
		return 0, 0
	}
	return float64(count), float64(count) * float64(sides)
}

func validSpec(d *DiceNode) bool { return d.Count >= 0 && d.Sides >= 1 }

func extremes(vs ...float64) (lo, hi float64) {
	lo, hi = vs[0], vs[0]
	for _, v := range vs[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// clampFinite maps infinities onto ±math.MaxFloat64 and NaN onto ifNaN.
func clampFinite(v, ifNaN float64) float64 {
	switch {
	case math.IsNaN(v):
		return ifNaN
	case v > math.MaxFloat64:
		return math.MaxFloat64
	case v < -math.MaxFloat64:
		return -math.MaxFloat64
	}
	return v
}
