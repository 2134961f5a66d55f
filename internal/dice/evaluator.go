package dice

import (
	"fmt"
	"math"

	"github.com/cory-johannsen/diceengine/internal/seq"
)

// Evaluate folds n into a number, rolling dice through c.
//
// Precondition: n comes from Parse; c comes from NewEvalContext.
// Postcondition: Returns a finite value, or the first error encountered in
// left-to-right order. No partial value accompanies an error.
func Evaluate(n Node, c *EvalContext) (float64, error) {
	if err := c.checkBudget(n); err != nil {
		return 0, err
	}
	c.metrics.NodesEvaluated++

	switch n := n.(type) {
	case *NumberNode:
		v := float64(n.Value)
		c.record(n, "number", fmt.Sprintf("literal %d", n.Value), v, "", nil)
		return v, nil

	case *GroupNode:
		v, err := Evaluate(n.Inner, c)
		if err != nil {
			return 0, err
		}
		c.record(n, "group", fmt.Sprintf("parenthesized %s = %s", Describe(n.Inner), FormatValue(v)), v, "", nil)
		return v, nil

	case *NegateNode:
		v, err := Evaluate(n.Operand, c)
		if err != nil {
			return 0, err
		}
		c.record(n, "negate", fmt.Sprintf("-(%s) = %s", FormatValue(v), FormatValue(-v)), -v, "", nil)
		return -v, nil

	case *BinaryNode:
		return evalBinary(n, c)

	case *DiceNode:
		res, err := c.rollPlain(n)
		if err != nil {
			return 0, err
		}
		return c.finishRoll(n, "roll", res), nil

	case *ConditionalNode:
		res, err := c.rollConditional(n)
		if err != nil {
			return 0, err
		}
		return c.finishRoll(n, "conditional", res), nil

	case *RerollNode:
		res, err := c.rollReroll(n)
		if err != nil {
			return 0, err
		}
		return c.finishRoll(n, "reroll", res), nil

	case *KeepNode:
		res, err := c.rollKeep(n)
		if err != nil {
			return 0, err
		}
		return c.finishRoll(n, "keep", res), nil
	}
	return 0, &EvaluationError{Message: fmt.Sprintf("unsupported node type %T", n), Node: n}
}

func evalBinary(n *BinaryNode, c *EvalContext) (float64, error) {
	l, err := Evaluate(n.Left, c)
	if err != nil {
		return 0, err
	}
	r, err := Evaluate(n.Right, c)
	if err != nil {
		return 0, err
	}
	if err := c.checkBudget(n); err != nil {
		return 0, err
	}

	var v float64
	switch n.Op {
	case '+':
		v = l + r
	case '-':
		v = l - r
	case '*':
		v = l * r
	case '/':
		if r == 0 {
			return 0, &EvaluationError{Message: "division by zero", Node: n, Label: "divisor", Value: r, HasValue: true}
		}
		v = l / r
	default:
		return 0, &EvaluationError{Message: fmt.Sprintf("unknown operator %q", string(n.Op)), Node: n}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &EvaluationError{Message: "undefined numeric result", Node: n, Value: v, HasValue: true}
	}
	c.record(n, "arithmetic",
		fmt.Sprintf("%s %c %s = %s", FormatValue(l), n.Op, FormatValue(r), FormatValue(v)),
		v, Describe(n), nil)
	return v, nil
}

// finishRoll stores res in the context, records its step and returns its value.
func (c *EvalContext) finishRoll(n Node, op string, res DiceRollResult) float64 {
	c.rolls = append(c.rolls, res)
	v := float64(res.Value())
	var detail string
	switch {
	case res.Conditional != nil:
		detail = fmt.Sprintf("successes %v, failures %v", res.Conditional.SuccessfulRolls, res.Conditional.FailedRolls)
	case res.Reroll != nil:
		detail = fmt.Sprintf("%d rerolls, all rolls %v, counted %v", res.Reroll.RerollCount, res.Reroll.AllRolls, res.Reroll.FinalRolls)
		if res.Reroll.MaxRerollsReached {
			detail += ", reroll limit reached"
		}
	case res.Keep != nil:
		detail = fmt.Sprintf("kept %v, dropped %v", res.Keep.Kept, res.Keep.Dropped)
	}
	c.record(n, op, res.String(), v, detail, res.Rolls)
	return v
}

// Bounds on a single dice term. A term's largest possible total must stay
// at or below MaxExactTotal so sums are exact both as int and as float64.
const (
	MaxDiceCount  = 100_000
	MaxExactTotal = 1 << 53
)

// validateDice rejects impossible or oversized dice before any roll happens.
// extra is the number of additional faces the term may add to its total,
// such as exploding rerolls.
func validateDice(owner Node, d *DiceNode, extra int) error {
	if d.Count < 0 {
		return &EvaluationError{Message: "negative dice count", Node: owner, Label: "count", Value: float64(d.Count), HasValue: true}
	}
	if d.Count > MaxDiceCount {
		return &EvaluationError{Message: fmt.Sprintf("too many dice (limit %d)", MaxDiceCount), Node: owner, Label: "count", Value: float64(d.Count), HasValue: true}
	}
	if d.Sides < 1 {
		return &EvaluationError{Message: "dice must have at least one side", Node: owner, Label: "sides", Value: float64(d.Sides), HasValue: true}
	}
	faces := float64(d.Count) + float64(max(extra, 0))
	if faces*float64(d.Sides) > MaxExactTotal {
		return &EvaluationError{Message: "dice total could exceed 2^53", Node: owner, Label: "sides", Value: float64(d.Sides), HasValue: true}
	}
	return nil
}

// roll produces one face in [1, sides].
func (c *EvalContext) roll(owner Node, sides int) (int, error) {
	if err := c.checkBudget(owner); err != nil {
		return 0, err
	}
	u := c.random()
	if !(u >= 0 && u < 1) {
		return 0, &EvaluationError{Message: "random source returned a value outside [0, 1)", Node: owner, Label: "random", Value: u, HasValue: true}
	}
	c.metrics.DiceRolled++
	return face(u, sides), nil
}

func (c *EvalContext) rollN(owner Node, d *DiceNode) ([]int, error) {
	if err := validateDice(owner, d, 0); err != nil {
		return nil, err
	}
	var rolls []int
	for range d.Count {
		v, err := c.roll(owner, d.Sides)
		if err != nil {
			return nil, err
		}
		rolls = append(rolls, v)
	}
	if rolls == nil {
		rolls = []int{}
	}
	return rolls, nil
}

func (c *EvalContext) rollPlain(n *DiceNode) (DiceRollResult, error) {
	rolls, err := c.rollN(n, n)
	if err != nil {
		return DiceRollResult{}, err
	}
	return DiceRollResult{
		Expression: Describe(n),
		Rolls:      rolls,
		Total:      seq.Sum(rolls),
		Count:      n.Count,
		Sides:      n.Sides,
	}, nil
}

// rollConditional evaluates to the number of dice satisfying the condition,
// not to their sum.
func (c *EvalContext) rollConditional(n *ConditionalNode) (DiceRollResult, error) {
	rolls, err := c.rollN(n, n.Dice)
	if err != nil {
		return DiceRollResult{}, err
	}
	cond := &ConditionalResult{
		Threshold:       n.Threshold,
		Operator:        n.Cmp,
		SuccessfulRolls: []int{},
		FailedRolls:     []int{},
	}
	for _, v := range rolls {
		if n.Cmp.Test(v, n.Threshold) {
			cond.SuccessfulRolls = append(cond.SuccessfulRolls, v)
		} else {
			cond.FailedRolls = append(cond.FailedRolls, v)
		}
	}
	cond.SuccessCount = len(cond.SuccessfulRolls)
	return DiceRollResult{
		Expression:  Describe(n),
		Rolls:       rolls,
		Total:       seq.Sum(rolls),
		Count:       n.Dice.Count,
		Sides:       n.Dice.Sides,
		Conditional: cond,
	}, nil
}

// rollReroll runs the reroll state machine for every die of n.
//
//   - once: a die is rerolled at most one time.
//   - recursive: a die is rerolled until it stops matching.
//   - exploding: as recursive, but every roll is added to the total.
//
// Each reroll spends one unit of the evaluation-wide budget. When the budget
// is empty the die keeps its last face and MaxRerollsReached is set, unless
// the context is configured to fail instead.
func (c *EvalContext) rollReroll(n *RerollNode) (DiceRollResult, error) {
	d := n.Dice
	extra := 0
	if n.Mode == RerollExploding {
		extra = c.maxRerolls
	}
	if err := validateDice(n, d, extra); err != nil {
		return DiceRollResult{}, err
	}
	rr := &RerollResult{
		Mode:       n.Mode,
		Condition:  n.Cmp,
		Threshold:  n.Threshold,
		AllRolls:   []int{},
		FinalRolls: []int{},
	}
	terminal := []int{}

	for i := 0; i < d.Count; i++ {
		v, err := c.roll(n, d.Sides)
		if err != nil {
			return DiceRollResult{}, err
		}
		rr.AllRolls = append(rr.AllRolls, v)
		if n.Mode == RerollExploding {
			rr.FinalRolls = append(rr.FinalRolls, v)
		}

		rerolled := 0
		for n.Cmp.Test(v, n.Threshold) {
			if n.Mode == RerollOnce && rerolled == 1 {
				break
			}
			if c.rerollsLeft <= 0 {
				rr.MaxRerollsReached = true
				if c.failOnMaxRerolls {
					return DiceRollResult{}, &MaxRerollsError{Max: c.maxRerolls, Node: n}
				}
				break
			}
			c.rerollsLeft--
			c.metrics.RerollsPerformed++
			rerolled++
			rr.RerollCount++

			v, err = c.roll(n, d.Sides)
			if err != nil {
				return DiceRollResult{}, err
			}
			rr.AllRolls = append(rr.AllRolls, v)
			if n.Mode == RerollExploding {
				rr.FinalRolls = append(rr.FinalRolls, v)
			}
		}

		terminal = append(terminal, v)
		if n.Mode != RerollExploding {
			rr.FinalRolls = append(rr.FinalRolls, v)
		}
	}

	return DiceRollResult{
		Expression: Describe(n),
		Rolls:      terminal,
		Total:      seq.Sum(rr.FinalRolls),
		Count:      d.Count,
		Sides:      d.Sides,
		Reroll:     rr,
	}, nil
}

func (c *EvalContext) rollKeep(n *KeepNode) (DiceRollResult, error) {
	rolls, err := c.rollN(n, n.Dice)
	if err != nil {
		return DiceRollResult{}, err
	}
	if n.Amount < 0 {
		return DiceRollResult{}, &EvaluationError{Message: "negative keep amount", Node: n, Label: "amount", Value: float64(n.Amount), HasValue: true}
	}

	var kept, dropped []int
	switch n.Mode {
	case KeepHighest:
		kept = seq.TopN(rolls, n.Amount)
		dropped = seq.BottomN(rolls, len(rolls)-len(kept))
	case KeepLowest:
		kept = seq.BottomN(rolls, n.Amount)
		dropped = seq.TopN(rolls, len(rolls)-len(kept))
	case DropHighest:
		kept = seq.DropHighest(rolls, n.Amount)
		dropped = seq.TopN(rolls, n.Amount)
	case DropLowest:
		kept = seq.DropLowest(rolls, n.Amount)
		dropped = seq.BottomN(rolls, n.Amount)
	default:
		return DiceRollResult{}, &EvaluationError{Message: fmt.Sprintf("unknown keep mode %q", string(n.Mode)), Node: n}
	}

	return DiceRollResult{
		Expression: Describe(n),
		Rolls:      rolls,
		Total:      seq.Sum(kept),
		Count:      n.Dice.Count,
		Sides:      n.Dice.Sides,
		Keep:       &KeepResult{Mode: n.Mode, Amount: n.Amount, Kept: kept, Dropped: dropped},
	}, nil
}
