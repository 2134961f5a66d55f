package dice

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DiceRollResult holds the full audit trail for one dice term.
//
// Rolls has one entry per die: its terminal face. Total is the term's sum
// (for exploding rerolls this includes every triggering roll). At most one of
// Conditional, Reroll and Keep is set.
type DiceRollResult struct {
	Expression string `json:"expression" yaml:"expression"`
	Rolls      []int  `json:"rolls" yaml:"rolls"`
	Total      int    `json:"total" yaml:"total"`
	Count      int    `json:"count" yaml:"count"`
	Sides      int    `json:"sides" yaml:"sides"`

	Conditional *ConditionalResult `json:"conditional,omitempty" yaml:"conditional,omitempty"`
	Reroll      *RerollResult      `json:"reroll,omitempty" yaml:"reroll,omitempty"`
	Keep        *KeepResult        `json:"keep,omitempty" yaml:"keep,omitempty"`
}

// ConditionalResult partitions Rolls into successes and failures.
//
// Invariant: len(SuccessfulRolls)+len(FailedRolls) == len(Rolls) and
// SuccessCount == len(SuccessfulRolls).
type ConditionalResult struct {
	SuccessCount    int        `json:"success_count" yaml:"success_count"`
	Threshold       int        `json:"threshold" yaml:"threshold"`
	Operator        Comparison `json:"operator" yaml:"operator"`
	SuccessfulRolls []int      `json:"successful_rolls" yaml:"successful_rolls"`
	FailedRolls     []int      `json:"failed_rolls" yaml:"failed_rolls"`
}

// RerollResult records the reroll state machine's work on one dice term.
type RerollResult struct {
	Mode              RerollMode `json:"mode" yaml:"mode"`
	Condition         Comparison `json:"condition" yaml:"condition"`
	Threshold         int        `json:"threshold" yaml:"threshold"`
	RerollCount       int        `json:"reroll_count" yaml:"reroll_count"`
	MaxRerollsReached bool       `json:"max_rerolls_reached" yaml:"max_rerolls_reached"`
	// AllRolls lists every face produced, initial and rerolled, in roll order.
	AllRolls []int `json:"all_rolls" yaml:"all_rolls"`
	// FinalRolls lists the faces summed into Total.
	FinalRolls []int `json:"final_rolls" yaml:"final_rolls"`
}

// KeepResult records which dice were kept and dropped.
type KeepResult struct {
	Mode    KeepMode `json:"mode" yaml:"mode"`
	Amount  int      `json:"amount" yaml:"amount"`
	Kept    []int    `json:"kept" yaml:"kept"`
	Dropped []int    `json:"dropped" yaml:"dropped"`
}

// Value returns the term's contribution to the expression: the success count
// for conditional terms, the total otherwise.
func (r DiceRollResult) Value() int {
	if r.Conditional != nil {
		return r.Conditional.SuccessCount
	}
	return r.Total
}

// String returns a human-readable audit string in the format:
//
//	"2d6 → [4 5] = 9"
//	"5d10>=7 → [8 3 7 1 9] = 3 successes"
//
// Precondition: r.Expression is non-empty.
func (r DiceRollResult) String() string {
	if r.Expression == "" {
		panic("dice: DiceRollResult.String() precondition violated: Expression must be non-empty")
	}
	switch {
	case r.Conditional != nil:
		return fmt.Sprintf("%s → %v = %d successes", r.Expression, r.Rolls, r.Conditional.SuccessCount)
	case r.Reroll != nil:
		return fmt.Sprintf("%s → %v = %d", r.Expression, r.Reroll.AllRolls, r.Total)
	case r.Keep != nil:
		return fmt.Sprintf("%s → %v kept %v = %d", r.Expression, r.Rolls, r.Keep.Kept, r.Total)
	}
	return fmt.Sprintf("%s → %v = %d", r.Expression, r.Rolls, r.Total)
}

// EvaluationMetrics accumulates work counters for one evaluation.
// DiceRolled counts every physical roll, rerolls included.
type EvaluationMetrics struct {
	NodesEvaluated   int           `json:"nodes_evaluated" yaml:"nodes_evaluated"`
	DiceRolled       int           `json:"dice_rolled" yaml:"dice_rolled"`
	RerollsPerformed int           `json:"rerolls_performed" yaml:"rerolls_performed"`
	ExecutionTime    time.Duration `json:"execution_time" yaml:"execution_time"`
}

// EvaluationResult is the minimal outcome of an evaluation.
type EvaluationResult struct {
	Value      float64 `json:"value" yaml:"value"`
	Expression string  `json:"expression" yaml:"expression"`
}

// DetailedEvaluationResult adds the dice audit trail, the static range of the
// expression and timing to an EvaluationResult.
type DetailedEvaluationResult struct {
	EvaluationResult `yaml:",inline"`

	Rolls         []DiceRollResult   `json:"rolls" yaml:"rolls"`
	MinValue      float64            `json:"min_value" yaml:"min_value"`
	MaxValue      float64            `json:"max_value" yaml:"max_value"`
	ExecutionTime time.Duration      `json:"execution_time" yaml:"execution_time"`
	Metrics       *EvaluationMetrics `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// MaxRerollsReached reports whether any reroll term froze a die because the
// reroll budget ran out.
func (r DetailedEvaluationResult) MaxRerollsReached() bool {
	for _, roll := range r.Rolls {
		if roll.Reroll != nil && roll.Reroll.MaxRerollsReached {
			return true
		}
	}
	return false
}

// Summary renders the result on one line, e.g. "2d6+3 = 12 [2d6 → [4 5] = 9]".
func (r DetailedEvaluationResult) Summary() string {
	parts := make([]string, len(r.Rolls))
	for i, roll := range r.Rolls {
		parts[i] = roll.String()
	}
	s := fmt.Sprintf("%s = %s", r.Expression, FormatValue(r.Value))
	if len(parts) > 0 {
		s += " [" + strings.Join(parts, "; ") + "]"
	}
	return s
}

// FormatValue prints integral values without a fractional part.
func FormatValue(v float64) string {
	if math.Trunc(v) == v && math.Abs(v) < float53 {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}
