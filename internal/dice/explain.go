package dice

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Explanation is the human-readable account of one evaluation. It is a pure
// projection of an already-recorded trace: building it twice from the same
// inputs yields equal values.
type Explanation struct {
	OriginalExpression string        `json:"original_expression" yaml:"original_expression"`
	Tokenization       []string      `json:"tokenization" yaml:"tokenization"`
	Parsing            string        `json:"parsing" yaml:"parsing"`
	Steps              []Step        `json:"steps" yaml:"steps"`
	FinalResult        float64       `json:"final_result" yaml:"final_result"`
	ExecutionTime      time.Duration `json:"execution_time" yaml:"execution_time"`
}

// BuildExplanation assembles an Explanation from a recorded trace.
//
// Precondition: steps are numbered contiguously from 1, as recorded by an
// EvalContext with explanations enabled.
func BuildExplanation(tr TokenizationResult, root Node, steps []Step, final float64, elapsed time.Duration) Explanation {
	return Explanation{
		OriginalExpression: tr.Expression,
		Tokenization:       tr.Strings(),
		Parsing:            Tree(root),
		Steps:              slices.Clone(steps),
		FinalResult:        final,
		ExecutionTime:      elapsed,
	}
}

// Render formats the explanation as plain text:
//
//	Expression: 2d6+3
//	Tokens: dice(2d6)@0 operator(+)@3 number(3)@4
//	Tree:
//	  Binary +
//	    Dice 2d6
//	    Number 3
//	Steps:
//	  1. roll: 2d6 → [4 5] = 9
//	  2. number: literal 3
//	  3. arithmetic: 9 + 3 = 12
//	Result: 12
func (e Explanation) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Expression: %s\n", e.OriginalExpression)
	fmt.Fprintf(&b, "Tokens: %s\n", strings.Join(e.Tokenization, " "))
	b.WriteString("Tree:\n")
	for _, line := range strings.Split(e.Parsing, "\n") {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	b.WriteString("Steps:\n")
	for _, s := range e.Steps {
		fmt.Fprintf(&b, "  %d. %s: %s\n", s.Sequence, s.Operation, s.Description)
		if s.Detail != "" && s.Operation != "arithmetic" {
			fmt.Fprintf(&b, "     %s\n", s.Detail)
		}
	}
	fmt.Fprintf(&b, "Result: %s", FormatValue(e.FinalResult))
	return b.String()
}
