package dice

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel kinds. Every error returned by this package matches exactly one of
// ErrLexical, ErrSyntax or ErrEvaluation under errors.Is; ErrTimeout and
// ErrMaxRerolls additionally refine ErrEvaluation.
var (
	ErrLexical    = errors.New("lexical error")
	ErrSyntax     = errors.New("syntax error")
	ErrEvaluation = errors.New("evaluation error")
	ErrTimeout    = errors.New("evaluation timed out")
	ErrMaxRerolls = errors.New("max rerolls exceeded")
)

// ErrorKind is the closed classification of engine failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindLexical
	KindSyntax
	KindEvaluation
	KindTimeout
	KindMaxRerolls
)

// String returns the kind name used in logs and transport errors.
func (k ErrorKind) String() string {
	switch k {
	case KindLexical:
		return "lexical"
	case KindSyntax:
		return "syntax"
	case KindEvaluation:
		return "evaluation"
	case KindTimeout:
		return "timeout"
	case KindMaxRerolls:
		return "max_rerolls"
	default:
		return "unknown"
	}
}

// KindOf classifies err. The most specific kind wins.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrMaxRerolls):
		return KindMaxRerolls
	case errors.Is(err, ErrLexical):
		return KindLexical
	case errors.Is(err, ErrSyntax):
		return KindSyntax
	case errors.Is(err, ErrEvaluation):
		return KindEvaluation
	}
	return KindUnknown
}

// TokenizationError reports a lexical failure at a byte offset of Expression.
type TokenizationError struct {
	Message    string
	Position   int
	Expression string
}

func (e *TokenizationError) Error() string {
	return fmt.Sprintf("dice: %s at position %d in %q", e.Message, e.Position, e.Expression)
}

// Is matches ErrLexical.
func (e *TokenizationError) Is(target error) bool { return target == ErrLexical }

// SyntaxError reports a malformed token sequence. Token is nil when the
// problem is a missing token at end of input; Position is then len(expression).
type SyntaxError struct {
	Message  string
	Position int
	Token    *Token
}

func (e *SyntaxError) Error() string {
	if e.Token == nil {
		return fmt.Sprintf("dice: %s at end of input (position %d)", e.Message, e.Position)
	}
	return fmt.Sprintf("dice: %s at position %d near %q", e.Message, e.Position, e.Token.Raw)
}

// Is matches ErrSyntax.
func (e *SyntaxError) Is(target error) bool { return target == ErrSyntax }

// EvaluationError reports a failure while folding the expression tree.
type EvaluationError struct {
	Message string
	// Node is the node being evaluated when the failure occurred.
	Node Node
	// Label is an optional context label such as "divisor" or "sides".
	Label string
	// Value is the offending value; meaningful only when HasValue is set.
	Value    float64
	HasValue bool
}

func (e *EvaluationError) Error() string {
	msg := "dice: " + e.Message
	if e.Node != nil {
		msg += fmt.Sprintf(" in %s", Describe(e.Node))
	}
	if e.HasValue {
		if e.Label != "" {
			msg += fmt.Sprintf(" (%s=%v)", e.Label, e.Value)
		} else {
			msg += fmt.Sprintf(" (value=%v)", e.Value)
		}
	}
	return msg
}

// Is matches ErrEvaluation.
func (e *EvaluationError) Is(target error) bool { return target == ErrEvaluation }

// TimeoutError reports that the execution budget was exceeded, or that the
// caller's context was cancelled, at a node boundary.
type TimeoutError struct {
	Limit   time.Duration
	Elapsed time.Duration
	Node    Node
	// Cause is the context error when cancellation, not the budget, stopped evaluation.
	Cause error
}

func (e *TimeoutError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("dice: evaluation aborted after %s: %v", e.Elapsed, e.Cause)
	}
	return fmt.Sprintf("dice: evaluation exceeded time limit %s (elapsed %s)", e.Limit, e.Elapsed)
}

// Is matches ErrTimeout and ErrEvaluation.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout || target == ErrEvaluation
}

// Unwrap exposes the context error, if any.
func (e *TimeoutError) Unwrap() error { return e.Cause }

// MaxRerollsError is returned only when Options.FailOnMaxRerolls is set and a
// reroll was required after the budget ran out.
type MaxRerollsError struct {
	Max  int
	Node Node
}

func (e *MaxRerollsError) Error() string {
	return fmt.Sprintf("dice: reroll budget of %d exhausted in %s", e.Max, Describe(e.Node))
}

// Is matches ErrMaxRerolls and ErrEvaluation.
func (e *MaxRerollsError) Is(target error) bool {
	return target == ErrMaxRerolls || target == ErrEvaluation
}
