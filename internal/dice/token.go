// Package dice implements the dice expression engine: tokenizer, parser,
// evaluator, explanation trace, and the randomness contract they share.
package dice

import (
	"fmt"
	"strings"
)

// TokenKind identifies the variant carried by a Token.
type TokenKind int

const (
	TokenNumber TokenKind = iota
	TokenDice
	TokenOperator
	TokenLParen
	TokenRParen
	TokenConditional
	TokenReroll
	TokenKeep
)

// String returns the lower-case name of the kind.
func (k TokenKind) String() string {
	switch k {
	case TokenNumber:
		return "number"
	case TokenDice:
		return "dice"
	case TokenOperator:
		return "operator"
	case TokenLParen:
		return "lparen"
	case TokenRParen:
		return "rparen"
	case TokenConditional:
		return "conditional"
	case TokenReroll:
		return "reroll"
	case TokenKeep:
		return "keep"
	default:
		return "unknown"
	}
}

// Comparison is a relational operator used by conditional and reroll modifiers.
type Comparison string

const (
	CmpGreater      Comparison = ">"
	CmpGreaterEqual Comparison = ">="
	CmpLess         Comparison = "<"
	CmpLessEqual    Comparison = "<="
	CmpEqual        Comparison = "="
	CmpDoubleEqual  Comparison = "=="
)

// Test reports whether value <cmp> threshold holds.
func (c Comparison) Test(value, threshold int) bool {
	switch c {
	case CmpGreater:
		return value > threshold
	case CmpGreaterEqual:
		return value >= threshold
	case CmpLess:
		return value < threshold
	case CmpLessEqual:
		return value <= threshold
	case CmpEqual, CmpDoubleEqual:
		return value == threshold
	}
	return false
}

// RerollMode selects the reroll state machine applied to a dice term.
type RerollMode string

const (
	RerollOnce      RerollMode = "once"
	RerollRecursive RerollMode = "recursive"
	RerollExploding RerollMode = "exploding"
)

// KeepMode selects which dice of a pool contribute to its total.
type KeepMode string

const (
	KeepHighest KeepMode = "kh"
	KeepLowest  KeepMode = "kl"
	DropHighest KeepMode = "dh"
	DropLowest  KeepMode = "dl"
)

// Token is one lexical unit of an expression.
//
// Invariant: Pos+Len <= len(source expression).
type Token struct {
	Kind TokenKind
	Raw  string
	Pos  int
	Len  int

	// TokenNumber
	Value int

	// TokenDice
	Count int
	Sides int

	// TokenOperator
	Op byte

	// TokenConditional and TokenReroll
	Cmp       Comparison
	Threshold int
	// HasThreshold is false for a bare "!" which explodes on the die's maximum face.
	HasThreshold bool

	// TokenReroll
	Mode RerollMode

	// TokenKeep
	Keep   KeepMode
	Amount int
}

// End returns the offset one past the token's last byte.
func (t Token) End() int { return t.Pos + t.Len }

// String renders the token for explanations, e.g. `dice(2d6)@0`.
func (t Token) String() string {
	return fmt.Sprintf("%s(%s)@%d", t.Kind, t.Raw, t.Pos)
}

// TokenizationResult is the ordered token stream for one expression.
type TokenizationResult struct {
	Expression string
	Tokens     []Token
}

// Strings returns the stringified tokens in source order.
func (r TokenizationResult) Strings() []string {
	out := make([]string, len(r.Tokens))
	for i, t := range r.Tokens {
		out[i] = t.String()
	}
	return out
}

// String joins the stringified tokens with single spaces.
func (r TokenizationResult) String() string {
	return strings.Join(r.Strings(), " ")
}
