package dice

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is an immutable expression tree node. The set of implementations is
// closed: NumberNode, DiceNode, BinaryNode, NegateNode, ConditionalNode,
// RerollNode, KeepNode and GroupNode.
type Node interface {
	// Pos returns the byte offset of the node's first token.
	Pos() int
	node()
}

// NumberNode is an integer literal.
type NumberNode struct {
	Offset int
	Value  int
}

// DiceNode rolls Count dice of Sides faces and sums them.
type DiceNode struct {
	Offset int
	Count  int
	Sides  int
}

// BinaryNode applies Op ('+', '-', '*', '/') to Left and Right.
// Offset is the start of Left; OpPos is the operator's own offset.
type BinaryNode struct {
	Offset int
	OpPos  int
	Op     byte
	Left   Node
	Right  Node
}

// NegateNode is unary minus.
type NegateNode struct {
	Offset  int
	Operand Node
}

// ConditionalNode counts the dice of Dice whose face satisfies Cmp Threshold.
type ConditionalNode struct {
	Dice      *DiceNode
	Cmp       Comparison
	Threshold int
}

// RerollNode rerolls dice of Dice whose face satisfies Cmp Threshold.
type RerollNode struct {
	Dice      *DiceNode
	Mode      RerollMode
	Cmp       Comparison
	Threshold int
}

// KeepNode keeps or drops Amount dice of Dice before summing.
type KeepNode struct {
	Dice   *DiceNode
	Mode   KeepMode
	Amount int
}

// GroupNode is a parenthesized sub-expression.
type GroupNode struct {
	Offset int
	Inner  Node
}

func (n *NumberNode) Pos() int      { return n.Offset }
func (n *DiceNode) Pos() int        { return n.Offset }
func (n *BinaryNode) Pos() int      { return n.Offset }
func (n *NegateNode) Pos() int      { return n.Offset }
func (n *ConditionalNode) Pos() int { return n.Dice.Offset }
func (n *RerollNode) Pos() int      { return n.Dice.Offset }
func (n *KeepNode) Pos() int        { return n.Dice.Offset }
func (n *GroupNode) Pos() int       { return n.Offset }

func (*NumberNode) node()      {}
func (*DiceNode) node()        {}
func (*BinaryNode) node()      {}
func (*NegateNode) node()      {}
func (*ConditionalNode) node() {}
func (*RerollNode) node()      {}
func (*KeepNode) node()        {}
func (*GroupNode) node()       {}

// Describe renders n in canonical source form, e.g. "(2d6 + 3) * 2".
// Describing the same tree twice always yields the same text.
func Describe(n Node) string {
	var b strings.Builder
	describe(&b, n)
	return b.String()
}

func describe(b *strings.Builder, n Node) {
	switch n := n.(type) {
	case nil:
		b.WriteString("<nil>")
	case *NumberNode:
		b.WriteString(strconv.Itoa(n.Value))
	case *DiceNode:
		fmt.Fprintf(b, "%dd%d", n.Count, n.Sides)
	case *BinaryNode:
		describe(b, n.Left)
		fmt.Fprintf(b, " %c ", n.Op)
		describe(b, n.Right)
	case *NegateNode:
		b.WriteByte('-')
		describe(b, n.Operand)
	case *ConditionalNode:
		describe(b, n.Dice)
		fmt.Fprintf(b, "%s%d", n.Cmp, n.Threshold)
	case *RerollNode:
		describe(b, n.Dice)
		b.WriteString(rerollSuffix(n))
	case *KeepNode:
		describe(b, n.Dice)
		fmt.Fprintf(b, "%s%d", n.Mode, n.Amount)
	case *GroupNode:
		b.WriteByte('(')
		describe(b, n.Inner)
		b.WriteByte(')')
	default:
		panic(fmt.Sprintf("dice: describe: unhandled node type %T", n))
	}
}

func rerollSuffix(n *RerollNode) string {
	switch n.Mode {
	case RerollOnce:
		return fmt.Sprintf("ro%s%d", n.Cmp, n.Threshold)
	case RerollExploding:
		return fmt.Sprintf("!%s%d", n.Cmp, n.Threshold)
	default:
		return fmt.Sprintf("r%s%d", n.Cmp, n.Threshold)
	}
}

// Tree renders n as an indented outline, one node per line, used as the
// "parsing" section of an explanation.
func Tree(n Node) string {
	var b strings.Builder
	tree(&b, n, 0)
	return strings.TrimRight(b.String(), "\n")
}

func tree(b *strings.Builder, n Node, depth int) {
	indent := strings.Repeat("  ", depth)
	switch n := n.(type) {
	case *NumberNode:
		fmt.Fprintf(b, "%sNumber %d\n", indent, n.Value)
	case *DiceNode:
		fmt.Fprintf(b, "%sDice %dd%d\n", indent, n.Count, n.Sides)
	case *BinaryNode:
		fmt.Fprintf(b, "%sBinary %c\n", indent, n.Op)
		tree(b, n.Left, depth+1)
		tree(b, n.Right, depth+1)
	case *NegateNode:
		fmt.Fprintf(b, "%sNegate\n", indent)
		tree(b, n.Operand, depth+1)
	case *ConditionalNode:
		fmt.Fprintf(b, "%sConditional %s%d\n", indent, n.Cmp, n.Threshold)
		tree(b, n.Dice, depth+1)
	case *RerollNode:
		fmt.Fprintf(b, "%sReroll %s %s%d\n", indent, n.Mode, n.Cmp, n.Threshold)
		tree(b, n.Dice, depth+1)
	case *KeepNode:
		fmt.Fprintf(b, "%sKeep %s%d\n", indent, n.Mode, n.Amount)
		tree(b, n.Dice, depth+1)
	case *GroupNode:
		fmt.Fprintf(b, "%sGroup\n", indent)
		tree(b, n.Inner, depth+1)
	default:
		panic(fmt.Sprintf("dice: tree: unhandled node type %T", n))
	}
}

// HasDice reports whether evaluating n consumes randomness.
func HasDice(n Node) bool {
	switch n := n.(type) {
	case *NumberNode:
		return false
	case *DiceNode, *ConditionalNode, *RerollNode, *KeepNode:
		return true
	case *BinaryNode:
		return HasDice(n.Left) || HasDice(n.Right)
	case *NegateNode:
		return HasDice(n.Operand)
	case *GroupNode:
		return HasDice(n.Inner)
	default:
		panic(fmt.Sprintf("dice: HasDice: unhandled node type %T", n))
	}
}
