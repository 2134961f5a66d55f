package dice

import "fmt"

// parser is a recursive-descent parser over a token slice.
//
//	expr    := term (('+' | '-') term)*
//	term    := unary (('*' | '/') unary)*
//	unary   := '-' unary | primary
//	primary := NUMBER | DICE modifier? | '(' expr ')'
//	modifier:= CONDITIONAL | REROLL | KEEP
type parser struct {
	toks []Token
	i    int
	end  int
}

// Parse builds the expression tree for a token stream.
//
// Precondition: tr must come from Tokenize.
// Postcondition: Returns the root Node, or a *SyntaxError positioned at the
// offending token (or at len(tr.Expression) when a token is missing at the end).
// Parse never consumes randomness.
func Parse(tr TokenizationResult) (Node, error) {
	p := &parser{toks: tr.Tokens, end: len(tr.Expression)}
	if len(p.toks) == 0 {
		return nil, p.errEOF("empty expression")
	}
	root, err := p.expr()
	if err != nil {
		return nil, err
	}
	if t, ok := p.peek(); ok {
		if t.Kind == TokenRParen {
			return nil, p.errAt(t, "unbalanced ')'")
		}
		return nil, p.errAt(t, fmt.Sprintf("unexpected %s, missing operator", t.Kind))
	}
	return root, nil
}

// ParseString tokenizes and parses expression in one call.
func ParseString(expression string, cfg TokenizerConfig) (Node, error) {
	tr, err := Tokenize(expression, cfg)
	if err != nil {
		return nil, err
	}
	return Parse(tr)
}

// MustParse parses expression with the default tokenizer configuration and
// panics on error. Useful for package-level fixtures.
func MustParse(expression string) Node {
	n, err := ParseString(expression, TokenizerConfig{})
	if err != nil {
		panic("dice: MustParse failed for expression " + expression + ": " + err.Error())
	}
	return n
}

func (p *parser) expr() (Node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.operator('+', '-')
		if !ok {
			return left, nil
		}
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Offset: left.Pos(), OpPos: op.Pos, Op: op.Op, Left: left, Right: right}
	}
}

func (p *parser) term() (Node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.operator('*', '/')
		if !ok {
			return left, nil
		}
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Offset: left.Pos(), OpPos: op.Pos, Op: op.Op, Left: left, Right: right}
	}
}

func (p *parser) unary() (Node, error) {
	if op, ok := p.operator('-'); ok {
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &NegateNode{Offset: op.Pos, Operand: operand}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Node, error) {
	t, ok := p.peek()
	if !ok {
		return nil, p.errEOF("expected a number, dice or '('")
	}
	p.i++
	switch t.Kind {
	case TokenNumber:
		return &NumberNode{Offset: t.Pos, Value: t.Value}, nil
	case TokenDice:
		return p.modifier(&DiceNode{Offset: t.Pos, Count: t.Count, Sides: t.Sides})
	case TokenLParen:
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok {
			return nil, p.errEOF("missing ')'")
		}
		if closing.Kind != TokenRParen {
			return nil, p.errAt(closing, fmt.Sprintf("unexpected %s, expected operator or ')'", closing.Kind))
		}
		p.i++
		return &GroupNode{Offset: t.Pos, Inner: inner}, nil
	case TokenRParen:
		return nil, p.errAt(t, "unbalanced ')'")
	case TokenOperator:
		return nil, p.errAt(t, fmt.Sprintf("unexpected operator %q", string(t.Op)))
	case TokenConditional, TokenReroll, TokenKeep:
		return nil, p.errAt(t, fmt.Sprintf("%s modifier must follow a dice term", t.Kind))
	default:
		return nil, p.errAt(t, fmt.Sprintf("unexpected token kind %s", t.Kind))
	}
}

// modifier attaches at most one conditional, reroll or keep modifier to d.
func (p *parser) modifier(d *DiceNode) (Node, error) {
	m, ok := p.peek()
	if !ok || !isModifier(m.Kind) {
		return d, nil
	}
	p.i++
	if next, ok := p.peek(); ok && isModifier(next.Kind) {
		return nil, p.errAt(next, fmt.Sprintf("cannot combine %s modifier with %s modifier", next.Kind, m.Kind))
	}

	switch m.Kind {
	case TokenConditional:
		return &ConditionalNode{Dice: d, Cmp: m.Cmp, Threshold: m.Threshold}, nil
	case TokenReroll:
		threshold := m.Threshold
		if !m.HasThreshold {
			threshold = d.Sides
		}
		return &RerollNode{Dice: d, Mode: m.Mode, Cmp: m.Cmp, Threshold: threshold}, nil
	default:
		return &KeepNode{Dice: d, Mode: m.Keep, Amount: m.Amount}, nil
	}
}

func isModifier(k TokenKind) bool {
	return k == TokenConditional || k == TokenReroll || k == TokenKeep
}

func (p *parser) peek() (Token, bool) {
	if p.i >= len(p.toks) {
		return Token{}, false
	}
	return p.toks[p.i], true
}

// operator consumes the next token if it is one of ops.
func (p *parser) operator(ops ...byte) (Token, bool) {
	t, ok := p.peek()
	if !ok || t.Kind != TokenOperator {
		return Token{}, false
	}
	for _, op := range ops {
		if t.Op == op {
			p.i++
			return t, true
		}
	}
	return Token{}, false
}

func (p *parser) errAt(t Token, msg string) error {
	return &SyntaxError{Message: msg, Position: t.Pos, Token: &t}
}

func (p *parser) errEOF(msg string) error {
	return &SyntaxError{Message: msg, Position: p.end}
}
