package dice

import (
	"fmt"
	"slices"
	"strconv"
	"unicode/utf8"
)

// DefaultMaxExpressionLength bounds the source text accepted by Tokenize when
// TokenizerConfig.MaxExpressionLength is unset.
const DefaultMaxExpressionLength = 1000

// AllOperators and AllConditionals are the defaults for TokenizerConfig.
var (
	AllOperators    = []string{"+", "-", "*", "/"}
	AllConditionals = []Comparison{CmpGreater, CmpGreaterEqual, CmpLess, CmpLessEqual, CmpEqual, CmpDoubleEqual}
)

// TokenizerConfig controls which lexemes Tokenize accepts.
// The zero value accepts every operator and conditional, case-insensitively,
// up to DefaultMaxExpressionLength bytes.
type TokenizerConfig struct {
	MaxExpressionLength int
	AllowedOperators    []string
	AllowedConditionals []Comparison
	CaseSensitive       bool
}

// DefaultTokenizerConfig returns the permissive configuration.
func DefaultTokenizerConfig() TokenizerConfig {
	return TokenizerConfig{}.withDefaults()
}

func (c TokenizerConfig) withDefaults() TokenizerConfig {
	if c.MaxExpressionLength <= 0 {
		c.MaxExpressionLength = DefaultMaxExpressionLength
	}
	if c.AllowedOperators == nil {
		c.AllowedOperators = AllOperators
	}
	if c.AllowedConditionals == nil {
		c.AllowedConditionals = AllConditionals
	}
	return c
}

type scanner struct {
	src    string
	pos    int
	cfg    TokenizerConfig
	tokens []Token
}

// Tokenize converts expression into its token sequence.
//
// Precondition: none; any string is accepted as input.
// Postcondition: Returns every token in source order with whitespace dropped,
// or a *TokenizationError positioned at the first offending byte. No partial
// token stream is ever returned alongside an error.
func Tokenize(expression string, cfg TokenizerConfig) (TokenizationResult, error) {
	cfg = cfg.withDefaults()
	if len(expression) > cfg.MaxExpressionLength {
		return TokenizationResult{}, &TokenizationError{
			Message:    fmt.Sprintf("expression length %d exceeds maximum %d", len(expression), cfg.MaxExpressionLength),
			Position:   cfg.MaxExpressionLength,
			Expression: expression,
		}
	}

	s := &scanner{src: expression, cfg: cfg}
	for s.pos < len(s.src) {
		if err := s.next(); err != nil {
			return TokenizationResult{}, err
		}
	}
	return TokenizationResult{Expression: expression, Tokens: s.tokens}, nil
}

// next scans exactly one token (or one whitespace byte) at s.pos.
func (s *scanner) next() error {
	c := s.src[s.pos]
	switch {
	case isSpace(c):
		s.pos++
		return nil
	case c == '!' || s.letterAt(s.pos) == 'r':
		return s.scanReroll()
	case s.letterAt(s.pos) == 'k':
		return s.scanKeep()
	case s.letterAt(s.pos) == 'd' && (s.letterAt(s.pos+1) == 'h' || s.letterAt(s.pos+1) == 'l'):
		return s.scanKeep()
	case c == '>' || c == '<' || c == '=':
		return s.scanConditional()
	case isDigit(c) || s.letterAt(s.pos) == 'd':
		return s.scanNumberOrDice()
	case c == '+' || c == '-' || c == '*' || c == '/':
		if !slices.Contains(s.cfg.AllowedOperators, string(c)) {
			return s.fail(s.pos, "operator %q is not allowed", string(c))
		}
		s.emit(Token{Kind: TokenOperator, Op: c}, s.pos, s.pos+1)
		return nil
	case c == '(':
		s.emit(Token{Kind: TokenLParen}, s.pos, s.pos+1)
		return nil
	case c == ')':
		s.emit(Token{Kind: TokenRParen}, s.pos, s.pos+1)
		return nil
	}
	r, _ := utf8.DecodeRuneInString(s.src[s.pos:])
	return s.fail(s.pos, "unexpected character %q", r)
}

func (s *scanner) scanNumberOrDice() error {
	start := s.pos
	digits := s.digits()

	if s.letterAt(s.pos) != 'd' {
		n, err := strconv.Atoi(digits)
		if err != nil {
			return s.fail(start, "number %q out of range", digits)
		}
		s.emit(Token{Kind: TokenNumber, Value: n}, start, s.pos)
		return nil
	}

	count := 1
	if digits != "" {
		n, err := strconv.Atoi(digits)
		if err != nil {
			return s.fail(start, "die count %q out of range", digits)
		}
		count = n
	}
	s.pos++ // 'd'

	var sides int
	if s.pos < len(s.src) && s.src[s.pos] == '%' {
		sides = 100
		s.pos++
	} else {
		sidesStart := s.pos
		sd := s.digits()
		if sd == "" {
			return s.fail(sidesStart, "expected die sides after 'd'")
		}
		n, err := strconv.Atoi(sd)
		if err != nil {
			return s.fail(sidesStart, "die sides %q out of range", sd)
		}
		sides = n
	}
	s.emit(Token{Kind: TokenDice, Count: count, Sides: sides}, start, s.pos)
	return nil
}

func (s *scanner) scanConditional() error {
	start := s.pos
	cmp := s.comparison()
	if !slices.Contains(s.cfg.AllowedConditionals, cmp) {
		return s.fail(start, "conditional operator %q is not allowed", string(cmp))
	}
	for s.pos < len(s.src) && isSpace(s.src[s.pos]) {
		s.pos++
	}
	numStart := s.pos
	d := s.digits()
	if d == "" {
		return s.fail(numStart, "expected threshold after %q", string(cmp))
	}
	n, err := strconv.Atoi(d)
	if err != nil {
		return s.fail(numStart, "threshold %q out of range", d)
	}
	s.emit(Token{Kind: TokenConditional, Cmp: cmp, Threshold: n, HasThreshold: true}, start, s.pos)
	return nil
}

func (s *scanner) scanReroll() error {
	start := s.pos
	tok := Token{Kind: TokenReroll}
	switch {
	case s.src[s.pos] == '!':
		tok.Mode = RerollExploding
		s.pos++
	case s.letterAt(s.pos+1) == 'o':
		tok.Mode = RerollOnce
		s.pos += 2
	default:
		tok.Mode = RerollRecursive
		s.pos++
	}

	cmpStart := s.pos
	tok.Cmp = s.comparison()
	if tok.Cmp != "" && !slices.Contains(s.cfg.AllowedConditionals, tok.Cmp) {
		return s.fail(cmpStart, "conditional operator %q is not allowed", string(tok.Cmp))
	}
	numStart := s.pos
	d := s.digits()
	switch {
	case d != "":
		n, err := strconv.Atoi(d)
		if err != nil {
			return s.fail(numStart, "reroll threshold %q out of range", d)
		}
		tok.Threshold = n
		tok.HasThreshold = true
		if tok.Cmp == "" {
			tok.Cmp = CmpEqual
		}
	case tok.Cmp != "":
		return s.fail(numStart, "expected threshold after %q", string(tok.Cmp))
	case tok.Mode == RerollExploding:
		tok.Cmp = CmpEqual
	default:
		return s.fail(numStart, "reroll modifier requires a threshold")
	}
	s.emit(tok, start, s.pos)
	return nil
}

func (s *scanner) scanKeep() error {
	start := s.pos
	var mode KeepMode
	first, second := s.letterAt(s.pos), s.letterAt(s.pos+1)
	switch {
	case first == 'k' && second == 'l':
		mode, s.pos = KeepLowest, s.pos+2
	case first == 'k' && second == 'h':
		mode, s.pos = KeepHighest, s.pos+2
	case first == 'k':
		mode, s.pos = KeepHighest, s.pos+1
	case second == 'h':
		mode, s.pos = DropHighest, s.pos+2
	default:
		mode, s.pos = DropLowest, s.pos+2
	}
	numStart := s.pos
	d := s.digits()
	if d == "" {
		return s.fail(numStart, "expected dice amount after %q", string(mode))
	}
	n, err := strconv.Atoi(d)
	if err != nil {
		return s.fail(numStart, "dice amount %q out of range", d)
	}
	s.emit(Token{Kind: TokenKeep, Keep: mode, Amount: n}, start, s.pos)
	return nil
}

// comparison consumes the longest comparison operator at s.pos, or none.
func (s *scanner) comparison() Comparison {
	rest := s.src[s.pos:]
	for _, cmp := range []Comparison{CmpGreaterEqual, CmpLessEqual, CmpDoubleEqual, CmpGreater, CmpLess, CmpEqual} {
		if len(rest) >= len(cmp) && rest[:len(cmp)] == string(cmp) {
			s.pos += len(cmp)
			return cmp
		}
	}
	return ""
}

func (s *scanner) digits() string {
	start := s.pos
	for s.pos < len(s.src) && isDigit(s.src[s.pos]) {
		s.pos++
	}
	return s.src[start:s.pos]
}

// letterAt returns the byte at i, folded to lower case unless the
// configuration is case sensitive. Out-of-range offsets yield 0.
func (s *scanner) letterAt(i int) byte {
	if i >= len(s.src) {
		return 0
	}
	c := s.src[i]
	if !s.cfg.CaseSensitive && c >= 'A' && c <= 'Z' {
		c += 'a' - 'A'
	}
	return c
}

func (s *scanner) emit(tok Token, start, end int) {
	tok.Raw = s.src[start:end]
	tok.Pos = start
	tok.Len = end - start
	s.pos = end
	s.tokens = append(s.tokens, tok)
}

func (s *scanner) fail(pos int, format string, args ...any) error {
	return &TokenizationError{
		Message:    fmt.Sprintf(format, args...),
		Position:   pos,
		Expression: s.src,
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }
