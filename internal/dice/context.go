package dice

import (
	"context"
	"slices"
	"time"
)

// Defaults applied by DefaultOptions.
const (
	DefaultMaxRerolls       = 100
	DefaultMaxExecutionTime = time.Second
)

// Options configures one evaluation. Start from DefaultOptions: the zero
// value allows no rerolls.
type Options struct {
	// MaxRerolls is the reroll budget shared by every reroll term of one
	// evaluation. Must be >= 0.
	MaxRerolls int
	// MaxExecutionTime is the wall-clock budget; values <= 0 use
	// DefaultMaxExecutionTime.
	MaxExecutionTime time.Duration
	// EnableMetrics attaches EvaluationMetrics to detailed results.
	EnableMetrics bool
	// FailOnMaxRerolls turns reroll budget exhaustion into a *MaxRerollsError.
	FailOnMaxRerolls bool
	// Random supplies randomness; nil uses NewCryptoSource.
	Random RandomSource
	// Clock supplies wall-clock time; nil uses time.Now.
	Clock func() time.Time
	// Context allows the caller to cancel evaluation at node boundaries.
	Context context.Context
	// Tokenizer configures lexical analysis.
	Tokenizer TokenizerConfig
}

// DefaultOptions returns Options with the default reroll and time budgets.
func DefaultOptions() Options {
	return Options{
		MaxRerolls:       DefaultMaxRerolls,
		MaxExecutionTime: DefaultMaxExecutionTime,
	}
}

// Step is one entry of the explanation trace.
type Step struct {
	Sequence    int     `json:"sequence" yaml:"sequence"`
	Operation   string  `json:"operation" yaml:"operation"`
	Description string  `json:"description" yaml:"description"`
	Value       float64 `json:"value" yaml:"value"`
	Detail      string  `json:"detail,omitempty" yaml:"detail,omitempty"`
	Rolls       []int   `json:"rolls,omitempty" yaml:"rolls,omitempty"`
	Source      string  `json:"source" yaml:"source"`
	Node        Node    `json:"-" yaml:"-"`
}

// EvalContext is the mutable state of exactly one evaluation: randomness,
// budgets, the explanation trace and metrics. It is never shared between
// concurrent evaluations. Reset prepares it for reuse with the same
// configuration.
type EvalContext struct {
	random           RandomSource
	clock            func() time.Time
	ctx              context.Context
	maxRerolls       int
	rerollsLeft      int
	limit            time.Duration
	failOnMaxRerolls bool
	explain          bool

	start   time.Time
	step    int
	steps   []Step
	rolls   []DiceRollResult
	metrics EvaluationMetrics
}

// NewEvalContext builds a fresh context from opts and starts its clock.
//
// Precondition: opts.MaxRerolls >= 0.
func NewEvalContext(opts Options) *EvalContext {
	c := &EvalContext{
		random:           opts.Random,
		clock:            opts.Clock,
		ctx:              opts.Context,
		maxRerolls:       max(opts.MaxRerolls, 0),
		limit:            opts.MaxExecutionTime,
		failOnMaxRerolls: opts.FailOnMaxRerolls,
	}
	if c.random == nil {
		c.random = NewCryptoSource()
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	if c.ctx == nil {
		c.ctx = context.Background()
	}
	if c.limit <= 0 {
		c.limit = DefaultMaxExecutionTime
	}
	c.Reset()
	return c
}

// SetExplain toggles recording of explanation steps.
func (c *EvalContext) SetExplain(on bool) { c.explain = on }

// Reset clears counters, the trace and the recorded rolls, restores the
// reroll budget and restarts the clock.
func (c *EvalContext) Reset() {
	c.rerollsLeft = c.maxRerolls
	c.start = c.clock()
	c.step = 0
	c.steps = nil
	c.rolls = nil
	c.metrics = EvaluationMetrics{}
}

// Steps returns a copy of the explanation trace.
func (c *EvalContext) Steps() []Step { return slices.Clone(c.steps) }

// Rolls returns a copy of the dice results recorded so far, in evaluation order.
func (c *EvalContext) Rolls() []DiceRollResult { return slices.Clone(c.rolls) }

// Metrics returns the counters with ExecutionTime set to the time elapsed so far.
func (c *EvalContext) Metrics() EvaluationMetrics {
	m := c.metrics
	m.ExecutionTime = c.Elapsed()
	return m
}

// RerollsRemaining returns the unused reroll budget.
func (c *EvalContext) RerollsRemaining() int { return c.rerollsLeft }

// MaxRerolls returns the configured reroll budget.
func (c *EvalContext) MaxRerolls() int { return c.maxRerolls }

// Elapsed returns the wall-clock time since the context was (re)started.
func (c *EvalContext) Elapsed() time.Duration { return c.clock().Sub(c.start) }

// checkBudget aborts evaluation when the caller cancelled or the time budget
// is spent. It is called at every node boundary and before every roll.
func (c *EvalContext) checkBudget(n Node) error {
	elapsed := c.Elapsed()
	if err := c.ctx.Err(); err != nil {
		return &TimeoutError{Limit: c.limit, Elapsed: elapsed, Node: n, Cause: err}
	}
	if elapsed > c.limit {
		return &TimeoutError{Limit: c.limit, Elapsed: elapsed, Node: n}
	}
	return nil
}

// record appends a step when explanations are enabled.
func (c *EvalContext) record(n Node, op, desc string, value float64, detail string, rolls []int) {
	if !c.explain {
		return
	}
	c.step++
	c.steps = append(c.steps, Step{
		Sequence:    c.step,
		Operation:   op,
		Description: desc,
		Value:       value,
		Detail:      detail,
		Rolls:       slices.Clone(rolls),
		Source:      Describe(n),
		Node:        n,
	})
}
