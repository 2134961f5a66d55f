package dice

// EvaluateExpression runs the full tokenizer → parser → evaluator pipeline.
//
// Precondition: opts.MaxRerolls >= 0.
// Postcondition: Returns a complete result, or exactly one typed error (see
// KindOf) describing the first failure in source order.
func EvaluateExpression(expression string, opts Options) (DetailedEvaluationResult, error) {
	res, _, err := run(expression, opts, false)
	return res, err
}

// ExplainExpression is EvaluateExpression with the explanation trace enabled.
func ExplainExpression(expression string, opts Options) (DetailedEvaluationResult, Explanation, error) {
	return run(expression, opts, true)
}

func run(expression string, opts Options, explain bool) (DetailedEvaluationResult, Explanation, error) {
	c := NewEvalContext(opts)
	c.SetExplain(explain)

	tr, err := Tokenize(expression, opts.Tokenizer)
	if err != nil {
		return DetailedEvaluationResult{}, Explanation{}, err
	}
	root, err := Parse(tr)
	if err != nil {
		return DetailedEvaluationResult{}, Explanation{}, err
	}
	value, err := Evaluate(root, c)
	if err != nil {
		return DetailedEvaluationResult{}, Explanation{}, err
	}

	elapsed := c.Elapsed()
	lo, hi := Range(root, c.MaxRerolls())
	res := DetailedEvaluationResult{
		EvaluationResult: EvaluationResult{Value: value, Expression: expression},
		Rolls:            c.Rolls(),
		MinValue:         lo,
		MaxValue:         hi,
		ExecutionTime:    elapsed,
	}
	if opts.EnableMetrics {
		m := c.Metrics()
		m.ExecutionTime = elapsed
		res.Metrics = &m
	}

	var exp Explanation
	if explain {
		exp = BuildExplanation(tr, root, c.Steps(), value, elapsed)
	}
	return res, exp, nil
}
