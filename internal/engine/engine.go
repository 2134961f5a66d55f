// Package engine is the host-facing evaluation entry point. It layers preset
// resolution, an optional result cache and structured logging over the
// dice pipeline.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cory-johannsen/diceengine/internal/cache"
	"github.com/cory-johannsen/diceengine/internal/dice"
	"github.com/cory-johannsen/diceengine/internal/preset"
)

// Policy decides which successful results the engine stores in its cache.
type Policy string

const (
	// PolicyOff never reads or writes the cache.
	PolicyOff Policy = "off"
	// PolicyReplay stores every successful result and replays it for the same
	// expression text.
	PolicyReplay Policy = "replay"
	// PolicyDeterministic stores only results of expressions without dice.
	PolicyDeterministic Policy = "deterministic"
)

// CacheStatus reports how the cache took part in one evaluation.
type CacheStatus string

const (
	CacheHit    CacheStatus = "hit"
	CacheMiss   CacheStatus = "miss"
	CacheBypass CacheStatus = "bypass"
)

// ResultCache is the cache type the engine reads and writes.
type ResultCache = cache.ResultCache[dice.DetailedEvaluationResult]

// Result is one evaluation as seen by hosts.
type Result struct {
	ID string `json:"id" yaml:"id"`
	dice.DetailedEvaluationResult `yaml:",inline"`
	// Preset names the preset the expression resolved from, if any.
	Preset      string            `json:"preset,omitempty" yaml:"preset,omitempty"`
	Cache       CacheStatus       `json:"cache" yaml:"cache"`
	Explanation *dice.Explanation `json:"explanation,omitempty" yaml:"explanation,omitempty"`
}

// Engine evaluates expressions. It is safe for concurrent use provided the
// configured random source is.
type Engine struct {
	opts    dice.Options
	cache   *ResultCache
	policy  Policy
	presets *preset.Registry
	logger  *zap.Logger
	newID   func() string
	// flight collapses concurrent misses for one storable key into a
	// single evaluation.
	flight singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache enables result caching under policy. A nil cache or PolicyOff
// disables caching.
func WithCache(c *ResultCache, policy Policy) Option {
	return func(e *Engine) {
		e.cache = c
		e.policy = policy
	}
}

// WithPresets enables "@name" references.
func WithPresets(r *preset.Registry) Option {
	return func(e *Engine) { e.presets = r }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithIDGenerator replaces the uuid-based evaluation ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// New creates an Engine evaluating with opts.
//
// Precondition: opts.MaxRerolls >= 0.
func New(opts dice.Options, o ...Option) *Engine {
	e := &Engine{
		opts:   opts,
		policy: PolicyOff,
		logger: zap.NewNop(),
		newID:  func() string { return uuid.NewString() },
	}
	for _, fn := range o {
		fn(e)
	}
	if e.cache == nil {
		e.policy = PolicyOff
	}
	return e
}

// Policy returns the effective cache policy.
func (e *Engine) Policy() Policy { return e.policy }

// Options returns a copy of the evaluation options.
func (e *Engine) Options() dice.Options { return e.opts }

// Presets returns the preset registry, or nil.
func (e *Engine) Presets() *preset.Registry { return e.presets }

// CacheStats returns the cache accounting, or false when caching is off.
func (e *Engine) CacheStats(ctx context.Context) (cache.Stats, bool, error) {
	if e.policy == PolicyOff {
		return cache.Stats{}, false, nil
	}
	st, err := e.cache.Stats(ctx)
	return st, true, err
}

// Evaluate resolves and evaluates expr.
//
// Postcondition: Returns a complete Result, or exactly one error. Errors from
// the dice pipeline are returned unwrapped so that dice.KindOf applies.
func (e *Engine) Evaluate(ctx context.Context, expr string) (Result, error) {
	return e.run(ctx, expr, false)
}

// Explain is Evaluate with the explanation trace. It never consults the cache:
// a replayed result has no trace.
func (e *Engine) Explain(ctx context.Context, expr string) (Result, error) {
	return e.run(ctx, expr, true)
}

// Range reports the static bounds of expr without rolling.
func (e *Engine) Range(expr string) (lo, hi float64, err error) {
	resolved, _, err := e.resolve(expr)
	if err != nil {
		return 0, 0, err
	}
	root, err := dice.ParseString(resolved, e.opts.Tokenizer)
	if err != nil {
		return 0, 0, err
	}
	lo, hi = dice.Range(root, e.opts.MaxRerolls)
	return lo, hi, nil
}

func (e *Engine) run(ctx context.Context, expr string, explain bool) (Result, error) {
	id := e.newID()
	log := e.logger.With(zap.String("evaluation_id", id))

	resolved, name, err := e.resolve(expr)
	if err != nil {
		log.Debug("evaluation failed", zap.String("expression", expr), zap.Error(err))
		return Result{}, err
	}

	res := Result{ID: id, Preset: name, Cache: CacheBypass}
	useCache := e.policy != PolicyOff && !explain

	if useCache {
		entry, ok, err := e.cache.Get(ctx, resolved)
		switch {
		case err != nil:
			log.Warn("cache lookup failed", zap.Error(err))
		case ok:
			res.DetailedEvaluationResult = entry.Value
			res.Cache = CacheHit
			e.logResult(log, res, 0, zap.Int64("entry_hits", entry.Hits))
			return res, nil
		default:
			res.Cache = CacheMiss
		}
	}

	start := time.Now()
	var (
		detailed dice.DetailedEvaluationResult
		replayed bool
	)
	if useCache && e.storable(resolved) {
		detailed, replayed, err = e.evaluateOnce(ctx, log, id, resolved)
	} else {
		detailed, res.Explanation, err = e.evaluate(ctx, resolved, explain)
	}
	if err != nil {
		log.Debug("evaluation failed",
			zap.String("expression", resolved),
			zap.String("kind", dice.KindOf(err).String()),
			zap.Error(err),
		)
		return Result{}, err
	}
	res.DetailedEvaluationResult = detailed
	if replayed {
		res.Cache = CacheHit
	}
	e.logResult(log, res, time.Since(start))
	return res, nil
}

func (e *Engine) evaluate(ctx context.Context, resolved string, explain bool) (dice.DetailedEvaluationResult, *dice.Explanation, error) {
	opts := e.opts
	opts.Context = ctx
	if !explain {
		detailed, err := dice.EvaluateExpression(resolved, opts)
		return detailed, nil, err
	}
	detailed, exp, err := dice.ExplainExpression(resolved, opts)
	if err != nil {
		return detailed, nil, err
	}
	return detailed, &exp, nil
}

type flightResult struct {
	detailed dice.DetailedEvaluationResult
	producer string
}

// evaluateOnce evaluates a storable expression at most once per key among
// concurrent callers and stores it with SetIfAbsent, so every caller gets
// the result that ends up in the cache. replayed reports that the result was
// produced by another evaluation, in this process or another.
func (e *Engine) evaluateOnce(ctx context.Context, log *zap.Logger, id, resolved string) (dice.DetailedEvaluationResult, bool, error) {
	v, err, _ := e.flight.Do(cache.NormalizeKey(resolved), func() (any, error) {
		detailed, _, err := e.evaluate(ctx, resolved, false)
		if err != nil {
			return nil, err
		}
		entry, stored, err := e.cache.SetIfAbsent(ctx, resolved, detailed)
		switch {
		case err != nil:
			log.Warn("cache store failed", zap.Error(err))
		case !stored:
			return flightResult{detailed: entry.Value}, nil
		}
		return flightResult{detailed: detailed, producer: id}, nil
	})
	if err != nil {
		return dice.DetailedEvaluationResult{}, false, err
	}
	fr := v.(flightResult)
	return fr.detailed, fr.producer != id, nil
}

// resolve expands a preset reference. name is empty for plain expressions.
func (e *Engine) resolve(expr string) (resolved, name string, err error) {
	if e.presets == nil {
		return expr, "", nil
	}
	resolved, ok, err := e.presets.Resolve(expr)
	if err != nil {
		return "", "", fmt.Errorf("resolving %q: %w", expr, err)
	}
	if ok {
		name = preset.Name(expr)
	}
	return resolved, name, nil
}

// storable reports whether a successful evaluation of expr goes into the
// cache under the current policy.
func (e *Engine) storable(expr string) bool {
	switch e.policy {
	case PolicyReplay:
		return true
	case PolicyDeterministic:
		return isDiceFree(expr, e.opts.Tokenizer)
	default:
		return false
	}
}

func isDiceFree(expr string, cfg dice.TokenizerConfig) bool {
	root, err := dice.ParseString(expr, cfg)
	return err == nil && !dice.HasDice(root)
}

func (e *Engine) logResult(log *zap.Logger, r Result, elapsed time.Duration, extra ...zap.Field) {
	if ce := log.Check(zap.DebugLevel, "evaluation complete"); ce != nil {
		rolls := make([]string, len(r.Rolls))
		for i, roll := range r.Rolls {
			rolls[i] = roll.String()
		}
		fields := []zap.Field{
			zap.String("expression", r.Expression),
			zap.Float64("value", r.Value),
			zap.Strings("rolls", rolls),
			zap.Duration("elapsed", elapsed),
			zap.String("cache", string(r.Cache)),
		}
		if r.Preset != "" {
			fields = append(fields, zap.String("preset", r.Preset))
		}
		if m := r.Metrics; m != nil {
			fields = append(fields,
				zap.Int("nodes_evaluated", m.NodesEvaluated),
				zap.Int("dice_rolled", m.DiceRolled),
				zap.Int("rerolls", m.RerollsPerformed),
			)
		}
		ce.Write(append(fields, extra...)...)
	}
}
