package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/diceengine/internal/cache"
	"github.com/cory-johannsen/diceengine/internal/config"
	"github.com/cory-johannsen/diceengine/internal/dice"
	"github.com/cory-johannsen/diceengine/internal/diceserver"
	"github.com/cory-johannsen/diceengine/internal/engine"
	"github.com/cory-johannsen/diceengine/internal/observability"
	"github.com/cory-johannsen/diceengine/internal/preset"
	"github.com/cory-johannsen/diceengine/internal/scripting"
)

// cli holds the persistent flags shared by every subcommand.
type cli struct {
	out, errOut io.Writer

	configPath string
	seed       uint64
	asJSON     bool
	asYAML     bool
	presetsDir string
	scriptsDir string
	serverAddr string
	verbose    bool
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}
	root := &cobra.Command{
		Use:           "dice",
		Short:         "Evaluate tabletop dice expressions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	f := root.PersistentFlags()
	f.StringVarP(&c.configPath, "config", "c", "", "config file path (defaults and DICE_* environment when empty)")
	f.Uint64Var(&c.seed, "seed", 0, "seed for reproducible rolls")
	f.BoolVar(&c.asJSON, "json", false, "print results as JSON")
	f.BoolVar(&c.asYAML, "yaml", false, "print results as YAML")
	f.StringVar(&c.presetsDir, "presets", "", "preset directory (overrides config)")
	f.StringVar(&c.scriptsDir, "scripts", "", "Lua script directory (overrides config)")
	f.StringVar(&c.serverAddr, "server", "", "evaluate on a remote dice server at host:port")
	f.BoolVarP(&c.verbose, "verbose", "v", false, "log evaluations to stderr")
	root.MarkFlagsMutuallyExclusive("json", "yaml")

	root.AddCommand(
		c.newRollCommand(),
		c.newExplainCommand(),
		c.newRangeCommand(),
		c.newPresetsCommand(),
		c.newRunCommand(),
	)

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		fmt.Fprintln(errOut, "error:", err)
		return err
	})
	reportErrors(root, errOut)
	return root
}

// reportErrors prints subcommand failures so main only needs the exit code.
func reportErrors(cmd *cobra.Command, errOut io.Writer) {
	for _, sub := range cmd.Commands() {
		run := sub.RunE
		if run == nil {
			continue
		}
		sub.RunE = func(cmd *cobra.Command, args []string) error {
			err := run(cmd, args)
			if err != nil {
				fmt.Fprintln(errOut, "error:", describeError(err))
			}
			return err
		}
	}
}

// describeError prefixes dice errors with their kind.
func describeError(err error) string {
	if k := dice.KindOf(err); k != dice.KindUnknown {
		return fmt.Sprintf("%s: %v", k, err)
	}
	return err.Error()
}

func (c *cli) newRollCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "roll <expression>...",
		Short: "Roll one or more expressions",
		Example: `  dice roll 4d6kh3
  dice roll "2d20kh1+5" "1d8+3"
  dice roll @fireball --presets presets`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.serverAddr != "" {
				return c.remote(cmd.Context(), func(ctx context.Context, cl *diceserver.Client) error {
					for _, expr := range args {
						out, err := cl.Evaluate(ctx, expr)
						if err != nil {
							return err
						}
						m := out.AsMap()
						if err := c.print(m, func() string {
							return fmt.Sprintf("%s = %v", m["expression"], m["value"])
						}); err != nil {
							return err
						}
					}
					return nil
				})
			}
			env, err := c.load(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()
			var results []engine.Result
			for _, expr := range args {
				res, err := env.engine.Evaluate(cmd.Context(), expr)
				if err != nil {
					return err
				}
				results = append(results, res)
			}
			return c.print(results, func() string {
				lines := make([]string, len(results))
				for i, r := range results {
					lines[i] = r.Summary()
					if r.MaxRerollsReached() {
						lines[i] += " (reroll limit reached)"
					}
				}
				return strings.Join(lines, "\n")
			})
		},
	}
}

func (c *cli) newExplainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "explain <expression>",
		Short: "Evaluate an expression and show every step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.serverAddr != "" {
				return c.remote(cmd.Context(), func(ctx context.Context, cl *diceserver.Client) error {
					out, err := cl.Explain(ctx, args[0])
					if err != nil {
						return err
					}
					m := out.AsMap()
					return c.print(m, func() string { return fmt.Sprint(m["text"]) })
				})
			}
			env, err := c.load(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()
			res, err := env.engine.Explain(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(res.Explanation, res.Explanation.Render)
		},
	}
}

func (c *cli) newRangeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "range <expression>",
		Short: "Show the minimum and maximum possible values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := c.load(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()
			lo, hi, err := env.engine.Range(args[0])
			if err != nil {
				return err
			}
			v := map[string]any{"expression": args[0], "min": lo, "max": hi}
			return c.print(v, func() string {
				return fmt.Sprintf("%s: %s..%s", args[0], dice.FormatValue(lo), dice.FormatValue(hi))
			})
		},
	}
}

func (c *cli) newPresetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List named expressions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := c.load(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()
			all := env.presets.All()
			return c.print(all, func() string {
				if len(all) == 0 {
					return "no presets loaded"
				}
				lines := make([]string, len(all))
				for i, p := range all {
					lines[i] = fmt.Sprintf("%s%s\t%s\t%s", preset.Prefix, p.Name, p.Expression, p.Description)
				}
				return strings.Join(lines, "\n")
			})
		},
	}
}

func (c *cli) newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <function> [args...]",
		Short: "Call a Lua macro",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := c.load(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()
			if env.scripts == nil {
				return errors.New("no script directory configured (use --scripts)")
			}
			callArgs := make([]any, len(args)-1)
			for i, a := range args[1:] {
				callArgs[i] = a
			}
			ret, err := env.scripts.Call(cmd.Context(), args[0], callArgs...)
			if err != nil {
				return err
			}
			v := scripting.FromLua(ret)
			return c.print(map[string]any{"result": v}, func() string { return ret.String() })
		},
	}
}

// env is the local engine assembled from config and flags.
type env struct {
	engine  *engine.Engine
	presets *preset.Registry
	scripts *scripting.Manager
	logger  *zap.Logger
}

func (e *env) close() {
	if e.scripts != nil {
		e.scripts.Close()
	}
	_ = e.logger.Sync()
}

func (c *cli) load(ctx context.Context) (*env, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.presetsDir != "" {
		cfg.Presets.Dir = c.presetsDir
	}
	if c.scriptsDir != "" {
		cfg.Scripting.Dir = c.scriptsDir
	}

	logger := zap.NewNop()
	if c.verbose {
		logger, err = observability.NewLogger(
			config.LoggingConfig{Level: "debug", Format: "console"},
			observability.WithComponent("dice"),
		)
		if err != nil {
			return nil, err
		}
	}

	opts := cfg.DiceOptions()
	if c.seed != 0 {
		opts.Random = dice.Seeded(c.seed)
	}

	presets := preset.NewRegistry(cfg.Tokenizer.Dice())
	if cfg.Presets.Dir != "" {
		if presets, err = preset.LoadDirectory(cfg.Presets.Dir, cfg.Tokenizer.Dice()); err != nil {
			return nil, err
		}
	}

	// A CLI process evaluates each expression once, so only an in-memory
	// cache makes sense here.
	engOpts := []engine.Option{engine.WithPresets(presets), engine.WithLogger(logger)}
	if policy := cfg.Evaluator.EffectiveCachePolicy(); policy != config.CachePolicyOff {
		rc := cache.New[dice.DetailedEvaluationResult](cache.NewMemoryBackend[dice.DetailedEvaluationResult]())
		engOpts = append(engOpts, engine.WithCache(rc, engine.Policy(policy)))
	}
	e := &env{
		engine:  engine.New(opts, engOpts...),
		presets: presets,
		logger:  logger,
	}
	if cfg.Scripting.Dir != "" {
		e.scripts = scripting.NewManager(e.engine, logger, cfg.Scripting.InstructionLimit)
		if err := e.scripts.Load(ctx, cfg.Scripting.Dir); err != nil {
			e.close()
			return nil, err
		}
	}
	return e, nil
}

func (c *cli) remote(ctx context.Context, fn func(context.Context, *diceserver.Client) error) error {
	conn, err := grpc.NewClient(c.serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.serverAddr, err)
	}
	defer conn.Close()
	return fn(ctx, diceserver.NewClient(conn))
}

// print writes v as JSON or YAML when requested, otherwise text().
func (c *cli) print(v any, text func() string) error {
	switch {
	case c.asJSON:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding json: %w", err)
		}
		_, err = fmt.Fprintln(c.out, string(b))
		return err
	case c.asYAML:
		enc := yaml.NewEncoder(c.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	default:
		_, err := fmt.Fprintln(c.out, text())
		return err
	}
}
