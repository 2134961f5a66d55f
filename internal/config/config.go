// Package config provides Viper-based configuration loading for the dice engine.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cory-johannsen/diceengine/internal/dice"
)

// Cache policies accepted by EvaluatorConfig.CachePolicy.
const (
	CachePolicyOff           = "off"
	CachePolicyReplay        = "replay"
	CachePolicyDeterministic = "deterministic"
)

// Cache backends accepted by CacheConfig.Backend.
const (
	CacheBackendMemory   = "memory"
	CacheBackendRedis    = "redis"
	CacheBackendPostgres = "postgres"
)

// EvaluatorConfig holds evaluation limits and the caching policy.
type EvaluatorConfig struct {
	// MaxRerolls is the reroll budget shared by all reroll terms of one evaluation.
	MaxRerolls int `mapstructure:"max_rerolls"`
	// MaxExecutionTime is the wall-clock budget of one evaluation.
	MaxExecutionTime time.Duration `mapstructure:"max_execution_time"`
	EnableMetrics    bool          `mapstructure:"enable_metrics"`
	// EnableCaching turns the result cache on. When false CachePolicy is ignored.
	EnableCaching bool `mapstructure:"enable_caching"`
	// CachePolicy is one of "off", "replay" or "deterministic".
	CachePolicy      string `mapstructure:"cache_policy"`
	FailOnMaxRerolls bool   `mapstructure:"fail_on_max_rerolls"`
}

// EffectiveCachePolicy returns CachePolicy, or "off" when caching is disabled.
func (e EvaluatorConfig) EffectiveCachePolicy() string {
	if !e.EnableCaching {
		return CachePolicyOff
	}
	return e.CachePolicy
}

// TokenizerConfig holds lexical limits.
type TokenizerConfig struct {
	MaxExpressionLength int      `mapstructure:"max_expression_length"`
	AllowedOperators    []string `mapstructure:"allowed_operators"`
	AllowedConditionals []string `mapstructure:"allowed_conditionals"`
	CaseSensitive       bool     `mapstructure:"case_sensitive"`
}

// Dice converts the section to the core tokenizer configuration.
func (t TokenizerConfig) Dice() dice.TokenizerConfig {
	out := dice.TokenizerConfig{
		MaxExpressionLength: t.MaxExpressionLength,
		CaseSensitive:       t.CaseSensitive,
	}
	if t.AllowedOperators != nil {
		out.AllowedOperators = slices.Clone(t.AllowedOperators)
	}
	if t.AllowedConditionals != nil {
		out.AllowedConditionals = make([]dice.Comparison, len(t.AllowedConditionals))
		for i, c := range t.AllowedConditionals {
			out.AllowedConditionals[i] = dice.Comparison(c)
		}
	}
	return out
}

// CacheConfig selects and configures the result cache backend.
type CacheConfig struct {
	// Backend is one of "memory", "redis" or "postgres".
	Backend string `mapstructure:"backend"`
	// TTL expires entries; zero keeps them until cleared.
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// ServerConfig holds gRPC listener settings.
type ServerConfig struct {
	GRPCHost string `mapstructure:"grpc_host"`
	GRPCPort int    `mapstructure:"grpc_port"`
	// ShutdownTimeout bounds graceful shutdown of all services.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the "host:port" gRPC address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.GRPCHost, s.GRPCPort)
}

// PresetsConfig locates the YAML preset definitions.
type PresetsConfig struct {
	// Dir is scanned for *.yaml files. Empty disables presets.
	Dir string `mapstructure:"dir"`
}

// ScriptingConfig locates Lua macro scripts.
type ScriptingConfig struct {
	// Dir is scanned for *.lua files. Empty disables scripting.
	Dir string `mapstructure:"dir"`
	// InstructionLimit caps VM instructions per load or call; 0 uses the
	// scripting default.
	InstructionLimit int `mapstructure:"instruction_limit"`
}

// Config is the top-level application configuration.
type Config struct {
	Evaluator EvaluatorConfig `mapstructure:"evaluator"`
	Tokenizer TokenizerConfig `mapstructure:"tokenizer"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Presets   PresetsConfig   `mapstructure:"presets"`
	Scripting ScriptingConfig `mapstructure:"scripting"`
}

// DiceOptions converts the evaluator and tokenizer sections to core options.
// Random, Clock and Context are left unset for the caller to supply.
func (c Config) DiceOptions() dice.Options {
	return dice.Options{
		MaxRerolls:       c.Evaluator.MaxRerolls,
		MaxExecutionTime: c.Evaluator.MaxExecutionTime,
		EnableMetrics:    c.Evaluator.EnableMetrics,
		FailOnMaxRerolls: c.Evaluator.FailOnMaxRerolls,
		Tokenizer:        c.Tokenizer.Dice(),
	}
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateEvaluator(c.Evaluator); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateTokenizer(c.Tokenizer); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateCache(c.Cache); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Evaluator.EffectiveCachePolicy() != CachePolicyOff && c.Cache.Backend == CacheBackendPostgres {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Scripting.InstructionLimit < 0 {
		errs = append(errs, fmt.Sprintf("scripting.instruction_limit must be >= 0, got %d", c.Scripting.InstructionLimit))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateEvaluator(e EvaluatorConfig) error {
	var errs []string
	if e.MaxRerolls < 0 {
		errs = append(errs, fmt.Sprintf("evaluator.max_rerolls must be >= 0, got %d", e.MaxRerolls))
	}
	if e.MaxExecutionTime <= 0 {
		errs = append(errs, fmt.Sprintf("evaluator.max_execution_time must be positive, got %s", e.MaxExecutionTime))
	}
	validPolicies := map[string]bool{CachePolicyOff: true, CachePolicyReplay: true, CachePolicyDeterministic: true}
	if !validPolicies[e.CachePolicy] {
		errs = append(errs, fmt.Sprintf("evaluator.cache_policy must be one of [off, replay, deterministic], got %q", e.CachePolicy))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateTokenizer(t TokenizerConfig) error {
	var errs []string
	if t.MaxExpressionLength < 1 {
		errs = append(errs, fmt.Sprintf("tokenizer.max_expression_length must be >= 1, got %d", t.MaxExpressionLength))
	}
	for _, op := range t.AllowedOperators {
		if !slices.Contains(dice.AllOperators, op) {
			errs = append(errs, fmt.Sprintf("tokenizer.allowed_operators: unknown operator %q", op))
		}
	}
	for _, c := range t.AllowedConditionals {
		if !slices.Contains(dice.AllConditionals, dice.Comparison(c)) {
			errs = append(errs, fmt.Sprintf("tokenizer.allowed_conditionals: unknown conditional %q", c))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateCache(c CacheConfig) error {
	var errs []string
	validBackends := map[string]bool{CacheBackendMemory: true, CacheBackendRedis: true, CacheBackendPostgres: true}
	if !validBackends[c.Backend] {
		errs = append(errs, fmt.Sprintf("cache.backend must be one of [memory, redis, postgres], got %q", c.Backend))
	}
	if c.TTL < 0 {
		errs = append(errs, "cache.ttl must not be negative")
	}
	if c.Backend == CacheBackendRedis && c.RedisAddr == "" {
		errs = append(errs, "cache.redis_addr must not be empty for the redis backend")
	}
	if c.RedisDB < 0 {
		errs = append(errs, fmt.Sprintf("cache.redis_db must be >= 0, got %d", c.RedisDB))
	}
	if c.KeyPrefix == "" {
		errs = append(errs, "cache.key_prefix must not be empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.GRPCHost == "" {
		errs = append(errs, "server.grpc_host must not be empty")
	}
	if s.GRPCPort < 1 || s.GRPCPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.grpc_port must be 1-65535, got %d", s.GRPCPort))
	}
	if s.ShutdownTimeout < 0 {
		errs = append(errs, "server.shutdown_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path uses defaults and the
// environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

// NewViper returns a Viper instance with the DICE_ environment prefix and all
// defaults applied, ready for flag bindings.
func NewViper() *viper.Viper {
	v := viper.New()

	// Environment variable overrides with DICE_ prefix
	v.SetEnvPrefix("DICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	if v == nil {
		return Config{}, errors.New("config: nil viper instance")
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("evaluator.max_rerolls", dice.DefaultMaxRerolls)
	v.SetDefault("evaluator.max_execution_time", dice.DefaultMaxExecutionTime.String())
	v.SetDefault("evaluator.enable_metrics", true)
	v.SetDefault("evaluator.enable_caching", false)
	v.SetDefault("evaluator.cache_policy", CachePolicyDeterministic)
	v.SetDefault("evaluator.fail_on_max_rerolls", false)

	v.SetDefault("tokenizer.max_expression_length", dice.DefaultMaxExpressionLength)
	v.SetDefault("tokenizer.allowed_operators", dice.AllOperators)
	v.SetDefault("tokenizer.allowed_conditionals", []string{">", ">=", "<", "<=", "=", "=="})
	v.SetDefault("tokenizer.case_sensitive", false)

	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.ttl", "0s")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.key_prefix", "dice")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "dice")
	v.SetDefault("database.password", "dice")
	v.SetDefault("database.name", "dice")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.grpc_host", "127.0.0.1")
	v.SetDefault("server.grpc_port", 50061)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("presets.dir", "")
	v.SetDefault("scripting.dir", "")
	v.SetDefault("scripting.instruction_limit", 100000)
}
