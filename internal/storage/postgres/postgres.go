// Package postgres persists cached evaluation results in PostgreSQL using
// pgx v5, and applies the schema migrations they depend on.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/diceengine/internal/config"
)

// DefaultApplicationName identifies result-cache connections in
// pg_stat_activity.
const DefaultApplicationName = "diceengine"

// Pool is the connection pool shared by ResultStores.
type Pool struct {
	pool *pgxpool.Pool
}

type poolOptions struct {
	appName          string
	statementTimeout time.Duration
}

// PoolOption adjusts connections opened by NewPool.
type PoolOption func(*poolOptions)

// WithStatementTimeout makes the server cancel any statement running longer
// than d. A cache lookup should never outlast the evaluation it serves, so
// callers pass the evaluator's execution budget. Zero leaves the server
// default.
func WithStatementTimeout(d time.Duration) PoolOption {
	return func(o *poolOptions) { o.statementTimeout = d }
}

// WithApplicationName overrides DefaultApplicationName.
func WithApplicationName(name string) PoolOption {
	return func(o *poolOptions) { o.appName = name }
}

// NewPool connects to the database described by cfg.
//
// Precondition: cfg must contain valid database connection parameters.
// Postcondition: Returns a pinged Pool or a non-nil error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, opts ...PoolOption) (*Pool, error) {
	o := poolOptions{appName: DefaultApplicationName}
	for _, opt := range opts {
		opt(&o)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	params := poolCfg.ConnConfig.RuntimeParams
	if o.appName != "" {
		params["application_name"] = o.appName
	}
	if o.statementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(max(o.statementTimeout.Milliseconds(), 1), 10)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Pool{pool: pool}, nil
}

// Health pings the database, giving up after timeout.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database health: %w", err)
	}
	return nil
}

// Close releases all connections. The pool is unusable afterwards.
func (p *Pool) Close() { p.pool.Close() }

// DB returns the underlying pgxpool.Pool.
func (p *Pool) DB() *pgxpool.Pool { return p.pool }
