package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cory-johannsen/diceengine/internal/cache"
)

// ResultStore is a cache.Backend persisted in the result_cache table.
// Rows are addressed by (prefix, blake2b digest of the key), and values are
// stored as jsonb.
type ResultStore[V any] struct {
	pool   *Pool
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewResultStore returns a store namespaced by prefix. A zero ttl keeps rows
// until they are deleted or cleared.
//
// Precondition: pool must be connected and migrated; prefix must be non-empty.
func NewResultStore[V any](pool *Pool, prefix string, ttl time.Duration) *ResultStore[V] {
	return &ResultStore[V]{pool: pool, prefix: prefix, ttl: max(ttl, 0), now: time.Now}
}

// Load implements cache.Backend. The hit counter is bumped in the same
// statement that reads the row.
func (s *ResultStore[V]) Load(ctx context.Context, key string) (cache.Entry[V], error) {
	var (
		e   cache.Entry[V]
		raw []byte
	)
	err := s.pool.DB().QueryRow(ctx,
		`UPDATE result_cache SET hits = hits + 1
		 WHERE prefix = $1 AND key_digest = $2
		   AND (expires_at IS NULL OR expires_at > $3)
		 RETURNING expression, value, created_at, hits`,
		s.prefix, cache.Digest(key), s.now(),
	).Scan(&e.Key, &raw, &e.CreatedAt, &e.Hits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return e, cache.ErrNotFound
		}
		return e, fmt.Errorf("querying result: %w", err)
	}
	if err := json.Unmarshal(raw, &e.Value); err != nil {
		return e, fmt.Errorf("decoding result: %w", err)
	}
	return e, nil
}

// Store implements cache.Backend as an upsert that resets the hit counter.
func (s *ResultStore[V]) Store(ctx context.Context, key string, v V) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	now := s.now()
	_, err = s.pool.DB().Exec(ctx,
		`INSERT INTO result_cache (prefix, key_digest, expression, value, created_at, expires_at, hits)
		 VALUES ($1, $2, $3, $4, $5, $6, 0)
		 ON CONFLICT (prefix, key_digest) DO UPDATE
		 SET expression = EXCLUDED.expression,
		     value      = EXCLUDED.value,
		     created_at = EXCLUDED.created_at,
		     expires_at = EXCLUDED.expires_at,
		     hits       = 0`,
		s.prefix, cache.Digest(key), key, raw, now, s.expiry(now),
	)
	if err != nil {
		return fmt.Errorf("upserting result: %w", err)
	}
	return nil
}

// StoreIfAbsent implements cache.Backend. An expired row counts as absent
// and is overwritten.
func (s *ResultStore[V]) StoreIfAbsent(ctx context.Context, key string, v V) (cache.Entry[V], bool, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return cache.Entry[V]{}, false, fmt.Errorf("encoding result: %w", err)
	}
	now := s.now()
	e := cache.Entry[V]{Key: key, Value: v}
	err = s.pool.DB().QueryRow(ctx,
		`INSERT INTO result_cache (prefix, key_digest, expression, value, created_at, expires_at, hits)
		 VALUES ($1, $2, $3, $4, $5, $6, 0)
		 ON CONFLICT (prefix, key_digest) DO UPDATE
		 SET expression = EXCLUDED.expression,
		     value      = EXCLUDED.value,
		     created_at = EXCLUDED.created_at,
		     expires_at = EXCLUDED.expires_at,
		     hits       = 0
		 WHERE result_cache.expires_at IS NOT NULL AND result_cache.expires_at <= $5
		 RETURNING created_at, hits`,
		s.prefix, cache.Digest(key), key, raw, now, s.expiry(now),
	).Scan(&e.CreatedAt, &e.Hits)
	switch {
	case err == nil:
		return e, true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return cache.Entry[V]{}, false, fmt.Errorf("inserting result: %w", err)
	}

	// A live row won; read it back without counting a hit.
	var existing []byte
	e = cache.Entry[V]{}
	err = s.pool.DB().QueryRow(ctx,
		`SELECT expression, value, created_at, hits FROM result_cache
		 WHERE prefix = $1 AND key_digest = $2`,
		s.prefix, cache.Digest(key),
	).Scan(&e.Key, &existing, &e.CreatedAt, &e.Hits)
	if err != nil {
		return cache.Entry[V]{}, false, fmt.Errorf("querying result: %w", err)
	}
	if err := json.Unmarshal(existing, &e.Value); err != nil {
		return cache.Entry[V]{}, false, fmt.Errorf("decoding result: %w", err)
	}
	return e, false, nil
}

func (s *ResultStore[V]) expiry(now time.Time) *time.Time {
	if s.ttl <= 0 {
		return nil
	}
	t := now.Add(s.ttl)
	return &t
}

// Delete implements cache.Backend.
func (s *ResultStore[V]) Delete(ctx context.Context, key string) error {
	_, err := s.pool.DB().Exec(ctx,
		`DELETE FROM result_cache WHERE prefix = $1 AND key_digest = $2`,
		s.prefix, cache.Digest(key),
	)
	if err != nil {
		return fmt.Errorf("deleting result: %w", err)
	}
	return nil
}

// Clear implements cache.Backend, removing only this store's prefix.
func (s *ResultStore[V]) Clear(ctx context.Context) error {
	if _, err := s.pool.DB().Exec(ctx, `DELETE FROM result_cache WHERE prefix = $1`, s.prefix); err != nil {
		return fmt.Errorf("clearing results: %w", err)
	}
	return nil
}

// Len implements cache.Backend, counting unexpired rows.
func (s *ResultStore[V]) Len(ctx context.Context) (int, error) {
	var n int
	err := s.pool.DB().QueryRow(ctx,
		`SELECT COUNT(*) FROM result_cache
		 WHERE prefix = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		s.prefix, s.now(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting results: %w", err)
	}
	return n, nil
}

// PurgeExpired deletes expired rows of every prefix and returns how many
// were removed.
func (s *ResultStore[V]) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.DB().Exec(ctx,
		`DELETE FROM result_cache WHERE expires_at IS NOT NULL AND expires_at <= $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("purging expired results: %w", err)
	}
	return tag.RowsAffected(), nil
}
