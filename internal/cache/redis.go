package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

// RedisBackend stores JSON-encoded entries as fields of one Redis hash named
// by the key prefix. Field names are blake2b-256 digests of the cache key, so
// arbitrarily long expressions map to fixed-size fields. Hit counters live in
// a companion hash under the same fields and are bumped with HINCRBY.
//
// A non-zero TTL applies to both hashes as a whole and is refreshed on every
// store.
type RedisBackend[V any] struct {
	rc   *redis.Client
	hash string
	hits string
	ttl  time.Duration
	now  func() time.Time
}

type redisRecord[V any] struct {
	Value     V         `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRedisBackend returns a backend over rc.
//
// Precondition: rc must be non-nil and prefix non-empty.
func NewRedisBackend[V any](rc *redis.Client, prefix string, ttl time.Duration) *RedisBackend[V] {
	if rc == nil || prefix == "" {
		panic("cache: NewRedisBackend requires a client and a key prefix")
	}
	return &RedisBackend[V]{
		rc:   rc,
		hash: prefix + ":results",
		hits: prefix + ":hits",
		ttl:  max(ttl, 0),
		now:  time.Now,
	}
}

// Digest returns the hex blake2b-256 digest used to address key in external
// stores.
func Digest(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Load implements Backend.
func (r *RedisBackend[V]) Load(ctx context.Context, key string) (Entry[V], error) {
	field := Digest(key)
	raw, err := r.rc.HGet(ctx, r.hash, field).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry[V]{}, ErrNotFound
		}
		return Entry[V]{}, fmt.Errorf("redis hget: %w", err)
	}
	hits, err := r.rc.HIncrBy(ctx, r.hits, field, 1).Result()
	if err != nil {
		return Entry[V]{}, fmt.Errorf("redis hincrby: %w", err)
	}
	return r.decode(key, raw, hits)
}

// Store implements Backend.
func (r *RedisBackend[V]) Store(ctx context.Context, key string, v V) error {
	raw, err := r.encode(v)
	if err != nil {
		return err
	}
	field := Digest(key)
	pipe := r.rc.TxPipeline()
	pipe.HSet(ctx, r.hash, field, raw)
	pipe.HDel(ctx, r.hits, field)
	r.expire(ctx, pipe)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// StoreIfAbsent implements Backend with HSETNX.
func (r *RedisBackend[V]) StoreIfAbsent(ctx context.Context, key string, v V) (Entry[V], bool, error) {
	created := r.now()
	raw, err := json.Marshal(redisRecord[V]{Value: v, CreatedAt: created})
	if err != nil {
		return Entry[V]{}, false, fmt.Errorf("encoding cached value: %w", err)
	}
	field := Digest(key)
	set, err := r.rc.HSetNX(ctx, r.hash, field, raw).Result()
	if err != nil {
		return Entry[V]{}, false, fmt.Errorf("redis hsetnx: %w", err)
	}
	if set {
		pipe := r.rc.TxPipeline()
		pipe.HDel(ctx, r.hits, field)
		r.expire(ctx, pipe)
		if _, err := pipe.Exec(ctx); err != nil {
			return Entry[V]{}, false, fmt.Errorf("redis hdel: %w", err)
		}
		return Entry[V]{Key: key, Value: v, CreatedAt: created}, true, nil
	}

	existing, err := r.rc.HGet(ctx, r.hash, field).Bytes()
	if err != nil {
		return Entry[V]{}, false, fmt.Errorf("redis hget: %w", err)
	}
	hits, err := r.rc.HGet(ctx, r.hits, field).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Entry[V]{}, false, fmt.Errorf("redis hget: %w", err)
	}
	e, err := r.decode(key, existing, hits)
	return e, false, err
}

// Delete implements Backend.
func (r *RedisBackend[V]) Delete(ctx context.Context, key string) error {
	field := Digest(key)
	pipe := r.rc.TxPipeline()
	pipe.HDel(ctx, r.hash, field)
	pipe.HDel(ctx, r.hits, field)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

// Clear implements Backend.
func (r *RedisBackend[V]) Clear(ctx context.Context) error {
	if err := r.rc.Del(ctx, r.hash, r.hits).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Len implements Backend.
func (r *RedisBackend[V]) Len(ctx context.Context) (int, error) {
	n, err := r.rc.HLen(ctx, r.hash).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hlen: %w", err)
	}
	return int(n), nil
}

func (r *RedisBackend[V]) encode(v V) ([]byte, error) {
	raw, err := json.Marshal(redisRecord[V]{Value: v, CreatedAt: r.now()})
	if err != nil {
		return nil, fmt.Errorf("encoding cached value: %w", err)
	}
	return raw, nil
}

func (r *RedisBackend[V]) decode(key string, raw []byte, hits int64) (Entry[V], error) {
	var rec redisRecord[V]
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Entry[V]{}, fmt.Errorf("decoding cached value: %w", err)
	}
	return Entry[V]{Key: key, Value: rec.Value, CreatedAt: rec.CreatedAt, Hits: hits}, nil
}

func (r *RedisBackend[V]) expire(ctx context.Context, pipe redis.Pipeliner) {
	if r.ttl > 0 {
		pipe.Expire(ctx, r.hash, r.ttl)
		pipe.Expire(ctx, r.hits, r.ttl)
	}
}
