// Package cache memoizes evaluation results by normalized expression text.
//
// A ResultCache adds hit/miss accounting and mutual exclusion on top of a
// Backend. Backends decide where entries live: process memory, Redis or
// PostgreSQL.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned by Backend.Load when no live entry exists for a key.
var ErrNotFound = errors.New("cache: entry not found")

// Entry is one stored result with its bookkeeping. Key is the normalized
// expression; Hits counts the lookups that returned this entry, including
// the one that produced it.
type Entry[V any] struct {
	Key       string    `json:"key" yaml:"key"`
	Value     V         `json:"value" yaml:"value"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Hits      int64     `json:"hits" yaml:"hits"`
}

// Backend stores cache entries.
//
// Implementations must be safe for concurrent use.
type Backend[V any] interface {
	// Load increments the hit counter of the live entry for key and returns
	// the entry, or ErrNotFound.
	Load(ctx context.Context, key string) (Entry[V], error)
	// Store sets the value for key, replacing any previous entry. The
	// replacement starts with a fresh creation time and zero hits.
	Store(ctx context.Context, key string, v V) error
	// StoreIfAbsent stores v only when key has no live entry. It returns the
	// entry live afterwards and whether it is the one just stored. The
	// returned entry's hit counter is not incremented.
	StoreIfAbsent(ctx context.Context, key string, v V) (Entry[V], bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Clear removes every entry.
	Clear(ctx context.Context) error
	// Len returns the number of live entries.
	Len(ctx context.Context) (int, error)
}

// Stats is a snapshot of cache accounting.
type Stats struct {
	Hits    int64   `json:"hits" yaml:"hits"`
	Misses  int64   `json:"misses" yaml:"misses"`
	HitRate float64 `json:"hit_rate" yaml:"hit_rate"`
	Entries int     `json:"entries" yaml:"entries"`
}

// ResultCache counts hits and misses over a Backend. Every operation holds
// the cache mutex, so a Get, the entry's hit counter and the cache counters
// are updated together.
type ResultCache[V any] struct {
	mu      sync.Mutex
	backend Backend[V]
	hits    int64
	misses  int64
}

// New returns a ResultCache over backend.
//
// Precondition: backend must be non-nil.
func New[V any](backend Backend[V]) *ResultCache[V] {
	if backend == nil {
		panic("cache: New called with nil backend")
	}
	return &ResultCache[V]{backend: backend}
}

// Get looks up key after normalization.
//
// Postcondition: Exactly one of the hit or miss counters is incremented when
// err is nil; on a hit the entry's own Hits includes this lookup. Backend
// failures are returned without touching the counters.
func (c *ResultCache[V]) Get(ctx context.Context, key string) (Entry[V], bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.backend.Load(ctx, NormalizeKey(key))
	switch {
	case err == nil:
		c.hits++
		return e, true, nil
	case errors.Is(err, ErrNotFound):
		c.misses++
		return Entry[V]{}, false, nil
	default:
		return Entry[V]{}, false, fmt.Errorf("loading cache entry: %w", err)
	}
}

// Set stores v under the normalized key, replacing any previous entry.
func (c *ResultCache[V]) Set(ctx context.Context, key string, v V) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.backend.Store(ctx, NormalizeKey(key), v); err != nil {
		return fmt.Errorf("storing cache entry: %w", err)
	}
	return nil
}

// SetIfAbsent stores v under the normalized key unless a live entry already
// exists. It returns the entry that is live afterwards; stored reports
// whether that entry holds v. Counters are not touched.
func (c *ResultCache[V]) SetIfAbsent(ctx context.Context, key string, v V) (entry Entry[V], stored bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, stored, err = c.backend.StoreIfAbsent(ctx, NormalizeKey(key), v)
	if err != nil {
		return Entry[V]{}, false, fmt.Errorf("storing cache entry: %w", err)
	}
	return entry, stored, nil
}

// Delete removes the normalized key.
func (c *ResultCache[V]) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.backend.Delete(ctx, NormalizeKey(key)); err != nil {
		return fmt.Errorf("deleting cache entry: %w", err)
	}
	return nil
}

// Clear removes every entry. Hit and miss counters are cumulative and
// survive a Clear.
func (c *ResultCache[V]) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.backend.Clear(ctx); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	return nil
}

// Size returns the number of stored entries.
func (c *ResultCache[V]) Size(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.backend.Len(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting cache entries: %w", err)
	}
	return n, nil
}

// Stats returns the counters and entry count. HitRate is 0 when no lookup
// has happened yet.
func (c *ResultCache[V]) Stats(ctx context.Context) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.backend.Len(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("counting cache entries: %w", err)
	}
	s := Stats{Hits: c.hits, Misses: c.misses, Entries: n}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s, nil
}

// NormalizeKey trims surrounding whitespace and collapses internal runs of
// whitespace to one space. It does not remove whitespace between tokens, so
// "2 d6" and "2d6" stay distinct keys.
func NormalizeKey(expr string) string {
	return strings.Join(strings.Fields(expr), " ")
}
