package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry[V any] struct {
	entry   Entry[V]
	expires time.Time
}

// MemoryBackend keeps entries in a map. A zero TTL means entries never expire.
type MemoryBackend[V any] struct {
	mu      sync.Mutex
	entries map[string]memoryEntry[V]
	ttl     time.Duration
	now     func() time.Time
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	ttl time.Duration
	now func() time.Time
}

// WithTTL expires entries ttl after they were stored.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(c *memoryConfig) { c.ttl = ttl }
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *memoryConfig) { c.now = now }
}

// NewMemoryBackend returns an empty in-process backend.
func NewMemoryBackend[V any](opts ...MemoryOption) *MemoryBackend[V] {
	cfg := memoryConfig{now: time.Now}
	for _, o := range opts {
		o(&cfg)
	}
	return &MemoryBackend[V]{
		entries: make(map[string]memoryEntry[V]),
		ttl:     max(cfg.ttl, 0),
		now:     cfg.now,
	}
}

// Load implements Backend. Expired entries are reported as ErrNotFound and
// evicted.
func (m *MemoryBackend[V]) Load(_ context.Context, key string) (Entry[V], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return Entry[V]{}, ErrNotFound
	}
	e.entry.Hits++
	m.entries[key] = e
	return e.entry, nil
}

// Store implements Backend.
func (m *MemoryBackend[V]) Store(_ context.Context, key string, v V) error {
	m.mu.Lock()
	m.entries[key] = m.newEntry(key, v)
	m.mu.Unlock()
	return nil
}

// StoreIfAbsent implements Backend.
func (m *MemoryBackend[V]) StoreIfAbsent(_ context.Context, key string, v V) (Entry[V], bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.live(key); ok {
		return e.entry, false, nil
	}
	e := m.newEntry(key, v)
	m.entries[key] = e
	return e.entry, true, nil
}

// live returns the unexpired entry for key, evicting an expired one.
// Callers hold m.mu.
func (m *MemoryBackend[V]) live(key string) (memoryEntry[V], bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry[V]{}, false
	}
	if m.expired(e) {
		delete(m.entries, key)
		return memoryEntry[V]{}, false
	}
	return e, true
}

func (m *MemoryBackend[V]) newEntry(key string, v V) memoryEntry[V] {
	now := m.now()
	e := memoryEntry[V]{entry: Entry[V]{Key: key, Value: v, CreatedAt: now}}
	if m.ttl > 0 {
		e.expires = now.Add(m.ttl)
	}
	return e
}

// Delete implements Backend.
func (m *MemoryBackend[V]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Clear implements Backend.
func (m *MemoryBackend[V]) Clear(_ context.Context) error {
	m.mu.Lock()
	clear(m.entries)
	m.mu.Unlock()
	return nil
}

// Len implements Backend, counting only live entries.
func (m *MemoryBackend[V]) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if !m.expired(e) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryBackend[V]) expired(e memoryEntry[V]) bool {
	return !e.expires.IsZero() && !m.now().Before(e.expires)
}
