package cache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/diceengine/internal/cache"
)

type result struct {
	Value float64 `json:"value"`
	Rolls []int   `json:"rolls"`
}

// failingBackend fails every call with err.
type failingBackend struct{ err error }

func (f failingBackend) Load(context.Context, string) (cache.Entry[result], error) {
	return cache.Entry[result]{}, f.err
}
func (f failingBackend) Store(context.Context, string, result) error { return f.err }
func (f failingBackend) StoreIfAbsent(context.Context, string, result) (cache.Entry[result], bool, error) {
	return cache.Entry[result]{}, false, f.err
}
func (f failingBackend) Delete(context.Context, string) error { return f.err }
func (f failingBackend) Clear(context.Context) error          { return f.err }
func (f failingBackend) Len(context.Context) (int, error)     { return 0, f.err }

func TestResultCache_HitMissAccounting(t *testing.T) {
	ctx := context.Background()
	c := cache.New[result](cache.NewMemoryBackend[result]())

	_, ok, err := c.Get(ctx, "2d6")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "2d6", result{Value: 7, Rolls: []int{3, 4}}))
	got, ok, err := c.Get(ctx, "2d6")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7.0, got.Value.Value)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0.5, stats.HitRate)
	assert.Equal(t, 1, stats.Entries)
}

func TestResultCache_HitRateZeroWithoutLookups(t *testing.T) {
	c := cache.New[result](cache.NewMemoryBackend[result]())
	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, stats.HitRate)
}

func TestResultCache_ClearKeepsCounters(t *testing.T) {
	ctx := context.Background()
	c := cache.New[result](cache.NewMemoryBackend[result]())
	require.NoError(t, c.Set(ctx, "1+1", result{Value: 2}))
	_, _, _ = c.Get(ctx, "1+1")
	_, _, _ = c.Get(ctx, "1+2")

	require.NoError(t, c.Clear(ctx))
	size, err := c.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestResultCache_NormalizesKeys(t *testing.T) {
	ctx := context.Background()
	c := cache.New[result](cache.NewMemoryBackend[result]())
	require.NoError(t, c.Set(ctx, "  2d6 +  3 ", result{Value: 10}))

	_, ok, err := c.Get(ctx, "2d6 + 3")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = c.Get(ctx, "2d6+3")
	require.NoError(t, err)
	assert.False(t, ok, "whitespace between tokens is significant")

	require.NoError(t, c.Delete(ctx, "2d6\t+ 3"))
	size, _ := c.Size(ctx)
	assert.Zero(t, size)
}

func TestResultCache_BackendErrorsDoNotCount(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")
	c := cache.New[result](failingBackend{err: boom})

	_, ok, err := c.Get(ctx, "1d6")
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, c.Set(ctx, "1d6", result{}), boom)
	_, stored, err := c.SetIfAbsent(ctx, "1d6", result{})
	assert.False(t, stored)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, c.Clear(ctx), boom)
	_, err = c.Stats(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestResultCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := cache.New[result](cache.NewMemoryBackend[result]())
	const workers, iterations = 8, 200

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range iterations {
				key := string(rune('a' + (w+i)%5))
				if _, ok, _ := c.Get(ctx, key); !ok {
					_ = c.Set(ctx, key, result{Value: float64(i)})
				}
			}
		}()
	}
	wg.Wait()

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*iterations), stats.Hits+stats.Misses)
	assert.Equal(t, 5, stats.Entries)
}

func TestResultCache_EntryBookkeeping(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(5000, 0)
	c := cache.New[result](cache.NewMemoryBackend[result](cache.WithClock(func() time.Time { return now })))
	require.NoError(t, c.Set(ctx, " 4d6kh3 ", result{Value: 12}))

	now = now.Add(time.Hour)
	for want := int64(1); want <= 3; want++ {
		e, ok, err := c.Get(ctx, "4d6kh3")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "4d6kh3", e.Key)
		assert.Equal(t, 12.0, e.Value.Value)
		assert.Equal(t, time.Unix(5000, 0), e.CreatedAt, "creation time is the store time")
		assert.Equal(t, want, e.Hits)
	}

	require.NoError(t, c.Set(ctx, "4d6kh3", result{Value: 9}))
	e, _, err := c.Get(ctx, "4d6kh3")
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Hits, "replacing an entry resets its counter")
	assert.Equal(t, now, e.CreatedAt)
}

func TestResultCache_SetIfAbsentKeepsFirstValue(t *testing.T) {
	ctx := context.Background()
	c := cache.New[result](cache.NewMemoryBackend[result]())

	e, stored, err := c.SetIfAbsent(ctx, "2d6", result{Value: 4})
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Equal(t, 4.0, e.Value.Value)

	e, stored, err = c.SetIfAbsent(ctx, " 2d6", result{Value: 11})
	require.NoError(t, err)
	assert.False(t, stored)
	assert.Equal(t, 4.0, e.Value.Value)

	got, _, err := c.Get(ctx, "2d6")
	require.NoError(t, err)
	assert.Equal(t, 4.0, got.Value.Value)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Hits, "SetIfAbsent does not count as a lookup")
	assert.Zero(t, stats.Misses)
}

func TestMemoryBackend_SetIfAbsentReplacesExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	b := cache.NewMemoryBackend[int](cache.WithTTL(time.Minute), cache.WithClock(func() time.Time { return now }))

	_, stored, err := b.StoreIfAbsent(ctx, "k", 1)
	require.NoError(t, err)
	require.True(t, stored)

	now = now.Add(2 * time.Minute)
	e, stored, err := b.StoreIfAbsent(ctx, "k", 2)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Equal(t, 2, e.Value)
	assert.Equal(t, now, e.CreatedAt)
}

// Property: an entry's hit counter equals the number of lookups since it was
// stored, whatever the interleaving of keys.
func TestResultCache_Property_EntryHitsMatchLookups(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		c := cache.New[result](cache.NewMemoryBackend[result]())
		keys := rapid.SliceOfN(rapid.SampledFrom([]string{"1d4", "2d6", "3"}), 1, 40).Draw(t, "keys")
		want := map[string]int64{}
		for _, k := range keys {
			e, ok, err := c.Get(ctx, k)
			require.NoError(t, err)
			if !ok {
				require.NoError(t, c.Set(ctx, k, result{}))
				want[k] = 0
				continue
			}
			want[k]++
			assert.Equal(t, want[k], e.Hits, k)
		}
	})
}

func TestNew_PanicsOnNilBackend(t *testing.T) {
	assert.Panics(t, func() { cache.New[result](nil) })
}

func TestMemoryBackend_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	b := cache.NewMemoryBackend[int](cache.WithTTL(time.Minute), cache.WithClock(func() time.Time { return now }))

	require.NoError(t, b.Store(ctx, "k", 1))
	e, err := b.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, e.Value)

	now = now.Add(time.Minute)
	_, err = b.Load(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrNotFound)
	n, err := b.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDigest(t *testing.T) {
	d := cache.Digest("2d6+3")
	assert.Len(t, d, 64)
	assert.Equal(t, d, cache.Digest("2d6+3"))
	assert.NotEqual(t, d, cache.Digest("2d6+4"))
}

// Property: NormalizeKey is idempotent and never leaves leading, trailing
// or doubled whitespace.
func TestNormalizeKey_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringMatching(`[ \t\n0-9d+\-*/()<>=!rokhl]{0,40}`).Draw(t, "expr")
		n := cache.NormalizeKey(s)
		assert.Equal(t, n, cache.NormalizeKey(n))
		assert.NotContains(t, n, "  ")
		assert.NotContains(t, n, "\t")
		if n != "" {
			assert.NotEqual(t, byte(' '), n[0])
			assert.NotEqual(t, byte(' '), n[len(n)-1])
		}
	})
}

// Property: hits + misses equals the number of successful lookups.
func TestResultCache_Property_CountersSumToLookups(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		c := cache.New[result](cache.NewMemoryBackend[result]())
		keys := rapid.SliceOfN(rapid.SampledFrom([]string{"1d4", "2d6", "3", "4d8kh1"}), 1, 30).Draw(t, "keys")
		for _, k := range keys {
			if _, ok, err := c.Get(ctx, k); err == nil && !ok {
				_ = c.Set(ctx, k, result{})
			}
		}
		stats, err := c.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(len(keys)), stats.Hits+stats.Misses)
		assert.Equal(t, stats.Entries, int(stats.Misses))
	})
}
