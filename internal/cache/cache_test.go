package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailybudget/internal/core"
)

type countingCounter struct {
	mu sync.Mutex
	n  int
}

func (c *countingCounter) Inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingCounter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU[string, int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())
}

func TestLRU_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRU[string, string](10, time.Second)
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	c.Set("other", "v")
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("expected hit before ttl")
	}

	now = now.Add(2 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected miss after ttl")
	}
	if removed := c.CleanExpired(); removed != 1 {
		t.Fatalf("CleanExpired = %d, want 1", removed)
	}
	if c.Len() != 0 {
		t.Fatalf("Len = %d, want 0", c.Len())
	}
}

func TestLRU_OverwriteRefreshesExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRU[int64, int](3, time.Second)
	c.now = func() time.Time { return now }

	c.Set(1, 1)
	now = now.Add(800 * time.Millisecond)
	c.Set(1, 5)
	now = now.Add(800 * time.Millisecond)

	v, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, 5, v)
	assert.Equal(t, 1, c.Len())

	c.Delete(1)
	c.Delete(42)
	assert.Equal(t, 0, c.Len())
}

func TestSummaryCache_HitMissAndInvalidate(t *testing.T) {
	hits, misses := &countingCounter{}, &countingCounter{}
	c := NewSummaryCache(8, time.Minute, hits, misses)

	_, ok := c.Get(1)
	assert.False(t, ok)

	sum := core.Summary{DailyAllowance: core.Money{Cents: 1000}}
	require.True(t, c.SetIfGeneration(1, c.Generation(1), sum))
	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, sum, got)

	c.Invalidate(1)
	_, ok = c.Get(1)
	assert.False(t, ok)

	assert.Equal(t, 1, hits.value())
	assert.Equal(t, 2, misses.value())
}

func TestSummaryCache_StaleFillAfterInvalidate(t *testing.T) {
	c := NewSummaryCache(8, time.Minute, nil, nil)

	gen := c.Generation(3)
	stale := core.Summary{DailyAllowance: core.Money{Cents: 100}}
	// A mutation commits and invalidates while the reader is still in the store.
	c.Invalidate(3)
	assert.False(t, c.SetIfGeneration(3, gen, stale))
	_, ok := c.Get(3)
	assert.False(t, ok, "stale summary must not be cached")

	fresh := core.Summary{DailyAllowance: core.Money{Cents: 200}}
	assert.True(t, c.SetIfGeneration(3, c.Generation(3), fresh))
	got, ok := c.Get(3)
	require.True(t, ok)
	assert.Equal(t, fresh, got)

	assert.True(t, c.SetIfGeneration(4, gen, stale), "other accounts are unaffected")
}

func TestSummaryCache_NilCounters(t *testing.T) {
	c := NewSummaryCache(1, time.Minute, nil, nil)
	c.SetIfGeneration(2, 0, core.Summary{})
	_, ok := c.Get(2)
	assert.True(t, ok)
}

func TestSummaryCache_Concurrent(t *testing.T) {
	c := NewSummaryCache(16, time.Minute, nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := int64(i % 20)
			c.SetIfGeneration(id, c.Generation(id), core.Summary{DailyAllowance: core.Money{Cents: id}})
			_, _ = c.Get(id)
			if i%3 == 0 {
				c.Invalidate(id)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Size(), 16)
}

func TestManager_Sweep(t *testing.T) {
	var removed int
	m := NewManager(func(n int) { removed += n })

	now := time.Now()
	c := NewLRU[int, int](10, time.Millisecond)
	c.now = func() time.Time { return now }
	for i := 0; i < 3; i++ {
		c.Set(i, i)
	}
	m.Register(c)

	now = now.Add(time.Second)
	assert.Equal(t, 3, m.sweep())
	assert.Equal(t, 3, removed)
	assert.Equal(t, 0, m.sweep())
	assert.Equal(t, 3, removed)
}

func TestManager_StartStop(t *testing.T) {
	m := NewManager(nil)
	m.Register(NewSummaryCache(1, time.Minute, nil, nil))
	m.StartCleanup(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	m.Stop()
}
