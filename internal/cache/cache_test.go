package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetSet(t *testing.T) {
	c := NewCache[string](10, time.Minute)

	c.Set("k1", "v1")
	v, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := NewCache[int](10, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("k", 42)

	now = now.Add(59 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok, "entry within TTL should survive")

	now = now.Add(2 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry past TTL should expire")
	assert.Equal(t, 0, c.Len())
}

func TestCache_PerEntryTTL(t *testing.T) {
	c := NewCache[int](10, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.SetWithTTL("short", 1, time.Second)
	c.Set("long", 2)

	now = now.Add(2 * time.Second)
	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("long")
	assert.True(t, ok)
}

func TestCache_EvictsLeastUsedOldest(t *testing.T) {
	c := NewCache[int](3, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	now = now.Add(time.Second)
	c.Set("b", 2)
	now = now.Add(time.Second)
	c.Set("c", 3)

	// a and c get read, b stays cold
	_, _ = c.Get("a")
	_, _ = c.Get("c")

	c.Set("d", 4)

	_, ok := c.Get("b")
	assert.False(t, ok, "cold entry should be evicted")
	for _, k := range []string{"a", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, "entry %s should survive", k)
	}
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_EvictionTieBreaksByAge(t *testing.T) {
	c := NewCache[int](2, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("old", 1)
	now = now.Add(time.Second)
	c.Set("new", 2)
	now = now.Add(time.Second)

	// Equal hit counts; the older insert loses.
	c.Set("third", 3)

	_, ok := c.Get("old")
	assert.False(t, ok)
	_, ok = c.Get("new")
	assert.True(t, ok)
}

func TestCache_Stats(t *testing.T) {
	c := NewCache[int](10, time.Minute)

	c.Set("k", 1)
	_, _ = c.Get("k")
	_, _ = c.Get("k")
	_, _ = c.Get("nope")

	s := c.Stats()
	assert.Equal(t, int64(3), s.TotalRequests)
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, 1, s.Size)
	assert.Equal(t, 10, s.MaxSize)
	assert.InDelta(t, 2.0/3.0, s.HitRate, 1e-9)
}

func TestCache_RemovalHookFiresForAllPaths(t *testing.T) {
	now := time.Now()
	removed := map[string]int{}

	c := NewCache[int](2, time.Minute)
	c.now = func() time.Time { return now }
	c.OnRemove(func(key string) { removed[key]++ })

	c.Set("expired", 1)
	now = now.Add(2 * time.Minute)
	c.CleanExpired()
	assert.Equal(t, 1, removed["expired"], "expiry fires hook")

	c.Set("deleted", 1)
	c.Delete("deleted")
	assert.Equal(t, 1, removed["deleted"], "delete fires hook")

	c.Set("victim", 1)
	now = now.Add(time.Second)
	c.Set("b", 2)
	now = now.Add(time.Second)
	c.Set("c", 3)
	assert.Equal(t, 1, removed["victim"], "eviction fires hook")
}

func TestCache_ClearRemovesEverything(t *testing.T) {
	c := NewCache[int](10, time.Minute)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestEmbeddingCache_Batch(t *testing.T) {
	ec := NewEmbeddingCache(TierConfig{MaxSize: 100, TTL: time.Minute})

	ec.Set("model-a", "hello", []float32{1, 2})

	vecs, missTexts, missIdx := ec.GetBatch("model-a", []string{"hello", "world", "again"})
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{1, 2}, vecs[0])
	assert.Nil(t, vecs[1])
	assert.Nil(t, vecs[2])
	assert.Equal(t, []string{"world", "again"}, missTexts)
	assert.Equal(t, []int{1, 2}, missIdx)

	ec.SetBatch("model-a", missTexts, [][]float32{{3, 4}, {5, 6}})
	vecs, missTexts, _ = ec.GetBatch("model-a", []string{"hello", "world", "again"})
	assert.Empty(t, missTexts)
	assert.Equal(t, []float32{5, 6}, vecs[2])
}

func TestEmbeddingCache_ModelScopesKey(t *testing.T) {
	ec := NewEmbeddingCache(TierConfig{MaxSize: 100, TTL: time.Minute})

	ec.Set("model-a", "text", []float32{1})
	_, ok := ec.Get("model-b", "text")
	assert.False(t, ok, "different model must not share vectors")
}

func TestClassifierCache_RoundTrip(t *testing.T) {
	cc := NewClassifierCache(TierConfig{MaxSize: 10, TTL: time.Minute})

	cc.Set("怎么安装Python", "procedural")
	class, ok := cc.Get("怎么安装Python")
	require.True(t, ok)
	assert.Equal(t, "procedural", class)
}

func TestManager_SweepAndStats(t *testing.T) {
	m := NewManager[string](DefaultConfig(), nil)

	m.Embedding.Set("m", "text", []float32{1})
	m.Query.Set("kb1", "什么是Python", "answer")
	m.Classifier.Set("q", "factual")

	stats := m.AllStats()
	assert.Equal(t, 1, stats["embedding"].Size)
	assert.Equal(t, 1, stats["query"].Size)
	assert.Equal(t, 1, stats["classifier"].Size)

	m.ClearAll()
	stats = m.AllStats()
	assert.Equal(t, 0, stats["embedding"].Size)
	assert.Equal(t, 0, stats["query"].Size)
	assert.Equal(t, 0, stats["classifier"].Size)
}
