package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueryCache(maxSize int) *QueryCache[string] {
	return NewQueryCache[string](TierConfig{MaxSize: maxSize, TTL: time.Hour})
}

func TestQueryCache_ExactHit(t *testing.T) {
	qc := newTestQueryCache(10)

	qc.Set("kb1", "Python是什么？", "answer-1")

	v, kind := qc.Get("kb1", "Python是什么？")
	require.Equal(t, HitExact, kind)
	assert.Equal(t, "answer-1", v)
}

func TestQueryCache_SemanticHit(t *testing.T) {
	qc := newTestQueryCache(10)

	qc.Set("kb1", "Python是什么？", "answer-1")

	v, kind := qc.Get("kb1", "Python是啥？")
	require.Equal(t, HitSemantic, kind)
	assert.Equal(t, "answer-1", v)
}

func TestQueryCache_KBScopesEntries(t *testing.T) {
	qc := newTestQueryCache(10)

	qc.Set("kb1", "Python是什么？", "answer-1")

	_, kind := qc.Get("kb2", "Python是什么？")
	assert.Equal(t, HitNone, kind)
	_, kind = qc.Get("kb2", "Python是啥？")
	assert.Equal(t, HitNone, kind)
}

func TestQueryCache_DeleteCleansSemanticIndex(t *testing.T) {
	qc := newTestQueryCache(10)

	qc.Set("kb1", "Python是什么？", "answer-1")
	require.Equal(t, 1, qc.IndexSize())

	qc.Delete("kb1", "Python是什么？")

	assert.Equal(t, 0, qc.IndexSize())
	_, kind := qc.Get("kb1", "Python是啥？")
	assert.Equal(t, HitNone, kind, "semantic alias must die with the entry")
}

func TestQueryCache_ExpiryCleansSemanticIndex(t *testing.T) {
	qc := newTestQueryCache(10)
	now := time.Now()
	qc.cache.now = func() time.Time { return now }

	qc.Set("kb1", "Python是什么？", "answer-1")

	now = now.Add(2 * time.Hour)
	qc.CleanExpired()

	assert.Equal(t, 0, qc.IndexSize())
	_, kind := qc.Get("kb1", "Python是啥？")
	assert.Equal(t, HitNone, kind)
}

func TestQueryCache_EvictionCleansSemanticIndex(t *testing.T) {
	qc := newTestQueryCache(3)
	now := time.Now()
	qc.cache.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		qc.Set("kb1", fmt.Sprintf("问题%d是什么", i), fmt.Sprintf("answer-%d", i))
		now = now.Add(time.Second)
	}

	assert.LessOrEqual(t, qc.Stats().Size, 3)
	assert.LessOrEqual(t, qc.IndexSize(), qc.Stats().Size,
		"semantic index must never outgrow the cache")
}

func TestQueryCache_RephraseUpdatesAlias(t *testing.T) {
	qc := newTestQueryCache(10)

	qc.Set("kb1", "Python是什么？", "old")
	qc.Set("kb1", "Python是啥？", "new")

	// Latest writer owns the semantic alias.
	v, kind := qc.Get("kb1", "python是什么")
	require.NotEqual(t, HitNone, kind)
	assert.Equal(t, "new", v)

	// The first exact entry is still reachable exactly.
	v, kind = qc.Get("kb1", "Python是什么？")
	require.Equal(t, HitExact, kind)
	assert.Equal(t, "old", v)
}

func TestQueryCache_InvalidateKB(t *testing.T) {
	qc := newTestQueryCache(50)

	for i := 0; i < 5; i++ {
		qc.Set("kb1", fmt.Sprintf("问题%d详情", i), "a")
		qc.Set("kb2", fmt.Sprintf("问题%d详情", i), "b")
	}

	removed := qc.InvalidateKB("kb1")
	assert.Equal(t, 5, removed)

	_, kind := qc.Get("kb1", "问题0详情")
	assert.Equal(t, HitNone, kind)
	v, kind := qc.Get("kb2", "问题0详情")
	require.Equal(t, HitExact, kind)
	assert.Equal(t, "b", v)
}

func TestQueryCache_ClearResetsIndexes(t *testing.T) {
	qc := newTestQueryCache(10)

	qc.Set("kb1", "问题一详情", "a")
	qc.Set("kb1", "问题二详情", "b")
	qc.Clear()

	assert.Equal(t, 0, qc.Stats().Size)
	assert.Equal(t, 0, qc.IndexSize())
}
