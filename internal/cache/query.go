package cache

import "sync"

// HitKind tells how a query cache lookup was satisfied.
type HitKind int

const (
	// HitNone means no cached result was found.
	HitNone HitKind = iota
	// HitExact means the exact (kb, question) pair was cached.
	HitExact
	// HitSemantic means a differently phrased question with the same
	// keyword set was cached.
	HitSemantic
)

type queryMeta struct {
	semanticKey string
	kbID        string
}

// QueryCache caches final query results per (kb, question) pair and folds
// semantically equivalent phrasings onto one entry through an inverted
// semantic index. The index is kept consistent on every expiry, eviction,
// and delete via the core cache's removal hook, so lookups never pay a scan.
type QueryCache[V any] struct {
	mu    sync.Mutex
	cache *Cache[V]

	// semanticKey -> exact key of the latest result for that keyword set
	semanticIndex map[string]string
	// exact key -> its index bookkeeping, for O(1) cleanup on removal
	exactMeta map[string]queryMeta
	// kbID -> exact keys, for whole-KB invalidation
	kbIndex map[string]map[string]struct{}
}

// NewQueryCache creates a query result cache from a tier config.
func NewQueryCache[V any](cfg TierConfig) *QueryCache[V] {
	qc := &QueryCache[V]{
		cache:         NewCache[V](cfg.MaxSize, cfg.TTL),
		semanticIndex: make(map[string]string),
		exactMeta:     make(map[string]queryMeta),
		kbIndex:       make(map[string]map[string]struct{}),
	}
	// The hook runs under the core cache lock, which in turn only runs
	// under qc.mu since every cache call below holds it.
	qc.cache.OnRemove(qc.dropIndexEntries)
	return qc
}

func (qc *QueryCache[V]) exactKey(kbID, question string) string {
	return hashKey("query", kbID, question)
}

func (qc *QueryCache[V]) semanticKey(kbID, semanticHash string) string {
	return kbID + ":" + semanticHash
}

// dropIndexEntries unlinks an exact key from the semantic and KB indexes.
// Called by the core cache for every removal; qc.mu is already held.
func (qc *QueryCache[V]) dropIndexEntries(exact string) {
	meta, ok := qc.exactMeta[exact]
	if !ok {
		return
	}
	delete(qc.exactMeta, exact)
	if qc.semanticIndex[meta.semanticKey] == exact {
		delete(qc.semanticIndex, meta.semanticKey)
	}
	if keys, ok := qc.kbIndex[meta.kbID]; ok {
		delete(keys, exact)
		if len(keys) == 0 {
			delete(qc.kbIndex, meta.kbID)
		}
	}
}

// Get looks up a cached result for the question, first by exact match, then
// by semantic equivalence.
func (qc *QueryCache[V]) Get(kbID, question string) (V, HitKind) {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	if v, ok := qc.cache.Get(qc.exactKey(kbID, question)); ok {
		return v, HitExact
	}

	sem := qc.semanticKey(kbID, Normalize(question).SemanticHash)
	exact, ok := qc.semanticIndex[sem]
	if !ok {
		var zero V
		return zero, HitNone
	}

	v, ok := qc.cache.Get(exact)
	if !ok {
		// Dangling index entry; the removal hook handles the normal
		// paths, this covers an entry raced out between lookups.
		delete(qc.semanticIndex, sem)
		var zero V
		return zero, HitNone
	}
	return v, HitSemantic
}

// Set stores a result under both the exact and semantic keys.
func (qc *QueryCache[V]) Set(kbID, question string, value V) {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	exact := qc.exactKey(kbID, question)
	sem := qc.semanticKey(kbID, Normalize(question).SemanticHash)

	qc.cache.Set(exact, value)

	qc.exactMeta[exact] = queryMeta{semanticKey: sem, kbID: kbID}
	qc.semanticIndex[sem] = exact
	if qc.kbIndex[kbID] == nil {
		qc.kbIndex[kbID] = make(map[string]struct{})
	}
	qc.kbIndex[kbID][exact] = struct{}{}
}

// Delete removes the cached result for one (kb, question) pair.
func (qc *QueryCache[V]) Delete(kbID, question string) bool {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	return qc.cache.Delete(qc.exactKey(kbID, question))
}

// InvalidateKB drops every cached result for the knowledge base. Called
// after ingest and delete operations change the KB's content.
func (qc *QueryCache[V]) InvalidateKB(kbID string) int {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	keys := qc.kbIndex[kbID]
	removed := 0
	for exact := range keys {
		if qc.cache.Delete(exact) {
			removed++
		}
	}
	return removed
}

// Clear drops all cached results and index entries.
func (qc *QueryCache[V]) Clear() {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	qc.cache.Clear()
}

// CleanExpired removes expired results and their index entries.
func (qc *QueryCache[V]) CleanExpired() int {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	return qc.cache.CleanExpired()
}

// Stats returns the underlying cache counters.
func (qc *QueryCache[V]) Stats() Stats {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	return qc.cache.Stats()
}

// IndexSize returns the semantic index entry count. Exposed for invariant
// checks: it never exceeds the cache size.
func (qc *QueryCache[V]) IndexSize() int {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	return len(qc.semanticIndex)
}
