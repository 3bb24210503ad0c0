package cache

// EmbeddingCache caches embedding vectors keyed by model and input text.
// It exists to make repeat ingests and repeat questions free: the same text
// never hits the provider twice within the TTL.
type EmbeddingCache struct {
	cache *Cache[[]float32]
}

// NewEmbeddingCache creates an embedding cache from a tier config.
func NewEmbeddingCache(cfg TierConfig) *EmbeddingCache {
	return &EmbeddingCache{cache: NewCache[[]float32](cfg.MaxSize, cfg.TTL)}
}

func (ec *EmbeddingCache) key(model, text string) string {
	return hashKey("emb", model, text)
}

// Get returns the cached vector for (model, text).
func (ec *EmbeddingCache) Get(model, text string) ([]float32, bool) {
	return ec.cache.Get(ec.key(model, text))
}

// Set stores the vector for (model, text).
func (ec *EmbeddingCache) Set(model, text string, vec []float32) {
	ec.cache.Set(ec.key(model, text), vec)
}

// GetBatch partitions texts into cached and uncached. The returned vectors
// slice is positional with nil holes at the misses; missTexts and missIdx
// describe the holes in input order.
func (ec *EmbeddingCache) GetBatch(model string, texts []string) (vectors [][]float32, missTexts []string, missIdx []int) {
	vectors = make([][]float32, len(texts))
	for i, text := range texts {
		if vec, ok := ec.Get(model, text); ok {
			vectors[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	return vectors, missTexts, missIdx
}

// SetBatch stores vectors for the given texts pairwise.
func (ec *EmbeddingCache) SetBatch(model string, texts []string, vectors [][]float32) {
	for i, text := range texts {
		if i < len(vectors) && vectors[i] != nil {
			ec.Set(model, text, vectors[i])
		}
	}
}

// Clear drops all cached vectors.
func (ec *EmbeddingCache) Clear() {
	ec.cache.Clear()
}

// CleanExpired removes expired vectors.
func (ec *EmbeddingCache) CleanExpired() int {
	return ec.cache.CleanExpired()
}

// Stats returns the underlying cache counters.
func (ec *EmbeddingCache) Stats() Stats {
	return ec.cache.Stats()
}
