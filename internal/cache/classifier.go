package cache

// ClassifierCache caches question classifications. Classifications are
// stable for a given question, so this tier carries the longest TTL.
type ClassifierCache struct {
	cache *Cache[string]
}

// NewClassifierCache creates a classifier cache from a tier config.
func NewClassifierCache(cfg TierConfig) *ClassifierCache {
	return &ClassifierCache{cache: NewCache[string](cfg.MaxSize, cfg.TTL)}
}

func (cc *ClassifierCache) key(question string) string {
	return hashKey("cls", question)
}

// Get returns the cached classification for question.
func (cc *ClassifierCache) Get(question string) (string, bool) {
	return cc.cache.Get(cc.key(question))
}

// Set stores the classification for question.
func (cc *ClassifierCache) Set(question, class string) {
	cc.cache.Set(cc.key(question), class)
}

// Clear drops all cached classifications.
func (cc *ClassifierCache) Clear() {
	cc.cache.Clear()
}

// CleanExpired removes expired classifications.
func (cc *ClassifierCache) CleanExpired() int {
	return cc.cache.CleanExpired()
}

// Stats returns the underlying cache counters.
func (cc *ClassifierCache) Stats() Stats {
	return cc.cache.Stats()
}
