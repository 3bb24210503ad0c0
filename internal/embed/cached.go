package embed

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/Fang088/FF-KB-Robot/internal/cache"
)

// CachedEmbedder wraps an Embedder with the shared embedding cache tier.
// Repeated texts skip the provider entirely, concurrent requests for the
// same text coalesce into one upstream call, and every returned vector is
// unit-normalized so cosine and inner-product metrics agree.
type CachedEmbedder struct {
	inner  Embedder
	cache  *cache.EmbeddingCache
	group  singleflight.Group
	logger *slog.Logger
}

// NewCachedEmbedder wraps inner with ec. A nil logger falls back to the
// process default.
func NewCachedEmbedder(inner Embedder, ec *cache.EmbeddingCache, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{
		inner:  inner,
		cache:  ec,
		logger: logger,
	}
}

// Embed returns the cached embedding when present, otherwise computes and
// caches it. Concurrent misses for the same text share one provider call.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	model := c.inner.ModelName()
	if vec, ok := c.cache.Get(model, text); ok {
		return vec, nil
	}

	v, err, _ := c.group.Do(model+"\x00"+text, func() (any, error) {
		if vec, ok := c.cache.Get(model, text); ok {
			return vec, nil
		}
		vec, err := c.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vec = normalizeVector(vec)
		c.cache.Set(model, text, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// EmbedBatch serves hits from the cache and sends only the misses to the
// provider. Repeated texts within one batch are embedded once.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	model := c.inner.ModelName()
	results, missTexts, missIdx := c.cache.GetBatch(model, texts)
	if len(missTexts) == 0 {
		return results, nil
	}

	// Collapse duplicate misses to one provider slot each.
	uniqueTexts := make([]string, 0, len(missTexts))
	slot := make(map[string]int, len(missTexts))
	for _, text := range missTexts {
		if _, seen := slot[text]; !seen {
			slot[text] = len(uniqueTexts)
			uniqueTexts = append(uniqueTexts, text)
		}
	}

	vecs, err := c.inner.EmbedBatch(ctx, uniqueTexts)
	if err != nil {
		return nil, err
	}
	for i := range vecs {
		vecs[i] = normalizeVector(vecs[i])
	}
	c.cache.SetBatch(model, uniqueTexts, vecs)

	for j, idx := range missIdx {
		results[idx] = vecs[slot[missTexts[j]]]
	}

	c.logger.Debug("embedding_batch_complete",
		slog.Int("texts", len(texts)),
		slog.Int("cache_hits", len(texts)-len(missTexts)),
		slog.Int("provider_calls", len(uniqueTexts)))
	return results, nil
}

// Dimensions returns the embedding dimension of the wrapped provider.
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// ModelName returns the model identifier of the wrapped provider.
func (c *CachedEmbedder) ModelName() string {
	return c.inner.ModelName()
}

// Available reports whether the wrapped provider can serve requests.
func (c *CachedEmbedder) Available(ctx context.Context) bool {
	return c.inner.Available(ctx)
}

// Close closes the wrapped provider.
func (c *CachedEmbedder) Close() error {
	return c.inner.Close()
}
