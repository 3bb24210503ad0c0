package cache

import (
	"context"
	"log/slog"
	"time"
)

// TierConfig sizes one cache tier.
type TierConfig struct {
	MaxSize int
	TTL     time.Duration
}

// Config sizes all tiers of a Manager.
type Config struct {
	Embedding  TierConfig
	Query      TierConfig
	Classifier TierConfig
	// CleanupInterval is how often the background sweep evicts expired
	// entries. Zero disables the sweep.
	CleanupInterval time.Duration
}

// DefaultConfig returns the standard tier sizes.
func DefaultConfig() Config {
	return Config{
		Embedding:       TierConfig{MaxSize: 10000, TTL: 24 * time.Hour},
		Query:           TierConfig{MaxSize: 5000, TTL: time.Hour},
		Classifier:      TierConfig{MaxSize: 2000, TTL: 7 * 24 * time.Hour},
		CleanupInterval: time.Hour,
	}
}

// Manager bundles the engine's cache tiers. The query tier is generic over
// the cached result type.
type Manager[V any] struct {
	Embedding  *EmbeddingCache
	Query      *QueryCache[V]
	Classifier *ClassifierCache

	cleanupInterval time.Duration
	logger          *slog.Logger
}

// NewManager creates all cache tiers from cfg.
func NewManager[V any](cfg Config, logger *slog.Logger) *Manager[V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager[V]{
		Embedding:       NewEmbeddingCache(cfg.Embedding),
		Query:           NewQueryCache[V](cfg.Query),
		Classifier:      NewClassifierCache(cfg.Classifier),
		cleanupInterval: cfg.CleanupInterval,
		logger:          logger,
	}
}

// CleanExpired sweeps all tiers and returns the total removed.
func (m *Manager[V]) CleanExpired() int {
	return m.Embedding.CleanExpired() + m.Query.CleanExpired() + m.Classifier.CleanExpired()
}

// ClearAll drops every entry in every tier.
func (m *Manager[V]) ClearAll() {
	m.Embedding.Clear()
	m.Query.Clear()
	m.Classifier.Clear()
}

// AllStats returns per-tier counters keyed by tier name.
func (m *Manager[V]) AllStats() map[string]Stats {
	return map[string]Stats{
		"embedding":  m.Embedding.Stats(),
		"query":      m.Query.Stats(),
		"classifier": m.Classifier.Stats(),
	}
}

// RunSweeper periodically evicts expired entries until ctx is cancelled.
// Intended to run in its own goroutine.
func (m *Manager[V]) RunSweeper(ctx context.Context) {
	if m.cleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := m.CleanExpired()
			if removed > 0 {
				m.logger.Debug("cache_sweep_complete",
					slog.Int("removed", removed))
			}
		}
	}
}
