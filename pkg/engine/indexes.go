package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Fang088/FF-KB-Robot/internal/store"
)

// indexManager lazily opens one HNSW index per knowledge base and keeps
// the background compactor informed of search activity.
type indexManager struct {
	mu        sync.Mutex
	dir       string
	config    store.HNSWConfig
	compactor *store.Compactor
	logger    *slog.Logger
	open      map[string]*trackedIndex
}

func newIndexManager(dir string, cfg store.HNSWConfig, compactor *store.Compactor, logger *slog.Logger) *indexManager {
	return &indexManager{
		dir:       dir,
		config:    cfg,
		compactor: compactor,
		logger:    logger,
		open:      make(map[string]*trackedIndex),
	}
}

// Index returns the knowledge base's vector index, opening it on first use.
func (m *indexManager) Index(_ context.Context, kbID string) (store.VectorStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idx, ok := m.open[kbID]; ok {
		return idx, nil
	}

	hs, err := store.OpenHNSWStore(filepath.Join(m.dir, kbID), m.config, m.logger)
	if err != nil {
		return nil, err
	}
	idx := &trackedIndex{HNSWStore: hs, kbID: kbID, compactor: m.compactor}
	m.open[kbID] = idx
	if m.compactor != nil {
		m.compactor.Track(kbID, hs)
	}
	return idx, nil
}

// Drop closes the KB's index and removes its files.
func (m *indexManager) Drop(kbID string) error {
	m.mu.Lock()
	idx, ok := m.open[kbID]
	delete(m.open, kbID)
	m.mu.Unlock()

	if m.compactor != nil {
		m.compactor.Untrack(kbID)
	}
	if ok {
		if err := idx.HNSWStore.Close(); err != nil {
			return err
		}
	}
	return os.RemoveAll(filepath.Join(m.dir, kbID))
}

// CloseAll closes every open index.
func (m *indexManager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for kbID, idx := range m.open {
		if err := idx.HNSWStore.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.open, kbID)
	}
	return firstErr
}

// trackedIndex notifies the compactor after every search and delete so
// compaction only runs on idle indexes, and so tombstones accumulated by
// deletes alone still trigger it.
type trackedIndex struct {
	*store.HNSWStore
	kbID      string
	compactor *store.Compactor
}

func (t *trackedIndex) Search(ctx context.Context, vector []float32, topK int) ([]store.SearchResult, error) {
	results, err := t.HNSWStore.Search(ctx, vector, topK)
	if t.compactor != nil {
		t.compactor.OnSearchComplete(t.kbID)
	}
	return results, err
}

func (t *trackedIndex) DeleteByID(ctx context.Context, ids []string) (int, error) {
	removed, err := t.HNSWStore.DeleteByID(ctx, ids)
	if removed > 0 && t.compactor != nil {
		t.compactor.OnMutation(t.kbID)
	}
	return removed, err
}

func (t *trackedIndex) DeleteByMetadata(ctx context.Context, filter map[string]string) (int, error) {
	removed, err := t.HNSWStore.DeleteByMetadata(ctx, filter)
	if removed > 0 && t.compactor != nil {
		t.compactor.OnMutation(t.kbID)
	}
	return removed, err
}
