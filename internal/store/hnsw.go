package store

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/coder/hnsw"
	"github.com/gofrs/flock"

	kberrors "github.com/Fang088/FF-KB-Robot/internal/errors"
)

const (
	graphFile = "hnsw.bin"
	metaFile  = "metadata.json"
	lockFile  = ".lock"

	// DefaultMaxElements caps a single index.
	DefaultMaxElements = 1_000_000

	// DefaultDeletionThreshold is the tombstone count that makes an index
	// eligible for compaction.
	DefaultDeletionThreshold = 1000
)

// HNSWConfig configures an HNSWStore.
type HNSWConfig struct {
	Dimensions        int
	M                 int    // Max connections per layer (default: 16)
	EfSearch          int    // Query-time search width (default: 100)
	Metric            string // "cosine", "l2", or "ip" (default: "cosine")
	MaxElements       int    // Capacity limit (default: DefaultMaxElements)
	DeletionThreshold int    // Tombstones before compaction (default: DefaultDeletionThreshold)
}

func (c *HNSWConfig) applyDefaults() {
	if c.M == 0 {
		c.M = 16
	}
	if c.EfSearch == 0 {
		c.EfSearch = 100
	}
	if c.Metric == "" {
		c.Metric = "cosine"
	}
	if c.MaxElements == 0 {
		c.MaxElements = DefaultMaxElements
	}
	if c.DeletionThreshold == 0 {
		c.DeletionThreshold = DefaultDeletionThreshold
	}
}

// envelope is the payload stored alongside each graph node.
type envelope struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// hnswMeta is the metadata.json document. Deleted nodes stay in the graph
// until compaction, so the tombstone set persists with the envelopes.
type hnswMeta struct {
	Config        HNSWConfig          `json:"config"`
	Envelopes     map[string]envelope `json:"metadata"` // label -> payload
	DeletedLabels []uint64            `json:"deleted_labels"`
	DeletionCount int                 `json:"deletion_count"`
}

// HNSWStore is a persistent vector index on a coder/hnsw graph. Deletes
// are lazy: the node stays in the graph as a tombstone and disappears on
// the next compaction. The store owns its directory via a file lock.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config HNSWConfig
	dir    string
	lock   *flock.Flock
	logger *slog.Logger

	labels    map[uint64]envelope // live nodes only
	byID      map[string]uint64
	deleted   map[uint64]struct{}
	delCount  int
	nextLabel uint64

	closed bool
}

// OpenHNSWStore opens or creates the index in dir. A directory holding
// only half of the graph/metadata pair refuses to open as corrupt.
func OpenHNSWStore(dir string, cfg HNSWConfig, logger *slog.Logger) (*HNSWStore, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dimensions <= 0 {
		return nil, kberrors.ValidationError("vector dimensions must be positive", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, kberrors.New(kberrors.ErrCodeFilePermission, "create index directory", err).
			WithDetail("dir", dir)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeFilePermission, "lock index directory", err).
			WithDetail("dir", dir)
	}
	if !locked {
		return nil, kberrors.New(kberrors.ErrCodeFilePermission, "index directory is locked by another process", nil).
			WithDetail("dir", dir).
			WithSuggestion("stop the other process using this index directory")
	}

	s := &HNSWStore{
		config:  cfg,
		dir:     dir,
		lock:    lock,
		logger:  logger,
		labels:  make(map[uint64]envelope),
		byID:    make(map[string]uint64),
		deleted: make(map[uint64]struct{}),
	}
	s.graph = s.newGraph()

	graphExists := fileExists(filepath.Join(dir, graphFile))
	metaExists := fileExists(filepath.Join(dir, metaFile))
	switch {
	case graphExists && metaExists:
		if err := s.load(); err != nil {
			_ = lock.Unlock()
			return nil, err
		}
	case graphExists != metaExists:
		_ = lock.Unlock()
		return nil, kberrors.New(kberrors.ErrCodeCorruptIndex,
			"index files are incomplete", nil).
			WithDetail("dir", dir).
			WithSuggestion("remove the index directory and re-ingest")
	}

	return s, nil
}

func (s *HNSWStore) newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.M = s.config.M
	g.EfSearch = s.config.EfSearch
	g.Ml = 0.25
	switch s.config.Metric {
	case "l2":
		g.Distance = hnsw.EuclideanDistance
	case "ip":
		g.Distance = innerProductDistance
	default:
		g.Distance = hnsw.CosineDistance
	}
	return g
}

// Add inserts records, replacing any existing IDs, and persists.
func (s *HNSWStore) Add(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed()
	}

	for _, rec := range records {
		if len(rec.Vector) != s.config.Dimensions {
			return kberrors.New(kberrors.ErrCodeDimensionMismatch,
				"vector dimension does not match index", nil).
				WithDetail("expected", itoa(s.config.Dimensions)).
				WithDetail("got", itoa(len(rec.Vector)))
		}
	}
	if len(s.labels)+len(records) > s.config.MaxElements {
		return kberrors.New(kberrors.ErrCodeCapacityExhausted,
			"index capacity exceeded", nil).
			WithDetail("max_elements", itoa(s.config.MaxElements))
	}

	for _, rec := range records {
		// Replacing an ID tombstones the old node instead of touching
		// the graph.
		if old, exists := s.byID[rec.ID]; exists {
			delete(s.labels, old)
			s.deleted[old] = struct{}{}
			s.delCount++
		}

		label := s.nextLabel
		s.nextLabel++

		vec := make([]float32, len(rec.Vector))
		copy(vec, rec.Vector)
		if s.config.Metric == "cosine" {
			normalizeInPlace(vec)
		}
		s.graph.Add(hnsw.MakeNode(label, vec))

		s.labels[label] = envelope{ID: rec.ID, Content: rec.Content, Metadata: rec.Metadata}
		s.byID[rec.ID] = label
	}

	return s.saveLocked()
}

// Search returns up to topK nearest live records. The graph is
// oversearched to compensate for tombstones sitting between real
// neighbors, and efSearch is raised for large k. Both touch mutable graph
// state, so search holds the write lock.
func (s *HNSWStore) Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errStoreClosed()
	}
	if len(vector) != s.config.Dimensions {
		return nil, kberrors.New(kberrors.ErrCodeDimensionMismatch,
			"query dimension does not match index", nil).
			WithDetail("expected", itoa(s.config.Dimensions)).
			WithDetail("got", itoa(len(vector)))
	}
	if topK <= 0 || len(s.labels) == 0 {
		return []SearchResult{}, nil
	}

	actualK := topK
	if live := len(s.labels); actualK > live {
		actualK = live
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	if s.config.Metric == "cosine" {
		normalizeInPlace(query)
	}

	fetchK := 2 * actualK
	if total := s.graph.Len(); fetchK > total {
		fetchK = total
	}

	prevEf := s.graph.EfSearch
	if boost := 10 * actualK; boost > prevEf {
		s.graph.EfSearch = boost
	}
	nodes := s.graph.Search(query, fetchK)
	s.graph.EfSearch = prevEf

	// The graph does not hand nodes back in distance order. Rank the live
	// hits explicitly before truncating so a tombstone between neighbors
	// never displaces a closer record.
	results := make([]SearchResult, 0, len(nodes))
	for _, node := range nodes {
		env, live := s.labels[node.Key]
		if !live {
			continue
		}
		results = append(results, SearchResult{
			ID:       env.ID,
			Content:  env.Content,
			Metadata: env.Metadata,
			Distance: s.graph.Distance(query, node.Value),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > actualK {
		results = results[:actualK]
	}
	return results, nil
}

// DeleteByID tombstones records by ID and persists.
func (s *HNSWStore) DeleteByID(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errStoreClosed()
	}

	removed := 0
	for _, id := range ids {
		label, exists := s.byID[id]
		if !exists {
			continue
		}
		delete(s.byID, id)
		delete(s.labels, label)
		s.deleted[label] = struct{}{}
		s.delCount++
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.saveLocked()
}

// DeleteByMetadata tombstones every record whose metadata contains all
// filter pairs and persists.
func (s *HNSWStore) DeleteByMetadata(ctx context.Context, filter map[string]string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errStoreClosed()
	}
	if len(filter) == 0 {
		return 0, nil
	}

	removed := 0
	for label, env := range s.labels {
		if !metadataMatches(env.Metadata, filter) {
			continue
		}
		delete(s.byID, env.ID)
		delete(s.labels, label)
		s.deleted[label] = struct{}{}
		s.delCount++
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.saveLocked()
}

// Count returns the number of live records.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.labels)
}

// DeletionCount returns how many tombstones have accumulated since the
// last compaction.
func (s *HNSWStore) DeletionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.delCount
}

// NeedsCompaction reports whether the tombstone count crossed the
// configured threshold.
func (s *HNSWStore) NeedsCompaction() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.delCount >= s.config.DeletionThreshold
}

// Compact rebuilds the graph from live envelopes, relabeling densely and
// dropping all tombstones, then persists.
func (s *HNSWStore) Compact(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed()
	}
	if s.delCount == 0 {
		return nil
	}

	// Ascending old-label order keeps relabeling deterministic.
	oldLabels := make([]uint64, 0, len(s.labels))
	for label := range s.labels {
		oldLabels = append(oldLabels, label)
	}
	sort.Slice(oldLabels, func(i, j int) bool { return oldLabels[i] < oldLabels[j] })

	newGraph := s.newGraph()
	newLabels := make(map[uint64]envelope, len(oldLabels))
	newByID := make(map[string]uint64, len(oldLabels))

	var next uint64
	for _, old := range oldLabels {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		vec, ok := s.graph.Lookup(old)
		if !ok {
			continue
		}
		env := s.labels[old]
		newGraph.Add(hnsw.MakeNode(next, vec))
		newLabels[next] = env
		newByID[env.ID] = next
		next++
	}

	dropped := s.delCount
	s.graph = newGraph
	s.labels = newLabels
	s.byID = newByID
	s.deleted = make(map[uint64]struct{})
	s.delCount = 0
	s.nextLabel = next

	if err := s.saveLocked(); err != nil {
		return err
	}
	s.logger.Info("hnsw_compaction_complete",
		slog.String("dir", s.dir),
		slog.Int("tombstones_dropped", dropped),
		slog.Int("live_vectors", len(newLabels)))
	return nil
}

// saveLocked writes hnsw.bin and metadata.json, each via temp+rename.
// Caller holds the write lock.
func (s *HNSWStore) saveLocked() error {
	graphPath := filepath.Join(s.dir, graphFile)
	tmpGraph := graphPath + ".tmp"
	f, err := os.Create(tmpGraph)
	if err != nil {
		return kberrors.New(kberrors.ErrCodeFilePermission, "create graph file", err)
	}
	if err := s.graph.Export(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpGraph)
		return kberrors.StorageError("export graph", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpGraph)
		return kberrors.StorageError("close graph file", err)
	}
	if err := os.Rename(tmpGraph, graphPath); err != nil {
		_ = os.Remove(tmpGraph)
		return kberrors.StorageError("rename graph file", err)
	}

	meta := hnswMeta{
		Config:        s.config,
		Envelopes:     make(map[string]envelope, len(s.labels)),
		DeletedLabels: make([]uint64, 0, len(s.deleted)),
		DeletionCount: s.delCount,
	}
	for label, env := range s.labels {
		meta.Envelopes[utoa(label)] = env
	}
	for label := range s.deleted {
		meta.DeletedLabels = append(meta.DeletedLabels, label)
	}

	metaPath := filepath.Join(s.dir, metaFile)
	tmpMeta := metaPath + ".tmp"
	data, err := json.Marshal(&meta)
	if err != nil {
		return kberrors.InternalError("marshal index metadata", err)
	}
	if err := os.WriteFile(tmpMeta, data, 0o644); err != nil {
		return kberrors.StorageError("write index metadata", err)
	}
	if err := os.Rename(tmpMeta, metaPath); err != nil {
		_ = os.Remove(tmpMeta)
		return kberrors.StorageError("rename index metadata", err)
	}
	return nil
}

func (s *HNSWStore) load() error {
	data, err := os.ReadFile(filepath.Join(s.dir, metaFile))
	if err != nil {
		return kberrors.New(kberrors.ErrCodeCorruptIndex, "read index metadata", err)
	}
	var meta hnswMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return kberrors.New(kberrors.ErrCodeCorruptIndex, "decode index metadata", err).
			WithSuggestion("remove the index directory and re-ingest")
	}
	if meta.Config.Dimensions != s.config.Dimensions {
		return kberrors.New(kberrors.ErrCodeDimensionMismatch,
			"index was built with different dimensions", nil).
			WithDetail("index", itoa(meta.Config.Dimensions)).
			WithDetail("configured", itoa(s.config.Dimensions)).
			WithSuggestion("remove the index directory and re-ingest, or fix embedding.dimensions")
	}

	f, err := os.Open(filepath.Join(s.dir, graphFile))
	if err != nil {
		return kberrors.New(kberrors.ErrCodeCorruptIndex, "open graph file", err)
	}
	defer f.Close()
	// Import needs an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(f)); err != nil {
		return kberrors.New(kberrors.ErrCodeCorruptIndex, "import graph", err).
			WithSuggestion("remove the index directory and re-ingest")
	}

	var maxLabel uint64
	seen := false
	for key, env := range meta.Envelopes {
		label, err := atou(key)
		if err != nil {
			return kberrors.New(kberrors.ErrCodeCorruptIndex, "bad envelope label", err)
		}
		s.labels[label] = env
		s.byID[env.ID] = label
		if !seen || label > maxLabel {
			maxLabel = label
			seen = true
		}
	}
	for _, label := range meta.DeletedLabels {
		s.deleted[label] = struct{}{}
		if !seen || label > maxLabel {
			maxLabel = label
			seen = true
		}
	}
	s.delCount = meta.DeletionCount
	if seen {
		s.nextLabel = maxLabel + 1
	}
	return nil
}

// Close persists, releases the directory lock, and marks the store closed.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	err := s.saveLocked()
	if unlockErr := s.lock.Unlock(); err == nil {
		err = unlockErr
	}
	s.closed = true
	s.graph = nil
	return err
}

var _ VectorStore = (*HNSWStore)(nil)

func errStoreClosed() error {
	return kberrors.New(kberrors.ErrCodeStoreClosed, "vector store is closed", nil)
}

func metadataMatches(meta, filter map[string]string) bool {
	for k, want := range filter {
		if meta[k] != want {
			return false
		}
	}
	return true
}

// innerProductDistance turns similarity into a distance so that closer
// means smaller, matching the other metrics.
func innerProductDistance(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return 1 - dot
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func itoa(n int) string { return strconv.Itoa(n) }

func utoa(n uint64) string { return strconv.FormatUint(n, 10) }

func atou(s string) (uint64, error) { return strconv.ParseUint(s, 10, 64) }
