// Package ingest turns source files into searchable vectors: extract,
// archive, chunk, embed, index, record. Metadata and vectors stay
// consistent through rollback on the metadata transaction.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Fang088/FF-KB-Robot/internal/chunk"
	"github.com/Fang088/FF-KB-Robot/internal/embed"
	"github.com/Fang088/FF-KB-Robot/internal/errors"
	"github.com/Fang088/FF-KB-Robot/internal/store"
)

const (
	// DefaultMaxFileSize caps one upload at 100MB.
	DefaultMaxFileSize = 100 << 20

	// DefaultEmbedBatchSize is how many chunks go to the provider per call.
	DefaultEmbedBatchSize = 100

	// DefaultConcurrency bounds parallel file ingestion in IngestDir.
	DefaultConcurrency = 4
)

// IndexProvider resolves the vector index of a knowledge base.
type IndexProvider interface {
	Index(ctx context.Context, kbID string) (store.VectorStore, error)
}

// KBInvalidator drops cached query results after a KB's content changes.
type KBInvalidator interface {
	InvalidateKB(kbID string) int
}

// Options tunes the pipeline.
type Options struct {
	UploadDir      string
	MaxFileSize    int64
	EmbedBatchSize int
	Concurrency    int
}

func (o *Options) applyDefaults() {
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.EmbedBatchSize <= 0 {
		o.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
}

// Report summarizes one ingested file.
type Report struct {
	DocumentID string
	Filename   string
	Chunks     int
	Vectors    int
	Skipped    bool // Content already ingested into this KB
	Duration   time.Duration
}

// FileReport is one entry of a directory ingest.
type FileReport struct {
	Path   string
	Report *Report
	Err    error
}

// Pipeline ingests files into a knowledge base.
type Pipeline struct {
	meta       *store.MetaStore
	indexes    IndexProvider
	embedder   embed.Embedder
	chunker    *chunk.Chunker
	extractors *Registry
	queries    KBInvalidator
	opts       Options
	logger     *slog.Logger

	// Seam for exercising the rollback path.
	insertDoc func(ctx context.Context, doc *store.Document, chunks []*store.TextChunk) error
}

// NewPipeline wires an ingest pipeline.
func NewPipeline(meta *store.MetaStore, indexes IndexProvider, embedder embed.Embedder,
	chunker *chunk.Chunker, extractors *Registry, queries KBInvalidator,
	opts Options, logger *slog.Logger) (*Pipeline, error) {
	if meta == nil || indexes == nil || embedder == nil {
		return nil, errors.ValidationError("ingest pipeline requires meta store, indexes, and embedder", nil)
	}
	if chunker == nil {
		chunker = chunk.NewChunker()
	}
	if extractors == nil {
		extractors = NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()
	p := &Pipeline{
		meta:       meta,
		indexes:    indexes,
		embedder:   embedder,
		chunker:    chunker,
		extractors: extractors,
		queries:    queries,
		opts:       opts,
		logger:     logger,
	}
	p.insertDoc = p.meta.InsertDocument
	return p, nil
}

// Extractors exposes the registry so callers can add format support.
func (p *Pipeline) Extractors() *Registry {
	return p.extractors
}

// IngestFile ingests one file into the knowledge base. Files whose content
// is already in the KB come back with Skipped set and change nothing.
func (p *Pipeline) IngestFile(ctx context.Context, kbID, path string) (*Report, error) {
	started := time.Now()

	if _, err := p.meta.GetKB(ctx, kbID); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeFileNotFound, "file not found: "+path, err)
		}
		return nil, errors.New(errors.ErrCodeFilePermission, "cannot stat file: "+path, err)
	}
	if info.Size() > p.opts.MaxFileSize {
		return nil, errors.New(errors.ErrCodeFileTooLarge,
			"file exceeds size limit: "+path, nil).
			WithDetail("size_bytes", strconv.FormatInt(info.Size(), 10)).
			WithDetail("limit_bytes", strconv.FormatInt(p.opts.MaxFileSize, 10))
	}

	extractor, err := p.extractors.Lookup(path)
	if err != nil {
		return nil, err
	}
	content, err := extractor.Extract(ctx, path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, errors.ValidationError("file has no extractable text: "+path, nil)
	}

	filename := filepath.Base(path)
	hash := contentHash(content)

	if existing, err := p.meta.FindDocumentByHash(ctx, kbID, hash); err != nil {
		return nil, err
	} else if existing != nil {
		p.logger.Info("ingest_skipped_duplicate",
			"kb_id", kbID, "filename", filename, "document_id", existing.ID)
		return &Report{
			DocumentID: existing.ID,
			Filename:   filename,
			Chunks:     existing.ChunkCount,
			Skipped:    true,
			Duration:   time.Since(started),
		}, nil
	}

	archived, err := p.archive(kbID, path, filename)
	if err != nil {
		return nil, err
	}

	pieces := p.chunker.Chunk(content)
	if len(pieces) == 0 {
		return nil, errors.New(errors.ErrCodeChunkingFailed, "chunking produced no output: "+path, nil)
	}

	docID := uuid.NewString()
	now := time.Now()

	chunks := make([]*store.TextChunk, len(pieces))
	for i, piece := range pieces {
		id := uuid.NewString()
		chunks[i] = &store.TextChunk{
			ID:         id,
			DocumentID: docID,
			KBID:       kbID,
			ChunkIndex: i,
			Content:    piece,
			VectorID:   id,
			CreatedAt:  now,
		}
	}

	index, err := p.indexes.Index(ctx, kbID)
	if err != nil {
		return nil, err
	}
	vectors, err := p.indexChunks(ctx, index, kbID, docID, filename, chunks)
	if err != nil {
		// Earlier batches may already be in the index; pull them back out
		// so a half-embedded document never serves search results.
		p.rollbackVectors(ctx, index, kbID, docID)
		return nil, err
	}

	doc := &store.Document{
		ID:          docID,
		KBID:        kbID,
		Filename:    filename,
		FilePath:    archived,
		FileType:    strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."),
		SizeBytes:   info.Size(),
		ContentHash: hash,
		ChunkCount:  len(chunks),
		CreatedAt:   now,
	}
	if err := p.insertDoc(ctx, doc, chunks); err != nil {
		// Vectors went in first; pull them back out so the index never
		// serves chunks the metadata store does not know about.
		p.rollbackVectors(ctx, index, kbID, docID)
		return nil, errors.Wrap(errors.ErrCodeIngestFailed, err)
	}

	if p.queries != nil {
		p.queries.InvalidateKB(kbID)
	}

	report := &Report{
		DocumentID: docID,
		Filename:   filename,
		Chunks:     len(chunks),
		Vectors:    vectors,
		Duration:   time.Since(started),
	}
	p.logger.Info("ingest_complete",
		"kb_id", kbID,
		"filename", filename,
		"chunks", report.Chunks,
		"vectors", report.Vectors,
		"duration_ms", report.Duration.Milliseconds())
	return report, nil
}

// rollbackVectors removes every vector of a document from the index.
func (p *Pipeline) rollbackVectors(ctx context.Context, index store.VectorStore, kbID, docID string) {
	if _, err := index.DeleteByMetadata(ctx, map[string]string{"doc_id": docID}); err != nil {
		p.logger.Error("ingest_rollback_failed",
			"kb_id", kbID, "document_id", docID, "error", err)
	}
}

// indexChunks embeds the chunks in batches and adds them to the index.
func (p *Pipeline) indexChunks(ctx context.Context, index store.VectorStore,
	kbID, docID, filename string, chunks []*store.TextChunk) (int, error) {
	total := 0
	for start := 0; start < len(chunks); start += p.opts.EmbedBatchSize {
		end := start + p.opts.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return total, errors.Wrap(errors.ErrCodeEmbeddingFailed, err)
		}

		records := make([]store.VectorRecord, len(batch))
		for i, c := range batch {
			records[i] = store.VectorRecord{
				ID:      c.VectorID,
				Vector:  vectors[i],
				Content: c.Content,
				Metadata: map[string]string{
					"kb_id":       kbID,
					"doc_id":      docID,
					"filename":    filename,
					"chunk_index": strconv.Itoa(c.ChunkIndex),
				},
			}
		}
		if err := index.Add(ctx, records); err != nil {
			return total, err
		}
		total += len(records)
	}
	return total, nil
}

// IngestDir ingests every extractable file under dir, a bounded number in
// flight at once. Per-file failures land in their FileReport; only the
// walk itself can fail the call.
func (p *Pipeline) IngestDir(ctx context.Context, kbID, dir string) ([]FileReport, error) {
	if _, err := p.meta.GetKB(ctx, kbID); err != nil {
		return nil, err
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !p.extractors.CanExtract(path) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalidPath, "cannot walk directory: "+dir, err)
	}

	reports := make([]FileReport, len(paths))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, path := range paths {
		g.Go(func() error {
			report, err := p.IngestFile(gctx, kbID, path)
			mu.Lock()
			reports[i] = FileReport{Path: path, Report: report, Err: err}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}

// RemoveDocument deletes a document's chunks, vectors, and metadata, and
// invalidates the KB's cached queries.
func (p *Pipeline) RemoveDocument(ctx context.Context, kbID, docID string) error {
	vectorIDs, err := p.meta.DeleteDocument(ctx, docID)
	if err != nil {
		return err
	}

	index, err := p.indexes.Index(ctx, kbID)
	if err != nil {
		return err
	}
	if _, err := index.DeleteByID(ctx, vectorIDs); err != nil {
		return err
	}

	if p.queries != nil {
		p.queries.InvalidateKB(kbID)
	}
	p.logger.Info("document_removed",
		"kb_id", kbID, "document_id", docID, "vectors", len(vectorIDs))
	return nil
}

// archive copies the source file into the KB's upload directory under a
// sanitized unique name. Without an upload dir the original path is kept.
func (p *Pipeline) archive(kbID, path, filename string) (string, error) {
	if p.opts.UploadDir == "" {
		return path, nil
	}

	dir := filepath.Join(p.opts.UploadDir, kbID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.StorageError("cannot create upload directory", err)
	}

	dst := filepath.Join(dir, UniqueFilename(filename))
	src, err := os.Open(path)
	if err != nil {
		return "", errors.New(errors.ErrCodeFilePermission, "cannot open file: "+path, err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", errors.StorageError("cannot create archive copy", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		os.Remove(dst)
		return "", errors.StorageError("cannot write archive copy", err)
	}
	return dst, nil
}

// UniqueFilename sanitizes a filename and suffixes it with a short random
// tag so repeated uploads never collide.
func UniqueFilename(filename string) string {
	base := filepath.Base(filename)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	var b strings.Builder
	for _, r := range stem {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			b.WriteRune('_')
		default:
			if r < 0x20 {
				b.WriteRune('_')
				continue
			}
			b.WriteRune(r)
		}
	}
	stem = b.String()
	if stem == "" {
		stem = "file"
	}
	return stem + "_" + uuid.NewString()[:8] + ext
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
