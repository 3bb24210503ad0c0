package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fang088/FF-KB-Robot/internal/errors"
	"github.com/Fang088/FF-KB-Robot/internal/store"
)

type captureIndex struct {
	mu          sync.Mutex
	records     []store.VectorRecord
	metaDeletes []map[string]string
	idDeletes   [][]string
}

func (c *captureIndex) Add(ctx context.Context, records []store.VectorRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, records...)
	return nil
}

func (c *captureIndex) Search(ctx context.Context, vector []float32, topK int) ([]store.SearchResult, error) {
	return nil, nil
}

func (c *captureIndex) DeleteByID(ctx context.Context, ids []string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idDeletes = append(c.idDeletes, ids)
	return len(ids), nil
}

func (c *captureIndex) DeleteByMetadata(ctx context.Context, filter map[string]string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metaDeletes = append(c.metaDeletes, filter)
	return 0, nil
}

func (c *captureIndex) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func (c *captureIndex) Compact(ctx context.Context) error { return nil }
func (c *captureIndex) Close() error                      { return nil }

type singleIndexProvider struct {
	index store.VectorStore
}

func (s *singleIndexProvider) Index(ctx context.Context, kbID string) (store.VectorStore, error) {
	return s.index, nil
}

type countingEmbedder struct {
	mu        sync.Mutex
	batches   [][]string
	failAfter int // fail every call past this many batches (0 = never)
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.batches = append(e.batches, texts)
	n := len(e.batches)
	e.mu.Unlock()
	if e.failAfter > 0 && n > e.failAfter {
		return nil, errors.New(errors.ErrCodeEmbeddingUnavailable, "provider down", nil)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (e *countingEmbedder) Dimensions() int                    { return 3 }
func (e *countingEmbedder) ModelName() string                  { return "fake-embed" }
func (e *countingEmbedder) Available(ctx context.Context) bool { return true }
func (e *countingEmbedder) Close() error                       { return nil }

type countingInvalidator struct {
	mu    sync.Mutex
	calls []string
}

func (c *countingInvalidator) InvalidateKB(kbID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, kbID)
	return 1
}

type pipelineHarness struct {
	pipeline    *Pipeline
	meta        *store.MetaStore
	index       *captureIndex
	embedder    *countingEmbedder
	invalidator *countingInvalidator
	uploadDir   string
	kb          *store.KnowledgeBase
}

func newPipelineHarness(t *testing.T, opts Options) *pipelineHarness {
	t.Helper()
	ctx := context.Background()

	meta, err := store.OpenMetaStore(ctx, filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	kb, err := meta.CreateKB(ctx, "测试知识库", "")
	require.NoError(t, err)

	h := &pipelineHarness{
		meta:        meta,
		index:       &captureIndex{},
		embedder:    &countingEmbedder{},
		invalidator: &countingInvalidator{},
		uploadDir:   t.TempDir(),
		kb:          kb,
	}
	if opts.UploadDir == "" {
		opts.UploadDir = h.uploadDir
	}
	p, err := NewPipeline(meta, &singleIndexProvider{index: h.index}, h.embedder,
		nil, nil, h.invalidator, opts, nil)
	require.NoError(t, err)
	h.pipeline = p
	return h
}

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// testContent is long enough to produce multiple chunks at the default
// chunk size.
func testContent() string {
	var b strings.Builder
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&b, "第%d节：知识库系统将文档切分为片段，为每个片段生成向量，并支持语义检索。", i+1)
		b.WriteString("检索阶段会对结果去重和重排，再交给语言模型生成回答。\n\n")
	}
	return b.String()
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry()

	_, err := r.Lookup("notes.txt")
	assert.NoError(t, err)
	_, err = r.Lookup("README.md")
	assert.NoError(t, err)

	_, err = r.Lookup("report.pdf")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnsupportedFormat, errors.GetCode(err))
	assert.Contains(t, err.Error(), "no extractor registered")

	_, err = r.Lookup("binary.exe")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnsupportedFormat, errors.GetCode(err))
	assert.Contains(t, err.Error(), "unsupported file type")

	r.Register(".pdf", textExtractor{})
	_, err = r.Lookup("report.pdf")
	assert.NoError(t, err)
	assert.True(t, r.CanExtract("report.pdf"))
	assert.False(t, r.CanExtract("archive.zip"))
}

func TestUniqueFilename(t *testing.T) {
	a := UniqueFilename(`bad:na*me?.txt`)
	assert.True(t, strings.HasSuffix(a, ".txt"))
	assert.True(t, strings.HasPrefix(a, "bad_na_me_"))

	b := UniqueFilename("report.txt")
	c := UniqueFilename("report.txt")
	assert.NotEqual(t, b, c)
}

func TestIngestFile(t *testing.T) {
	h := newPipelineHarness(t, Options{})
	ctx := context.Background()

	path := writeTestFile(t, "guide.txt", testContent())
	report, err := h.pipeline.IngestFile(ctx, h.kb.ID, path)
	require.NoError(t, err)

	assert.False(t, report.Skipped)
	assert.Greater(t, report.Chunks, 1)
	assert.Equal(t, report.Chunks, report.Vectors)

	// The document and its chunks landed in the metadata store.
	doc, err := h.meta.GetDocument(ctx, report.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "guide.txt", doc.Filename)
	assert.Equal(t, "txt", doc.FileType)
	assert.Equal(t, report.Chunks, doc.ChunkCount)

	chunks, err := h.meta.GetChunksByDocument(ctx, report.DocumentID)
	require.NoError(t, err)
	require.Len(t, chunks, report.Chunks)

	// Vectors carry the chunk linkage in their metadata.
	require.Len(t, h.index.records, report.Vectors)
	first := h.index.records[0]
	assert.Equal(t, chunks[0].VectorID, first.ID)
	assert.Equal(t, h.kb.ID, first.Metadata["kb_id"])
	assert.Equal(t, report.DocumentID, first.Metadata["doc_id"])
	assert.Equal(t, "guide.txt", first.Metadata["filename"])

	// An archive copy exists under the KB's upload dir.
	entries, err := os.ReadDir(filepath.Join(h.uploadDir, h.kb.ID))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "guide_"))

	assert.Equal(t, []string{h.kb.ID}, h.invalidator.calls)
}

func TestIngestFile_DuplicateContentSkipped(t *testing.T) {
	h := newPipelineHarness(t, Options{})
	ctx := context.Background()

	first, err := h.pipeline.IngestFile(ctx, h.kb.ID, writeTestFile(t, "a.txt", testContent()))
	require.NoError(t, err)

	// Same content under a different name.
	second, err := h.pipeline.IngestFile(ctx, h.kb.ID, writeTestFile(t, "b.txt", testContent()))
	require.NoError(t, err)

	assert.True(t, second.Skipped)
	assert.Equal(t, first.DocumentID, second.DocumentID)

	docs, err := h.meta.ListDocuments(ctx, h.kb.ID)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestIngestFile_TooLarge(t *testing.T) {
	h := newPipelineHarness(t, Options{MaxFileSize: 10})

	_, err := h.pipeline.IngestFile(context.Background(), h.kb.ID,
		writeTestFile(t, "big.txt", testContent()))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFileTooLarge, errors.GetCode(err))
}

func TestIngestFile_UnsupportedType(t *testing.T) {
	h := newPipelineHarness(t, Options{})

	_, err := h.pipeline.IngestFile(context.Background(), h.kb.ID,
		writeTestFile(t, "tool.exe", "binary"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnsupportedFormat, errors.GetCode(err))
}

func TestIngestFile_MissingKB(t *testing.T) {
	h := newPipelineHarness(t, Options{})

	_, err := h.pipeline.IngestFile(context.Background(), "no-such-kb",
		writeTestFile(t, "a.txt", "内容"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeKBNotFound, errors.GetCode(err))
}

func TestIngestFile_MissingFile(t *testing.T) {
	h := newPipelineHarness(t, Options{})

	_, err := h.pipeline.IngestFile(context.Background(), h.kb.ID,
		filepath.Join(t.TempDir(), "gone.txt"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFileNotFound, errors.GetCode(err))
}

func TestIngestFile_MetadataFailureRollsBackVectors(t *testing.T) {
	h := newPipelineHarness(t, Options{})
	ctx := context.Background()

	h.pipeline.insertDoc = func(ctx context.Context, doc *store.Document, chunks []*store.TextChunk) error {
		return errors.StorageError("disk failure", nil)
	}

	_, err := h.pipeline.IngestFile(ctx, h.kb.ID, writeTestFile(t, "a.txt", testContent()))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeIngestFailed, errors.GetCode(err))

	// The vectors that went in first were deleted by document filter.
	require.Len(t, h.index.metaDeletes, 1)
	assert.Contains(t, h.index.metaDeletes[0], "doc_id")

	docs, err := h.meta.ListDocuments(ctx, h.kb.ID)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Empty(t, h.invalidator.calls, "failed ingest must not invalidate the cache")
}

func TestIngestFile_EmbedFailureRollsBackVectors(t *testing.T) {
	h := newPipelineHarness(t, Options{EmbedBatchSize: 2})
	h.embedder.failAfter = 1
	ctx := context.Background()

	_, err := h.pipeline.IngestFile(ctx, h.kb.ID, writeTestFile(t, "a.txt", testContent()))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeEmbeddingFailed, errors.GetCode(err))

	// Batch one made it into the index before the failure; the whole
	// document must be pulled back out.
	require.Len(t, h.index.metaDeletes, 1)
	assert.Contains(t, h.index.metaDeletes[0], "doc_id")

	docs, err := h.meta.ListDocuments(ctx, h.kb.ID)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Empty(t, h.invalidator.calls, "failed ingest must not invalidate the cache")
}

func TestIngestFile_EmbedBatching(t *testing.T) {
	h := newPipelineHarness(t, Options{EmbedBatchSize: 2})

	report, err := h.pipeline.IngestFile(context.Background(), h.kb.ID,
		writeTestFile(t, "guide.txt", testContent()))
	require.NoError(t, err)
	require.Greater(t, report.Chunks, 2)

	for _, batch := range h.embedder.batches {
		assert.LessOrEqual(t, len(batch), 2)
	}
}

func TestIngestDir(t *testing.T) {
	h := newPipelineHarness(t, Options{})
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.txt"), []byte(testContent()), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.md"), []byte(testContent()+"另一份文档。"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.exe"), []byte("binary"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.txt"), []byte("   "), 0o644))

	reports, err := h.pipeline.IngestDir(ctx, h.kb.ID, dir)
	require.NoError(t, err)
	require.Len(t, reports, 3, "extractable files only")

	okCount, errCount := 0, 0
	for _, r := range reports {
		if r.Err != nil {
			errCount++
			assert.True(t, strings.HasSuffix(r.Path, "empty.txt"))
		} else {
			okCount++
		}
	}
	assert.Equal(t, 2, okCount)
	assert.Equal(t, 1, errCount)

	docs, err := h.meta.ListDocuments(ctx, h.kb.ID)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestRemoveDocument(t *testing.T) {
	h := newPipelineHarness(t, Options{})
	ctx := context.Background()

	report, err := h.pipeline.IngestFile(ctx, h.kb.ID, writeTestFile(t, "a.txt", testContent()))
	require.NoError(t, err)

	require.NoError(t, h.pipeline.RemoveDocument(ctx, h.kb.ID, report.DocumentID))

	_, err = h.meta.GetDocument(ctx, report.DocumentID)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.GetCode(err))

	require.Len(t, h.index.idDeletes, 1)
	assert.Len(t, h.index.idDeletes[0], report.Vectors)

	// Ingest invalidated once, removal invalidated again.
	assert.Len(t, h.invalidator.calls, 2)
}