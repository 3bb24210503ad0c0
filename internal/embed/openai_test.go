package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Fang088/FF-KB-Robot/internal/errors"
)

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// newEmbedServer serves a minimal /embeddings endpoint returning dims-wide
// vectors for each input.
func newEmbedServer(t *testing.T, dims int, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var resp embeddingsResponse
		resp.Model = req.Model
		for i := range req.Input {
			vec := make([]float64, dims)
			for j := range vec {
				vec[j] = float64(i + j)
			}
			resp.Data = append(resp.Data, struct {
				Embedding []float64 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: vec, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestNewOpenAIEmbedder_RequiresModel(t *testing.T) {
	_, err := NewOpenAIEmbedder(Options{})
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeInvalidInput, kberrors.GetCode(err))
}

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, 8, &calls)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(Options{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "test-embed",
	})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 8)
	assert.Equal(t, int64(1), calls.Load())
}

func TestOpenAIEmbedder_SplitsIntoBatches(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, 4, &calls)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(Options{
		BaseURL:   srv.URL,
		APIKey:    "test-key",
		Model:     "test-embed",
		BatchSize: 2,
	})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a1", "b2", "c3", "d4", "e5"})
	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	assert.Equal(t, int64(3), calls.Load())
}

func TestOpenAIEmbedder_ReordersByIndex(t *testing.T) {
	// Items come back in reverse order; the index field must win over
	// response position.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var resp embeddingsResponse
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Embedding []float64 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float64{float64(i), 0}, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(Options{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second", "third"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{0, 0}, vecs[0])
	assert.Equal(t, []float32{1, 0}, vecs[1])
	assert.Equal(t, []float32{2, 0}, vecs[2])
}

func TestOpenAIEmbedder_RejectsEmptyText(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, 4, &calls)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(Options{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"ok", "   "})
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeInvalidInput, kberrors.GetCode(err))
	assert.Equal(t, int64(0), calls.Load(), "validation must happen before any request")
}

func TestOpenAIEmbedder_DimensionMismatch(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, 4, &calls)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(Options{
		BaseURL:    srv.URL,
		APIKey:     "k",
		Model:      "m",
		Dimensions: 16,
	})
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeDimensionMismatch, kberrors.GetCode(err))
}

func TestOpenAIEmbedder_EmptyInputFastPath(t *testing.T) {
	e, err := NewOpenAIEmbedder(Options{Model: "m"})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestOpenAIEmbedder_Defaults(t *testing.T) {
	e, err := NewOpenAIEmbedder(Options{Model: "m"})
	require.NoError(t, err)

	assert.Equal(t, DefaultDimensions, e.Dimensions())
	assert.Equal(t, DefaultBatchSize, e.batchSize)
	assert.Equal(t, DefaultTimeout, e.timeout)
	assert.Equal(t, "m", e.ModelName())

	e2, err := NewOpenAIEmbedder(Options{Model: "m", BatchSize: 9999, Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, MaxBatchSize, e2.batchSize)
	assert.Equal(t, time.Second, e2.timeout)
}
