package embed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	kberrors "github.com/Fang088/FF-KB-Robot/internal/errors"
)

// Options configures the OpenAI-compatible embedding provider.
type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int           // Expected dimension; 0 accepts whatever the model returns
	BatchSize  int           // Texts per provider request (default: DefaultBatchSize)
	Timeout    time.Duration // Per-request timeout (default: DefaultTimeout)
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
// Transient failures are retried with backoff; sustained failures trip a
// circuit breaker so a dead endpoint fails fast instead of stalling
// ingest for minutes.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
	batchSize  int
	timeout    time.Duration

	retryCfg kberrors.RetryConfig
	breaker  *kberrors.CircuitBreaker
}

// NewOpenAIEmbedder creates an embedding provider from opts.
func NewOpenAIEmbedder(opts Options) (*OpenAIEmbedder, error) {
	if opts.Model == "" {
		return nil, kberrors.ValidationError("embedding model is required", nil).
			WithSuggestion("set embedding.model in the config file")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchSize > MaxBatchSize {
		opts.BatchSize = MaxBatchSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	clientOpts := []option.RequestOption{}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	return &OpenAIEmbedder{
		client:     openai.NewClient(clientOpts...),
		model:      opts.Model,
		dimensions: opts.Dimensions,
		batchSize:  opts.BatchSize,
		timeout:    opts.Timeout,
		retryCfg:   kberrors.DefaultRetryConfig(),
		breaker:    kberrors.NewCircuitBreaker("embedding"),
	}, nil
}

// Embed generates the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for texts, splitting into provider-sized
// batches. Empty or whitespace-only inputs are rejected up front so a bad
// chunk never burns an API call.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, kberrors.New(kberrors.ErrCodeInvalidInput,
				fmt.Sprintf("text %d of %d is empty", i+1, len(texts)), nil)
		}
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, vecs...)
	}
	return results, nil
}

func (e *OpenAIEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := kberrors.CircuitExecuteWithResult(e.breaker, func() ([][]float32, error) {
		return kberrors.RetryWithResult(ctx, e.retryCfg, func() ([][]float32, error) {
			return e.request(ctx, texts)
		})
	}, func() ([][]float32, error) {
		return nil, kberrors.New(kberrors.ErrCodeEmbeddingUnavailable,
			"embedding provider circuit open", nil).
			WithSuggestion("check the embedding endpoint and retry shortly")
	})
	if err != nil {
		if kberrors.GetCode(err) != "" {
			return nil, err
		}
		return nil, kberrors.New(kberrors.ErrCodeEmbeddingUnavailable,
			"embedding request failed", err).
			WithDetail("model", e.model)
	}
	return vecs, nil
}

func (e *OpenAIEmbedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: e.model,
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, kberrors.New(kberrors.ErrCodeNetworkTimeout,
				"embedding request timed out", err).
				WithDetail("timeout", e.timeout.String())
		}
		return nil, kberrors.New(kberrors.ErrCodeEmbeddingUnavailable,
			"embedding provider error", err).
			WithDetail("model", e.model)
	}
	if len(resp.Data) != len(texts) {
		return nil, kberrors.New(kberrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("provider returned %d embeddings for %d texts", len(resp.Data), len(texts)), nil)
	}

	// The provider may return items out of order; the index field says
	// which input each embedding belongs to.
	vecs := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		idx := int(item.Index)
		if idx < 0 || idx >= len(vecs) || vecs[idx] != nil {
			return nil, kberrors.New(kberrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("provider returned invalid embedding index %d", idx), nil)
		}
		vec := make([]float32, len(item.Embedding))
		for j, v := range item.Embedding {
			vec[j] = float32(v)
		}
		if e.dimensions > 0 && len(vec) != e.dimensions {
			return nil, kberrors.New(kberrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("model returned %d dimensions, expected %d", len(vec), e.dimensions), nil).
				WithSuggestion("set embedding.dimensions to match the model, then re-ingest")
		}
		vecs[idx] = vec
	}
	return vecs, nil
}

// Dimensions returns the configured embedding dimension, or
// DefaultDimensions when the config left it open.
func (e *OpenAIEmbedder) Dimensions() int {
	if e.dimensions > 0 {
		return e.dimensions
	}
	return DefaultDimensions
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

// Available checks the endpoint with a one-token request.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.request(ctx, []string{"ping"})
	return err == nil
}

// Close releases resources. The HTTP client has nothing to release.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
