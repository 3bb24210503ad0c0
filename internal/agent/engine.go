package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Fang088/FF-KB-Robot/internal/cache"
	"github.com/Fang088/FF-KB-Robot/internal/confidence"
	"github.com/Fang088/FF-KB-Robot/internal/embed"
	"github.com/Fang088/FF-KB-Robot/internal/errors"
	"github.com/Fang088/FF-KB-Robot/internal/llm"
	"github.com/Fang088/FF-KB-Robot/internal/retrieval"
	"github.com/Fang088/FF-KB-Robot/internal/store"
)

// IndexProvider resolves the vector index of a knowledge base.
type IndexProvider interface {
	Index(ctx context.Context, kbID string) (store.VectorStore, error)
}

// Source is one document the answer was grounded on.
type Source struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Distance float32           `json:"distance"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result is the answer to one query.
type Result struct {
	QueryID        string           `json:"query_id"`
	KBID           string           `json:"kb_id"`
	Question       string           `json:"question"`
	Category       string           `json:"category,omitempty"`
	Answer         string           `json:"answer"`
	Sources        []Source         `json:"sources,omitempty"`
	Confidence     confidence.Score `json:"confidence"`
	FromCache      bool             `json:"from_cache"`
	CacheHit       string           `json:"cache_hit,omitempty"`
	Iterations     int              `json:"iterations"`
	Steps          []Step           `json:"steps,omitempty"`
	ResponseTimeMs int64            `json:"response_time_ms"`
}

// Query is one question against one knowledge base.
type Query struct {
	KBID     string
	Question string

	// Images are passed to the LLM as vision parts.
	Images []llm.Image

	// Fuse, when set, rewrites the retrieved document list before
	// generation. Conversation file fusion hooks in here.
	Fuse func([]retrieval.Document) []retrieval.Document

	// OnDelta streams answer fragments as they arrive.
	OnDelta func(string)
}

// bypassesCache reports whether the query depends on per-call state that a
// cached result would not reflect.
func (q Query) bypassesCache() bool {
	return len(q.Images) > 0 || q.Fuse != nil
}

// Deps are the engine's collaborators.
type Deps struct {
	Embedder   embed.Embedder
	Generator  llm.Generator
	Indexes    IndexProvider
	Post       *retrieval.PostProcessor
	Scorer     *confidence.Scorer
	QueryCache *cache.QueryCache[*Result]
	Classifier *cache.ClassifierCache
	Logger     *slog.Logger
}

// Config bounds the engine's work per query.
type Config struct {
	MaxIterations       int
	Timeout             time.Duration
	ConfidenceThreshold float64
}

func (c *Config) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = DefaultConfidenceThreshold
	}
}

// Engine answers questions through the retrieve/generate/finalize loop.
type Engine struct {
	deps   Deps
	config Config
}

// NewEngine validates the collaborators and builds an engine.
func NewEngine(deps Deps, cfg Config) (*Engine, error) {
	if deps.Embedder == nil {
		return nil, errors.ValidationError("agent engine requires an embedder", nil)
	}
	if deps.Generator == nil {
		return nil, errors.ValidationError("agent engine requires a generator", nil)
	}
	if deps.Indexes == nil {
		return nil, errors.ValidationError("agent engine requires an index provider", nil)
	}
	if deps.Post == nil {
		deps.Post = retrieval.NewPostProcessor(retrieval.Options{})
	}
	if deps.Scorer == nil {
		deps.Scorer = confidence.NewScorer(confidence.Weights{})
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Engine{deps: deps, config: cfg}, nil
}

// decide picks the next node from the state. It owns the iteration counter:
// every pass that does not finalize on sight costs one iteration, and an
// exhausted budget produces the fallback answer.
func (e *Engine) decide(s *QueryState) string {
	if s.Err != nil {
		return nodeFinalize
	}
	if s.Answer != "" && s.Confidence.Overall > e.config.ConfidenceThreshold {
		return nodeFinalize
	}
	s.Iteration++
	if s.Iteration >= s.MaxIterations {
		s.Answer = fallbackAnswer
		return nodeFinalize
	}
	if !s.Retrieved {
		return nodeRetrieve
	}
	if s.Answer == "" {
		return nodeGenerate
	}
	if s.pendingToolCalls() {
		return nodeProcessTools
	}
	return nodeFinalize
}

// Run answers one query. An empty question returns an empty zero-confidence
// result without touching any provider. Cached results come back marked
// from_cache with the hit kind.
func (e *Engine) Run(ctx context.Context, q Query) (*Result, error) {
	started := time.Now()

	question := strings.TrimSpace(q.Question)
	if question == "" {
		return &Result{
			QueryID:        uuid.NewString(),
			KBID:           q.KBID,
			Confidence:     confidence.Score{Level: confidence.LevelLow},
			ResponseTimeMs: time.Since(started).Milliseconds(),
		}, nil
	}

	if e.deps.QueryCache != nil && !q.bypassesCache() {
		if cached, kind := e.deps.QueryCache.Get(q.KBID, question); kind != cache.HitNone {
			hit := *cached
			hit.FromCache = true
			hit.CacheHit = hitName(kind)
			hit.ResponseTimeMs = time.Since(started).Milliseconds()
			e.deps.Logger.Info("query_cache_hit",
				"kb_id", q.KBID,
				"hit", hit.CacheHit,
				"duration_ms", hit.ResponseTimeMs)
			return &hit, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	state := &QueryState{
		QueryID:       uuid.NewString(),
		KBID:          q.KBID,
		Question:      question,
		Images:        q.Images,
		MaxIterations: e.config.MaxIterations,
	}

	for {
		if ctx.Err() != nil && state.Err == nil {
			state.Err = errors.New(errors.ErrCodeWorkflowTimeout, "query deadline exceeded", ctx.Err())
		}

		node := e.decide(state)

		var outcome NodeOutcome
		switch node {
		case nodeRetrieve:
			outcome = e.retrieve(ctx, state, q)
		case nodeGenerate:
			outcome = e.generate(ctx, state, q)
		case nodeProcessTools:
			outcome = e.processTools(ctx, state)
		default:
			outcome = e.finalize(ctx, state)
		}

		if outcome.kind == outcomeFail {
			state.Err = outcome.err
		}
		if outcome.kind == outcomeDone {
			break
		}
	}

	result := e.buildResult(state, started)

	if state.Err == nil && e.deps.QueryCache != nil && !q.bypassesCache() &&
		result.Confidence.Overall > e.config.ConfidenceThreshold {
		e.deps.QueryCache.Set(q.KBID, question, result)
	}

	e.deps.Logger.Info("query_complete",
		"query_id", state.QueryID,
		"kb_id", q.KBID,
		"category", state.Category,
		"iterations", state.Iteration,
		"confidence", result.Confidence.Overall,
		"error", state.Err != nil,
		"duration_ms", result.ResponseTimeMs)

	return result, state.Err
}

func (e *Engine) buildResult(s *QueryState, started time.Time) *Result {
	sources := make([]Source, 0, len(s.Docs))
	for _, d := range s.Docs {
		sources = append(sources, Source{
			ID:       d.ID,
			Content:  d.Content,
			Score:    d.Score,
			Distance: d.Distance,
			Metadata: d.Metadata,
		})
	}
	return &Result{
		QueryID:        s.QueryID,
		KBID:           s.KBID,
		Question:       s.Question,
		Category:       s.Category,
		Answer:         s.Answer,
		Sources:        sources,
		Confidence:     s.Confidence,
		Iterations:     s.Iteration,
		Steps:          s.Steps,
		ResponseTimeMs: time.Since(started).Milliseconds(),
	}
}

func hitName(kind cache.HitKind) string {
	switch kind {
	case cache.HitExact:
		return "exact"
	case cache.HitSemantic:
		return "semantic"
	default:
		return ""
	}
}
