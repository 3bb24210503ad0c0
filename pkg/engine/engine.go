// Package engine assembles the stores, caches, providers, and the query
// orchestrator into one embeddable knowledge-base QA engine.
package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/Fang088/FF-KB-Robot/internal/agent"
	"github.com/Fang088/FF-KB-Robot/internal/cache"
	"github.com/Fang088/FF-KB-Robot/internal/chunk"
	"github.com/Fang088/FF-KB-Robot/internal/confidence"
	"github.com/Fang088/FF-KB-Robot/internal/config"
	"github.com/Fang088/FF-KB-Robot/internal/convfile"
	"github.com/Fang088/FF-KB-Robot/internal/embed"
	"github.com/Fang088/FF-KB-Robot/internal/errors"
	"github.com/Fang088/FF-KB-Robot/internal/ingest"
	"github.com/Fang088/FF-KB-Robot/internal/llm"
	"github.com/Fang088/FF-KB-Robot/internal/retrieval"
	"github.com/Fang088/FF-KB-Robot/internal/store"
	"github.com/Fang088/FF-KB-Robot/internal/telemetry"
)

// Engine is the assembled knowledge-base QA system.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	meta      *store.MetaStore
	caches    *cache.Manager[*agent.Result]
	embedder  embed.Embedder
	generator *llm.Client
	indexes   *indexManager
	compactor *store.Compactor
	agent     *agent.Engine
	pipeline  *ingest.Pipeline
	files     *convfile.Store
	fuser     *convfile.Fuser
	janitor   *convfile.Janitor
	recorder  *telemetry.Recorder

	cancelBackground context.CancelFunc
}

// Open builds an engine from cfg. Background workers (cache sweeper,
// compactor, upload janitor) start immediately; Close stops them.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	meta, err := store.OpenMetaStore(ctx, cfg.DBPath())
	if err != nil {
		return nil, err
	}

	caches := cache.NewManager[*agent.Result](cache.Config{
		Embedding: cache.TierConfig{
			MaxSize: cfg.Cache.Embedding.MaxSize,
			TTL:     config.ParseDuration(cfg.Cache.Embedding.TTL, 24*time.Hour),
		},
		Query: cache.TierConfig{
			MaxSize: cfg.Cache.Query.MaxSize,
			TTL:     config.ParseDuration(cfg.Cache.Query.TTL, time.Hour),
		},
		Classifier: cache.TierConfig{
			MaxSize: cfg.Cache.Classifier.MaxSize,
			TTL:     config.ParseDuration(cfg.Cache.Classifier.TTL, 7*24*time.Hour),
		},
		CleanupInterval: config.ParseDuration(cfg.Cache.CleanupInterval, time.Hour),
	}, logger)

	provider, err := embed.NewOpenAIEmbedder(embed.Options{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		BatchSize:  cfg.Embedding.BatchSize,
		Timeout:    config.ParseDuration(cfg.Embedding.Timeout, embed.DefaultTimeout),
	})
	if err != nil {
		meta.Close()
		return nil, err
	}
	embedder := embed.NewCachedEmbedder(provider, caches.Embedding, logger)

	generator, err := llm.NewClient(llm.Options{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		TopP:        cfg.LLM.TopP,
		Timeout:     config.ParseDuration(cfg.LLM.Timeout, llm.DefaultTimeout),
	})
	if err != nil {
		meta.Close()
		return nil, err
	}

	compactor := store.NewCompactor(store.CompactorConfig{
		Enabled:     cfg.Compaction.Enabled,
		IdleTimeout: config.ParseDuration(cfg.Compaction.IdleTimeout, 30*time.Second),
		Cooldown:    config.ParseDuration(cfg.Compaction.Cooldown, time.Hour),
	}, logger)

	indexes := newIndexManager(cfg.IndexDir(), store.HNSWConfig{
		Dimensions:        cfg.Embedding.Dimensions,
		M:                 cfg.HNSW.M,
		EfSearch:          cfg.HNSW.EfSearch,
		Metric:            cfg.HNSW.Metric,
		MaxElements:       cfg.HNSW.MaxElements,
		DeletionThreshold: cfg.Compaction.DeletionThreshold,
	}, compactor, logger)

	post := retrieval.NewPostProcessor(retrieval.Options{
		TopK:                cfg.Retrieval.TopK,
		FetchMultiplier:     cfg.Retrieval.FetchMultiplier,
		SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
	})
	scorer := confidence.NewScorer(confidence.Weights{
		Retrieval:    cfg.Confidence.Retrieval,
		Completeness: cfg.Confidence.Completeness,
		Keyword:      cfg.Confidence.KeywordMatch,
		Quality:      cfg.Confidence.AnswerQuality,
		Consistency:  cfg.Confidence.Consistency,
	})

	orchestrator, err := agent.NewEngine(agent.Deps{
		Embedder:   embedder,
		Generator:  generator,
		Indexes:    indexes,
		Post:       post,
		Scorer:     scorer,
		QueryCache: caches.Query,
		Classifier: caches.Classifier,
		Logger:     logger,
	}, agent.Config{
		MaxIterations:       cfg.Agent.MaxIterations,
		Timeout:             config.ParseDuration(cfg.Agent.Timeout, agent.DefaultTimeout),
		ConfidenceThreshold: cfg.Agent.ConfidenceThreshold,
	})
	if err != nil {
		meta.Close()
		return nil, err
	}

	chunker := chunk.NewChunkerWithOptions(chunk.Options{
		ChunkSize:    cfg.Chunking.ChunkSize,
		ChunkOverlap: cfg.Chunking.ChunkOverlap,
		MinChunkSize: cfg.Chunking.MinChunkSize,
	})
	extractors := ingest.NewRegistry()
	pipeline, err := ingest.NewPipeline(meta, indexes, embedder, chunker, extractors,
		caches.Query, ingest.Options{
			UploadDir:   cfg.UploadDir(),
			MaxFileSize: int64(cfg.Files.MaxFileSizeMB) << 20,
		}, logger)
	if err != nil {
		meta.Close()
		return nil, err
	}

	files, err := convfile.NewStore(filepath.Join(cfg.UploadDir(), "conversations"),
		meta, extractors, int64(cfg.Files.MaxFileSizeMB)<<20, logger)
	if err != nil {
		meta.Close()
		return nil, err
	}
	fuser := convfile.NewFuser(files, cfg.Files.FileWeight, cfg.Files.KBWeight, post.TopK())
	janitor := convfile.NewJanitor(meta, convfile.JanitorConfig{
		TTL:      config.ParseDuration(cfg.Files.UploadTTL, convfile.DefaultUploadTTL),
		Interval: config.ParseDuration(cfg.Files.JanitorInterval, convfile.DefaultJanitorInterval),
		Quota:    int64(cfg.Files.QuotaMB) << 20,
	}, logger)

	sink, err := telemetry.NewJSONLSink(cfg.TelemetryPath())
	if err != nil {
		meta.Close()
		return nil, err
	}
	recorder := telemetry.NewRecorder(sink)

	bgCtx, cancel := context.WithCancel(context.Background())
	compactor.Start(bgCtx)
	janitor.Start()
	go caches.RunSweeper(bgCtx)

	e := &Engine{
		cfg:              cfg,
		logger:           logger,
		meta:             meta,
		caches:           caches,
		embedder:         embedder,
		generator:        generator,
		indexes:          indexes,
		compactor:        compactor,
		agent:            orchestrator,
		pipeline:         pipeline,
		files:            files,
		fuser:            fuser,
		janitor:          janitor,
		recorder:         recorder,
		cancelBackground: cancel,
	}
	logger.Info("engine_ready", "data_dir", cfg.DataDir)
	return e, nil
}

// Close stops background workers and releases every store.
func (e *Engine) Close() error {
	e.cancelBackground()
	e.janitor.Stop()
	e.compactor.Stop()

	var firstErr error
	if err := e.indexes.CloseAll(); err != nil {
		firstErr = err
	}
	if err := e.recorder.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.embedder.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.meta.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	e.logger.Info("engine_closed")
	return firstErr
}

// CreateKB creates a named knowledge base.
func (e *Engine) CreateKB(ctx context.Context, name, description string) (*store.KnowledgeBase, error) {
	return e.meta.CreateKB(ctx, name, description)
}

// ListKBs lists all knowledge bases.
func (e *Engine) ListKBs(ctx context.Context) ([]*store.KnowledgeBase, error) {
	return e.meta.ListKBs(ctx)
}

// ResolveKB finds a knowledge base by ID, falling back to name.
func (e *Engine) ResolveKB(ctx context.Context, nameOrID string) (*store.KnowledgeBase, error) {
	nameOrID = strings.TrimSpace(nameOrID)
	if nameOrID == "" {
		return nil, errors.ValidationError("knowledge base name is required", nil)
	}
	kb, err := e.meta.GetKB(ctx, nameOrID)
	if err == nil {
		return kb, nil
	}
	if errors.GetCode(err) != errors.ErrCodeKBNotFound {
		return nil, err
	}
	return e.meta.GetKBByName(ctx, nameOrID)
}

// DeleteKB removes a knowledge base: metadata, vector index, cached
// queries.
func (e *Engine) DeleteKB(ctx context.Context, nameOrID string) error {
	kb, err := e.ResolveKB(ctx, nameOrID)
	if err != nil {
		return err
	}
	if err := e.meta.DeleteKB(ctx, kb.ID); err != nil {
		return err
	}
	if err := e.indexes.Drop(kb.ID); err != nil {
		return err
	}
	e.caches.Query.InvalidateKB(kb.ID)
	e.logger.Info("kb_deleted", "kb_id", kb.ID, "name", kb.Name)
	return nil
}

// IngestFile ingests one file into the knowledge base.
func (e *Engine) IngestFile(ctx context.Context, nameOrID, path string) (*ingest.Report, error) {
	kb, err := e.ResolveKB(ctx, nameOrID)
	if err != nil {
		return nil, err
	}
	report, err := e.pipeline.IngestFile(ctx, kb.ID, path)
	if err != nil {
		return nil, err
	}
	if err := e.meta.RefreshKBStats(ctx, kb.ID); err != nil {
		e.logger.Warn("kb_stats_refresh_failed", "kb_id", kb.ID, "error", err)
	}
	return report, nil
}

// IngestDir ingests every extractable file under dir.
func (e *Engine) IngestDir(ctx context.Context, nameOrID, dir string) ([]ingest.FileReport, error) {
	kb, err := e.ResolveKB(ctx, nameOrID)
	if err != nil {
		return nil, err
	}
	reports, err := e.pipeline.IngestDir(ctx, kb.ID, dir)
	if err != nil {
		return nil, err
	}
	if err := e.meta.RefreshKBStats(ctx, kb.ID); err != nil {
		e.logger.Warn("kb_stats_refresh_failed", "kb_id", kb.ID, "error", err)
	}
	return reports, nil
}

// ListDocuments lists the knowledge base's documents.
func (e *Engine) ListDocuments(ctx context.Context, nameOrID string) ([]*store.Document, error) {
	kb, err := e.ResolveKB(ctx, nameOrID)
	if err != nil {
		return nil, err
	}
	return e.meta.ListDocuments(ctx, kb.ID)
}

// RemoveDocument deletes one document and its vectors.
func (e *Engine) RemoveDocument(ctx context.Context, nameOrID, docID string) error {
	kb, err := e.ResolveKB(ctx, nameOrID)
	if err != nil {
		return err
	}
	if err := e.pipeline.RemoveDocument(ctx, kb.ID, docID); err != nil {
		return err
	}
	return e.meta.RefreshKBStats(ctx, kb.ID)
}

// AttachFile stores an uploaded conversation file.
func (e *Engine) AttachFile(ctx context.Context, sessionID, filename string, r io.Reader) (*convfile.Attachment, error) {
	return e.files.Attach(ctx, sessionID, filename, r)
}

// AskRequest is one question to the engine.
type AskRequest struct {
	KB       string // Name or ID
	Question string

	// ConversationID, when set, appends the turn to the conversation.
	ConversationID string

	// Attachments are files uploaded with this turn.
	Attachments []*convfile.Attachment

	// OnDelta streams answer fragments as they arrive.
	OnDelta func(string)
}

// Ask answers one question, records telemetry, and persists the
// conversation turn when requested.
func (e *Engine) Ask(ctx context.Context, req AskRequest) (*agent.Result, error) {
	kb, err := e.ResolveKB(ctx, req.KB)
	if err != nil {
		return nil, err
	}

	q := agent.Query{
		KBID:     kb.ID,
		Question: req.Question,
		OnDelta:  req.OnDelta,
	}
	if len(req.Attachments) > 0 {
		hook, err := e.fuser.Hook(ctx, req.Attachments)
		if err != nil {
			return nil, err
		}
		q.Fuse = hook
		images, err := e.fuser.Images(req.Attachments)
		if err != nil {
			return nil, err
		}
		q.Images = images
	}

	result, runErr := e.agent.Run(ctx, q)

	if result != nil {
		e.recorder.Record(telemetry.QueryEvent{
			KBID:       kb.ID,
			Question:   result.Question,
			Category:   result.Category,
			CacheHit:   result.CacheHit,
			Confidence: result.Confidence.Overall,
			Level:      string(result.Confidence.Level),
			Iterations: result.Iterations,
			Sources:    len(result.Sources),
			DurationMs: result.ResponseTimeMs,
			Error:      runErr != nil,
		})
	}

	if runErr != nil {
		return result, runErr
	}

	if req.ConversationID != "" {
		if err := e.appendTurn(ctx, req, result); err != nil {
			e.logger.Warn("conversation_append_failed",
				"conversation_id", req.ConversationID, "error", err)
		}
	}
	return result, nil
}

func (e *Engine) appendTurn(ctx context.Context, req AskRequest, result *agent.Result) error {
	uploaded := make([]string, 0, len(req.Attachments))
	for _, att := range req.Attachments {
		uploaded = append(uploaded, att.Filename)
	}
	userMsg := &store.Message{
		ConversationID: req.ConversationID,
		Role:           "user",
		Content:        req.Question,
		UploadedFiles:  uploaded,
	}
	if err := e.meta.AppendMessage(ctx, userMsg); err != nil {
		return err
	}
	return e.meta.AppendMessage(ctx, &store.Message{
		ConversationID:  req.ConversationID,
		Role:            "assistant",
		Content:         result.Answer,
		Confidence:      result.Confidence.Overall,
		ConfidenceLevel: string(result.Confidence.Level),
		FromCache:       result.FromCache,
		ResponseTimeMs:  result.ResponseTimeMs,
	})
}

// NewConversation starts a conversation scoped to a knowledge base and
// seeds it with a greeting.
func (e *Engine) NewConversation(ctx context.Context, nameOrID, title string) (*store.Conversation, error) {
	kb, err := e.ResolveKB(ctx, nameOrID)
	if err != nil {
		return nil, err
	}
	conv, err := e.meta.CreateConversation(ctx, kb.ID, title)
	if err != nil {
		return nil, err
	}
	welcome := &store.Message{
		ConversationID: conv.ID,
		Role:           "assistant",
		Content:        "你好！我是智能助手，正在使用知识库【" + kb.Name + "】为您服务",
		IsWelcome:      true,
	}
	if err := e.meta.AppendMessage(ctx, welcome); err != nil {
		return nil, err
	}
	conv.MessageCount++
	return conv, nil
}

// Messages returns a conversation's messages in order.
func (e *Engine) Messages(ctx context.Context, conversationID string) ([]*store.Message, error) {
	return e.meta.ListMessages(ctx, conversationID)
}

// Stats reports rolling query stats and cache counters.
type Stats struct {
	Telemetry telemetry.Snapshot     `json:"telemetry"`
	Caches    map[string]cache.Stats `json:"caches"`
}

// Stats returns the engine's runtime counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Telemetry: e.recorder.Snapshot(),
		Caches:    e.caches.AllStats(),
	}
}

// CompactKB forces a compaction of the knowledge base's index.
func (e *Engine) CompactKB(ctx context.Context, nameOrID string) error {
	kb, err := e.ResolveKB(ctx, nameOrID)
	if err != nil {
		return err
	}
	index, err := e.indexes.Index(ctx, kb.ID)
	if err != nil {
		return err
	}
	return index.Compact(ctx)
}

// Extractors exposes the ingest format registry.
func (e *Engine) Extractors() *ingest.Registry {
	return e.pipeline.Extractors()
}

// Config returns the engine's configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}
