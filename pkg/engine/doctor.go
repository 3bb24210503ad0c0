package engine

import (
	"context"
	"time"

	"github.com/Fang088/FF-KB-Robot/internal/llm"
)

// Check is one doctor diagnostic result.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Doctor runs health diagnostics: configuration, metadata store
// integrity, and provider reachability.
func (e *Engine) Doctor(ctx context.Context) []Check {
	checks := []Check{e.checkConfig(), e.checkDatabase(ctx), e.checkEmbedding(ctx), e.checkLLM(ctx)}
	return checks
}

func (e *Engine) checkConfig() Check {
	if err := e.cfg.Validate(); err != nil {
		return Check{Name: "config", Detail: err.Error()}
	}
	return Check{Name: "config", OK: true}
}

func (e *Engine) checkDatabase(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result string
	row := e.meta.DB().QueryRowContext(ctx, "PRAGMA quick_check")
	if err := row.Scan(&result); err != nil {
		return Check{Name: "database", Detail: err.Error()}
	}
	if result != "ok" {
		return Check{Name: "database", Detail: "integrity check: " + result}
	}
	return Check{Name: "database", OK: true}
}

func (e *Engine) checkEmbedding(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if !e.embedder.Available(ctx) {
		return Check{Name: "embedding_provider", Detail: "provider unreachable"}
	}
	return Check{Name: "embedding_provider", OK: true, Detail: e.embedder.ModelName()}
}

func (e *Engine) checkLLM(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if _, err := e.generator.Generate(ctx, llm.Request{Prompt: "ping"}); err != nil {
		return Check{Name: "llm_provider", Detail: err.Error()}
	}
	return Check{Name: "llm_provider", OK: true, Detail: e.generator.ModelName()}
}
