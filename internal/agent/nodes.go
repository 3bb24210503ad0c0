package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Fang088/FF-KB-Robot/internal/confidence"
	"github.com/Fang088/FF-KB-Robot/internal/errors"
	"github.com/Fang088/FF-KB-Robot/internal/llm"
)

// retrieve embeds the question, searches the KB index, and post-processes
// the hits into ranked documents.
func (e *Engine) retrieve(ctx context.Context, s *QueryState, q Query) NodeOutcome {
	started := time.Now()

	s.Category = classifyCached(e.deps.Classifier, s.Question)

	vector, err := e.deps.Embedder.Embed(ctx, s.Question)
	if err != nil {
		return Fail(err)
	}

	index, err := e.deps.Indexes.Index(ctx, s.KBID)
	if err != nil {
		return Fail(err)
	}

	hits, err := index.Search(ctx, vector, e.deps.Post.FetchK())
	if err != nil {
		return Fail(errors.New(errors.ErrCodeRetrievalFailed, "vector search failed", err))
	}

	s.Docs = e.deps.Post.Process(hits, s.Question, s.KBID)
	if q.Fuse != nil {
		s.Docs = q.Fuse(s.Docs)
	}
	s.Retrieved = true

	s.record(nodeRetrieve, fmt.Sprintf("category=%s docs=%d", s.Category, len(s.Docs)), started)
	return Advance()
}

// generate asks the LLM for an answer over the retrieved documents and
// scores it.
func (e *Engine) generate(ctx context.Context, s *QueryState, q Query) NodeOutcome {
	started := time.Now()

	req := llm.Request{
		System: systemPrompt,
		Prompt: buildUserPrompt(s.Docs, s.Question),
		Images: s.Images,
	}

	var answer string
	var err error
	if q.OnDelta != nil {
		answer, err = e.deps.Generator.GenerateStream(ctx, req, q.OnDelta)
	} else {
		answer, err = e.deps.Generator.Generate(ctx, req)
	}
	if err != nil {
		return Fail(err)
	}

	// An empty completion would send decide straight back here; substitute
	// the fallback answer instead of burning the iteration budget.
	if strings.TrimSpace(answer) == "" {
		s.Answer = fallbackAnswer
		s.Confidence = confidence.Score{Level: confidence.LevelLow}
		s.record(nodeGenerate, "empty completion, fallback answer", started)
		return Advance()
	}

	s.Answer = answer
	s.Confidence = e.deps.Scorer.Score(s.Question, answer, s.Docs)

	s.record(nodeGenerate, fmt.Sprintf("confidence=%.2f", s.Confidence.Overall), started)
	return Advance()
}

// processTools records pending tool calls as handled. Tool use is accepted
// in the state but not executed.
func (e *Engine) processTools(_ context.Context, s *QueryState) NodeOutcome {
	started := time.Now()
	for _, call := range s.ToolCalls[len(s.ToolResults):] {
		s.ToolResults = append(s.ToolResults, ToolResult{CallID: call.ID})
	}
	s.record(nodeProcessTools, fmt.Sprintf("calls=%d", len(s.ToolResults)), started)
	return Advance()
}

// finalize closes the state machine.
func (e *Engine) finalize(_ context.Context, s *QueryState) NodeOutcome {
	started := time.Now()
	detail := "ok"
	if s.Err != nil {
		detail = "error: " + errors.GetCode(s.Err)
	}
	s.record(nodeFinalize, detail, started)
	return Done()
}
