// Package agent runs a question through a bounded state machine:
// retrieve documents, generate an answer, score it, finalize. Each node
// reports what to do next through a NodeOutcome instead of a bare bool,
// and the decide step picks the next node from the state alone.
package agent

import (
	"time"

	"github.com/Fang088/FF-KB-Robot/internal/confidence"
	"github.com/Fang088/FF-KB-Robot/internal/llm"
	"github.com/Fang088/FF-KB-Robot/internal/retrieval"
)

// Node names used by decide and recorded in steps.
const (
	nodeRetrieve     = "retrieve"
	nodeGenerate     = "generate"
	nodeProcessTools = "process_tools"
	nodeFinalize     = "finalize"
)

// fallbackAnswer is returned when the iteration budget runs out without a
// confident answer.
const fallbackAnswer = "经过多次尝试，无法基于提供的信息生成满意的答案。"

// DefaultMaxIterations bounds the decide loop.
const DefaultMaxIterations = 10

// DefaultTimeout bounds one query end to end.
const DefaultTimeout = 300 * time.Second

// DefaultConfidenceThreshold is the score above which an answer is
// accepted and the result is cacheable.
const DefaultConfidenceThreshold = 0.5

type outcomeKind int

const (
	outcomeAdvance outcomeKind = iota
	outcomeFail
	outcomeDone
)

// NodeOutcome is what a node hands back to the loop.
type NodeOutcome struct {
	kind outcomeKind
	err  error
}

// Advance returns to decide for the next node.
func Advance() NodeOutcome { return NodeOutcome{kind: outcomeAdvance} }

// Fail records the error on the state and returns to decide, which will
// route to finalize.
func Fail(err error) NodeOutcome { return NodeOutcome{kind: outcomeFail, err: err} }

// Done ends the loop. Only finalize returns it.
func Done() NodeOutcome { return NodeOutcome{kind: outcomeDone} }

// ToolCall is a pending tool invocation recorded on the state. Tool use is
// accepted on the wire but processed as a recorded no-op.
type ToolCall struct {
	ID   string
	Name string
	Args string
}

// ToolResult is the recorded outcome of a tool call.
type ToolResult struct {
	CallID string
	Output string
}

// Step records one node execution for the response's trace.
type Step struct {
	Node       string `json:"node"`
	Detail     string `json:"detail,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// QueryState is the mutable state threaded through the node loop.
type QueryState struct {
	QueryID  string
	KBID     string
	Question string
	Category string

	Docs      []retrieval.Document
	Retrieved bool
	Images    []llm.Image

	Answer     string
	Confidence confidence.Score

	ToolCalls   []ToolCall
	ToolResults []ToolResult

	Steps []Step
	Err   error

	Iteration     int
	MaxIterations int
}

func (s *QueryState) record(node, detail string, started time.Time) {
	s.Steps = append(s.Steps, Step{
		Node:       node,
		Detail:     detail,
		DurationMs: time.Since(started).Milliseconds(),
	})
}

// pendingToolCalls reports tool calls that have no recorded result yet.
func (s *QueryState) pendingToolCalls() bool {
	return len(s.ToolCalls) > len(s.ToolResults)
}
