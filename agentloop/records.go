package agentloop

import (
	"encoding/json"
	"time"

	"github.com/agentcore/agentcore/llm"
	"github.com/agentcore/agentcore/plugin"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusCompleted     Status = "completed"
	StatusMaxIterations Status = "max_iterations"
	StatusTimeout       Status = "timeout"
	StatusError         Status = "error"
	StatusCancelled     Status = "cancelled"
)

// ToolCallOutcome is the recorded result of one tool execution.
type ToolCallOutcome struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ToolCallRecord is one executed (or declined) tool call.
type ToolCallRecord struct {
	ID        string          `json:"id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
	Result    ToolCallOutcome `json:"result"`
	Timestamp time.Time       `json:"timestamp"`
	Duration  time.Duration   `json:"duration"`
}

// LoopResult is the terminal outcome of a run.
type LoopResult struct {
	Status     Status           `json:"status"`
	Content    string           `json:"content"`
	ToolCalls  []ToolCallRecord `json:"tool_calls"`
	Iterations int              `json:"iterations"`
	Duration   time.Duration    `json:"duration"`
	Error      string           `json:"error,omitempty"`
	// Messages is the accumulated conversation, returned so the stateless
	// caller can persist it or seed a follow-up run.
	Messages []llm.Message `json:"messages"`
}

// ConfirmationRequest is the non-terminal response for a risk-gated tool.
// The caller decides, then re-invokes Run with Messages as history and a
// ConfirmationDecision.
type ConfirmationRequest struct {
	SessionID string          `json:"session_id"`
	ToolCall  llm.ToolCall    `json:"tool_call"`
	Risk      plugin.RiskTier `json:"risk,omitempty"`
	// Messages is the conversation accumulated so far, including the
	// assistant turn that requested the gated tool.
	Messages  []llm.Message    `json:"messages"`
	ToolCalls []ToolCallRecord `json:"tool_calls"`
}

// ConfirmationDecision resolves a prior ConfirmationRequest.
type ConfirmationDecision struct {
	// ToolName the decision applies to (fully-qualified).
	ToolName string `json:"tool_name"`
	// Approved executes the tool; false feeds a "declined" result to the
	// model instead.
	Approved bool `json:"approved"`
}

// RunResponse is a tagged union: exactly one field is non-nil.
type RunResponse struct {
	Result       *LoopResult
	Confirmation *ConfirmationRequest
}

// RunOptions are the per-run inputs beyond the initial message.
type RunOptions struct {
	// History seeds the conversation (stateless replay).
	History []llm.Message
	// OnEvent receives the stream; nil disables emission.
	OnEvent EventSink
	// Confirmation resolves a pending ConfirmationRequest from a previous
	// invocation.
	Confirmation *ConfirmationDecision
	// SkipRetrieval disables knowledge injection for this run even when the
	// engine has retrieval enabled.
	SkipRetrieval bool
	// SessionID correlates events and audit records across re-invocations.
	// Generated when empty.
	SessionID string
}
