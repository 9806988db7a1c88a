package agent

import (
	"github.com/ananyateklu/second-brain-go/internal/conversation"
	"github.com/ananyateklu/second-brain-go/internal/llm"
	"github.com/ananyateklu/second-brain-go/internal/rag"
)

// EventKind identifies an event in a turn's stream.
type EventKind string

const (
	// EventContextRetrieval reports the retrieval outcome. Emitted exactly
	// once per turn when retrieval is enabled, before any token, even when
	// nothing was found.
	EventContextRetrieval EventKind = "context_retrieval"
	// EventThinking carries a thinking/reasoning text delta.
	EventThinking EventKind = "thinking"
	// EventStatus carries a short human-readable progress line.
	EventStatus EventKind = "status"
	// EventToken carries a response text delta.
	EventToken EventKind = "token"
	// EventToolStart announces a tool execution.
	EventToolStart EventKind = "tool_start"
	// EventToolEnd reports a tool execution's outcome.
	EventToolEnd EventKind = "tool_end"
	// EventGrounding passes through provider citations.
	EventGrounding EventKind = "grounding"
	// EventCodeExecution passes through provider-side code execution results.
	EventCodeExecution EventKind = "code_execution"
	// EventDone is the terminal event of a successful turn.
	EventDone EventKind = "done"
	// EventError is the terminal event of a failed turn.
	EventError EventKind = "error"
)

// Event is one entry in a turn's event stream.
type Event struct {
	Kind EventKind `json:"kind"`

	// Text delta for token and thinking events; message for status events.
	Text string `json:"text,omitempty"`

	// Tool fields, set on tool_start and tool_end.
	ToolID      string `json:"tool_id,omitempty"`
	ToolName    string `json:"tool_name,omitempty"`
	ToolPreview string `json:"tool_preview,omitempty"`
	ToolSuccess bool   `json:"tool_success,omitempty"`
	ToolResult  string `json:"tool_result,omitempty"`

	// Retrieval outcome, set on context_retrieval.
	Retrieval *rag.Context `json:"retrieval,omitempty"`

	// Provider passthrough payloads.
	Grounding []llm.GroundingSource    `json:"grounding,omitempty"`
	CodeExec  *llm.CodeExecutionResult `json:"code_execution,omitempty"`

	// Result is set on the done event.
	Result *TurnResult `json:"result,omitempty"`

	// Err is set on the error event.
	Err error `json:"-"`
}

// TurnResult summarizes a completed turn.
type TurnResult struct {
	ConversationID string                        `json:"conversation_id"`
	Text           string                        `json:"text"`
	Truncated      bool                          `json:"truncated,omitempty"`
	ToolCalls      []conversation.ToolCallRecord `json:"tool_calls,omitempty"`
	RetrievedNotes []rag.RetrievedNote           `json:"retrieved_notes,omitempty"`
	RetrievalID    string                        `json:"retrieval_id,omitempty"`
	Tokens         *conversation.TokenBreakdown  `json:"tokens,omitempty"`
	DurationMs     int64                         `json:"duration_ms"`
}
