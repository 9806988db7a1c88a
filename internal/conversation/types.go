package conversation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ananyateklu/second-brain-go/internal/llm"
	"github.com/ananyateklu/second-brain-go/internal/rag"
)

// Status represents the current state of a conversation.
type Status string

const (
	StatusActive      Status = "active"      // Conversation is open (may be streaming)
	StatusComplete    Status = "complete"    // Last turn finished normally
	StatusError       Status = "error"       // Last turn ended with an error
	StatusInterrupted Status = "interrupted" // Last turn was cancelled by the client
)

// Conversation is a chat thread stored in the database.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"` // First user message or client-provided
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Archived  bool      `json:"archived,omitempty"`
	Status    Status    `json:"status,omitempty"`

	// Conversation metrics
	UserTurns    int `json:"user_turns,omitempty"`    // Number of user messages
	ModelTurns   int `json:"model_turns,omitempty"`   // Number of provider round-trips
	ToolCalls    int `json:"tool_calls,omitempty"`    // Total tool executions
	InputTokens  int `json:"input_tokens,omitempty"`  // Total input tokens used
	OutputTokens int `json:"output_tokens,omitempty"` // Total output tokens used
}

// ToolCallRecord is the persisted record of a single tool execution within
// an assistant message.
type ToolCallRecord struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
	Result      string          `json:"result,omitempty"`
	Success     bool            `json:"success"`
	PreToolText string          `json:"pre_tool_text,omitempty"` // Text the model emitted before this call
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	DurationMs  int64           `json:"duration_ms"`
}

// TokenBreakdown attributes a message's token usage to its sources.
// Estimated is true when counts come from the character heuristic rather
// than provider-reported usage.
type TokenBreakdown struct {
	InputTokens      int  `json:"input_tokens"`
	OutputTokens     int  `json:"output_tokens"`
	ToolDefinitions  int  `json:"tool_definitions,omitempty"`
	ToolArguments    int  `json:"tool_arguments,omitempty"`
	ToolResults      int  `json:"tool_results,omitempty"`
	RetrievalContext int  `json:"retrieval_context,omitempty"`
	RetrievalChunks  int  `json:"retrieval_chunks,omitempty"`
	Estimated        bool `json:"estimated"`
}

// Total returns input plus output tokens.
func (t *TokenBreakdown) Total() int {
	if t == nil {
		return 0
	}
	return t.InputTokens + t.OutputTokens
}

// Message is one entry in a conversation's timeline. Assistant messages
// carry their tool call records and retrieval context so past turns can be
// replayed to the provider exactly.
type Message struct {
	ID             int64               `json:"id"`
	ConversationID string              `json:"conversation_id"`
	Role           llm.Role            `json:"role"`
	Content        string              `json:"content"`
	ToolCalls      []ToolCallRecord    `json:"tool_calls,omitempty"`
	RetrievedNotes []rag.RetrievedNote `json:"retrieved_notes,omitempty"`
	RetrievalID    string              `json:"retrieval_id,omitempty"`
	Tokens         *TokenBreakdown     `json:"tokens,omitempty"`
	Truncated      bool                `json:"truncated,omitempty"` // Response hit the size ceiling
	DurationMs     int64               `json:"duration_ms,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	Sequence       int                 `json:"sequence"`
}

// Summary is a lightweight view of a conversation for listing.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	MessageCount int       `json:"message_count"`
	UserTurns    int       `json:"user_turns,omitempty"`
	ModelTurns   int       `json:"model_turns,omitempty"`
	ToolCalls    int       `json:"tool_calls,omitempty"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
	Status       Status    `json:"status,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ListOptions configures conversation listing.
type ListOptions struct {
	UserID   string // Required: conversations are scoped per user
	Status   Status // Filter by status
	Limit    int    // Max results (0 = use default)
	Offset   int    // Pagination offset
	Archived bool   // Include archived conversations
}

// SearchResult represents a full-text search match over messages.
type SearchResult struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      int64     `json:"message_id"`
	Title          string    `json:"title"`
	Snippet        string    `json:"snippet"`
	CreatedAt      time.Time `json:"created_at"`
}

// TruncateTitle returns the first line of content, truncated to 100 chars.
func TruncateTitle(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "\n"); idx != -1 {
		content = content[:idx]
	}
	if len(content) > 100 {
		content = content[:97] + "..."
	}
	return content
}
