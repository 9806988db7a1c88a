package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ananyateklu/second-brain-go/internal/agent"
	"github.com/ananyateklu/second-brain-go/internal/tools"
)

type chatStreamRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Message        string `json:"message"`
	SkipRetrieval  bool   `json:"skip_retrieval,omitempty"`
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", b)
	flusher.Flush()
}

// handleChatStream runs one conversation turn and streams its events as SSE.
// Note tools are bound to the requesting user, so the engine is built per
// request; construction is cheap.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = requestUserID(r)
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewSearchNotesTool(s.notes, userID))
	registry.Register(tools.NewGetNoteTool(s.notes, userID))
	registry.Register(tools.NewRecentNotesTool(s.notes, userID))

	engine := agent.NewEngine(s.provider, registry, s.retriever, s.conversations, agent.Options{
		MaxToolCalls:     s.cfg.Agent.MaxToolCalls,
		MaxResponseChars: s.cfg.Agent.MaxResponseChars,
		MaxOutputTokens:  s.cfg.Agent.MaxOutputTokens,
	})

	// The request context cancels the turn when the client disconnects. The
	// engine persists what it has before emitting its terminal event.
	turnReq := agent.TurnRequest{
		ConversationID: req.ConversationID,
		UserID:         userID,
		Message:        req.Message,
		SkipRetrieval:  req.SkipRetrieval,
	}
	events, err := engine.StreamTurn(r.Context(), &turnReq)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	setSSEHeaders(w)
	writeSSEEvent(w, flusher, "start", map[string]string{
		"conversation_id": turnReq.ConversationID,
	})

	for ev := range events {
		switch ev.Kind {
		case agent.EventContextRetrieval:
			writeSSEEvent(w, flusher, "context_retrieval", ev.Retrieval)

		case agent.EventThinking:
			writeSSEEvent(w, flusher, "thinking", map[string]string{"text": ev.Text})

		case agent.EventStatus:
			writeSSEEvent(w, flusher, "status", map[string]string{"message": ev.Text})

		case agent.EventToken:
			writeSSEEvent(w, flusher, "token", map[string]string{"text": ev.Text})

		case agent.EventToolStart:
			writeSSEEvent(w, flusher, "tool_start", map[string]string{
				"id":      ev.ToolID,
				"name":    ev.ToolName,
				"preview": ev.ToolPreview,
			})

		case agent.EventToolEnd:
			writeSSEEvent(w, flusher, "tool_end", map[string]any{
				"id":      ev.ToolID,
				"name":    ev.ToolName,
				"success": ev.ToolSuccess,
				"result":  ev.ToolResult,
			})

		case agent.EventGrounding:
			writeSSEEvent(w, flusher, "grounding", map[string]any{"sources": ev.Grounding})

		case agent.EventCodeExecution:
			writeSSEEvent(w, flusher, "code_execution", ev.CodeExec)

		case agent.EventDone:
			writeSSEEvent(w, flusher, "end", ev.Result)

		case agent.EventError:
			msg := "turn failed"
			if ev.Err != nil {
				msg = ev.Err.Error()
			}
			writeSSEEvent(w, flusher, "error", map[string]string{"error": msg})
		}
	}
}
