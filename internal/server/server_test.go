package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ananyateklu/second-brain-go/internal/config"
	"github.com/ananyateklu/second-brain-go/internal/conversation"
	"github.com/ananyateklu/second-brain-go/internal/llm"
	"github.com/ananyateklu/second-brain-go/internal/notes"
)

// scriptedProvider streams fixed text responses, one per call.
type scriptedProvider struct {
	responses []string
	calls     int
}

func (p *scriptedProvider) Name() string                   { return "scripted" }
func (p *scriptedProvider) Capabilities() llm.Capabilities { return llm.Capabilities{ToolCalls: true} }

func (p *scriptedProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	if p.calls >= len(p.responses) {
		return nil, fmt.Errorf("no scripted responses left")
	}
	text := p.responses[p.calls]
	p.calls++
	return &textStream{text: text}, nil
}

type textStream struct {
	text string
	done bool
}

func (s *textStream) Recv() (llm.Event, error) {
	if s.done {
		return llm.Event{}, io.EOF
	}
	s.done = true
	return llm.Event{Type: llm.EventTextDelta, Text: s.text}, nil
}

func (s *textStream) Close() error { return nil }

func newTestServer(t *testing.T, provider llm.Provider) *Server {
	t.Helper()
	conversations, err := conversation.NewStore(":memory:")
	if err != nil {
		t.Fatalf("open conversation store: %v", err)
	}
	t.Cleanup(func() { conversations.Close() })

	noteStore, err := notes.NewStore(notes.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open note store: %v", err)
	}
	t.Cleanup(func() { noteStore.Close() })

	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Agent.MaxToolCalls = 20
	cfg.Agent.MaxResponseChars = 120000

	return New(cfg, zerolog.Nop(), provider, nil, conversations, noteStore)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{})
	rec := doJSON(t, s.router(), http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["provider"] != "scripted" {
		t.Errorf("body = %v", body)
	}
}

func TestCreateAndGetNote(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{})
	r := s.router()

	rec := doJSON(t, r, http.MethodPost, "/api/notes/", map[string]any{
		"title":   "Go tips",
		"content": "Always check errors.",
		"tags":    []string{"go"},
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created notes.Note
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" {
		t.Fatal("no note id returned")
	}

	rec = doJSON(t, r, http.MethodGet, "/api/notes/"+created.ID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	// Another user cannot see it.
	rec = doJSON(t, r, http.MethodGet, "/api/notes/"+created.ID, nil, map[string]string{"X-User-ID": "other"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-user get status = %d, want 404", rec.Code)
	}
}

func TestCreateNote_RequiresContent(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{})
	rec := doJSON(t, s.router(), http.MethodPost, "/api/notes/", map[string]any{"title": "empty"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSearchNotes(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{})
	r := s.router()

	doJSON(t, r, http.MethodPost, "/api/notes/", map[string]any{"title": "K8s", "content": "kubernetes pods and services"}, nil)
	doJSON(t, r, http.MethodPost, "/api/notes/", map[string]any{"title": "Bread", "content": "sourdough starter"}, nil)

	rec := doJSON(t, r, http.MethodGet, "/api/notes/search?q=kubernetes", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var results []notes.SearchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 1 || results[0].Title != "K8s" {
		t.Errorf("results = %+v", results)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/notes/search", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing q status = %d, want 400", rec.Code)
	}
}

func TestListConversations_Empty(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{})
	rec := doJSON(t, s.router(), http.MethodGet, "/api/conversations/", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %q, want empty array", rec.Body.String())
	}
}

func TestChatStream_EmitsSSE(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{responses: []string{"hello from the model"}})
	r := s.router()

	rec := doJSON(t, r, http.MethodPost, "/api/chat/stream", map[string]any{
		"message": "hi there",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	body := rec.Body.String()
	for _, event := range []string{"event: start", "event: token", "event: end"} {
		if !strings.Contains(body, event) {
			t.Errorf("SSE body missing %q:\n%s", event, body)
		}
	}
	if !strings.Contains(body, "hello from the model") {
		t.Errorf("SSE body missing streamed text:\n%s", body)
	}
}

func TestChatStream_ConversationContinues(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{responses: []string{"first answer", "second answer"}})
	r := s.router()

	rec := doJSON(t, r, http.MethodPost, "/api/chat/stream", map[string]any{"message": "one"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	// Pull the conversation id out of the start event.
	var convID string
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "conversation_id") {
			var payload map[string]string
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload); err == nil {
				if id, ok := payload["conversation_id"]; ok && id != "" {
					convID = id
					break
				}
			}
		}
	}
	if convID == "" {
		t.Fatalf("no conversation id in stream:\n%s", rec.Body.String())
	}

	rec = doJSON(t, r, http.MethodPost, "/api/chat/stream", map[string]any{
		"message":         "two",
		"conversation_id": convID,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("second turn status = %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/conversations/"+convID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get conversation status = %d", rec.Code)
	}
	var payload struct {
		Messages []conversation.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Messages) != 4 {
		t.Errorf("got %d messages, want 4 (two turns)", len(payload.Messages))
	}
}

func TestChatStream_RequiresMessage(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{})
	rec := doJSON(t, s.router(), http.MethodPost, "/api/chat/stream", map[string]any{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestChatStream_UnknownConversation(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{responses: []string{"x"}})
	rec := doJSON(t, s.router(), http.MethodPost, "/api/chat/stream", map[string]any{
		"message":         "hi",
		"conversation_id": "does-not-exist",
	}, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteConversation_WrongUser(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{responses: []string{"answer"}})
	r := s.router()

	rec := doJSON(t, r, http.MethodPost, "/api/chat/stream", map[string]any{"message": "hi"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	list := doJSON(t, r, http.MethodGet, "/api/conversations/", nil, nil)
	var summaries []conversation.Summary
	if err := json.Unmarshal(list.Body.Bytes(), &summaries); err != nil || len(summaries) == 0 {
		t.Fatalf("list failed: %v, %s", err, list.Body.String())
	}
	id := summaries[0].ID

	rec = doJSON(t, r, http.MethodDelete, "/api/conversations/"+id, nil, map[string]string{"X-User-ID": "other"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-user delete status = %d, want 404", rec.Code)
	}
	rec = doJSON(t, r, http.MethodDelete, "/api/conversations/"+id, nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
}
