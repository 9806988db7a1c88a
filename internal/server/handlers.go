package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/ananyateklu/second-brain-go/internal/conversation"
	"github.com/ananyateklu/second-brain-go/internal/embedding"
	"github.com/ananyateklu/second-brain-go/internal/notes"
)

// defaultUserID is used when no X-User-ID header is present. The server is
// typically a single-user personal deployment.
const defaultUserID = "local"

func requestUserID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
		return id
	}
	return defaultUserID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := s.conversations.List(r.Context(), conversation.ListOptions{
		UserID: requestUserID(r),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []conversation.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, err := s.conversations.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if conv == nil || conv.UserID != requestUserID(r) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	msgs, err := s.conversations.GetMessages(r.Context(), id, 0, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"messages":     msgs,
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, err := s.conversations.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if conv == nil || conv.UserID != requestUserID(r) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err := s.conversations.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchConversations(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	results, err := s.conversations.Search(r.Context(), requestUserID(r), query, queryInt(r, "limit"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []conversation.SearchResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

type createNoteRequest struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req createNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	userID := requestUserID(r)
	note := &notes.Note{
		UserID:  userID,
		Title:   req.Title,
		Content: req.Content,
		Tags:    req.Tags,
	}
	chunks := notes.SplitChunks(req.Content)
	if err := s.notes.CreateNote(r.Context(), note, chunks); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Embed chunks inline. A failure leaves the note searchable via FTS and
	// the chunks queued for ChunksNeedingEmbedding.
	if s.embedProvider != nil && len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		result, err := s.embedProvider.Embed(r.Context(), embedding.EmbedRequest{Texts: texts})
		if err != nil {
			log.Warn().Err(err).Str("note", note.ID).Msg("failed to embed note chunks")
		} else {
			for i, emb := range result.Embeddings {
				if i >= len(chunks) {
					break
				}
				if err := s.notes.UpsertEmbedding(r.Context(), chunks[i].ID, s.embedProvider.Name(), result.Model, emb.Vector); err != nil {
					log.Warn().Err(err).Str("chunk", chunks[i].ID).Msg("failed to store chunk embedding")
				}
			}
		}
	}

	writeJSON(w, http.StatusCreated, note)
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	list, err := s.notes.ListRecent(r.Context(), requestUserID(r), queryInt(r, "limit"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []notes.Note{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	note, err := s.notes.GetNote(r.Context(), requestUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if note == nil {
		writeError(w, http.StatusNotFound, "note not found")
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleSearchNotes(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	results, err := s.notes.SearchBM25(r.Context(), requestUserID(r), query, queryInt(r, "limit"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []notes.SearchResult{}
	}
	writeJSON(w, http.StatusOK, results)
}
