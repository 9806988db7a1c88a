package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ananyateklu/second-brain-go/internal/embedding"
	"github.com/ananyateklu/second-brain-go/internal/notes"
)

// RetrievedNote is a note surfaced for a query, carrying the best-scoring
// chunk of that note and where that chunk sits in the source document.
type RetrievedNote struct {
	NoteID     string   `json:"note_id"`
	Title      string   `json:"title"`
	Tags       []string `json:"tags,omitempty"`
	Content    string   `json:"content"`
	ChunkIndex int      `json:"chunk_index"`
	Similarity float64  `json:"similarity"`
}

// Context is the retrieval outcome injected into a conversation turn. It is
// always usable: an empty Notes slice means nothing relevant was found.
type Context struct {
	Notes       []RetrievedNote `json:"notes"`
	RetrievalID string          `json:"retrieval_id,omitempty"`
	Duration    time.Duration   `json:"-"`
}

// Options bounds a retrieval pass.
type Options struct {
	SimilarityFloor float64 // Chunks scoring below are dropped
	MaxChunks       int     // Candidate chunks considered before dedupe
	MaxNotes        int     // Distinct notes returned
}

// RetrieveOptions scopes a single Retrieve call.
type RetrieveOptions struct {
	ConversationID string // Recorded on the retrieval log when set
	Provider       string // Vector store provider filter; defaults to the gateway's embedder
}

// Gateway turns a user query into note context via embedding search.
type Gateway struct {
	store *notes.Store
	embed embedding.EmbeddingProvider
	opts  Options
}

func NewGateway(store *notes.Store, embed embedding.EmbeddingProvider, opts Options) *Gateway {
	if opts.SimilarityFloor <= 0 {
		opts.SimilarityFloor = 0.30
	}
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = 24
	}
	if opts.MaxNotes <= 0 {
		opts.MaxNotes = 5
	}
	return &Gateway{store: store, embed: embed, opts: opts}
}

// Retrieve embeds the query, scans the user's chunk embeddings, and returns
// the best-scoring chunk per distinct note. Every completed search writes a
// retrieval log row, even one that surfaced nothing, so its id can correlate
// later feedback. Retrieval failures never fail the turn: any error is logged
// and an empty Context is returned.
func (g *Gateway) Retrieve(ctx context.Context, userID, query string, ropts RetrieveOptions) *Context {
	out := &Context{}
	start := time.Now()
	defer func() { out.Duration = time.Since(start) }()

	if g == nil || g.store == nil || g.embed == nil {
		return out
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return out
	}

	result, err := g.embed.Embed(ctx, embedding.EmbedRequest{Texts: []string{query}})
	if err != nil {
		log.Warn().Err(err).Msg("retrieval embedding failed, continuing without context")
		return out
	}
	if len(result.Embeddings) == 0 {
		return out
	}
	queryVec := result.Embeddings[0].Vector

	provider := ropts.Provider
	if provider == "" {
		provider = g.embed.Name()
	}
	chunks, err := g.store.VectorSearch(ctx, userID, provider, result.Model, queryVec, g.opts.MaxChunks)
	if err != nil {
		log.Warn().Err(err).Msg("vector search failed, continuing without context")
		return out
	}

	// Keep the best-scoring chunk per note. Chunks arrive sorted by score
	// descending, so the first hit for a note wins.
	seen := make(map[string]bool)
	scores := make(map[string]float64)
	for _, c := range chunks {
		if c.Score < g.opts.SimilarityFloor {
			continue
		}
		scores[c.ChunkID] = c.Score
		if seen[c.NoteID] {
			continue
		}
		seen[c.NoteID] = true
		out.Notes = append(out.Notes, RetrievedNote{
			NoteID:     c.NoteID,
			Title:      c.NoteTitle,
			Tags:       c.NoteTags,
			Content:    c.Content,
			ChunkIndex: c.ChunkIndex,
			Similarity: c.Score,
		})
		if len(out.Notes) >= g.opts.MaxNotes {
			break
		}
	}

	logID, err := g.store.LogRetrieval(ctx, &notes.RetrievalLog{
		UserID:         userID,
		ConversationID: ropts.ConversationID,
		Query:          query,
		NoteIDs:        out.NoteIDs(),
		ChunkScores:    scores,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to record retrieval log")
	} else {
		out.RetrievalID = logID
	}

	return out
}

// PromptBlock renders the retrieved notes as a system prompt section. An
// empty context renders an explicit "nothing found" line so the model does
// not invent notes.
func (c *Context) PromptBlock() string {
	if c == nil || len(c.Notes) == 0 {
		return "No relevant notes were found for this message."
	}

	var b strings.Builder
	b.WriteString("Relevant notes from the user's knowledge base:\n")
	for i, n := range c.Notes {
		title := n.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "\n[Note %d: %s]\n%s\n", i+1, title, n.Content)
	}
	return b.String()
}

// NoteIDs returns the ids of the retrieved notes in rank order.
func (c *Context) NoteIDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, len(c.Notes))
	for i, n := range c.Notes {
		ids[i] = n.NoteID
	}
	return ids
}
