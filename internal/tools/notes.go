package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ananyateklu/second-brain-go/internal/llm"
	"github.com/ananyateklu/second-brain-go/internal/notes"
)

const (
	SearchNotesToolName = "search_notes"
	GetNoteToolName     = "get_note"
	RecentNotesToolName = "recent_notes"
)

// SearchNotesTool searches the user's notes with full-text search.
type SearchNotesTool struct {
	store  *notes.Store
	userID string
}

func NewSearchNotesTool(store *notes.Store, userID string) *SearchNotesTool {
	return &SearchNotesTool{store: store, userID: userID}
}

func (t *SearchNotesTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        SearchNotesToolName,
		Description: "Search the user's notes by keyword. Returns matching notes with snippets. Use this when the user asks about something they may have written down.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search keywords",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (default 6)",
				},
			},
			"required":             []string{"query"},
			"additionalProperties": false,
		},
	}
}

func (t *SearchNotesTool) Preview(args json.RawMessage) string {
	var p struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &p); err != nil || p.Query == "" {
		return ""
	}
	return fmt.Sprintf("Searching notes: %s", p.Query)
}

func (t *SearchNotesTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var p struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("parse arguments: %w", err)
	}
	if strings.TrimSpace(p.Query) == "" {
		return "", fmt.Errorf("query is required")
	}

	results, err := t.store.SearchBM25(ctx, t.userID, p.Query, p.Limit)
	if err != nil {
		return "", fmt.Errorf("search notes: %w", err)
	}
	if len(results) == 0 {
		return "No notes matched the query.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d notes:\n", len(results))
	for _, r := range results {
		title := r.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "\n- %s (id: %s)\n  %s\n", title, r.NoteID, r.Snippet)
	}
	return b.String(), nil
}

// GetNoteTool fetches the full content of a note by id.
type GetNoteTool struct {
	store  *notes.Store
	userID string
}

func NewGetNoteTool(store *notes.Store, userID string) *GetNoteTool {
	return &GetNoteTool{store: store, userID: userID}
}

func (t *GetNoteTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        GetNoteToolName,
		Description: "Fetch the full content of a note by its id. Use after search_notes to read a note in full.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"note_id": map[string]interface{}{
					"type":        "string",
					"description": "The note's id",
				},
			},
			"required":             []string{"note_id"},
			"additionalProperties": false,
		},
	}
}

func (t *GetNoteTool) Preview(args json.RawMessage) string {
	var p struct {
		NoteID string `json:"note_id"`
	}
	if err := json.Unmarshal(args, &p); err != nil || p.NoteID == "" {
		return ""
	}
	return fmt.Sprintf("Reading note %s", p.NoteID)
}

func (t *GetNoteTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var p struct {
		NoteID string `json:"note_id"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("parse arguments: %w", err)
	}
	if strings.TrimSpace(p.NoteID) == "" {
		return "", fmt.Errorf("note_id is required")
	}

	n, err := t.store.GetNote(ctx, t.userID, p.NoteID)
	if err != nil {
		return "", fmt.Errorf("get note: %w", err)
	}
	if n == nil {
		return "", fmt.Errorf("note %s not found", p.NoteID)
	}

	title := n.Title
	if title == "" {
		title = "Untitled"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s", title, n.Content)
	if len(n.Tags) > 0 {
		fmt.Fprintf(&b, "\n\nTags: %s", strings.Join(n.Tags, ", "))
	}
	return b.String(), nil
}

// RecentNotesTool lists the user's most recently updated notes.
type RecentNotesTool struct {
	store  *notes.Store
	userID string
}

func NewRecentNotesTool(store *notes.Store, userID string) *RecentNotesTool {
	return &RecentNotesTool{store: store, userID: userID}
}

func (t *RecentNotesTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        RecentNotesToolName,
		Description: "List the user's most recently updated notes with titles and ids.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of notes (default 10)",
				},
			},
			"additionalProperties": false,
		},
	}
}

func (t *RecentNotesTool) Preview(args json.RawMessage) string {
	return "Listing recent notes"
}

func (t *RecentNotesTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var p struct {
		Limit int `json:"limit"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &p); err != nil {
			return "", fmt.Errorf("parse arguments: %w", err)
		}
	}

	list, err := t.store.ListRecent(ctx, t.userID, p.Limit)
	if err != nil {
		return "", fmt.Errorf("list recent notes: %w", err)
	}
	if len(list) == 0 {
		return "The user has no notes yet.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d recent notes:\n", len(list))
	for _, n := range list {
		title := n.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "\n- %s (id: %s, updated: %s)\n", title, n.ID, n.UpdatedAt.Format("2006-01-02"))
	}
	return b.String(), nil
}
