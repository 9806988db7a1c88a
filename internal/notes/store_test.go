package notes

import (
	"context"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustCreate(t *testing.T, store *Store, userID, title, content string) *Note {
	t.Helper()
	n := &Note{UserID: userID, Title: title, Content: content}
	if err := store.CreateNote(context.Background(), n, SplitChunks(content)); err != nil {
		t.Fatalf("create note: %v", err)
	}
	return n
}

func TestCreateAndGetNote(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n := &Note{
		UserID:  "local",
		Title:   "Go tips",
		Content: "Always check errors.",
		Tags:    []string{"go", "style"},
	}
	if err := store.CreateNote(ctx, n, SplitChunks(n.Content)); err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if n.ID == "" {
		t.Fatal("note ID not assigned")
	}

	got, err := store.GetNote(ctx, "local", n.ID)
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if got == nil {
		t.Fatal("note not found")
	}
	if got.Title != "Go tips" || got.Content != "Always check errors." {
		t.Errorf("got = %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "go" {
		t.Errorf("tags = %v", got.Tags)
	}
}

func TestCreateNote_Validation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateNote(ctx, &Note{Content: "x"}, nil); err == nil {
		t.Error("expected error for missing user")
	}
	if err := store.CreateNote(ctx, &Note{UserID: "local"}, nil); err == nil {
		t.Error("expected error for empty content")
	}
}

func TestGetNote_UserScoped(t *testing.T) {
	store := newTestStore(t)
	n := mustCreate(t, store, "alice", "Private", "alice's note")

	got, err := store.GetNote(context.Background(), "mallory", n.ID)
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if got != nil {
		t.Error("note visible to the wrong user")
	}
}

func TestListRecent(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, "local", "One", "first")
	mustCreate(t, store, "local", "Two", "second")
	mustCreate(t, store, "other", "Theirs", "not mine")

	list, err := store.ListRecent(context.Background(), "local", 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d notes, want 2", len(list))
	}
}

func TestSearchBM25(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, "local", "Go concurrency", "goroutines and channels everywhere")
	mustCreate(t, store, "local", "Gardening", "tomatoes need sun")

	results, err := store.SearchBM25(context.Background(), "local", "goroutines", 10)
	if err != nil {
		t.Fatalf("SearchBM25: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Title != "Go concurrency" {
		t.Errorf("result = %+v", results[0])
	}
	if results[0].Score <= 0 {
		t.Errorf("score = %f, want > 0", results[0].Score)
	}
}

func TestVectorSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n := &Note{UserID: "local", Title: "Vectors", Content: "first\n\nsecond"}
	chunks := []Chunk{
		{Index: 0, Content: "first"},
		{Index: 1, Content: "second"},
	}
	if err := store.CreateNote(ctx, n, chunks); err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if err := store.UpsertEmbedding(ctx, chunks[0].ID, "fake", "m1", []float64{1, 0}); err != nil {
		t.Fatalf("UpsertEmbedding: %v", err)
	}
	if err := store.UpsertEmbedding(ctx, chunks[1].ID, "fake", "m1", []float64{0, 1}); err != nil {
		t.Fatalf("UpsertEmbedding: %v", err)
	}

	got, err := store.VectorSearch(ctx, "local", "fake", "m1", []float64{1, 0}, 10)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	if got[0].Content != "first" {
		t.Errorf("best chunk = %q, want %q", got[0].Content, "first")
	}
	if got[0].Score < got[1].Score {
		t.Error("results not sorted by score descending")
	}
	if got[0].NoteTitle != "Vectors" {
		t.Errorf("NoteTitle = %q", got[0].NoteTitle)
	}
}

func TestVectorSearch_ModelScoped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n := &Note{UserID: "local", Title: "N", Content: "only chunk"}
	chunks := []Chunk{{Index: 0, Content: "only chunk"}}
	if err := store.CreateNote(ctx, n, chunks); err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if err := store.UpsertEmbedding(ctx, chunks[0].ID, "fake", "m1", []float64{1, 0}); err != nil {
		t.Fatalf("UpsertEmbedding: %v", err)
	}

	got, err := store.VectorSearch(ctx, "local", "fake", "other-model", []float64{1, 0}, 10)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(got) != 0 {
		t.Error("embeddings from a different model matched")
	}
}

func TestUpsertEmbedding_Replaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n := &Note{UserID: "local", Title: "N", Content: "chunk"}
	chunks := []Chunk{{Index: 0, Content: "chunk"}}
	if err := store.CreateNote(ctx, n, chunks); err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if err := store.UpsertEmbedding(ctx, chunks[0].ID, "fake", "m1", []float64{1, 0}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := store.UpsertEmbedding(ctx, chunks[0].ID, "fake", "m1", []float64{0, 1}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := store.VectorSearch(ctx, "local", "fake", "m1", []float64{0, 1}, 10)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(got) != 1 || got[0].Score < 0.99 {
		t.Errorf("replaced vector not used: %+v", got)
	}
}

func TestChunksNeedingEmbedding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n := &Note{UserID: "local", Title: "N", Content: "a\n\nb"}
	chunks := []Chunk{
		{Index: 0, Content: "a"},
		{Index: 1, Content: "b"},
	}
	if err := store.CreateNote(ctx, n, chunks); err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if err := store.UpsertEmbedding(ctx, chunks[0].ID, "fake", "m1", []float64{1}); err != nil {
		t.Fatalf("UpsertEmbedding: %v", err)
	}

	pending, err := store.ChunksNeedingEmbedding(ctx, "fake", "m1", 10)
	if err != nil {
		t.Fatalf("ChunksNeedingEmbedding: %v", err)
	}
	if len(pending) != 1 || pending[0].Content != "b" {
		t.Errorf("pending = %+v, want just the unembedded chunk", pending)
	}
}

func TestLogRetrieval(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.LogRetrieval(ctx, &RetrievalLog{
		UserID:         "local",
		ConversationID: "conv-1",
		Query:          "channels",
		NoteIDs:        []string{"n1", "n2"},
		ChunkScores:    map[string]float64{"c1": 0.9},
	})
	if err != nil {
		t.Fatalf("LogRetrieval: %v", err)
	}
	if id == "" {
		t.Fatal("empty retrieval id")
	}

	got, err := store.GetRetrievalLog(ctx, id)
	if err != nil {
		t.Fatalf("GetRetrievalLog: %v", err)
	}
	if got == nil {
		t.Fatal("log not found")
	}
	if got.Query != "channels" || len(got.NoteIDs) != 2 {
		t.Errorf("log = %+v", got)
	}
	if got.ConversationID != "conv-1" {
		t.Errorf("conversation id = %q, want conv-1", got.ConversationID)
	}
	if got.ChunkScores["c1"] != 0.9 {
		t.Errorf("scores = %v", got.ChunkScores)
	}
}
