package notes

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ananyateklu/second-brain-go/internal/embedding"
	_ "modernc.org/sqlite"
)

// Config controls note store initialization.
type Config struct {
	Path string // DB path (supports :memory:)
}

// Note is a user-authored note, the unit of knowledge retrieval.
type Note struct {
	ID        string
	UserID    string
	Title     string
	Content   string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chunk is a slice of a note's content sized for embedding.
type Chunk struct {
	ID      string
	NoteID  string
	Index   int
	Content string
}

// ScoredChunk is a chunk paired with its note metadata and a relevance score.
type ScoredChunk struct {
	ChunkID    string    `json:"chunk_id"`
	NoteID     string    `json:"note_id"`
	NoteTitle  string    `json:"note_title"`
	NoteTags   []string  `json:"note_tags,omitempty"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	UpdatedAt  time.Time `json:"-"`
	Score      float64   `json:"score"`
	Vector     []float64 `json:"-"`
}

// SearchResult is a BM25 result from FTS.
type SearchResult struct {
	NoteID  string  `json:"note_id"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// RetrievalLog records which notes were surfaced for a query. A log row is
// written for every retrieval, including ones that surfaced nothing, so
// feedback can always be correlated back to what was searched.
type RetrievalLog struct {
	ID             string
	UserID         string
	ConversationID string
	Query          string
	NoteIDs        []string
	ChunkScores    map[string]float64
	CreatedAt      time.Time
}

// Store persists notes, chunks, embeddings, and retrieval logs.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS notes (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    title      TEXT NOT NULL,
    content    TEXT NOT NULL,
    tags       TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notes_user_updated ON notes(user_id, updated_at DESC);

CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
    id UNINDEXED,
    user_id UNINDEXED,
    title,
    content,
    content='notes',
    content_rowid='rowid',
    tokenize='unicode61'
);

CREATE TABLE IF NOT EXISTS note_chunks (
    id        TEXT PRIMARY KEY,
    note_id   TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
    chunk_idx INTEGER NOT NULL,
    content   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_note ON note_chunks(note_id);

CREATE TABLE IF NOT EXISTS chunk_embeddings (
    chunk_id    TEXT NOT NULL REFERENCES note_chunks(id) ON DELETE CASCADE,
    provider    TEXT NOT NULL,
    model       TEXT NOT NULL,
    dimensions  INTEGER NOT NULL,
    vector      BLOB NOT NULL,
    embedded_at DATETIME NOT NULL,
    PRIMARY KEY (chunk_id, provider, model)
);

CREATE TABLE IF NOT EXISTS retrieval_logs (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    conversation_id TEXT NOT NULL DEFAULT '',
    query           TEXT NOT NULL,
    note_ids        TEXT NOT NULL,
    chunk_scores    TEXT NOT NULL DEFAULT '{}',
    created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS notes_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// NewStore opens the notes database and initializes schema.
func NewStore(cfg Config) (*Store, error) {
	dbPath := strings.TrimSpace(cfg.Path)
	if dbPath == "" {
		return nil, fmt.Errorf("notes db path is required")
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create notes data directory: %w", err)
		}
	}

	dsn := dbPath
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	dsn += "_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open notes db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize notes schema: %w", err)
	}

	return &Store{db: db}, nil
}

// CreateNote inserts a note with its chunks and syncs FTS explicitly.
func (s *Store) CreateNote(ctx context.Context, n *Note, chunks []Chunk) error {
	if n == nil {
		return fmt.Errorf("note is nil")
	}
	if strings.TrimSpace(n.UserID) == "" {
		return fmt.Errorf("user_id is required")
	}
	if strings.TrimSpace(n.Content) == "" {
		return fmt.Errorf("content is required")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}

	tags, err := json.Marshal(n.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notes (id, user_id, title, content, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Title, n.Content, string(tags), n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}

	var rowID int64
	if err := tx.QueryRowContext(ctx, `SELECT rowid FROM notes WHERE id = ?`, n.ID).Scan(&rowID); err != nil {
		return fmt.Errorf("get note rowid: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notes_fts(rowid, id, user_id, title, content) VALUES(?, ?, ?, ?, ?)`,
		rowID, n.ID, n.UserID, n.Title, n.Content); err != nil {
		return fmt.Errorf("sync fts insert: %w", err)
	}

	for i := range chunks {
		c := &chunks[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.NoteID = n.ID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO note_chunks (id, note_id, chunk_idx, content)
			VALUES (?, ?, ?, ?)`,
			c.ID, c.NoteID, c.Index, c.Content); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create note: %w", err)
	}
	return nil
}

// GetNote fetches a note by id, scoped to a user.
func (s *Store) GetNote(ctx context.Context, userID, noteID string) (*Note, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, content, tags, created_at, updated_at
		FROM notes
		WHERE id = ? AND user_id = ?`, noteID, userID)

	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	return n, nil
}

// ListRecent returns a user's notes sorted by updated_at descending.
func (s *Store) ListRecent(ctx context.Context, userID string, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, content, tags, created_at, updated_at
		FROM notes
		WHERE user_id = ?
		ORDER BY updated_at DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent notes: %w", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchBM25 performs BM25 search over FTS5 scoped to a user.
func (s *Store) SearchBM25(ctx context.Context, userID, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 6
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id,
		       n.title,
		       snippet(notes_fts, 3, '[', ']', '...', 24) AS snippet,
		       bm25(notes_fts) AS score
		FROM notes_fts
		JOIN notes n ON n.rowid = notes_fts.rowid
		WHERE notes_fts MATCH ?
		  AND n.user_id = ?
		ORDER BY bm25(notes_fts)
		LIMIT ?`, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("search notes: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		var rawScore float64
		if err := rows.Scan(&r.NoteID, &r.Title, &r.Snippet, &rawScore); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		// SQLite FTS5 bm25() returns negative values (more negative = more relevant).
		r.Score = -rawScore
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertEmbedding inserts or updates an embedding vector for a chunk.
func (s *Store) UpsertEmbedding(ctx context.Context, chunkID, provider, model string, vec []float64) error {
	if strings.TrimSpace(chunkID) == "" {
		return fmt.Errorf("chunk_id is required")
	}
	if strings.TrimSpace(provider) == "" || strings.TrimSpace(model) == "" {
		return fmt.Errorf("provider and model are required")
	}
	if len(vec) == 0 {
		return fmt.Errorf("vector cannot be empty")
	}

	payload, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("encode embedding vector: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chunk_embeddings(chunk_id, provider, model, dimensions, vector, embedded_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id, provider, model) DO UPDATE SET
			dimensions = excluded.dimensions,
			vector = excluded.vector,
			embedded_at = excluded.embedded_at`,
		chunkID, provider, model, len(vec), payload, time.Now())
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// VectorSearch performs a full cosine similarity scan over a user's chunk
// embeddings for the given provider and model.
func (s *Store) VectorSearch(ctx context.Context, userID, provider, model string, queryVec []float64, limit int) ([]ScoredChunk, error) {
	if len(queryVec) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}
	if strings.TrimSpace(provider) == "" || strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("provider and model are required")
	}
	if limit <= 0 {
		limit = 24
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.note_id, n.title, n.tags, c.chunk_idx, c.content, n.updated_at, e.vector
		FROM chunk_embeddings e
		JOIN note_chunks c ON c.id = e.chunk_id
		JOIN notes n ON n.id = c.note_id
		WHERE e.provider = ? AND e.model = ? AND e.dimensions = ?
		  AND n.user_id = ?`,
		provider, model, len(queryVec), userID)
	if err != nil {
		return nil, fmt.Errorf("vector search query: %w", err)
	}
	defer rows.Close()

	matches := make([]ScoredChunk, 0, limit)
	for rows.Next() {
		var r ScoredChunk
		var tags string
		var payload []byte
		if err := rows.Scan(&r.ChunkID, &r.NoteID, &r.NoteTitle, &tags, &r.ChunkIndex, &r.Content, &r.UpdatedAt, &payload); err != nil {
			return nil, fmt.Errorf("scan vector search row: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &r.NoteTags); err != nil {
			return nil, fmt.Errorf("decode tags for chunk %s: %w", r.ChunkID, err)
		}
		if err := json.Unmarshal(payload, &r.Vector); err != nil {
			return nil, fmt.Errorf("decode stored vector for chunk %s: %w", r.ChunkID, err)
		}
		r.Score = embedding.CosineSimilarity(queryVec, r.Vector)
		matches = append(matches, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].UpdatedAt.After(matches[j].UpdatedAt)
		}
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// LogRetrieval records a retrieval and returns the log's id.
func (s *Store) LogRetrieval(ctx context.Context, log *RetrievalLog) (string, error) {
	if log == nil {
		return "", fmt.Errorf("retrieval log is nil")
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	noteIDs, err := json.Marshal(log.NoteIDs)
	if err != nil {
		return "", fmt.Errorf("encode note ids: %w", err)
	}
	scores, err := json.Marshal(log.ChunkScores)
	if err != nil {
		return "", fmt.Errorf("encode chunk scores: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO retrieval_logs(id, user_id, conversation_id, query, note_ids, chunk_scores, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.UserID, log.ConversationID, log.Query, string(noteIDs), string(scores), log.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert retrieval log: %w", err)
	}
	return log.ID, nil
}

// GetRetrievalLog fetches a retrieval log by id.
func (s *Store) GetRetrievalLog(ctx context.Context, id string) (*RetrievalLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, conversation_id, query, note_ids, chunk_scores, created_at
		FROM retrieval_logs
		WHERE id = ?`, id)

	var log RetrievalLog
	var noteIDs, scores string
	err := row.Scan(&log.ID, &log.UserID, &log.ConversationID, &log.Query, &noteIDs, &scores, &log.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get retrieval log: %w", err)
	}
	if err := json.Unmarshal([]byte(noteIDs), &log.NoteIDs); err != nil {
		return nil, fmt.Errorf("decode note ids: %w", err)
	}
	if err := json.Unmarshal([]byte(scores), &log.ChunkScores); err != nil {
		return nil, fmt.Errorf("decode chunk scores: %w", err)
	}
	return &log, nil
}

// ChunksNeedingEmbedding returns chunks missing an embedding for provider+model.
func (s *Store) ChunksNeedingEmbedding(ctx context.Context, provider, model string, limit int) ([]Chunk, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.note_id, c.chunk_idx, c.content
		FROM note_chunks c
		LEFT JOIN chunk_embeddings e
		  ON e.chunk_id = c.id AND e.provider = ? AND e.model = ?
		WHERE e.chunk_id IS NULL
		LIMIT ?`, provider, model, limit)
	if err != nil {
		return nil, fmt.Errorf("query chunks needing embedding: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.NoteID, &c.Index, &c.Content); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanNote(scanner interface{ Scan(dest ...any) error }) (*Note, error) {
	var n Note
	var tags string
	err := scanner.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &tags, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &n.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return &n, nil
}
