package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// Store persists conversations and their message timelines in SQLite.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    archived BOOLEAN DEFAULT FALSE,
    status TEXT DEFAULT 'active',
    user_turns INTEGER DEFAULT 0,
    model_turns INTEGER DEFAULT 0,
    tool_calls INTEGER DEFAULT 0,
    input_tokens INTEGER DEFAULT 0,
    output_tokens INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system', 'tool')),
    content TEXT NOT NULL,
    tool_calls TEXT,
    retrieved_notes TEXT,
    retrieval_id TEXT,
    tokens TEXT,
    truncated BOOLEAN DEFAULT FALSE,
    duration_ms INTEGER,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    sequence INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_user_updated ON conversations(user_id, updated_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_conversation_sequence ON messages(conversation_id, sequence);

-- Full-text search on message content
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    content,
    content='messages',
    content_rowid='id'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.id, old.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.id, old.content);
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;
`

// schemaVersion is the current schema version.
// Fresh databases get the full schema from the schema const and start at
// this version; existing databases run migrations to reach it.
const schemaVersion = 1

type migration struct {
	version     int
	description string
	up          func(db *sql.DB) error
}

var migrations = []migration{
	{
		// Migration 1: Add per-message truncated flag
		// Only runs on databases created before the column existed
		version:     1,
		description: "add truncated column to messages",
		up: func(db *sql.DB) error {
			_, err := db.Exec("ALTER TABLE messages ADD COLUMN truncated BOOLEAN DEFAULT FALSE")
			if err != nil && !isDuplicateColumnError(err) {
				return err
			}
			return nil
		},
	},
}

// NewStore opens the conversations database and initializes schema.
func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("conversations db path is required")
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// initSchema initializes the database schema and runs any pending migrations.
// Optimized for the common case: schema already current = single SELECT query.
func initSchema(db *sql.DB) error {
	var currentVersion int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&currentVersion)
	if err == nil && currentVersion >= schemaVersion {
		return nil
	}
	return initSchemaFull(db, err, currentVersion)
}

func initSchemaFull(db *sql.DB, versionErr error, currentVersion int) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create base schema: %w", err)
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	if versionErr != nil && (versionErr == sql.ErrNoRows || strings.Contains(versionErr.Error(), "no such table")) {
		// No version record. A pre-migration DB has the conversations table
		// but no version row; a fresh DB starts at the latest version.
		var tableCount int
		err = db.QueryRow(`
			SELECT COUNT(*) FROM sqlite_master
			WHERE type='table' AND name='conversations'
		`).Scan(&tableCount)
		if err != nil {
			return fmt.Errorf("check conversations table: %w", err)
		}

		if tableCount > 0 {
			currentVersion = 0
		} else {
			currentVersion = schemaVersion
		}

		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", currentVersion); err != nil {
			return fmt.Errorf("insert initial version: %w", err)
		}
	} else if versionErr != nil {
		return fmt.Errorf("get current version: %w", versionErr)
	}

	for _, m := range migrations {
		if m.version > currentVersion {
			if err := m.up(db); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
			}
			if _, err := db.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
				return fmt.Errorf("update version to %d: %w", m.version, err)
			}
		}
	}

	return nil
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate column") ||
		strings.Contains(errStr, "already exists")
}

// Create inserts a new conversation.
func (s *Store) Create(ctx context.Context, c *Conversation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("user_id is required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	if c.Status == "" {
		c.Status = StatusActive
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title, provider, model, created_at, updated_at, archived, status,
		                           user_turns, model_turns, tool_calls, input_tokens, output_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, c.Provider, c.Model, c.CreatedAt, c.UpdatedAt, c.Archived, string(c.Status),
		c.UserTurns, c.ModelTurns, c.ToolCalls, c.InputTokens, c.OutputTokens)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// Get retrieves a conversation by ID. Returns nil when not found.
func (s *Store) Get(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, provider, model, created_at, updated_at, archived, status,
		       user_turns, model_turns, tool_calls, input_tokens, output_tokens
		FROM conversations WHERE id = ?`, id)

	var c Conversation
	var status sql.NullString
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Provider, &c.Model,
		&c.CreatedAt, &c.UpdatedAt, &c.Archived, &status,
		&c.UserTurns, &c.ModelTurns, &c.ToolCalls, &c.InputTokens, &c.OutputTokens)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	if status.Valid {
		c.Status = Status(status.String)
	}
	return &c, nil
}

// UpdateStatus updates just the conversation status.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET status = ?, updated_at = ?
		WHERE id = ?`,
		string(status), time.Now(), id)
	return err
}

// UpdateTitle sets the conversation title.
func (s *Store) UpdateTitle(ctx context.Context, id, title string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET title = ?, updated_at = ?
		WHERE id = ?`,
		title, time.Now(), id)
	return err
}

// AddMetrics increments turn, tool, and token counters.
func (s *Store) AddMetrics(ctx context.Context, id string, modelTurns, toolCalls, inputTokens, outputTokens int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET
		       model_turns = model_turns + ?,
		       tool_calls = tool_calls + ?,
		       input_tokens = input_tokens + ?,
		       output_tokens = output_tokens + ?,
		       updated_at = ?
		WHERE id = ?`,
		modelTurns, toolCalls, inputTokens, outputTokens, time.Now(), id)
	return err
}

// IncrementUserTurns increments the user turn count.
func (s *Store) IncrementUserTurns(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET user_turns = user_turns + 1, updated_at = ?
		WHERE id = ?`,
		time.Now(), id)
	return err
}

// Delete removes a conversation and its messages.
func (s *Store) Delete(ctx context.Context, id string) error {
	// Foreign key cascade handles messages
	result, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("conversation not found: %s", id)
	}
	return nil
}

// List returns conversations matching the options.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	if strings.TrimSpace(opts.UserID) == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `
		SELECT c.id, c.title, c.provider, c.model, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages WHERE conversation_id = c.id) as message_count,
		       c.user_turns, c.model_turns, c.tool_calls, c.input_tokens, c.output_tokens, c.status
		FROM conversations c
		WHERE c.user_id = ?`
	args := []any{opts.UserID}

	if opts.Status != "" {
		query += " AND c.status = ?"
		args = append(args, string(opts.Status))
	}
	if !opts.Archived {
		query += " AND c.archived = FALSE"
	}

	query += " ORDER BY c.updated_at DESC"

	limit := opts.Limit
	if limit == 0 {
		limit = 50 // Default
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var results []Summary
	for rows.Next() {
		var sum Summary
		var status sql.NullString
		err := rows.Scan(&sum.ID, &sum.Title, &sum.Provider, &sum.Model,
			&sum.CreatedAt, &sum.UpdatedAt, &sum.MessageCount,
			&sum.UserTurns, &sum.ModelTurns, &sum.ToolCalls, &sum.InputTokens, &sum.OutputTokens,
			&status)
		if err != nil {
			return nil, fmt.Errorf("scan conversation summary: %w", err)
		}
		if status.Valid {
			sum.Status = Status(status.String)
		}
		results = append(results, sum)
	}
	return results, rows.Err()
}

// Search finds messages containing the query text using FTS5, scoped to a user.
func (s *Store) Search(ctx context.Context, userID, query string, limit int) ([]SearchResult, error) {
	if limit == 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.conversation_id, m.id, c.title, snippet(messages_fts, 0, '**', '**', '...', 32),
		       m.created_at
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		JOIN conversations c ON c.id = m.conversation_id
		WHERE messages_fts MATCH ?
		  AND c.user_id = ?
		ORDER BY rank
		LIMIT ?`, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		err := rows.Scan(&r.ConversationID, &r.MessageID, &r.Title, &r.Snippet, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// AddMessage adds a message to a conversation.
// If msg.Sequence < 0, the sequence number is auto-allocated atomically.
func (s *Store) AddMessage(ctx context.Context, conversationID string, msg *Message) error {
	msg.ConversationID = conversationID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	toolCalls, err := marshalNullable(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("serialize tool calls: %w", err)
	}
	retrievedNotes, err := marshalNullable(msg.RetrievedNotes)
	if err != nil {
		return fmt.Errorf("serialize retrieved notes: %w", err)
	}
	var tokens sql.NullString
	if msg.Tokens != nil {
		data, err := json.Marshal(msg.Tokens)
		if err != nil {
			return fmt.Errorf("serialize token breakdown: %w", err)
		}
		tokens = sql.NullString{String: string(data), Valid: true}
	}

	// Use transaction for atomic sequence allocation
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if msg.Sequence < 0 {
		var maxSeq sql.NullInt64
		err = tx.QueryRowContext(ctx,
			`SELECT MAX(sequence) FROM messages WHERE conversation_id = ?`,
			conversationID).Scan(&maxSeq)
		if err != nil {
			return fmt.Errorf("get max sequence: %w", err)
		}
		if maxSeq.Valid {
			msg.Sequence = int(maxSeq.Int64) + 1
		} else {
			msg.Sequence = 0
		}
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, role, content, tool_calls, retrieved_notes, retrieval_id, tokens, truncated, duration_ms, created_at, sequence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conversationID, string(msg.Role), msg.Content, toolCalls, retrievedNotes,
		nullString(msg.RetrievalID), tokens, msg.Truncated, msg.DurationMs, msg.CreatedAt, msg.Sequence)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, _ := result.LastInsertId()
	msg.ID = id

	_, err = tx.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?",
		time.Now(), conversationID)
	if err != nil {
		return fmt.Errorf("update conversation timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetMessages retrieves messages for a conversation in sequence order.
func (s *Store) GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error) {
	query := `
		SELECT id, conversation_id, role, content, tool_calls, retrieved_notes, retrieval_id, tokens, truncated, duration_ms, created_at, sequence
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sequence ASC`

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", offset)
	}

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var toolCalls, retrievedNotes, retrievalID, tokens sql.NullString
		var durationMs sql.NullInt64
		err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&toolCalls, &retrievedNotes, &retrievalID, &tokens, &msg.Truncated,
			&durationMs, &msg.CreatedAt, &msg.Sequence)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if durationMs.Valid {
			msg.DurationMs = durationMs.Int64
		}
		if retrievalID.Valid {
			msg.RetrievalID = retrievalID.String
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("deserialize tool calls: %w", err)
			}
		}
		if retrievedNotes.Valid && retrievedNotes.String != "" {
			if err := json.Unmarshal([]byte(retrievedNotes.String), &msg.RetrievedNotes); err != nil {
				return nil, fmt.Errorf("deserialize retrieved notes: %w", err)
			}
		}
		if tokens.Valid && tokens.String != "" {
			msg.Tokens = &TokenBreakdown{}
			if err := json.Unmarshal([]byte(tokens.String), msg.Tokens); err != nil {
				return nil, fmt.Errorf("deserialize token breakdown: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// marshalNullable serializes a slice to JSON, returning NULL for empty slices.
func marshalNullable[T any](v []T) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// nullString converts an empty string to NULL for database storage.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
