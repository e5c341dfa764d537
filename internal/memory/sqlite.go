package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/skald-ai/skald/internal/llm"
)

// Open opens the production conversation database with WAL mode and a
// busy timeout suitable for a single daemon process.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// SQLiteStore is the persistent Store. Conversations survive daemon
// restarts; the browser reloads them through the API.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the store, running migrations on first use.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate conversations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL DEFAULT '',
		preview    TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- seq guarantees strict append order; timestamps alone are not
	-- monotonic when tool results land within the same millisecond.
	CREATE TABLE IF NOT EXISTS messages (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		id              TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		tool_calls      TEXT,
		tool_call_id    TEXT,
		tool_name       TEXT,
		bookmarked      BOOLEAN NOT NULL DEFAULT FALSE,
		timestamp       TIMESTAMP NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetOrCreate implements Store.
func (s *SQLiteStore) GetOrCreate(id string) (*Conversation, error) {
	now := time.Now()
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO conversations (id, created_at, updated_at)
		VALUES (?, ?, ?)
	`, id, now, now)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return s.Get(id)
}

// Get implements Store.
func (s *SQLiteStore) Get(id string) (*Conversation, error) {
	row := s.db.QueryRow(`
		SELECT id, title, preview, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id)

	var conv Conversation
	if err := row.Scan(&conv.ID, &conv.Title, &conv.Preview, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	msgs, err := s.Messages(id)
	if err != nil {
		return nil, err
	}
	conv.Messages = msgs
	return &conv, nil
}

// List implements Store.
func (s *SQLiteStore) List() ([]Summary, error) {
	rows, err := s.db.Query(`
		SELECT c.id, c.title, c.preview, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.ID, &sm.Title, &sm.Preview, &sm.CreatedAt, &sm.UpdatedAt, &sm.MessageCount); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, sm)
	}
	return summaries, rows.Err()
}

// Append implements Store.
func (s *SQLiteStore) Append(conversationID string, msg Message) (Message, error) {
	existing, err := s.Messages(conversationID)
	if err != nil {
		return Message{}, err
	}
	if err := validateAppend(existing, msg); err != nil {
		return Message{}, err
	}

	if msg.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return Message{}, fmt.Errorf("generate message id: %w", err)
		}
		msg.ID = id.String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	var toolCallsJSON sql.NullString
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return Message{}, fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCallsJSON = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO conversations (id, created_at, updated_at)
		VALUES (?, ?, ?)
	`, conversationID, now, now); err != nil {
		return Message{}, fmt.Errorf("ensure conversation: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_call_id, tool_name, bookmarked, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, conversationID, msg.Role, msg.Content, toolCallsJSON, msg.ToolCallID, msg.ToolName, msg.Bookmarked, msg.Timestamp); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	// Refresh denormalized display fields.
	conv := &Conversation{}
	row := tx.QueryRow(`SELECT title, preview FROM conversations WHERE id = ?`, conversationID)
	if err := row.Scan(&conv.Title, &conv.Preview); err != nil {
		return Message{}, fmt.Errorf("load display fields: %w", err)
	}
	title, preview := displayFields(conv, msg)

	if _, err := tx.Exec(`
		UPDATE conversations SET title = ?, preview = ?, updated_at = ? WHERE id = ?
	`, title, preview, now, conversationID); err != nil {
		return Message{}, fmt.Errorf("update conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Messages implements Store.
func (s *SQLiteStore) Messages(conversationID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, role, content, tool_calls, tool_call_id, tool_name, bookmarked, timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		var toolCallsJSON, toolCallID, toolName sql.NullString
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &toolCallsJSON, &toolCallID, &toolName, &m.Bookmarked, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if toolCallsJSON.Valid && toolCallsJSON.String != "" {
			var calls []llm.ToolCall
			if err := json.Unmarshal([]byte(toolCallsJSON.String), &calls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
			m.ToolCalls = calls
		}
		m.ToolCallID = toolCallID.String
		m.ToolName = toolName.String
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteMessage implements Store.
func (s *SQLiteStore) DeleteMessage(conversationID, messageID string) error {
	res, err := s.db.Exec(`
		DELETE FROM messages WHERE conversation_id = ? AND id = ?
	`, conversationID, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message not found: %s", messageID)
	}
	return nil
}

// ToggleBookmark implements Store.
func (s *SQLiteStore) ToggleBookmark(conversationID, messageID string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE messages SET bookmarked = NOT bookmarked
		WHERE conversation_id = ? AND id = ?
	`, conversationID, messageID)
	if err != nil {
		return false, fmt.Errorf("toggle bookmark: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, fmt.Errorf("message not found: %s", messageID)
	}

	var bookmarked bool
	row := s.db.QueryRow(`SELECT bookmarked FROM messages WHERE id = ?`, messageID)
	if err := row.Scan(&bookmarked); err != nil {
		return false, fmt.Errorf("read bookmark: %w", err)
	}
	return bookmarked, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(conversationID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
		return err
	}
	return tx.Commit()
}

// Stats implements Store.
func (s *SQLiteStore) Stats() map[string]any {
	var convCount, msgCount int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&convCount)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&msgCount)

	return map[string]any{
		"conversations": convCount,
		"messages":      msgCount,
		"storage":       "sqlite",
	}
}
