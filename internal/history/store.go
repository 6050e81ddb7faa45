package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"SmargeChat/internal/backend"
	"SmargeChat/internal/transcript"

	_ "github.com/mattn/go-sqlite3"
)

const maxTitleRunes = 50

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	timestamp DATETIME,
	FOREIGN KEY(conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, position);`

// Store is a local SQLite copy of conversations seen by this client. It
// offers the same list/get/delete surface as the remote API so it can
// stand in for it when browsing offline.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (and if needed creates) the history database at path
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveConversation replaces the stored copy of a conversation
func (s *Store) SaveConversation(ctx context.Context, id string, turns []transcript.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, title, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
		id, titleFor(turns), s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO messages (conversation_id, position, role, content, timestamp) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, turn := range turns {
		if _, err := stmt.ExecContext(ctx, id, i, string(turn.Role), turn.Content, turn.Timestamp); err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("conversation saved", "conversation_id", id, "message_count", len(turns))
	return nil
}

// ListConversations returns stored conversations, most recent first
func (s *Store) ListConversations(ctx context.Context) ([]transcript.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, title FROM conversations ORDER BY updated_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	list := []transcript.ConversationSummary{}
	for rows.Next() {
		var c transcript.ConversationSummary
		if err := rows.Scan(&c.ID, &c.Title); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// GetConversation loads the turns of a stored conversation
func (s *Store) GetConversation(ctx context.Context, id string) ([]transcript.Turn, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM conversations WHERE id = ?", id).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation %s: %w", id, backend.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content, timestamp FROM messages WHERE conversation_id = ? ORDER BY position",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	turns := []transcript.Turn{}
	for rows.Next() {
		var (
			role string
			ts   sql.NullTime
			turn transcript.Turn
		)
		if err := rows.Scan(&role, &turn.Content, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if turn.Role, err = transcript.ParseRole(role); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		turn.Timestamp = ts.Time
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// DeleteConversation removes a stored conversation
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, backend.ErrNotFound)
	}
	return nil
}

// titleFor derives a display title from the first user turn
func titleFor(turns []transcript.Turn) string {
	for _, turn := range turns {
		if turn.Role != transcript.RoleUser {
			continue
		}
		title := strings.Join(strings.Fields(turn.Content), " ")
		if utf8.RuneCountInString(title) > maxTitleRunes {
			title = string([]rune(title)[:maxTitleRunes]) + "..."
		}
		if title != "" {
			return title
		}
	}
	return "New Conversation"
}
