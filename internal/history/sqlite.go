package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

// sqliteDDL is the archive schema, kept here so the package stays
// self-contained (CREATE TABLE IF NOT EXISTS makes it idempotent).
const sqliteDDL = `
CREATE TABLE IF NOT EXISTS chat_messages (
    message_id TEXT PRIMARY KEY,
    room       TEXT NOT NULL,
    session_id TEXT NOT NULL,
    body       TEXT NOT NULL,
    sent_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_room_sent
    ON chat_messages (room, sent_at);
`

// SQLiteStore is a WAL-mode SQLite-backed archive, suitable for
// single-process deployments that want history without running PostgreSQL.
// It is safe for concurrent use.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the SQLite database at path, enables WAL
// journal mode, and applies the schema. If path is ":memory:", an in-memory
// database is used; this is suitable for tests but loses all data when
// closed.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %q: %w", path, err)
	}

	// SQLite allows only one writer at a time. Limiting the pool to a single
	// connection avoids "database is locked" errors when multiple sessions
	// archive concurrently; each call serialises through this connection.
	db.SetMaxOpenConns(1)

	// WAL mode: readers and the single writer proceed concurrently.
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: set WAL mode: %w", err)
	}

	// NORMAL synchronous: durable across application crashes; not OS
	// crashes. A chat archive does not warrant FULL's write cost.
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: set synchronous = NORMAL: %w", err)
	}

	if _, err := db.Exec(sqliteDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveMessage persists msg immediately.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chat_messages (message_id, room, session_id, body, sent_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.MessageID,
		msg.Room,
		msg.SessionID,
		msg.Body,
		msg.SentAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("history: insert message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit messages for room, oldest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, room string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, room, session_id, body, sent_at
		 FROM (
		     SELECT message_id, room, session_id, body, sent_at
		     FROM chat_messages
		     WHERE room = ?
		     ORDER BY sent_at DESC, message_id DESC
		     LIMIT ?
		 )
		 ORDER BY sent_at ASC, message_id ASC`,
		room, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query recent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var sentAt string
		if err := rows.Scan(&m.MessageID, &m.Room, &m.SessionID, &m.Body, &sentAt); err != nil {
			return nil, fmt.Errorf("history: scan message row: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, sentAt)
		if err != nil {
			return nil, fmt.Errorf("history: parse sent_at %q: %w", sentAt, err)
		}
		m.SentAt = ts
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate message rows: %w", err)
	}
	return out, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close(ctx context.Context) error {
	return s.db.Close()
}
