// Package history provides the chat archive: every message a room delivers
// is persisted so the admin API can serve history beyond the room's
// in-memory replay buffer. Two backends are available, selected by
// configuration: PostgreSQL (pgxpool, batched inserts) and SQLite (WAL mode,
// single connection). Both satisfy Store.
package history

import (
	"context"
	"time"
)

// Message is one archived chat message.
type Message struct {
	MessageID string    `json:"message_id"`
	Room      string    `json:"room"`
	SessionID string    `json:"session_id"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

// Store is the archive contract consumed by the chat room and the admin API.
type Store interface {
	// SaveMessage persists msg. Implementations may batch; a nil error means
	// the message has been accepted, not necessarily flushed.
	SaveMessage(ctx context.Context, msg Message) error

	// RecentMessages returns up to limit messages for room in chronological
	// order (oldest first).
	RecentMessages(ctx context.Context, room string, limit int) ([]Message, error)

	// Close flushes pending writes and releases the backend.
	Close(ctx context.Context) error
}
