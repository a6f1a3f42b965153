package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultBatchSize is the maximum number of message rows held in memory
	// before an automatic flush is triggered.
	DefaultBatchSize = 100

	// DefaultFlushInterval is how often the background goroutine flushes
	// pending messages even when the batch has not reached DefaultBatchSize.
	DefaultFlushInterval = 100 * time.Millisecond
)

// pgSchema is the archive DDL, applied idempotently on open.
const pgSchema = `
CREATE TABLE IF NOT EXISTS chat_messages (
    message_id TEXT PRIMARY KEY,
    room       TEXT        NOT NULL,
    session_id TEXT        NOT NULL,
    body       TEXT        NOT NULL,
    sent_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_room_sent
    ON chat_messages (room, sent_at);
`

// PostgresStore is the PostgreSQL-backed archive.
//
// Message ingestion is batched: SaveMessage accumulates rows in memory and
// flushes to the database in a single pgx.Batch round-trip either when the
// buffer reaches batchSize or when the background ticker fires, whichever
// comes first. Chat traffic is bursty; batching keeps a busy room from
// issuing one INSERT round-trip per message.
type PostgresStore struct {
	pool          *pgxpool.Pool
	mu            sync.Mutex
	batch         []Message
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// NewPostgres opens a pgxpool connection to connStr, pings the database,
// applies the schema, and starts the background flush goroutine.
//
// batchSize ≤ 0 is replaced with DefaultBatchSize.
// flushInterval ≤ 0 is replaced with DefaultFlushInterval.
func NewPostgres(ctx context.Context, connStr string, batchSize int, flushInterval time.Duration) (*PostgresStore, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("history: pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: pool.Ping: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}

	s := &PostgresStore{
		pool:          pool,
		batch:         make([]Message, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

// Close stops the background flush goroutine, flushes any remaining buffered
// messages, and closes the connection pool. Safe to call more than once.
func (s *PostgresStore) Close(ctx context.Context) error {
	select {
	case <-s.stopCh:
		// already closed
	default:
		close(s.stopCh)
		<-s.doneCh
		// Best-effort final flush; errors are not propagated on close.
		_ = s.Flush(ctx)
	}
	s.pool.Close()
	return nil
}

// flushLoop is the background goroutine that ticks on flushInterval and
// calls Flush. It exits when stopCh is closed.
func (s *PostgresStore) flushLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			_ = s.Flush(context.Background())
		}
	}
}

// SaveMessage enqueues msg for deferred batch insertion.
//
// If the internal buffer reaches batchSize after appending, Flush is called
// synchronously before returning so that the caller observes back-pressure
// rather than unbounded memory growth.
func (s *PostgresStore) SaveMessage(ctx context.Context, msg Message) error {
	s.mu.Lock()
	s.batch = append(s.batch, msg)
	full := len(s.batch) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush drains the current buffer and sends all rows to PostgreSQL in a
// single pgx.Batch round-trip. Rows that conflict on the primary key are
// silently ignored (idempotent replay support).
//
// Flush is safe to call concurrently: a mutex swap ensures each call drains
// a distinct snapshot of the buffer.
func (s *PostgresStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.batch) == 0 {
		s.mu.Unlock()
		return nil
	}
	toInsert := s.batch
	s.batch = make([]Message, 0, s.batchSize)
	s.mu.Unlock()

	const query = `
		INSERT INTO chat_messages (message_id, room, session_id, body, sent_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING`

	b := &pgx.Batch{}
	for i := range toInsert {
		m := &toInsert[i]
		b.Queue(query, m.MessageID, m.Room, m.SessionID, m.Body, m.SentAt.UTC())
	}

	br := s.pool.SendBatch(ctx, b)
	defer br.Close()
	for range toInsert {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("history: batch insert: %w", err)
		}
	}
	return nil
}

// RecentMessages returns up to limit messages for room, oldest first.
func (s *PostgresStore) RecentMessages(ctx context.Context, room string, limit int) ([]Message, error) {
	const query = `
		SELECT message_id, room, session_id, body, sent_at
		FROM (
			SELECT message_id, room, session_id, body, sent_at
			FROM chat_messages
			WHERE room = $1
			ORDER BY sent_at DESC, message_id DESC
			LIMIT $2
		) latest
		ORDER BY sent_at ASC, message_id ASC`

	rows, err := s.pool.Query(ctx, query, room, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query recent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.MessageID, &m.Room, &m.SessionID, &m.Body, &m.SentAt); err != nil {
			return nil, fmt.Errorf("history: scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate message rows: %w", err)
	}
	return out, nil
}
