// Package chat implements the chat-room application on top of the session
// engine: every participant's text messages are broadcast to the whole room
// (sender included), and a bounded buffer of recent messages is replayed to
// each joining participant so late arrivals see context.
package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relaykit/relay/internal/history"
	"github.com/relaykit/relay/internal/ws"
)

// DefaultRecentMessages is the depth of the in-memory replay buffer.
const DefaultRecentMessages = 100

// archiveTimeout bounds a single archive write so a slow store cannot stall
// a room broadcast indefinitely.
const archiveTimeout = 5 * time.Second

// Conn is the subset of *ws.Session the chat application uses. Defining an
// interface allows the room and handler to be tested with a fake session
// instead of a live connection.
type Conn interface {
	ID() string
	Headers() map[string]string
	Read()
	Write(op ws.Opcode, payload []byte, completion func()) error
	Close() error
}

// participant is the room's view of one connected session: a handle keyed by
// session id plus the session itself for delivery. The room never holds a
// participant past leave.
type participant struct {
	id   string
	sess Conn
}

// Room is the shared state of one chat channel. All methods are safe for
// concurrent use; sessions run on their own goroutines.
type Room struct {
	name    string
	logger  *slog.Logger
	archive history.Store // nil disables archiving

	mu           sync.Mutex
	participants map[string]*participant
	recent       []history.Message
	maxRecent    int
}

// NewRoom creates a Room named name. archive may be nil; maxRecent ≤ 0
// defaults to DefaultRecentMessages.
func NewRoom(name string, archive history.Store, maxRecent int, logger *slog.Logger) *Room {
	if maxRecent <= 0 {
		maxRecent = DefaultRecentMessages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Room{
		name:         name,
		logger:       logger.With(slog.String("room", name)),
		archive:      archive,
		participants: make(map[string]*participant),
		maxRecent:    maxRecent,
	}
}

// Name returns the room's name.
func (r *Room) Name() string { return r.name }

// Participants returns the number of currently joined participants.
func (r *Room) Participants() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// join registers sess and replays the recent-message buffer to it in arrival
// order.
func (r *Room) join(sess Conn) {
	p := &participant{id: sess.ID(), sess: sess}

	r.mu.Lock()
	r.participants[p.id] = p
	replay := make([]history.Message, len(r.recent))
	copy(replay, r.recent)
	r.mu.Unlock()

	for _, m := range replay {
		// Delivery failures mean the session is already going away; the
		// close path removes it from the room.
		_ = sess.Write(ws.OpText, []byte(m.Body), nil)
	}

	r.logger.Debug("chat: participant joined", slog.String("session_id", p.id))
}

// leave removes the participant with the given session id. Unknown ids are a
// no-op, so the close and error paths can both call it.
func (r *Room) leave(id string) {
	r.mu.Lock()
	_, present := r.participants[id]
	delete(r.participants, id)
	r.mu.Unlock()

	if present {
		r.logger.Debug("chat: participant left", slog.String("session_id", id))
	}
}

// deliver records msg in the replay buffer, archives it, and broadcasts it
// to every participant, including the sender.
func (r *Room) deliver(msg history.Message) {
	r.mu.Lock()
	r.recent = append(r.recent, msg)
	if excess := len(r.recent) - r.maxRecent; excess > 0 {
		r.recent = r.recent[excess:]
	}
	targets := make([]*participant, 0, len(r.participants))
	for _, p := range r.participants {
		targets = append(targets, p)
	}
	r.mu.Unlock()

	if r.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		if err := r.archive.SaveMessage(ctx, msg); err != nil {
			r.logger.Warn("chat: archive write failed", slog.Any("error", err))
		}
		cancel()
	}

	for _, p := range targets {
		_ = p.sess.Write(ws.OpText, []byte(msg.Body), nil)
	}
}
