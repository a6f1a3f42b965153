package chat

import (
	"crypto/rsa"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaykit/relay/internal/auth"
	"github.com/relaykit/relay/internal/history"
	"github.com/relaykit/relay/internal/stats"
	"github.com/relaykit/relay/internal/ws"
)

// Handler is the per-session chat participant. It joins the room on open,
// forwards each inbound text message to the room, and leaves on close or
// error.
type Handler struct {
	sess     Conn
	room     *Room
	pubKey   *rsa.PublicKey // nil disables join authentication
	counters *stats.Counters
	logger   *slog.Logger

	joined bool
}

// NewHandler returns the Handler for one session in room. When pubKey is
// non-nil the upgrade request must carry a valid RS256 bearer token in its
// Authorization header; unauthorized sessions are closed without joining.
func NewHandler(sess Conn, room *Room, pubKey *rsa.PublicKey, counters *stats.Counters, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sess:     sess,
		room:     room,
		pubKey:   pubKey,
		counters: counters,
		logger:   logger,
	}
}

// OnOpen authenticates the upgrade request (when configured) and joins the
// room, which replays the recent-message buffer to this session.
func (h *Handler) OnOpen() {
	h.counters.SessionsOpened.Add(1)

	if h.pubKey != nil {
		if _, err := auth.VerifyBearer(h.pubKey, h.sess.Headers()["Authorization"]); err != nil {
			h.logger.Info("chat: rejecting unauthorized session",
				slog.String("session_id", h.sess.ID()),
				slog.Any("error", err),
			)
			_ = h.sess.Close()
			return
		}
	}

	h.joined = true
	h.room.join(h.sess)
}

// OnMessage broadcasts text messages to the room and schedules the next
// read. Binary messages are not meaningful in a chat room and are dropped.
func (h *Handler) OnMessage(msg ws.Message) {
	h.counters.MessagesIn.Add(1)

	if h.joined && msg.Opcode == ws.OpText {
		h.counters.MessagesOut.Add(int64(h.room.Participants()))
		h.room.deliver(history.Message{
			MessageID: uuid.NewString(),
			Room:      h.room.Name(),
			SessionID: h.sess.ID(),
			Body:      msg.Text(),
			SentAt:    time.Now().UTC(),
		})
	}

	h.sess.Read()
}

// OnClose leaves the room.
func (h *Handler) OnClose() {
	h.counters.SessionsClosed.Add(1)
	if h.joined {
		h.room.leave(h.sess.ID())
	}
}

// OnError leaves the room; the session is already gone.
func (h *Handler) OnError(err error) {
	h.counters.SessionsClosed.Add(1)
	h.logger.Debug("chat: session error",
		slog.String("session_id", h.sess.ID()),
		slog.Any("error", err),
	)
	if h.joined {
		h.room.leave(h.sess.ID())
	}
}
