// Package echo implements the simplest application on top of the session
// engine: every inbound text or binary message is written straight back with
// the same opcode, and the next read is scheduled only once the echo has
// been handed to the transport.
package echo

import (
	"log/slog"

	"github.com/relaykit/relay/internal/stats"
	"github.com/relaykit/relay/internal/ws"
)

// Conn is the subset of *ws.Session the echo application uses; an interface
// so tests can substitute a fake session.
type Conn interface {
	ID() string
	Read()
	Write(op ws.Opcode, payload []byte, completion func()) error
}

// Handler echoes messages on one session.
type Handler struct {
	sess     Conn
	counters *stats.Counters
	logger   *slog.Logger
}

// NewHandler returns the echo Handler for sess.
func NewHandler(sess Conn, counters *stats.Counters, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sess: sess, counters: counters, logger: logger}
}

func (h *Handler) OnOpen() {
	h.counters.SessionsOpened.Add(1)
	h.logger.Debug("echo: session open", slog.String("session_id", h.sess.ID()))
}

// OnMessage writes the payload back with the same opcode. The next read is
// scheduled from the write completion, so a slow transport paces the client.
func (h *Handler) OnMessage(msg ws.Message) {
	h.counters.MessagesIn.Add(1)
	h.counters.MessagesOut.Add(1)

	err := h.sess.Write(msg.Opcode, msg.Payload, func() {
		h.sess.Read()
	})
	if err != nil {
		h.logger.Debug("echo: write rejected",
			slog.String("session_id", h.sess.ID()),
			slog.Any("error", err),
		)
	}
}

func (h *Handler) OnClose() {
	h.counters.SessionsClosed.Add(1)
	h.logger.Debug("echo: session closed", slog.String("session_id", h.sess.ID()))
}

func (h *Handler) OnError(err error) {
	h.counters.SessionsClosed.Add(1)
	h.logger.Debug("echo: session error",
		slog.String("session_id", h.sess.ID()),
		slog.Any("error", err),
	)
}
