// Package telemetry implements the periodic-push application: once a
// session opens, the server sends it a binary reading on a fixed interval
// without waiting for client traffic. The reading is a bounded random walk
// serialized as a big-endian float64, standing in for any sensor a real
// deployment would sample.
package telemetry

import (
	"encoding/binary"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/relaykit/relay/internal/stats"
	"github.com/relaykit/relay/internal/ws"
)

// DefaultInterval is the push cadence when none is configured.
const DefaultInterval = 100 * time.Millisecond

// angleLimit clamps the random walk to ±angleLimit.
const angleLimit = 20.0

// Conn is the subset of *ws.Session the telemetry application uses; an
// interface so tests can substitute a fake session.
type Conn interface {
	ID() string
	Read()
	Write(op ws.Opcode, payload []byte, completion func()) error
}

// Handler pushes readings to one session. The next push is armed from the
// previous push's write completion, so at most one telemetry frame is in the
// write queue at a time and a slow client never accumulates a backlog.
type Handler struct {
	sess     Conn
	interval time.Duration
	counters *stats.Counters
	logger   *slog.Logger

	mu      sync.Mutex
	angle   float64
	timer   *time.Timer
	stopped bool
}

// NewHandler returns the telemetry Handler for sess. interval ≤ 0 defaults
// to DefaultInterval.
func NewHandler(sess Conn, interval time.Duration, counters *stats.Counters, logger *slog.Logger) *Handler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sess:     sess,
		interval: interval,
		counters: counters,
		logger:   logger,
	}
}

// OnOpen arms the first push.
func (h *Handler) OnOpen() {
	h.counters.SessionsOpened.Add(1)
	h.logger.Debug("telemetry: session open", slog.String("session_id", h.sess.ID()))
	h.schedule()
}

// OnMessage ignores the payload; clients are not expected to send anything,
// but a chatty one should not stall the session.
func (h *Handler) OnMessage(ws.Message) {
	h.counters.MessagesIn.Add(1)
	h.sess.Read()
}

func (h *Handler) OnClose() {
	h.counters.SessionsClosed.Add(1)
	h.stop()
	h.logger.Debug("telemetry: session closed", slog.String("session_id", h.sess.ID()))
}

func (h *Handler) OnError(err error) {
	h.counters.SessionsClosed.Add(1)
	h.stop()
	h.logger.Debug("telemetry: session error",
		slog.String("session_id", h.sess.ID()),
		slog.Any("error", err),
	)
}

// schedule arms the next push after interval. The chain ends when stop has
// been called or the session rejects the write.
func (h *Handler) schedule() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.timer = time.AfterFunc(h.interval, h.push)
}

// push writes the current reading and arms the next push from the write
// completion.
func (h *Handler) push() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.step()
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, math.Float64bits(h.angle))
	h.mu.Unlock()

	err := h.sess.Write(ws.OpBinary, payload, h.schedule)
	if err != nil {
		// Session is closing or gone; the close path stops the timer.
		return
	}
	h.counters.MessagesOut.Add(1)
}

// step advances the random walk by a uniform delta in [-1, 1], clamped to
// ±angleLimit. Caller holds h.mu.
func (h *Handler) step() {
	h.angle += rand.Float64()*2 - 1
	if h.angle < -angleLimit {
		h.angle = -angleLimit
	} else if h.angle > angleLimit {
		h.angle = angleLimit
	}
}

// stop cancels any armed push.
func (h *Handler) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	if h.timer != nil {
		h.timer.Stop()
	}
}
