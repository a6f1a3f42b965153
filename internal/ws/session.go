package ws

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a Session.
type State int32

const (
	// StateConnecting: created; the opening handshake has not completed.
	StateConnecting State = iota
	// StateOpen: handshake succeeded; the frame decoder is active.
	StateOpen
	// StateClosing: a close frame has been sent or received and the peer has
	// not yet confirmed.
	StateClosing
	// StateClosed: terminal.
	StateClosed
)

// String returns the lower-case state name, for logging.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ErrSessionClosed is returned by Write and Close when the session is not in
// a state that accepts the operation.
var ErrSessionClosed = errors.New("ws: session closed")

// Handler receives session lifecycle events. Implementations are supplied to
// Session.Start by the application; the session guarantees that no two
// callbacks of the same session ever run concurrently, that OnOpen precedes
// every OnMessage, and that OnClose and OnError are mutually exclusive and
// delivered at most once.
//
// After OnMessage the session does not schedule another inbound read; the
// handler must call Read when it is ready for the next message. This is the
// back-pressure mechanism: per-session inbound memory is bounded to one
// in-flight frame.
type Handler interface {
	// OnOpen is invoked once the handshake has succeeded. Headers are
	// readable from this point on.
	OnOpen()

	// OnMessage is invoked for each inbound text or binary frame.
	OnMessage(msg Message)

	// OnClose is invoked once the closing handshake has completed.
	OnClose()

	// OnError is invoked when an inbound read fails on the transport.
	OnError(err error)
}

// Options configures a Session.
type Options struct {
	// Logger receives debug-level protocol events. Defaults to slog.Default.
	Logger *slog.Logger

	// MaxFrameSize is the largest inbound payload accepted, in bytes.
	// Defaults to DefaultMaxFrameSize.
	MaxFrameSize int64

	// WriteTimeout, when positive, bounds each outbound frame write with a
	// deadline on the transport. Zero disables the deadline.
	WriteTimeout time.Duration
}

// outFrame is one entry of the session's write queue: an opcode, a payload,
// and an optional completion callback that runs after the transport write
// returns. closeFrame marks the frame that performs our half of the closing
// handshake.
type outFrame struct {
	opcode     Opcode
	payload    []byte
	completion func()
	closeFrame bool
}

// terminalKind selects which (if any) terminal callback a session delivers.
type terminalKind int

const (
	terminalSilent terminalKind = iota
	terminalClose
	terminalError
)

// Session drives one accepted WebSocket connection: it performs the opening
// handshake, decodes inbound frames, serializes outbound frames through an
// ordered write queue, and reports lifecycle events to its Handler.
//
// Internally a session runs one reader goroutine and one writer goroutine.
// Reads are serialized (at most one frame read in flight) and writes are
// serialized (at most one frame write in flight); handler callbacks are
// serialized by a dispatch mutex so the application never observes
// re-entrancy. The writer goroutine runs until the state reaches
// StateClosed, at which point the transport has been closed. The reader
// goroutine also runs until then, except that it returns early after the
// peer's close frame or after an invalid frame (which leaves the session
// quiescent for reads).
type Session struct {
	id           string
	conn         net.Conn
	br           *bufio.Reader
	logger       *slog.Logger
	maxFrame     int64
	writeTimeout time.Duration

	handler Handler

	mu      sync.Mutex
	state   State
	headers map[string]string
	writeQ  []outFrame
	writing bool

	weInitiatedClose bool
	peerSentClose    bool

	readReq   chan struct{}
	writeKick chan struct{}
	done      chan struct{}

	dispatchMu   sync.Mutex
	terminalOnce sync.Once
}

// NewSession wraps an accepted transport in a Session. The connection may be
// a plain *net.TCPConn or a *tls.Conn whose TLS handshake has already been
// arranged; the session treats both as an opaque byte stream.
func NewSession(conn net.Conn, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxFrame := opts.MaxFrameSize
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	id := uuid.NewString()
	return &Session{
		id:           id,
		conn:         conn,
		br:           bufio.NewReader(conn),
		logger:       logger.With(slog.String("session_id", id)),
		maxFrame:     maxFrame,
		writeTimeout: opts.WriteTimeout,
		state:        StateConnecting,
		readReq:      make(chan struct{}, 1),
		writeKick:    make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the transport's remote address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Headers returns the request headers parsed during the handshake, keyed
// exactly as received. The map is populated before OnOpen and must be
// treated as read-only.
func (s *Session) Headers() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers
}

// Start begins the opening handshake. The session must be in
// StateConnecting and h must be non-nil; h receives all subsequent lifecycle
// events.
func (s *Session) Start(h Handler) error {
	if h == nil {
		return errors.New("ws: nil handler")
	}
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.handler = h
	s.mu.Unlock()

	go s.run()
	return nil
}

// Read schedules the next inbound frame. It is a no-op unless the session is
// open; calling it more than once before the next message arrives collapses
// into a single scheduled read.
func (s *Session) Read() {
	s.mu.Lock()
	open := s.state == StateOpen
	s.mu.Unlock()
	if open {
		s.scheduleRead()
	}
}

// Write enqueues an outbound frame of the given opcode and payload. Frames
// are transmitted in the order Write was called, with at most one transport
// write in flight. completion, if non-nil, runs after the frame has been
// handed to the transport.
//
// Write returns ErrSessionClosed once the session has left StateOpen.
func (s *Session) Write(op Opcode, payload []byte, completion func()) error {
	return s.enqueue(op, payload, completion, false, true)
}

// Close initiates the closing handshake: a close frame is enqueued and a
// read is scheduled to await the peer's answering close frame. OnClose fires
// once the peer confirms. Calling Close when the session is not open returns
// ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.state = StateClosing
	s.weInitiatedClose = true
	s.appendFrameLocked(outFrame{opcode: OpClose, closeFrame: true})
	s.mu.Unlock()

	s.scheduleRead()
	return nil
}

// enqueue appends a frame to the write queue and kicks the writer if no
// write is in flight. requireOpen gates application data writes; internally
// generated control frames pass with the state already transitioned.
func (s *Session) enqueue(op Opcode, payload []byte, completion func(), closeFrame, requireOpen bool) error {
	s.mu.Lock()
	if s.state == StateClosed || (requireOpen && s.state != StateOpen) {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.appendFrameLocked(outFrame{opcode: op, payload: payload, completion: completion, closeFrame: closeFrame})
	s.mu.Unlock()
	return nil
}

// appendFrameLocked appends f and marks a write in flight, kicking the
// writer goroutine when it was idle. Caller holds s.mu.
func (s *Session) appendFrameLocked(f outFrame) {
	s.writeQ = append(s.writeQ, f)
	if !s.writing {
		s.writing = true
		select {
		case s.writeKick <- struct{}{}:
		default:
		}
	}
}

// scheduleRead signals the reader goroutine to decode one more frame.
func (s *Session) scheduleRead() {
	select {
	case s.readReq <- struct{}{}:
	default:
	}
}

// run performs the opening handshake and, on success, becomes the session's
// reader goroutine.
func (s *Session) run() {
	headers, err := readHandshake(s.br)
	if err != nil {
		// Transport failed during the handshake; drop without callbacks.
		s.logger.Debug("ws: handshake read failed", slog.Any("error", err))
		s.terminate(terminalSilent, nil)
		return
	}

	key, ok := headers["Sec-WebSocket-Key"]
	if !ok {
		s.logger.Debug("ws: handshake rejected", slog.Any("error", ErrHandshakeMalformed))
		s.terminate(terminalSilent, nil)
		return
	}

	// The writer goroutine is not running yet, so the response write cannot
	// overlap any frame write.
	if err := s.writeConn(handshakeResponse(AcceptKey(key))); err != nil {
		s.logger.Debug("ws: handshake write failed", slog.Any("error", err))
		s.terminate(terminalSilent, nil)
		return
	}

	s.mu.Lock()
	s.headers = headers
	s.state = StateOpen
	s.mu.Unlock()

	go s.writeLoop()

	s.logger.Debug("ws: session open", slog.String("remote_addr", s.conn.RemoteAddr().String()))
	s.dispatch(s.handler.OnOpen)

	s.scheduleRead()
	s.readLoop()
}

// readLoop waits for a scheduled read, decodes one frame, and dispatches it.
// Data frames consume the scheduled read (back-pressure: the handler calls
// Read for the next one); control frames reschedule immediately so they stay
// invisible to the application.
func (s *Session) readLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.readReq:
		}

		again := true
		for again {
			again = false

			msg, err := readFrame(s.br, s.maxFrame)
			if err != nil {
				s.readFailed(err)
				return
			}

			switch msg.Opcode {
			case OpText, OpBinary:
				s.mu.Lock()
				st := s.state
				s.mu.Unlock()
				switch st {
				case StateOpen:
					s.dispatch(func() { s.handler.OnMessage(msg) })
				case StateClosing:
					// Data racing our close frame; keep waiting for the
					// peer's close.
					again = true
				}

			case OpClose:
				s.handleCloseFrame()
				return

			case OpPing:
				// Answer with a pong carrying the ping payload.
				_ = s.enqueue(OpPong, msg.Payload, nil, false, false)
				again = true

			case OpPong, OpContinuation:
				again = true
			}
		}
	}
}

// readFailed ends the session after a failed frame read. Protocol-level
// violations are dropped silently and leave the session quiescent: no
// further read is scheduled, no callback fires, and the transport stays up
// for any writes the application still issues. Transport errors terminate
// the session with OnError, unless the session is already terminal (a read
// completing with an error after close is expected cancellation).
func (s *Session) readFailed(err error) {
	if errors.Is(err, ErrFrameMalformed) || errors.Is(err, ErrProtocolViolation) || errors.Is(err, ErrFrameTooLarge) {
		s.logger.Debug("ws: dropping invalid frame", slog.Any("error", err))
		return
	}

	s.mu.Lock()
	terminal := s.state == StateClosed
	s.mu.Unlock()
	if terminal {
		return
	}

	s.logger.Debug("ws: read failed", slog.Any("error", err))
	s.terminate(terminalError, err)
}

// handleCloseFrame advances the closing handshake after the peer's close
// frame arrives. If the peer initiated, our answering close frame is
// enqueued and its write completion finishes the session; if we initiated,
// this frame is the confirmation and the session finishes now.
func (s *Session) handleCloseFrame() {
	s.mu.Lock()
	switch s.state {
	case StateOpen:
		s.state = StateClosing
		s.peerSentClose = true
		s.appendFrameLocked(outFrame{opcode: OpClose, closeFrame: true})
		s.mu.Unlock()

	case StateClosing:
		weInitiated := s.weInitiatedClose
		s.mu.Unlock()
		if weInitiated {
			s.terminate(terminalClose, nil)
		}

	default:
		s.mu.Unlock()
	}
}

// writeLoop drains the write queue, one frame at a time, in enqueue order.
// The head of a non-empty queue is always the frame being written.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.writeKick:
		}

		for {
			s.mu.Lock()
			if len(s.writeQ) == 0 {
				s.writing = false
				s.mu.Unlock()
				break
			}
			f := s.writeQ[0]
			s.mu.Unlock()

			err := s.writeFrameConn(f.opcode, f.payload)

			s.mu.Lock()
			s.writeQ = s.writeQ[1:]
			s.mu.Unlock()

			if err != nil {
				// Outbound transport errors are silently terminal.
				s.logger.Debug("ws: write failed", slog.Any("error", err))
				s.terminate(terminalSilent, nil)
				return
			}

			if f.completion != nil {
				s.dispatch(f.completion)
			}
			if f.closeFrame {
				s.closeFrameWritten()
			}

			select {
			case <-s.done:
				return
			default:
			}
		}
	}
}

// closeFrameWritten finishes the peer-initiated closing handshake: once our
// answering close frame is on the wire the session is closed and OnClose
// fires. When we initiated, the session stays in StateClosing until the
// reader sees the peer's close frame.
func (s *Session) closeFrameWritten() {
	s.mu.Lock()
	peer := s.peerSentClose
	s.mu.Unlock()
	if peer {
		s.terminate(terminalClose, nil)
	}
}

// writeFrameConn writes one frame to the transport, applying the configured
// write deadline.
func (s *Session) writeFrameConn(op Opcode, payload []byte) error {
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return writeFrame(s.conn, op, payload)
}

// writeConn writes raw bytes to the transport, applying the configured write
// deadline. Used for the handshake response only.
func (s *Session) writeConn(b []byte) error {
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := s.conn.Write(b)
	return err
}

// terminate moves the session to StateClosed exactly once, closes the
// transport, and delivers at most one terminal callback. Later calls are
// no-ops, which is what guarantees that OnClose and OnError are mutually
// exclusive and at-most-once.
func (s *Session) terminate(kind terminalKind, err error) {
	s.terminalOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		close(s.done)
		_ = s.conn.Close()

		s.logger.Debug("ws: session closed")

		switch kind {
		case terminalClose:
			s.dispatch(s.handler.OnClose)
		case terminalError:
			s.dispatch(func() { s.handler.OnError(err) })
		}
	})
}

// dispatch runs a handler callback (or write completion) under the dispatch
// mutex so that a session's callbacks are never re-entered concurrently.
func (s *Session) dispatch(f func()) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	f()
}
