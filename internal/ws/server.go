package ws

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
)

// HandlerFactory builds the application Handler for a freshly accepted
// session. The factory receives the session so the handler can call Read,
// Write and Close on it.
type HandlerFactory func(s *Session) Handler

// Server accepts TCP connections, optionally wraps them in TLS, and starts a
// Session per connection with a Handler from the factory. It is the
// acceptor collaborator around the session engine: everything
// protocol-related happens inside the sessions it spawns.
type Server struct {
	ln      net.Listener
	factory HandlerFactory
	opts    Options
	logger  *slog.Logger

	accepted atomic.Int64
	closed   atomic.Bool
}

// NewServer listens on addr and serves WebSocket sessions built from
// factory. tlsConf, when non-nil, wraps every accepted connection in a
// server-side TLS stream; the session is indifferent to which it gets.
func NewServer(addr string, factory HandlerFactory, tlsConf *tls.Config, opts Options, logger *slog.Logger) (*Server, error) {
	if factory == nil {
		return nil, errors.New("ws: nil handler factory")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ws: listen %s: %w", addr, err)
	}
	if tlsConf != nil {
		ln = tls.NewListener(ln, tlsConf)
	}

	return &Server{
		ln:      ln,
		factory: factory,
		opts:    opts,
		logger:  logger,
	}, nil
}

// Addr returns the listener's bound address.
func (srv *Server) Addr() net.Addr { return srv.ln.Addr() }

// Accepted returns the total number of connections accepted so far.
func (srv *Server) Accepted() int64 { return srv.accepted.Load() }

// Serve accepts connections until the listener is closed. Each accepted
// connection gets its own Session and Handler; accept errors after Close are
// the expected shutdown signal and are not reported.
func (srv *Server) Serve() error {
	for {
		conn, err := srv.ln.Accept()
		if err != nil {
			if srv.closed.Load() {
				return nil
			}
			return fmt.Errorf("ws: accept: %w", err)
		}
		srv.accepted.Add(1)

		sess := NewSession(conn, srv.opts)
		if err := sess.Start(srv.factory(sess)); err != nil {
			srv.logger.Warn("ws: session start failed",
				slog.String("remote_addr", conn.RemoteAddr().String()),
				slog.Any("error", err),
			)
			_ = conn.Close()
		}
	}
}

// Close stops the listener. Sessions already started run to completion on
// their own goroutines.
func (srv *Server) Close() error {
	srv.closed.Store(true)
	return srv.ln.Close()
}
