// Command server is the relay WebSocket server binary. It loads a YAML
// configuration file, opens the chat archive backend, starts one WebSocket
// listener per configured application (plain TCP or TLS), exposes the HTTP
// admin API, and shuts down gracefully on SIGTERM or SIGINT.
package main

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaykit/relay/internal/admin"
	"github.com/relaykit/relay/internal/app/chat"
	"github.com/relaykit/relay/internal/app/echo"
	"github.com/relaykit/relay/internal/app/telemetry"
	"github.com/relaykit/relay/internal/audit"
	"github.com/relaykit/relay/internal/auth"
	"github.com/relaykit/relay/internal/config"
	"github.com/relaykit/relay/internal/history"
	"github.com/relaykit/relay/internal/stats"
	"github.com/relaykit/relay/internal/ws"
)

func main() {
	configPath := flag.String("config", "/etc/relay/config.yaml", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("relay server starting",
		slog.Int("listeners", len(cfg.Listeners)),
		slog.String("admin_addr", cfg.AdminAddr),
	)

	ctx := context.Background()
	counters := &stats.Counters{}

	// ── Chat archive ──────────────────────────────────────────────────────────
	var store history.Store
	switch cfg.History.Backend {
	case "postgres":
		store, err = history.NewPostgres(ctx, cfg.History.DSN, 0, 0)
		if err != nil {
			logger.Error("failed to open postgres history store", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("postgres history store connected")
	case "sqlite":
		store, err = history.NewSQLite(cfg.History.Path)
		if err != nil {
			logger.Error("failed to open sqlite history store", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("sqlite history store opened", slog.String("path", cfg.History.Path))
	default:
		logger.Warn("no history backend configured; chat archive disabled")
	}
	if store != nil {
		defer store.Close(context.Background())
	}

	// ── Connection audit log ──────────────────────────────────────────────────
	var auditLog *audit.Logger
	if cfg.AuditLogPath != "" {
		auditLog, err = audit.Open(cfg.AuditLogPath)
		if err != nil {
			logger.Error("failed to open audit log", slog.Any("error", err))
			os.Exit(1)
		}
		defer auditLog.Close()
		logger.Info("connection audit log enabled", slog.String("path", cfg.AuditLogPath))
	}

	// ── Bearer-token verification key ─────────────────────────────────────────
	var pubKey *rsa.PublicKey
	if cfg.JWTPublicKeyPath != "" {
		pem, err := os.ReadFile(cfg.JWTPublicKeyPath)
		if err != nil {
			logger.Error("failed to read JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		pubKey, err = auth.ParseRSAPublicKey(pem)
		if err != nil {
			logger.Error("failed to parse JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("JWT validation enabled")
	} else {
		logger.Warn("jwt_public_key not configured; authentication disabled (dev mode)")
	}

	// ── WebSocket listeners ───────────────────────────────────────────────────
	sessOpts := ws.Options{
		Logger:       logger,
		MaxFrameSize: cfg.MaxFrameSize,
		WriteTimeout: 10 * time.Second,
	}

	wsErrCh := make(chan error, len(cfg.Listeners))
	var servers []*ws.Server

	for _, lc := range cfg.Listeners {
		factory, err := buildFactory(lc, store, pubKey, counters, auditLog, cfg.History.RoomBuffer, logger)
		if err != nil {
			logger.Error("failed to build listener", slog.String("addr", lc.Addr), slog.Any("error", err))
			os.Exit(1)
		}

		var tlsConf *tls.Config
		if lc.TLS.Enabled() {
			cert, err := tls.LoadX509KeyPair(lc.TLS.CertPath, lc.TLS.KeyPath)
			if err != nil {
				logger.Error("failed to load TLS key pair", slog.String("addr", lc.Addr), slog.Any("error", err))
				os.Exit(1)
			}
			tlsConf = &tls.Config{Certificates: []tls.Certificate{cert}}
		}

		srv, err := ws.NewServer(lc.Addr, factory, tlsConf, sessOpts, logger)
		if err != nil {
			logger.Error("failed to start listener", slog.String("addr", lc.Addr), slog.Any("error", err))
			os.Exit(1)
		}
		servers = append(servers, srv)

		logger.Info("websocket listener started",
			slog.String("addr", lc.Addr),
			slog.String("app", lc.App),
			slog.Bool("tls", tlsConf != nil),
		)

		go func(srv *ws.Server, addr string) {
			if err := srv.Serve(); err != nil {
				wsErrCh <- fmt.Errorf("listener %s: %w", addr, err)
			}
		}(srv, lc.Addr)
	}

	// ── Admin HTTP server ─────────────────────────────────────────────────────
	var httpServer *http.Server
	httpErrCh := make(chan error, 1)
	if cfg.AdminAddr != "" {
		var adminStore admin.HistoryStore
		if store != nil {
			adminStore = store
		}
		handler := admin.NewRouter(admin.NewServer(adminStore, counters), pubKey)

		httpServer = &http.Server{
			Addr:         cfg.AdminAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.Info("admin HTTP server listening", slog.String("addr", cfg.AdminAddr))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				httpErrCh <- fmt.Errorf("admin server: %w", err)
			}
		}()
	}

	// ── Wait for shutdown signal or fatal error ───────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-wsErrCh:
		logger.Error("listener error", slog.Any("error", err))
	case err := <-httpErrCh:
		logger.Error("admin server error", slog.Any("error", err))
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	logger.Info("shutting down")

	for _, srv := range servers {
		_ = srv.Close()
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin server shutdown error", slog.Any("error", err))
		}
		cancel()
	}

	logger.Info("relay server exited cleanly")
}

// buildFactory returns the HandlerFactory for one configured listener.
// Handlers are wrapped with the audit decorator when the connection log is
// enabled.
func buildFactory(lc config.Listener, store history.Store, pubKey *rsa.PublicKey, counters *stats.Counters, auditLog *audit.Logger, roomBuffer int, logger *slog.Logger) (ws.HandlerFactory, error) {
	var inner ws.HandlerFactory

	switch lc.App {
	case "echo":
		inner = func(s *ws.Session) ws.Handler {
			return echo.NewHandler(s, counters, logger)
		}

	case "chat":
		room := chat.NewRoom(lc.Room, store, roomBuffer, logger)
		inner = func(s *ws.Session) ws.Handler {
			return chat.NewHandler(s, room, pubKey, counters, logger)
		}

	case "telemetry":
		inner = func(s *ws.Session) ws.Handler {
			return telemetry.NewHandler(s, 0, counters, logger)
		}

	default:
		return nil, fmt.Errorf("unknown app %q", lc.App)
	}

	if auditLog == nil {
		return inner, nil
	}
	return func(s *ws.Session) ws.Handler {
		return &auditedHandler{
			inner:  inner(s),
			sess:   s,
			app:    lc.App,
			log:    auditLog,
			logger: logger,
		}
	}, nil
}

// auditedHandler decorates an application Handler with connection-log
// entries for each lifecycle event. Message traffic passes through
// unrecorded; the audit trail is about who connected, not what they said.
type auditedHandler struct {
	inner  ws.Handler
	sess   *ws.Session
	app    string
	log    *audit.Logger
	logger *slog.Logger
}

func (a *auditedHandler) record(event, detail string) {
	_, err := a.log.Append(audit.ConnectionEvent{
		Event:      event,
		SessionID:  a.sess.ID(),
		App:        a.app,
		RemoteAddr: a.sess.RemoteAddr().String(),
		Detail:     detail,
	})
	if err != nil {
		a.logger.Warn("audit append failed", slog.Any("error", err))
	}
}

func (a *auditedHandler) OnOpen() {
	a.record(audit.EventOpen, "")
	a.inner.OnOpen()
}

func (a *auditedHandler) OnMessage(msg ws.Message) {
	a.inner.OnMessage(msg)
}

func (a *auditedHandler) OnClose() {
	a.record(audit.EventClose, "")
	a.inner.OnClose()
}

func (a *auditedHandler) OnError(err error) {
	a.record(audit.EventError, err.Error())
	a.inner.OnError(err)
}

// newLogger constructs a *slog.Logger that writes JSON-structured log
// records to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
