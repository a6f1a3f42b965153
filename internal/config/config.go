// Package config provides YAML configuration loading and validation for the
// relay server.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for the relay server.
type Config struct {
	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// AdminAddr is the listen address for the HTTP admin API
	// (e.g. ":8080"). Empty disables the admin server.
	AdminAddr string `yaml:"admin_addr"`

	// JWTPublicKeyPath is the path to the PEM-encoded RSA public key used to
	// verify bearer tokens on the admin API and on chat room joins. Empty
	// disables authentication (dev only).
	JWTPublicKeyPath string `yaml:"jwt_public_key"`

	// AuditLogPath is the path of the hash-chained connection log. Empty
	// disables connection auditing.
	AuditLogPath string `yaml:"audit_log"`

	// MaxFrameSize is the largest inbound WebSocket payload accepted, in
	// bytes. Defaults to 1 MiB when omitted.
	MaxFrameSize int64 `yaml:"max_frame_size"`

	// Listeners is the list of WebSocket listeners to start. At least one
	// is required.
	Listeners []Listener `yaml:"listeners"`

	// History configures the chat archive backend.
	History HistoryConfig `yaml:"history"`
}

// Listener describes one WebSocket listener.
type Listener struct {
	// Addr is the TCP listen address (e.g. ":4567"). Required.
	Addr string `yaml:"addr"`

	// App selects the application served on this listener: "echo", "chat",
	// or "telemetry". Required.
	App string `yaml:"app"`

	// Room names the chat room served by a "chat" listener. Defaults to
	// "lobby". Ignored for other apps.
	Room string `yaml:"room,omitempty"`

	// TLS, when configured, wraps accepted connections in TLS.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig holds the certificate and key paths for a TLS listener.
type TLSConfig struct {
	// CertPath is the path to the PEM-encoded server certificate.
	CertPath string `yaml:"cert_path"`

	// KeyPath is the path to the PEM-encoded private key.
	KeyPath string `yaml:"key_path"`
}

// Enabled reports whether this listener should serve TLS.
func (t TLSConfig) Enabled() bool {
	return t.CertPath != "" || t.KeyPath != ""
}

// HistoryConfig selects and parameterises the chat archive backend.
type HistoryConfig struct {
	// Backend is one of "none", "sqlite", or "postgres". Defaults to "none".
	Backend string `yaml:"backend"`

	// DSN is the PostgreSQL connection string (postgres backend only).
	DSN string `yaml:"dsn"`

	// Path is the SQLite database file path (sqlite backend only).
	Path string `yaml:"path"`

	// RoomBuffer is the in-memory replay depth per chat room. Defaults to
	// 100 when omitted.
	RoomBuffer int `yaml:"room_buffer"`
}

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validApps is the set of accepted listener applications.
var validApps = map[string]bool{
	"echo":      true,
	"chat":      true,
	"telemetry": true,
}

// validBackends is the set of accepted history backends.
var validBackends = map[string]bool{
	"none":     true,
	"sqlite":   true,
	"postgres": true,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config, applies
// defaults, and validates all required fields. It returns a typed error
// describing every validation failure encountered.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

// applyDefaults fills in zero-value optional fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = 1 << 20
	}
	if cfg.History.Backend == "" {
		cfg.History.Backend = "none"
	}
	if cfg.History.RoomBuffer == 0 {
		cfg.History.RoomBuffer = 100
	}
	for i := range cfg.Listeners {
		if cfg.Listeners[i].App == "chat" && cfg.Listeners[i].Room == "" {
			cfg.Listeners[i].Room = "lobby"
		}
	}
}

// validate checks that all required fields are populated and that enumerated
// fields contain only valid values.
func validate(cfg *Config) error {
	var errs []error

	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.MaxFrameSize < 0 {
		errs = append(errs, errors.New("max_frame_size must not be negative"))
	}

	if len(cfg.Listeners) == 0 {
		errs = append(errs, errors.New("at least one listener is required"))
	}
	for i, l := range cfg.Listeners {
		prefix := fmt.Sprintf("listeners[%d]", i)
		if l.Addr == "" {
			errs = append(errs, fmt.Errorf("%s: addr is required", prefix))
		}
		if !validApps[l.App] {
			errs = append(errs, fmt.Errorf("%s: app %q must be one of: echo, chat, telemetry", prefix, l.App))
		}
		if l.TLS.Enabled() {
			if l.TLS.CertPath == "" {
				errs = append(errs, fmt.Errorf("%s: tls.cert_path is required when tls.key_path is set", prefix))
			}
			if l.TLS.KeyPath == "" {
				errs = append(errs, fmt.Errorf("%s: tls.key_path is required when tls.cert_path is set", prefix))
			}
		}
	}

	switch {
	case !validBackends[cfg.History.Backend]:
		errs = append(errs, fmt.Errorf("history.backend %q must be one of: none, sqlite, postgres", cfg.History.Backend))
	case cfg.History.Backend == "postgres" && cfg.History.DSN == "":
		errs = append(errs, errors.New("history.dsn is required for the postgres backend"))
	case cfg.History.Backend == "sqlite" && cfg.History.Path == "":
		errs = append(errs, errors.New("history.path is required for the sqlite backend"))
	}
	if cfg.History.RoomBuffer < 0 {
		errs = append(errs, errors.New("history.room_buffer must not be negative"))
	}

	return errors.Join(errs...)
}
