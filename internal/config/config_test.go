package config_test

import (
	"os"
	"strings"
	"testing"

	"github.com/relaykit/relay/internal/config"
)

// writeTemp writes content to a temp file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	return f.Name()
}

const validYAML = `
log_level: debug
admin_addr: ":8080"
audit_log: "/var/log/relay/connections.jsonl"
max_frame_size: 2097152
listeners:
  - addr: ":4567"
    app: echo
  - addr: ":4568"
    app: chat
    room: ops
  - addr: ":4569"
    app: telemetry
    tls:
      cert_path: "/etc/relay/server.crt"
      key_path: "/etc/relay/server.key"
history:
  backend: sqlite
  path: "/var/lib/relay/history.db"
  room_buffer: 50
`

func TestLoadConfig_Valid(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.AdminAddr != ":8080" {
		t.Errorf("AdminAddr = %q", cfg.AdminAddr)
	}
	if cfg.MaxFrameSize != 2097152 {
		t.Errorf("MaxFrameSize = %d", cfg.MaxFrameSize)
	}
	if len(cfg.Listeners) != 3 {
		t.Fatalf("Listeners = %d, want 3", len(cfg.Listeners))
	}
	if cfg.Listeners[1].Room != "ops" {
		t.Errorf("Listeners[1].Room = %q, want %q", cfg.Listeners[1].Room, "ops")
	}
	if !cfg.Listeners[2].TLS.Enabled() {
		t.Error("Listeners[2] should be TLS-enabled")
	}
	if cfg.History.Backend != "sqlite" || cfg.History.RoomBuffer != 50 {
		t.Errorf("History = %+v", cfg.History)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeTemp(t, `
listeners:
  - addr: ":4567"
    app: chat
`)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.MaxFrameSize != 1<<20 {
		t.Errorf("default MaxFrameSize = %d, want %d", cfg.MaxFrameSize, 1<<20)
	}
	if cfg.History.Backend != "none" {
		t.Errorf("default History.Backend = %q, want none", cfg.History.Backend)
	}
	if cfg.History.RoomBuffer != 100 {
		t.Errorf("default History.RoomBuffer = %d, want 100", cfg.History.RoomBuffer)
	}
	if cfg.Listeners[0].Room != "lobby" {
		t.Errorf("default chat room = %q, want lobby", cfg.Listeners[0].Room)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := config.LoadConfig("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := writeTemp(t, "listeners: [:::\n")
	if _, err := config.LoadConfig(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{
			"no listeners",
			`log_level: info`,
			"at least one listener",
		},
		{
			"bad log level",
			"log_level: verbose\nlisteners:\n  - addr: \":1\"\n    app: echo\n",
			"log_level",
		},
		{
			"bad app",
			"listeners:\n  - addr: \":1\"\n    app: proxy\n",
			"app",
		},
		{
			"missing addr",
			"listeners:\n  - app: echo\n",
			"addr is required",
		},
		{
			"half tls",
			"listeners:\n  - addr: \":1\"\n    app: echo\n    tls:\n      cert_path: \"/crt\"\n",
			"tls.key_path",
		},
		{
			"postgres without dsn",
			"listeners:\n  - addr: \":1\"\n    app: echo\nhistory:\n  backend: postgres\n",
			"history.dsn",
		},
		{
			"sqlite without path",
			"listeners:\n  - addr: \":1\"\n    app: echo\nhistory:\n  backend: sqlite\n",
			"history.path",
		},
		{
			"unknown backend",
			"listeners:\n  - addr: \":1\"\n    app: echo\nhistory:\n  backend: redis\n",
			"history.backend",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTemp(t, tc.yaml)
			_, err := config.LoadConfig(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}
