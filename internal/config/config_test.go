package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "commsync.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Typing.Debounce != time.Second {
		t.Errorf("typing.debounce = %v, want 1s", cfg.Typing.Debounce)
	}
	if cfg.Typing.TTL != 10*time.Second {
		t.Errorf("typing.ttl = %v, want 10s", cfg.Typing.TTL)
	}
	if cfg.Presence.PollInterval != 30*time.Second {
		t.Errorf("presence.poll_interval = %v, want 30s", cfg.Presence.PollInterval)
	}
	if cfg.Channels.HistoryLimit != 50 {
		t.Errorf("channels.history_limit = %d, want 50", cfg.Channels.HistoryLimit)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
[server]
url = "https://chat.example.com"

[auth]
token = "from-file"

[transport]
ack_timeout = "2s"

[log]
level = "debug"
`)
	t.Setenv("COMMSYNC_AUTH_TOKEN", "from-env")
	t.Setenv("COMMSYNC_SERVER_GATEWAY_URL", "wss://push.example.com/gateway")
	t.Setenv("COMMSYNC_CHANNELS_HISTORY_LIMIT", "120")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.URL != "https://chat.example.com" {
		t.Errorf("server.url = %q", cfg.Server.URL)
	}
	if cfg.Auth.Token != "from-env" {
		t.Errorf("auth.token = %q, env should win", cfg.Auth.Token)
	}
	if cfg.Server.GatewayURL != "wss://push.example.com/gateway" {
		t.Errorf("server.gateway_url = %q", cfg.Server.GatewayURL)
	}
	if cfg.Transport.AckTimeout != 2*time.Second {
		t.Errorf("transport.ack_timeout = %v", cfg.Transport.AckTimeout)
	}
	if cfg.Channels.HistoryLimit != 120 {
		t.Errorf("channels.history_limit = %d", cfg.Channels.HistoryLimit)
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("log level = %v", cfg.LogLevel())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{Server: ServerConfig{URL: "http://localhost:8080"}}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "auth.token") {
		t.Fatalf("err = %v, want missing auth.token", err)
	}

	cfg.Auth.Secret = "s"
	cfg.User.ID = "u1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("secret + user id should be enough: %v", err)
	}

	if err := (&Config{}).ValidateDevServer(); err == nil || !strings.Contains(err.Error(), "auth.secret") {
		t.Fatalf("ValidateDevServer err = %v", err)
	}
}

func TestGatewayURL(t *testing.T) {
	tests := []struct {
		server, gateway, want string
	}{
		{"http://localhost:8080", "", "ws://localhost:8080/gateway"},
		{"https://chat.example.com/", "", "wss://chat.example.com/gateway"},
		{"https://chat.example.com", "wss://other/gw", "wss://other/gw"},
	}
	for _, tt := range tests {
		cfg := &Config{Server: ServerConfig{URL: tt.server, GatewayURL: tt.gateway}}
		if got := cfg.GatewayURL(); got != tt.want {
			t.Errorf("GatewayURL(%q, %q) = %q, want %q", tt.server, tt.gateway, got, tt.want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
