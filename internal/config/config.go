package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "COMMSYNC_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Auth      AuthConfig      `koanf:"auth"`
	User      UserConfig      `koanf:"user"`
	Transport TransportConfig `koanf:"transport"`
	Typing    TypingConfig    `koanf:"typing"`
	Presence  PresenceConfig  `koanf:"presence"`
	Channels  ChannelsConfig  `koanf:"channels"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	DevServer DevServerConfig `koanf:"devserver"`
}

type ServerConfig struct {
	URL        string `koanf:"url"`
	GatewayURL string `koanf:"gateway_url"`
}

type AuthConfig struct {
	Token  string `koanf:"token"`
	Secret string `koanf:"secret"`
}

type UserConfig struct {
	ID   string `koanf:"id"`
	Name string `koanf:"name"`
}

type TransportConfig struct {
	AckTimeout     time.Duration `koanf:"ack_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	ReconnectMax   time.Duration `koanf:"reconnect_max"`
}

type TypingConfig struct {
	Debounce time.Duration `koanf:"debounce"`
	TTL      time.Duration `koanf:"ttl"`
}

type PresenceConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"`
}

type ChannelsConfig struct {
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	HistoryLimit    int           `koanf:"history_limit"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

type DevServerConfig struct {
	Addr     string `koanf:"addr"`
	RedisURL string `koanf:"redis_url"`
}

func defaults() map[string]any {
	return map[string]any{
		"server.url":                "http://localhost:8080",
		"transport.ack_timeout":     5 * time.Second,
		"transport.request_timeout": 10 * time.Second,
		"transport.reconnect_max":   30 * time.Second,
		"typing.debounce":           time.Second,
		"typing.ttl":                10 * time.Second,
		"presence.poll_interval":    30 * time.Second,
		"channels.refresh_interval": 5 * time.Second,
		"channels.history_limit":    50,
		"log.level":                 "info",
		"devserver.addr":            ":8080",
		"devserver.redis_url":       "redis://localhost:6379",
	}
}

// Load reads defaults, then the TOML file at path (or the first default
// location that exists when path is empty), then COMMSYNC_* environment
// variables. COMMSYNC_SERVER_GATEWAY_URL sets server.gateway_url: the first
// underscore after the prefix separates section from key.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	} else {
		for _, p := range []string{"./commsync.toml", "$HOME/.commsync.toml"} {
			p = os.ExpandEnv(p)
			if _, err := os.Stat(p); err != nil {
				continue
			}
			if err := k.Load(file.Provider(p), toml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config %s: %w", p, err)
			}
			break
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// Validate checks what the client needs to connect.
func (c *Config) Validate() error {
	var missing []string
	if c.Server.URL == "" {
		missing = append(missing, "server.url")
	}
	if c.Auth.Token == "" && (c.Auth.Secret == "" || c.User.ID == "") {
		missing = append(missing, "auth.token (or auth.secret with user.id)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required config not set: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateDevServer checks what the dev server needs to start.
func (c *Config) ValidateDevServer() error {
	var missing []string
	if c.Auth.Secret == "" {
		missing = append(missing, "auth.secret")
	}
	if c.DevServer.Addr == "" {
		missing = append(missing, "devserver.addr")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required config not set: %s", strings.Join(missing, ", "))
	}
	return nil
}

// GatewayURL returns the push endpoint, derived from server.url when not
// set explicitly.
func (c *Config) GatewayURL() string {
	if c.Server.GatewayURL != "" {
		return c.Server.GatewayURL
	}
	u := strings.TrimRight(c.Server.URL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/gateway"
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	return parseLogLevel(c.Log.Level)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
