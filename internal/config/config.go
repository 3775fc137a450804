// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/wschat/internal/store"
)

// Config holds all application configuration.
type Config struct {
	ServerURL  string
	Namespace  string
	LogLevel   string
	LogFormat  string // "text" or "json"
	QuietLogs  bool
	Storage    StorageConfig
	Cache      CacheConfig
	Connection ConnectionConfig
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend    string
	DBPath     string
	PebbleDir  string
	QuotaBytes int64
}

// CacheConfig controls the local message cache.
type CacheConfig struct {
	MaxSize       int
	FlushInterval time.Duration
}

// ConnectionConfig controls the WebSocket session.
type ConnectionConfig struct {
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	HeartbeatInterval    time.Duration
	HandshakeTimeout     time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ServerURL: getEnv("CHAT_SERVER_URL", "http://localhost:8000"),
		Namespace: getEnv("CHAT_NAMESPACE", "ai_chat"),
		LogLevel:  getEnv("CHAT_LOG_LEVEL", "info"),
		LogFormat: getEnv("CHAT_LOG_FORMAT", "text"),
		QuietLogs: getEnvBool("CHAT_QUIET_LOGS", false),
		Storage: StorageConfig{
			Backend:    getEnv("CHAT_STORAGE_BACKEND", store.BackendSQLite),
			DBPath:     getEnv("CHAT_DB_PATH", "./data/chat.db"),
			PebbleDir:  getEnv("CHAT_PEBBLE_DIR", "./data/chat-pebble"),
			QuotaBytes: int64(getEnvInt("CHAT_STORAGE_QUOTA_BYTES", store.DefaultQuotaBytes)),
		},
		Cache: CacheConfig{
			MaxSize:       getEnvInt("CHAT_MAX_CACHE_SIZE", 500),
			FlushInterval: getEnvDuration("CHAT_FLUSH_INTERVAL", 10*time.Second),
		},
		Connection: ConnectionConfig{
			MaxReconnectAttempts: getEnvInt("CHAT_MAX_RECONNECT_ATTEMPTS", 5),
			ReconnectBaseDelay:   getEnvDuration("CHAT_RECONNECT_BASE_DELAY", time.Second),
			HeartbeatInterval:    getEnvDuration("CHAT_HEARTBEAT_INTERVAL", 30*time.Second),
			HandshakeTimeout:     getEnvDuration("CHAT_HANDSHAKE_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("CHAT_SERVER_URL is not a URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("CHAT_SERVER_URL must use http, https, ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("CHAT_SERVER_URL must include a host")
	}
	if c.Namespace == "" {
		return fmt.Errorf("CHAT_NAMESPACE cannot be empty")
	}
	switch c.Storage.Backend {
	case store.BackendSQLite:
		if c.Storage.DBPath == "" {
			return fmt.Errorf("CHAT_DB_PATH cannot be empty")
		}
	case store.BackendPebble:
		if c.Storage.PebbleDir == "" {
			return fmt.Errorf("CHAT_PEBBLE_DIR cannot be empty")
		}
	case store.BackendMemory:
	default:
		return fmt.Errorf("CHAT_STORAGE_BACKEND must be sqlite, pebble or memory, got %q", c.Storage.Backend)
	}
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("CHAT_MAX_CACHE_SIZE must be > 0")
	}
	if c.Cache.FlushInterval <= 0 {
		return fmt.Errorf("CHAT_FLUSH_INTERVAL must be > 0")
	}
	if c.Connection.MaxReconnectAttempts < 0 {
		return fmt.Errorf("CHAT_MAX_RECONNECT_ATTEMPTS must be >= 0")
	}
	if c.Connection.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("CHAT_RECONNECT_BASE_DELAY must be > 0")
	}
	if c.Connection.HeartbeatInterval <= 0 {
		return fmt.Errorf("CHAT_HEARTBEAT_INTERVAL must be > 0")
	}
	if c.Connection.HandshakeTimeout <= 0 {
		return fmt.Errorf("CHAT_HANDSHAKE_TIMEOUT must be > 0")
	}
	return nil
}

// StorageOptions converts the storage section for store.Open.
func (c *Config) StorageOptions() store.Options {
	return store.Options{
		Backend:    c.Storage.Backend,
		SQLitePath: c.Storage.DBPath,
		PebbleDir:  c.Storage.PebbleDir,
		QuotaBytes: c.Storage.QuotaBytes,
	}
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
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

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("1500ms") or bare milliseconds ("1500").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
