package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "WACONSOLE_"

// Config holds all application configuration.
type Config struct {
	// Logging
	LogLevel string `json:"log_level" env:"LOG_LEVEL"`
	LogFile  string `json:"log_file" env:"LOG_FILE"`

	// Storage
	StorePath string `json:"store_path" env:"STORE_PATH"`
	RedisURL  string `json:"redis_url" env:"REDIS_URL"`

	// Backend
	AuthURL       string `json:"auth_url" env:"AUTH_URL"`
	SessionURL    string `json:"session_url" env:"SESSION_URL"`
	ChatURL       string `json:"chat_url" env:"CHAT_URL"`
	WSURL         string `json:"ws_url" env:"WS_URL"`
	HTTPTimeoutMs int    `json:"http_timeout_ms" env:"HTTP_TIMEOUT_MS"`

	// Session linking
	Session SessionConfig `json:"session" envPrefix:"SESSION_"`

	// Push socket
	Socket SocketConfig `json:"socket" envPrefix:"SOCKET_"`

	// Chat
	TypingIdleMs int `json:"typing_idle_ms" env:"TYPING_IDLE_MS"`

	// Campaigns
	DefaultBulkDelayMs int `json:"default_bulk_delay_ms" env:"DEFAULT_BULK_DELAY_MS"`

	// Dashboard API
	ListenAddr string `json:"listen_addr" env:"LISTEN_ADDR"`
}

// SessionConfig controls the session lifecycle reconciler.
type SessionConfig struct {
	CountryCode     string `json:"country_code" env:"COUNTRY_CODE"`
	PollIntervalMs  int    `json:"poll_interval_ms" env:"POLL_INTERVAL_MS"`
	QRCountdownSecs int    `json:"qr_countdown_secs" env:"QR_COUNTDOWN_SECS"`
	NavigateDelayMs int    `json:"navigate_delay_ms" env:"NAVIGATE_DELAY_MS"`
	BackoffMaxMs    int    `json:"backoff_max_ms" env:"BACKOFF_MAX_MS"`
	MaxPollFailures int    `json:"max_poll_failures" env:"MAX_POLL_FAILURES"` // 0 = unlimited
	RefreshSecs     int    `json:"refresh_secs" env:"REFRESH_SECS"`
}

// SocketConfig controls push socket reconnection.
type SocketConfig struct {
	ReconnectDelayMs  int `json:"reconnect_delay_ms" env:"RECONNECT_DELAY_MS"`
	ReconnectAttempts int `json:"reconnect_attempts" env:"RECONNECT_ATTEMPTS"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultStore := filepath.Join(homeDir, ".wa-console", "store")

	return &Config{
		LogLevel:      "INFO",
		StorePath:     defaultStore,
		AuthURL:       "http://localhost:8001/api",
		SessionURL:    "http://localhost:8002/api",
		ChatURL:       "http://localhost:8003/api",
		WSURL:         "ws://localhost:8003/ws",
		HTTPTimeoutMs: 10000,
		Session: SessionConfig{
			CountryCode:     "91",
			PollIntervalMs:  3000,
			QRCountdownSecs: 5,
			NavigateDelayMs: 2000,
			BackoffMaxMs:    30000,
			RefreshSecs:     30,
		},
		Socket: SocketConfig{
			ReconnectDelayMs:  1000,
			ReconnectAttempts: 5,
		},
		TypingIdleMs:       1000,
		DefaultBulkDelayMs: 2000,
		ListenAddr:         ":8090",
	}
}

// LoadFromFile loads configuration from a JSON file.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if file doesn't exist
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return cfg, nil
}

// Load builds the configuration from defaults, an optional JSON file and the
// environment. A .env file in the working directory is loaded first; values
// already present in the environment are not overwritten by it.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if configPath != "" {
		fileCfg, err := LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields that would otherwise fail later with an
// unhelpful error.
func (c *Config) Validate() error {
	switch {
	case c.AuthURL == "":
		return errors.New("auth_url is required")
	case c.SessionURL == "":
		return errors.New("session_url is required")
	case c.ChatURL == "":
		return errors.New("chat_url is required")
	case c.Session.PollIntervalMs <= 0:
		return errors.New("session.poll_interval_ms must be positive")
	}
	return nil
}

// EnsureStorePath creates the store directory if it doesn't exist.
func (c *Config) EnsureStorePath() error {
	return os.MkdirAll(c.StorePath, 0755)
}

// DatabasePath returns the sqlite file inside the store directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StorePath, "wa-console.db")
}

func (c *Config) HTTPTimeout() time.Duration {
	return ms(c.HTTPTimeoutMs)
}

func (c *Config) TypingIdle() time.Duration {
	return ms(c.TypingIdleMs)
}

func (s SessionConfig) PollInterval() time.Duration {
	return ms(s.PollIntervalMs)
}

func (s SessionConfig) QRCountdown() time.Duration {
	return time.Duration(s.QRCountdownSecs) * time.Second
}

func (s SessionConfig) NavigateDelay() time.Duration {
	return ms(s.NavigateDelayMs)
}

func (s SessionConfig) BackoffMax() time.Duration {
	return ms(s.BackoffMaxMs)
}

func (s SessionConfig) RefreshInterval() time.Duration {
	return time.Duration(s.RefreshSecs) * time.Second
}

func (s SocketConfig) ReconnectDelay() time.Duration {
	return ms(s.ReconnectDelayMs)
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
