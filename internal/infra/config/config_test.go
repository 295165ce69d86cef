package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFileMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"session_url": "http://sessions.internal/api",
		"session": {"poll_interval_ms": 1500}
	}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "http://sessions.internal/api", cfg.SessionURL)
	assert.Equal(t, 1500*time.Millisecond, cfg.Session.PollInterval())
	// untouched nested fields keep their defaults
	assert.Equal(t, 5*time.Second, cfg.Session.QRCountdown())
	assert.Equal(t, "http://localhost:8001/api", cfg.AuthURL)
}

func TestLoadAppliesEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WACONSOLE_CHAT_URL", "http://chat.internal/api")
	t.Setenv("WACONSOLE_SESSION_POLL_INTERVAL_MS", "250")
	t.Setenv("WACONSOLE_SOCKET_RECONNECT_ATTEMPTS", "9")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://chat.internal/api", cfg.ChatURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.PollInterval())
	assert.Equal(t, 9, cfg.Socket.ReconnectAttempts)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout())
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("WACONSOLE_LOG_LEVEL=DEBUG\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("WACONSOLE_LOG_LEVEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestValidateRejectsZeroPollInterval(t *testing.T) {
	cfg := Default()
	cfg.Session.PollIntervalMs = 0
	assert.Error(t, cfg.Validate())
}
