package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	pushevent "wa-console/internal/event"
	"wa-console/internal/infra/config"
	"wa-console/internal/notify"
	"wa-console/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	cfg.StorePath = t.TempDir()
	cfg.LogLevel = "ERROR"
	a, err := New(cfg)
	require.NoError(t, err)
	return a
}

func TestPushFramesReachStore(t *testing.T) {
	a := newApp(t)
	defer a.Shutdown()
	ctx := context.Background()

	a.Events.HandleFrame(pushevent.NameSessionStatus, []byte(`{"sessionId":"s1","sessionName":"Sales","status":"connected"}`))
	a.Events.HandleFrame(pushevent.NameMessageReceived, []byte(`{"sessionId":"s1","message":{"messageId":"m1","from":"111@s.whatsapp.net","content":{"text":"hi"}}}`))

	sess, err := a.Store.Sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusConnected, sess.Status)
	assert.Equal(t, []string{"Session Sales connected"}, a.Notes.Messages(notify.KindSuccess))

	m, err := a.Store.Messages.Get(ctx, "s1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "hi", m.Text)
}

func TestCredentialsDefaultToLocalStore(t *testing.T) {
	a := newApp(t)
	defer a.Shutdown()
	ctx := context.Background()

	assert.False(t, a.Client.SignedIn(ctx))
	a.StartPush() // no-op without tokens

	require.NoError(t, a.Store.Credentials.SaveTokens(ctx, store.Tokens{AccessToken: "a", RefreshToken: "r"}))
	assert.True(t, a.Client.SignedIn(ctx))
}

func TestShutdownIsIdempotent(t *testing.T) {
	a := newApp(t)
	require.NoError(t, a.Shutdown())
	require.NoError(t, a.Shutdown())
	assert.Error(t, a.Context().Err())
}

// openHandles counts this process's descriptors that point at path.
func openHandles(t *testing.T, path string) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skip("no /proc/self/fd on this platform")
	}
	n := 0
	for _, e := range entries {
		if target, err := os.Readlink(filepath.Join("/proc/self/fd", e.Name())); err == nil && target == path {
			n++
		}
	}
	return n
}

func TestNewReleasesLogFileOnFailure(t *testing.T) {
	for _, tc := range []struct {
		name  string
		setup func(cfg *config.Config)
	}{
		{"store", func(cfg *config.Config) {
			// a directory where the database file should be
			require.NoError(t, os.MkdirAll(cfg.DatabasePath(), 0755))
		}},
		{"client", func(cfg *config.Config) {
			cfg.RedisURL = "not a redis url"
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			cfg := config.Default()
			cfg.StorePath = filepath.Join(dir, "store")
			cfg.LogFile = filepath.Join(dir, "wa-console.log")
			tc.setup(cfg)

			_, err := New(cfg)
			require.Error(t, err)
			assert.Zero(t, openHandles(t, cfg.LogFile))
		})
	}
}
