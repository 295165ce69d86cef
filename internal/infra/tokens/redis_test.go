package tokens

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wa-console/internal/store"
)

// Needs a live server: WACONSOLE_TEST_REDIS_URL=redis://localhost:6379/15
func TestRedisStoreRoundTrip(t *testing.T) {
	url := os.Getenv("WACONSOLE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("WACONSOLE_TEST_REDIS_URL not set")
	}
	ctx := context.Background()

	r, err := NewRedisStore(ctx, url, "wa-console-test:"+uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Clear(ctx)
		r.Close()
	})

	tokens, err := r.Tokens(ctx)
	require.NoError(t, err)
	assert.True(t, tokens.Empty())

	require.NoError(t, r.SaveTokens(ctx, store.Tokens{AccessToken: "a", RefreshToken: "r"}))
	require.NoError(t, r.SetAccessToken(ctx, "a2"))
	require.NoError(t, r.SaveUser(ctx, &store.User{ID: "u1", Username: "alice"}))

	tokens, err = r.Tokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Tokens{AccessToken: "a2", RefreshToken: "r"}, tokens)

	u, err := r.User(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	require.NoError(t, r.Clear(ctx))
	_, err = r.User(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
