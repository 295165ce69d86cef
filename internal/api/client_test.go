package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wa-console/internal/infra/logger"
	"wa-console/internal/store"
)

type memTokens struct {
	mu      sync.Mutex
	tokens  store.Tokens
	user    *store.User
	cleared int
}

func (m *memTokens) Tokens(context.Context) (store.Tokens, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens, nil
}

func (m *memTokens) SaveTokens(_ context.Context, t store.Tokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = t
	return nil
}

func (m *memTokens) SetAccessToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens.AccessToken = token
	return nil
}

func (m *memTokens) User(context.Context) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil, store.ErrNotFound
	}
	return m.user, nil
}

func (m *memTokens) SaveUser(_ context.Context, u *store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = u
	return nil
}

func (m *memTokens) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = store.Tokens{}
	m.user = nil
	m.cleared++
	return nil
}

func newTestClient(t *testing.T, srv *httptest.Server, tokens *memTokens) *Client {
	t.Helper()
	return New(Options{
		AuthURL:    srv.URL,
		SessionURL: srv.URL,
		ChatURL:    srv.URL,
		Timeout:    5 * time.Second,
	}, tokens, logger.Noop())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestRefreshOnUnauthorizedReplaysOnce(t *testing.T) {
	var refreshCalls, listCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "refresh-1", body["refreshToken"])
		writeJSON(w, 200, map[string]any{"success": true, "data": map[string]string{"accessToken": "fresh"}})
	})
	mux.HandleFunc("GET /sessions/list", func(w http.ResponseWriter, r *http.Request) {
		listCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			writeJSON(w, 401, map[string]any{"success": false, "message": "jwt expired"})
			return
		}
		writeJSON(w, 200, map[string]any{"success": true, "sessions": []map[string]any{
			{"sessionId": "s1", "status": "connected"},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tokens := &memTokens{tokens: store.Tokens{AccessToken: "stale", RefreshToken: "refresh-1"}}
	c := newTestClient(t, srv, tokens)

	sessions, err := c.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, store.StatusConnected, sessions[0].Status)

	assert.Equal(t, int32(1), refreshCalls.Load())
	assert.Equal(t, int32(2), listCalls.Load())
	assert.Equal(t, "fresh", tokens.tokens.AccessToken)
	assert.Equal(t, "refresh-1", tokens.tokens.RefreshToken)
}

func TestRefreshFailureClearsCredentials(t *testing.T) {
	var refreshCalls, listCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		writeJSON(w, 401, map[string]any{"success": false, "message": "refresh token revoked"})
	})
	mux.HandleFunc("GET /sessions/list", func(w http.ResponseWriter, r *http.Request) {
		listCalls.Add(1)
		writeJSON(w, 401, map[string]any{"success": false, "message": "jwt expired"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tokens := &memTokens{
		tokens: store.Tokens{AccessToken: "stale", RefreshToken: "refresh-1"},
		user:   &store.User{ID: "u1"},
	}
	expired := 0
	c := New(Options{AuthURL: srv.URL, SessionURL: srv.URL, ChatURL: srv.URL, OnAuthExpired: func() { expired++ }}, tokens, logger.Noop())

	_, err := c.ListSessions(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(1), refreshCalls.Load())
	assert.Equal(t, int32(1), listCalls.Load())
	assert.True(t, tokens.tokens.Empty())
	assert.Nil(t, tokens.user)
	assert.Equal(t, 1, expired)
}

func TestSecondUnauthorizedIsNotRefreshedAgain(t *testing.T) {
	var refreshCalls, listCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		writeJSON(w, 200, map[string]any{"data": map[string]string{"accessToken": "fresh"}})
	})
	mux.HandleFunc("GET /sessions/list", func(w http.ResponseWriter, r *http.Request) {
		listCalls.Add(1)
		writeJSON(w, 401, map[string]any{"success": false, "message": "forbidden for this user"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, &memTokens{tokens: store.Tokens{AccessToken: "stale", RefreshToken: "r"}})

	_, err := c.ListSessions(context.Background())
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.Equal(t, "forbidden for this user", Message(err, "fallback"))
	assert.Equal(t, int32(1), refreshCalls.Load())
	assert.Equal(t, int32(2), listCalls.Load())
}

func TestConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	var refreshCalls atomic.Int32
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		<-release
		writeJSON(w, 200, map[string]any{"data": map[string]string{"accessToken": "fresh"}})
	})
	mux.HandleFunc("GET /sessions/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			writeJSON(w, 401, map[string]any{"success": false})
			return
		}
		writeJSON(w, 200, map[string]any{"success": true, "data": map[string]any{"status": "qr_ready"}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, &memTokens{tokens: store.Tokens{AccessToken: "stale", RefreshToken: "r"}})

	const n = 5
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := c.GetStatus(context.Background(), "s1")
			if err == nil && sess.Status != store.StatusQRWaiting {
				err = assert.AnError
			}
			errs <- err
		}()
	}

	// let every request hit the 401 before the refresh completes
	require.Eventually(t, func() bool { return refreshCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), refreshCalls.Load())
}

func TestEnvelopeShapes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions/db/all", func(w http.ResponseWriter, r *http.Request) {
		// data unwrapped to a bare array
		writeJSON(w, 200, map[string]any{"success": true, "data": []map[string]any{
			{"sessionId": "a", "status": "no_session", "metadata": map[string]string{"platform": "android"}},
			{"sessionId": "b", "status": "qr_waiting", "isActive": false},
		}})
	})
	mux.HandleFunc("GET /sessions/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		// status at the top level, details in data
		writeJSON(w, 200, map[string]any{"success": true, "status": "connected", "data": map[string]any{"lastSeen": "2024-05-01T10:00:00.000Z"}})
	})
	mux.HandleFunc("POST /sessions/create", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"success": false, "message": "Session limit reached"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, &memTokens{tokens: store.Tokens{AccessToken: "a"}})
	ctx := context.Background()

	all, err := c.ListAllSessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, store.StatusError, all[0].Status)
	assert.Equal(t, "android", all[0].Platform)
	require.NotNil(t, all[1].IsActive)
	assert.False(t, *all[1].IsActive)

	sess, err := c.GetStatus(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, store.StatusConnected, sess.Status)
	assert.Equal(t, 2024, sess.LastSeen.Year())
	assert.True(t, sess.ConnectedAt.IsZero())

	_, err = c.CreateSession(ctx, "x")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Session limit reached", apiErr.Message)
}

func TestDecodeFieldErrors(t *testing.T) {
	_, err := decode(400, []byte(`{"success":false,"message":"Validation failed","errors":[{"field":"email","message":"invalid"}]}`))
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, map[string]string{"email": "invalid"}, apiErr.Fields)
	assert.Equal(t, "Validation failed (email: invalid)", apiErr.Error())

	_, err = decode(502, []byte("Bad Gateway"))
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Bad Gateway", apiErr.Message)

	assert.Equal(t, "Failed to send message", Message(io.EOF, "Failed to send message"))
}

func TestLoginStoresTokensAndLogoutClears(t *testing.T) {
	var logoutBody map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, 200, map[string]any{"success": true, "data": map[string]any{
			"user":   map[string]any{"_id": "u1", "email": "a@example.com", "subscriptionTier": "business", "limits": map[string]int{"maxSessions": 10}},
			"tokens": map[string]string{"accessToken": "acc", "refreshToken": "ref"},
		}})
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer acc", r.Header.Get("Authorization"))
		json.NewDecoder(r.Body).Decode(&logoutBody)
		writeJSON(w, 200, map[string]any{"success": true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tokens := &memTokens{}
	c := newTestClient(t, srv, tokens)
	ctx := context.Background()

	user, err := c.Login(ctx, "a@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, 10, user.Limits.MaxSessions)
	assert.Equal(t, store.Tokens{AccessToken: "acc", RefreshToken: "ref"}, tokens.tokens)

	require.NoError(t, c.Logout(ctx))
	assert.Equal(t, "ref", logoutBody["refreshToken"])
	assert.True(t, tokens.tokens.Empty())
}

func TestProfileRequiresSignIn(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestClient(t, srv, &memTokens{}).Profile(context.Background())
	assert.ErrorIs(t, err, ErrNotSignedIn)
}
