package socket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"

	"wa-console/internal/infra/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeServer struct {
	*httptest.Server
	mu      sync.Mutex
	conns   int
	auth    []string
	queries []string
	frames  chan string
	// onConnect runs per accepted connection with its index.
	onConnect func(ctx context.Context, n int, conn *websocket.Conn)
}

func newFakeServer(t *testing.T, onConnect func(ctx context.Context, n int, conn *websocket.Conn)) *fakeServer {
	fs := &fakeServer{frames: make(chan string, 32), onConnect: onConnect}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		n := fs.conns
		fs.conns++
		fs.auth = append(fs.auth, r.Header.Get("Authorization"))
		fs.queries = append(fs.queries, r.URL.Query().Get("token"))
		fs.mu.Unlock()

		ctx := r.Context()
		if fs.onConnect != nil {
			fs.onConnect(ctx, n, conn)
		}
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			fs.frames <- string(data)
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http")
}

func staticToken(tok string) TokenFunc {
	return func(context.Context) (string, error) { return tok, nil }
}

func nextFrame(t *testing.T, fs *fakeServer) gjson.Result {
	t.Helper()
	select {
	case f := <-fs.frames:
		return gjson.Parse(f)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return gjson.Result{}
	}
}

func TestReceivesFramesAndAuthenticates(t *testing.T) {
	fs := newFakeServer(t, func(ctx context.Context, n int, conn *websocket.Conn) {
		conn.Write(ctx, websocket.MessageText, []byte(`{"event":"qr_code","data":{"sessionId":"s1","qr":"2@x"}}`))
		conn.Write(ctx, websocket.MessageText, []byte(`garbage`))
		conn.Write(ctx, websocket.MessageText, []byte(`["message_status",{"messageId":"m1","status":"read"}]`))
	})

	got := make(chan string, 4)
	c := New(Options{URL: fs.wsURL()}, staticToken("tok"), func(name string, data []byte) {
		got <- name + " " + string(data)
	}, logger.Noop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Equal(t, `qr_code {"sessionId":"s1","qr":"2@x"}`, <-got)
	assert.Equal(t, `message_status {"messageId":"m1","status":"read"}`, <-got)

	fs.mu.Lock()
	assert.Equal(t, "Bearer tok", fs.auth[0])
	assert.Equal(t, "tok", fs.queries[0])
	fs.mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}

func TestEmitAndRejoinAfterReconnect(t *testing.T) {
	fs := newFakeServer(t, func(ctx context.Context, n int, conn *websocket.Conn) {
		if n == 0 {
			// drop the first connection after the client joined
			go func() {
				time.Sleep(200 * time.Millisecond)
				conn.Close(websocket.StatusGoingAway, "restart")
			}()
		}
	})

	c := New(Options{URL: fs.wsURL(), ReconnectDelay: 10 * time.Millisecond}, staticToken(""), nil, logger.Noop())

	assert.ErrorIs(t, c.Emit(context.Background(), EmitTyping, nil), ErrNotConnected)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	wctx, wcancel := context.WithTimeout(ctx, 2*time.Second)
	defer wcancel()
	require.NoError(t, c.WaitConnected(wctx))

	require.NoError(t, c.SubscribeSession(ctx, "s1"))
	require.NoError(t, c.JoinChat(ctx, "s1", "c1"))
	require.NoError(t, c.Typing(ctx, "s1", "c1", true))

	f := nextFrame(t, fs)
	assert.Equal(t, EmitSubscribeSession, f.Get("event").String())
	assert.Equal(t, "s1", f.Get("data.sessionId").String())
	f = nextFrame(t, fs)
	assert.Equal(t, EmitJoinChat, f.Get("event").String())
	assert.Equal(t, "c1", f.Get("data.chatId").String())
	f = nextFrame(t, fs)
	assert.Equal(t, EmitTyping, f.Get("event").String())
	assert.True(t, f.Get("data.isTyping").Bool())

	// after the server drops us the rooms are replayed
	var replayed []string
	for len(replayed) < 3 {
		replayed = append(replayed, nextFrame(t, fs).Get("event").String())
	}
	assert.Equal(t, []string{EmitSubscribeSession, EmitJoinSession, EmitJoinChat}, replayed)

	cancel()
	require.NoError(t, <-done)
}

func TestRunGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(Options{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectDelay:    time.Millisecond,
		ReconnectAttempts: 2,
	}, staticToken("t"), nil, logger.Noop())

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect push socket")
}

func TestTokenErrorStopsDial(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1", ReconnectDelay: time.Millisecond, ReconnectAttempts: 1},
		func(context.Context) (string, error) { return "", errors.New("locked") }, nil, logger.Noop())
	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")
}

func TestDecodeFrame(t *testing.T) {
	name, data, ok := decodeFrame([]byte(`{"event":"user_typing"}`))
	require.True(t, ok)
	assert.Equal(t, "user_typing", name)
	assert.Equal(t, "{}", string(data))

	_, _, ok = decodeFrame([]byte(`{"data":{}}`))
	assert.False(t, ok)
	_, _, ok = decodeFrame([]byte(`42`))
	assert.False(t, ok)
}
