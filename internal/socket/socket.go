// Package socket is the push channel client. Frames are JSON text messages
// of the form {"event": name, "data": {...}}.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
	waLog "go.mau.fi/whatsmeow/util/log"

	"wa-console/internal/utils/retry"
)

// Frame names emitted by the client.
const (
	EmitJoinSession        = "join_session"
	EmitJoinChat           = "join_chat"
	EmitTyping             = "typing"
	EmitSubscribeSession   = "subscribe_session"
	EmitUnsubscribeSession = "unsubscribe_session"
)

// ErrNotConnected is returned by Emit while no connection is up.
var ErrNotConnected = errors.New("push socket not connected")

const maxFrameSize = 4 << 20

// TokenFunc returns the access token to authenticate with.
type TokenFunc func(ctx context.Context) (string, error)

// FrameFunc receives every decoded frame. It runs on the read loop.
type FrameFunc func(name string, data []byte)

// Options configures a Client.
type Options struct {
	URL               string
	ReconnectDelay    time.Duration
	ReconnectAttempts int
	HTTPClient        *http.Client
}

// Client keeps one push connection alive and replays room membership after
// a reconnect.
type Client struct {
	opts    Options
	token   TokenFunc
	onFrame FrameFunc
	log     waLog.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed map[string]struct{}
	session    string
	chat       string
	ready      chan struct{}
}

// New creates a new Client.
func New(opts Options, token TokenFunc, onFrame FrameFunc, log waLog.Logger) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = 5
	}
	return &Client{
		opts:       opts,
		token:      token,
		onFrame:    onFrame,
		log:        log.Sub("Socket"),
		subscribed: make(map[string]struct{}),
		ready:      make(chan struct{}),
	}
}

// Run connects and reads frames until ctx is done. A dropped connection is
// re-established; Run returns an error once reconnecting gives up.
func (c *Client) Run(ctx context.Context) error {
	cfg := retry.Config{
		MaxAttempts: c.opts.ReconnectAttempts,
		InitialWait: c.opts.ReconnectDelay,
		MaxWait:     c.opts.ReconnectDelay,
		Multiplier:  1,
	}

	for {
		conn, err := retry.DoWithConfig(ctx, cfg, func() (*websocket.Conn, error) {
			conn, err := c.dial(ctx)
			if err != nil && ctx.Err() == nil {
				c.log.Warnf("Connect failed: %v", err)
			}
			return conn, err
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to connect push socket: %w", err)
		}

		c.log.Infof("Connected to %s", c.opts.URL)
		c.attach(conn)
		c.rejoin(ctx)

		err = c.readLoop(ctx, conn)
		c.detach(conn)
		if ctx.Err() != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		}
		conn.CloseNow()
		c.log.Warnf("Disconnected: %v", err)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	target := c.opts.URL
	header := http.Header{}
	if token != "" {
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("invalid socket url: %w", err)
		}
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
		target = u.String()
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPClient: c.opts.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxFrameSize)
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		name, payload, ok := decodeFrame(data)
		if !ok {
			c.log.Debugf("Ignoring malformed frame")
			continue
		}
		if c.onFrame != nil {
			c.onFrame(name, payload)
		}
	}
}

// decodeFrame accepts {"event","data"} objects and ["event", data] arrays.
func decodeFrame(data []byte) (string, []byte, bool) {
	if !gjson.ValidBytes(data) {
		return "", nil, false
	}
	r := gjson.ParseBytes(data)
	var name, payload gjson.Result
	switch {
	case r.IsObject():
		name, payload = r.Get("event"), r.Get("data")
	case r.IsArray():
		name, payload = r.Get("0"), r.Get("1")
	default:
		return "", nil, false
	}
	if name.Type != gjson.String || name.Str == "" {
		return "", nil, false
	}
	raw := []byte(payload.Raw)
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	return name.Str, raw, true
}

func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	close(c.ready)
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
		c.ready = make(chan struct{})
	}
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// WaitConnected blocks until a connection is up or ctx is done.
func (c *Client) WaitConnected(ctx context.Context) error {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rejoin replays the rooms joined before a reconnect.
func (c *Client) rejoin(ctx context.Context) {
	c.mu.Lock()
	sessions := make([]string, 0, len(c.subscribed))
	for id := range c.subscribed {
		sessions = append(sessions, id)
	}
	session, chat := c.session, c.chat
	c.mu.Unlock()

	for _, id := range sessions {
		c.write(ctx, EmitSubscribeSession, sessionRef{SessionID: id})
	}
	if session != "" {
		c.write(ctx, EmitJoinSession, sessionRef{SessionID: session})
	}
	if session != "" && chat != "" {
		c.write(ctx, EmitJoinChat, chatRef{SessionID: session, ChatID: chat})
	}
}

type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type sessionRef struct {
	SessionID string `json:"sessionId"`
}

type chatRef struct {
	SessionID string `json:"sessionId"`
	ChatID    string `json:"chatId"`
}

type typingRef struct {
	SessionID string `json:"sessionId"`
	ChatID    string `json:"chatId"`
	IsTyping  bool   `json:"isTyping"`
}

// Emit sends a frame. While disconnected it returns ErrNotConnected; room
// membership is still recorded and replayed on the next connect.
func (c *Client) Emit(ctx context.Context, event string, data any) error {
	return c.write(ctx, event, data)
}

func (c *Client) write(ctx context.Context, event string, data any) error {
	buf, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", event, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.Write(ctx, websocket.MessageText, buf); err != nil {
		return fmt.Errorf("failed to send %s frame: %w", event, err)
	}
	return nil
}

// SubscribeSession starts receiving session_status and qr_code frames for id.
func (c *Client) SubscribeSession(ctx context.Context, id string) error {
	c.mu.Lock()
	c.subscribed[id] = struct{}{}
	c.mu.Unlock()
	return c.write(ctx, EmitSubscribeSession, sessionRef{SessionID: id})
}

// UnsubscribeSession stops session frames for id.
func (c *Client) UnsubscribeSession(ctx context.Context, id string) error {
	c.mu.Lock()
	delete(c.subscribed, id)
	c.mu.Unlock()
	return c.write(ctx, EmitUnsubscribeSession, sessionRef{SessionID: id})
}

// JoinSession joins the message room of a session.
func (c *Client) JoinSession(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.session != id {
		c.chat = ""
	}
	c.session = id
	c.mu.Unlock()
	return c.write(ctx, EmitJoinSession, sessionRef{SessionID: id})
}

// JoinChat joins the room of one chat.
func (c *Client) JoinChat(ctx context.Context, sessionID, chatID string) error {
	c.mu.Lock()
	c.session, c.chat = sessionID, chatID
	c.mu.Unlock()
	return c.write(ctx, EmitJoinChat, chatRef{SessionID: sessionID, ChatID: chatID})
}

// Typing reports the local typing state in a chat.
func (c *Client) Typing(ctx context.Context, sessionID, chatID string, typing bool) error {
	return c.write(ctx, EmitTyping, typingRef{SessionID: sessionID, ChatID: chatID, IsTyping: typing})
}
