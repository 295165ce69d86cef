// Package api is the REST client for the auth, session and chat services.
//
// Every authenticated request carries the stored bearer token. A 401 causes
// one token refresh and one replay of the original request; concurrent
// failures share a single refresh call. When the refresh fails the stored
// credentials are cleared and ErrSessionExpired is returned.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/sync/singleflight"

	"wa-console/internal/store"
)

const maxResponseSize = 10 << 20

// TokenStore persists the signed-in user's credentials.
type TokenStore interface {
	Tokens(ctx context.Context) (store.Tokens, error)
	SaveTokens(ctx context.Context, t store.Tokens) error
	SetAccessToken(ctx context.Context, token string) error
	User(ctx context.Context) (*store.User, error)
	SaveUser(ctx context.Context, u *store.User) error
	Clear(ctx context.Context) error
}

// Options configures a Client.
type Options struct {
	AuthURL    string
	SessionURL string
	ChatURL    string
	Timeout    time.Duration

	// HTTPClient overrides the default client; Timeout is ignored then.
	HTTPClient *http.Client

	// OnAuthExpired runs after credentials were cleared because a refresh
	// failed. The CLI uses it to prompt for a new login.
	OnAuthExpired func()
}

// Client talks to the backend services.
type Client struct {
	http          *http.Client
	authURL       string
	sessionURL    string
	chatURL       string
	tokens        TokenStore
	log           waLog.Logger
	refreshGroup  singleflight.Group
	onAuthExpired func()
}

// New creates a new Client.
func New(opts Options, tokens TokenStore, log waLog.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		http:          httpClient,
		authURL:       strings.TrimRight(opts.AuthURL, "/"),
		sessionURL:    strings.TrimRight(opts.SessionURL, "/"),
		chatURL:       strings.TrimRight(opts.ChatURL, "/"),
		tokens:        tokens,
		log:           log.Sub("API"),
		onAuthExpired: opts.OnAuthExpired,
	}
}

// Tokens exposes the credential store, e.g. for the push socket.
func (c *Client) Tokens() TokenStore {
	return c.tokens
}

// request describes one backend call.
type request struct {
	method string
	base   string
	path   string
	query  url.Values
	body   any

	// multipart builds a fresh body per attempt.
	multipart func() (io.ReadCloser, string, error)

	// public requests never carry a token and never trigger a refresh.
	public bool
}

// do executes req, handling the refresh-and-replay on 401, and returns the
// parsed response body.
func (c *Client) do(ctx context.Context, req request) (gjson.Result, error) {
	token := ""
	if !req.public {
		tokens, err := c.tokens.Tokens(ctx)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("failed to load tokens: %w", err)
		}
		token = tokens.AccessToken
	}

	res, err := c.send(ctx, req, token)
	if req.public || !IsStatus(err, http.StatusUnauthorized) {
		return res, err
	}

	c.log.Debugf("%s %s returned 401, refreshing token", req.method, req.path)
	fresh, rerr := c.refresh(ctx, token)
	if rerr != nil {
		return gjson.Result{}, rerr
	}
	// replay exactly once; a second 401 is returned as-is
	return c.send(ctx, req, fresh)
}

func (c *Client) send(ctx context.Context, req request, token string) (gjson.Result, error) {
	target := req.base + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.multipart != nil:
		rc, ct, err := req.multipart()
		if err != nil {
			return gjson.Result{}, err
		}
		defer rc.Close()
		body, contentType = rc, ct
	case req.body != nil:
		data, err := json.Marshal(req.body)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("failed to encode request: %w", err)
		}
		body, contentType = bytes.NewReader(data), "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to reach %s: %w", req.base, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to read response: %w", err)
	}
	return decode(resp.StatusCode, raw)
}

// decode turns a response into its parsed body or an *Error.
func decode(status int, raw []byte) (gjson.Result, error) {
	var res gjson.Result
	if len(bytes.TrimSpace(raw)) > 0 && gjson.ValidBytes(raw) {
		res = gjson.ParseBytes(raw)
	}

	failed := status < 200 || status >= 300
	if s := res.Get("success"); s.Exists() && !s.Bool() {
		failed = true
	}
	if !failed {
		return res, nil
	}

	apiErr := &Error{
		Status:  status,
		Message: first(res, "message", "error.message", "error").String(),
	}
	if apiErr.Message == "" && res.Type == gjson.Null && len(raw) > 0 && len(raw) < 512 {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	for _, f := range res.Get("errors").Array() {
		field := first(f, "field", "path", "param").String()
		if field == "" {
			continue
		}
		if apiErr.Fields == nil {
			apiErr.Fields = map[string]string{}
		}
		apiErr.Fields[field] = first(f, "message", "msg").String()
	}
	return res, apiErr
}

// refresh obtains a new access token. Concurrent callers share one refresh.
// stale is the token that was rejected; if another caller already replaced
// it, the stored token is returned without a new refresh.
func (c *Client) refresh(ctx context.Context, stale string) (string, error) {
	v, err, _ := c.refreshGroup.Do("refresh", func() (interface{}, error) {
		// detach from the first caller so its cancellation doesn't fail everyone
		timeout := c.http.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		tokens, err := c.tokens.Tokens(rctx)
		if err != nil {
			return "", fmt.Errorf("failed to load tokens: %w", err)
		}
		if tokens.AccessToken != "" && tokens.AccessToken != stale {
			return tokens.AccessToken, nil
		}
		if tokens.RefreshToken == "" {
			c.expire(rctx, errors.New("no refresh token"))
			return "", ErrSessionExpired
		}

		res, err := c.send(rctx, request{
			method: http.MethodPost,
			base:   c.authURL,
			path:   "/auth/refresh-token",
			body:   map[string]string{"refreshToken": tokens.RefreshToken},
			public: true,
		}, "")
		if err != nil {
			c.expire(rctx, err)
			return "", fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}

		access := first(res, "data.accessToken", "accessToken", "data.tokens.accessToken").String()
		if access == "" {
			c.expire(rctx, errors.New("refresh response without access token"))
			return "", ErrSessionExpired
		}
		// some backends rotate the refresh token as well
		if rotated := first(res, "data.refreshToken", "data.tokens.refreshToken").String(); rotated != "" {
			err = c.tokens.SaveTokens(rctx, store.Tokens{AccessToken: access, RefreshToken: rotated})
		} else {
			err = c.tokens.SetAccessToken(rctx, access)
		}
		if err != nil {
			return "", fmt.Errorf("failed to store refreshed token: %w", err)
		}
		c.log.Infof("Access token refreshed")
		return access, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// expire clears local credentials after a failed refresh.
func (c *Client) expire(ctx context.Context, cause error) {
	c.log.Warnf("Token refresh failed, clearing credentials: %v", cause)
	if err := c.tokens.Clear(ctx); err != nil {
		c.log.Errorf("Failed to clear credentials: %v", err)
	}
	if c.onAuthExpired != nil {
		c.onAuthExpired()
	}
}
