package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"wa-console/internal/store"
)

// RegisterRequest is the sign-up payload.
type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"fullName,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// ProfileUpdate holds the editable profile fields; empty fields are omitted.
type ProfileUpdate struct {
	FullName  string `json:"fullName,omitempty"`
	Phone     string `json:"phone,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Register creates an account and signs in with the returned tokens.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*store.User, error) {
	res, err := c.do(ctx, request{
		method: http.MethodPost,
		base:   c.authURL,
		path:   "/auth/register",
		body:   req,
		public: true,
	})
	if err != nil {
		return nil, err
	}
	return c.storeSignIn(ctx, payload(res))
}

// Login signs in with an email or username and stores the token pair.
func (c *Client) Login(ctx context.Context, identifier, password string) (*store.User, error) {
	res, err := c.do(ctx, request{
		method: http.MethodPost,
		base:   c.authURL,
		path:   "/auth/login",
		body:   map[string]string{"identifier": identifier, "password": password},
		public: true,
	})
	if err != nil {
		return nil, err
	}
	return c.storeSignIn(ctx, payload(res))
}

func (c *Client) storeSignIn(ctx context.Context, data gjson.Result) (*store.User, error) {
	tokens := store.Tokens{
		AccessToken:  first(data, "tokens.accessToken", "accessToken").String(),
		RefreshToken: first(data, "tokens.refreshToken", "refreshToken").String(),
	}
	if tokens.AccessToken == "" {
		return nil, errors.New("sign-in response did not contain an access token")
	}
	if err := c.tokens.SaveTokens(ctx, tokens); err != nil {
		return nil, fmt.Errorf("failed to store tokens: %w", err)
	}

	user, err := parseUser(first(data, "user"))
	if err != nil {
		return nil, err
	}
	if err := c.tokens.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to store profile: %w", err)
	}
	return user, nil
}

// Logout revokes the refresh token and always clears local credentials.
func (c *Client) Logout(ctx context.Context) error {
	tokens, err := c.tokens.Tokens(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tokens: %w", err)
	}

	var remoteErr error
	if !tokens.Empty() {
		_, remoteErr = c.do(ctx, request{
			method: http.MethodPost,
			base:   c.authURL,
			path:   "/auth/logout",
			body:   map[string]string{"refreshToken": tokens.RefreshToken},
		})
	}
	if err := c.tokens.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	if remoteErr != nil && !errors.Is(remoteErr, ErrSessionExpired) {
		c.log.Warnf("Remote logout failed: %v", remoteErr)
	}
	return nil
}

// Profile fetches the signed-in user's profile and caches it.
func (c *Client) Profile(ctx context.Context) (*store.User, error) {
	if err := c.requireTokens(ctx); err != nil {
		return nil, err
	}
	res, err := c.do(ctx, request{method: http.MethodGet, base: c.authURL, path: "/auth/me"})
	if err != nil {
		return nil, err
	}
	return c.saveProfile(ctx, res)
}

// UpdateProfile changes profile fields.
func (c *Client) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*store.User, error) {
	if err := c.requireTokens(ctx); err != nil {
		return nil, err
	}
	res, err := c.do(ctx, request{method: http.MethodPut, base: c.authURL, path: "/auth/me", body: upd})
	if err != nil {
		return nil, err
	}
	return c.saveProfile(ctx, res)
}

func (c *Client) saveProfile(ctx context.Context, res gjson.Result) (*store.User, error) {
	data := payload(res)
	user, err := parseUser(first(data, "user"))
	if err != nil {
		user, err = parseUser(data)
	}
	if err != nil {
		return nil, err
	}
	if err := c.tokens.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to store profile: %w", err)
	}
	return user, nil
}

func (c *Client) requireTokens(ctx context.Context) error {
	tokens, err := c.tokens.Tokens(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tokens: %w", err)
	}
	if tokens.Empty() {
		return ErrNotSignedIn
	}
	return nil
}

func parseUser(r gjson.Result) (*store.User, error) {
	if !r.IsObject() {
		return nil, errors.New("response did not contain a user")
	}
	var u store.User
	if err := json.Unmarshal([]byte(r.Raw), &u); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	if u.ID == "" {
		u.ID = r.Get("id").String()
	}
	return &u, nil
}
