package app

import (
	"context"
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"

	"wa-console/internal/api"
	pushevent "wa-console/internal/event"
	"wa-console/internal/infra/config"
	"wa-console/internal/infra/tokens"
	"wa-console/internal/notify"
	"wa-console/internal/socket"
	"wa-console/internal/store"
)

// Client bundles the connections to the backend: the REST client, the push
// socket and the credential store both authenticate with.
type Client struct {
	API    *api.Client
	Socket *socket.Client
	Tokens api.TokenStore

	closeTokens func() error
}

// NewClient picks the credential store and creates the REST and push
// clients. Credentials live in Redis when a URL is configured, otherwise in
// the local store.
func NewClient(ctx context.Context, cfg *config.Config, c *store.Container, events *pushevent.Dispatcher, n notify.Notifier, log waLog.Logger) (*Client, error) {
	client := &Client{Tokens: c.Credentials}
	if cfg.RedisURL != "" {
		rs, err := tokens.NewRedisStore(ctx, cfg.RedisURL, "")
		if err != nil {
			return nil, fmt.Errorf("failed to open credential store: %w", err)
		}
		log.Infof("Using shared credentials from redis")
		client.Tokens = rs
		client.closeTokens = rs.Close
	}

	client.API = api.New(api.Options{
		AuthURL:    cfg.AuthURL,
		SessionURL: cfg.SessionURL,
		ChatURL:    cfg.ChatURL,
		Timeout:    cfg.HTTPTimeout(),
		OnAuthExpired: func() {
			n.Error(api.ErrSessionExpired.Error())
		},
	}, client.Tokens, log)

	client.Socket = socket.New(socket.Options{
		URL:               cfg.WSURL,
		ReconnectDelay:    cfg.Socket.ReconnectDelay(),
		ReconnectAttempts: cfg.Socket.ReconnectAttempts,
	}, client.accessToken, events.HandleFrame, log)

	return client, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	t, err := c.Tokens.Tokens(ctx)
	if err != nil {
		return "", err
	}
	if t.AccessToken == "" {
		return "", api.ErrNotSignedIn
	}
	return t.AccessToken, nil
}

// SignedIn reports whether an access token is stored.
func (c *Client) SignedIn(ctx context.Context) bool {
	_, err := c.accessToken(ctx)
	return err == nil
}

// Close releases the credential store.
func (c *Client) Close() error {
	if c.closeTokens != nil {
		return c.closeTokens()
	}
	return nil
}
