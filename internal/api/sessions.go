package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"wa-console/internal/store"
)

// SessionUpdate holds editable session fields.
type SessionUpdate struct {
	SessionName string `json:"sessionName,omitempty"`
	IsActive    *bool  `json:"isActive,omitempty"`
}

// SessionMetadata is saved alongside a freshly created session.
type SessionMetadata struct {
	SessionID   string `json:"sessionId"`
	SessionName string `json:"sessionName"`
	PhoneNumber string `json:"phoneNumber"`
}

// CreateSession starts pairing for id and returns the initial record,
// usually in initializing or qr_waiting with a QR payload.
func (c *Client) CreateSession(ctx context.Context, id string) (*store.Session, error) {
	res, err := c.do(ctx, request{
		method: http.MethodPost,
		base:   c.sessionURL,
		path:   "/sessions/create",
		body:   map[string]string{"id": id},
	})
	if err != nil {
		return nil, err
	}
	sess := ParseSession(object(payload(res), "session"))
	if sess.ID == "" {
		sess.ID = id
	}
	if sess.Status == "" {
		sess.Status = store.StatusInitializing
	}
	return sess, nil
}

// ListSessions returns the sessions of the signed-in user.
func (c *Client) ListSessions(ctx context.Context) ([]*store.Session, error) {
	return c.listSessions(ctx, "/sessions/list")
}

// ListAllSessions returns every session persisted by the backend,
// including ones whose engine is not running.
func (c *Client) ListAllSessions(ctx context.Context) ([]*store.Session, error) {
	return c.listSessions(ctx, "/sessions/db/all")
}

func (c *Client) listSessions(ctx context.Context, path string) ([]*store.Session, error) {
	res, err := c.do(ctx, request{method: http.MethodGet, base: c.sessionURL, path: path})
	if err != nil {
		return nil, err
	}
	items := list(res, "data.sessions", "sessions", "data")
	sessions := make([]*store.Session, 0, len(items))
	for _, item := range items {
		if sess := ParseSession(item); sess.ID != "" {
			sessions = append(sessions, sess)
		}
	}
	return sessions, nil
}

// GetSession fetches one session.
func (c *Client) GetSession(ctx context.Context, id string) (*store.Session, error) {
	res, err := c.do(ctx, request{method: http.MethodGet, base: c.sessionURL, path: "/sessions/" + url.PathEscape(id)})
	if err != nil {
		return nil, err
	}
	data := payload(res)
	sess := ParseSession(object(data, "session"))
	if sess.ID == "" {
		sess.ID = id
	}
	return sess, nil
}

// GetQR fetches the current QR payload of a pairing session.
func (c *Client) GetQR(ctx context.Context, id string) (string, error) {
	res, err := c.do(ctx, request{method: http.MethodGet, base: c.sessionURL, path: "/sessions/" + url.PathEscape(id) + "/qr"})
	if err != nil {
		return "", err
	}
	qr := first(res, "data.qrCode", "data.qr", "qrCode", "qr").String()
	if qr == "" {
		if d := res.Get("data"); d.Type == gjson.String {
			qr = d.Str
		}
	}
	if qr == "" {
		return "", errors.New("no QR code available yet")
	}
	return qr, nil
}

// GetStatus polls the status of a session. Fields the backend omits are
// left zero so the store merge keeps their previous values.
func (c *Client) GetStatus(ctx context.Context, id string) (*store.Session, error) {
	res, err := c.do(ctx, request{method: http.MethodGet, base: c.sessionURL, path: "/sessions/status/" + url.PathEscape(id)})
	if err != nil {
		return nil, err
	}
	data := payload(res)
	sess := ParseSession(data)
	if sess.Status == "" {
		// {success, status, data:{...}} shape
		sess.Status = store.ParseStatus(res.Get("status").String())
	}
	sess.ID = id
	return sess, nil
}

// UpdateSession changes session fields.
func (c *Client) UpdateSession(ctx context.Context, id string, upd SessionUpdate) (*store.Session, error) {
	res, err := c.do(ctx, request{
		method: http.MethodPut,
		base:   c.sessionURL,
		path:   "/sessions/" + url.PathEscape(id),
		body:   upd,
	})
	if err != nil {
		return nil, err
	}
	sess := ParseSession(payload(res))
	sess.ID = id
	if sess.Name == "" {
		sess.Name = upd.SessionName
	}
	if sess.IsActive == nil {
		sess.IsActive = upd.IsActive
	}
	return sess, nil
}

// LogoutSession unlinks the account but keeps the session record.
func (c *Client) LogoutSession(ctx context.Context, id string) error {
	_, err := c.do(ctx, request{method: http.MethodPost, base: c.sessionURL, path: "/sessions/" + url.PathEscape(id) + "/logout"})
	return err
}

// DeleteSession removes a session on the backend.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	_, err := c.do(ctx, request{method: http.MethodDelete, base: c.sessionURL, path: "/sessions/" + url.PathEscape(id)})
	return err
}

// RestoreSessions asks the backend to restart every persisted session and
// returns the ids it restored.
func (c *Client) RestoreSessions(ctx context.Context) ([]string, error) {
	res, err := c.do(ctx, request{method: http.MethodPost, base: c.sessionURL, path: "/sessions/restore"})
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, item := range list(res, "data.restored", "data.sessions", "restored", "data") {
		if item.IsObject() {
			ids = append(ids, first(item, "sessionId", "id").String())
		} else {
			ids = append(ids, item.String())
		}
	}
	return ids, nil
}

// SaveMetadata stores the display name and phone number of a session.
func (c *Client) SaveMetadata(ctx context.Context, meta SessionMetadata) error {
	_, err := c.do(ctx, request{method: http.MethodPost, base: c.sessionURL, path: "/sessions/metadata", body: meta})
	return err
}
