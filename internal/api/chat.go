package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"wa-console/internal/store"
	"wa-console/internal/utils/media"
)

// DefaultPageSize is the number of messages fetched per page.
const DefaultPageSize = 50

// Pagination describes a page of a listing.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// HasMore reports whether pages after Page exist.
func (p Pagination) HasMore() bool {
	return p.Page < p.Pages
}

// MessagePage is one page of a chat transcript.
type MessagePage struct {
	Messages   []*store.Message
	Pagination Pagination
}

// SendTextRequest sends a text message from a chat view.
type SendTextRequest struct {
	SessionID       string `json:"sessionId"`
	To              string `json:"to"`
	Message         string `json:"message"`
	QuotedMessageID string `json:"quotedMessageId,omitempty"`
}

// SendMediaRequest sends a file from a chat view.
type SendMediaRequest struct {
	SessionID string
	To        string
	Path      string
	MediaType media.Type
	Caption   string
}

func chatPath(sessionID string, rest ...string) string {
	p := "/messages/sessions/" + url.PathEscape(sessionID)
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}

// ListChats lists the chats of a session.
func (c *Client) ListChats(ctx context.Context, sessionID string) ([]*store.Chat, error) {
	res, err := c.do(ctx, request{method: http.MethodGet, base: c.chatURL, path: chatPath(sessionID, "chats")})
	if err != nil {
		return nil, err
	}
	items := list(res, "data.chats", "chats", "data")
	chats := make([]*store.Chat, 0, len(items))
	for _, item := range items {
		if chat := ParseChat(item, sessionID); chat.ID != "" {
			chats = append(chats, chat)
		}
	}
	return chats, nil
}

// ListMessages fetches one page of a chat. page starts at 1.
func (c *Client) ListMessages(ctx context.Context, sessionID, chatID string, page, limit int) (*MessagePage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	res, err := c.do(ctx, request{
		method: http.MethodGet,
		base:   c.chatURL,
		path:   chatPath(sessionID, "chats", chatID, "messages"),
		query:  url.Values{"page": {strconv.Itoa(page)}, "limit": {strconv.Itoa(limit)}},
	})
	if err != nil {
		return nil, err
	}

	out := &MessagePage{Pagination: Pagination{Page: page, Limit: limit}}
	if p := first(res, "data.pagination", "pagination"); p.IsObject() {
		out.Pagination = Pagination{
			Page:  int(p.Get("page").Int()),
			Limit: int(p.Get("limit").Int()),
			Total: int(p.Get("total").Int()),
			Pages: int(p.Get("pages").Int()),
		}
	}
	for _, item := range list(res, "data.messages", "messages", "data") {
		out.Messages = append(out.Messages, withSession(ParseMessage(item), sessionID, chatID))
	}
	return out, nil
}

// SendText sends a text message and returns the stored message.
func (c *Client) SendText(ctx context.Context, req SendTextRequest) (*store.Message, error) {
	res, err := c.do(ctx, request{method: http.MethodPost, base: c.chatURL, path: "/messages/send", body: req})
	if err != nil {
		return nil, err
	}
	m := sentMessage(res, req.SessionID, req.To)
	if m.Text == "" {
		m.Text = req.Message
	}
	if m.QuotedMessageID == "" {
		m.QuotedMessageID = req.QuotedMessageID
	}
	return m, nil
}

// SendMedia uploads and sends a file in one multipart request.
func (c *Client) SendMedia(ctx context.Context, req SendMediaRequest, progress ProgressFunc) (*store.Message, error) {
	mediaType := req.MediaType
	if mediaType == media.TypeNone {
		mediaType = media.FromExtension(req.Path)
	}
	res, err := c.do(ctx, request{
		method: http.MethodPost,
		base:   c.chatURL,
		path:   "/messages/send-media",
		multipart: fileForm(req.Path, "media", map[string]string{
			"sessionId": req.SessionID,
			"to":        req.To,
			"mediaType": string(mediaType),
			"caption":   req.Caption,
		}, progress),
	})
	if err != nil {
		return nil, err
	}
	m := sentMessage(res, req.SessionID, req.To)
	if m.Type == store.MessageText {
		m.Type = store.MessageType(mediaType)
	}
	if m.Caption == "" {
		m.Caption = req.Caption
	}
	return m, nil
}

func sentMessage(res gjson.Result, sessionID, to string) *store.Message {
	m := ParseMessage(object(payload(res), "message"))
	m.Direction = store.DirectionOutgoing
	if m.To == "" {
		m.To = to
	}
	if m.ChatID == "" || m.ChatID == m.From {
		m.ChatID = to
	}
	if m.Status == "" {
		m.Status = store.MessageSent
	}
	return withSession(m, sessionID, "")
}

func withSession(m *store.Message, sessionID, chatID string) *store.Message {
	if m.SessionID == "" {
		m.SessionID = sessionID
	}
	if m.ChatID == "" {
		m.ChatID = chatID
	}
	return m
}

// MarkRead marks a chat read on the backend.
func (c *Client) MarkRead(ctx context.Context, sessionID, chatID string) error {
	_, err := c.do(ctx, request{method: http.MethodPost, base: c.chatURL, path: chatPath(sessionID, "chats", chatID, "read")})
	return err
}

// DeleteMessage deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := c.do(ctx, request{method: http.MethodDelete, base: c.chatURL, path: "/messages/messages/" + url.PathEscape(messageID)})
	return err
}

// ToggleStar flips the star flag and returns the new value.
func (c *Client) ToggleStar(ctx context.Context, messageID string) (bool, error) {
	res, err := c.do(ctx, request{method: http.MethodPost, base: c.chatURL, path: "/messages/messages/" + url.PathEscape(messageID) + "/star"})
	if err != nil {
		return false, err
	}
	return first(res, "data.isStarred", "isStarred").Bool(), nil
}

// Search finds messages of a session containing query.
func (c *Client) Search(ctx context.Context, sessionID, query string) ([]*store.Message, error) {
	res, err := c.do(ctx, request{
		method: http.MethodGet,
		base:   c.chatURL,
		path:   chatPath(sessionID, "search"),
		query:  url.Values{"q": {query}},
	})
	if err != nil {
		return nil, err
	}
	var out []*store.Message
	for _, item := range list(res, "data.messages", "messages", "data.results", "data") {
		out = append(out, withSession(ParseMessage(item), sessionID, ""))
	}
	return out, nil
}
