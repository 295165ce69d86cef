package api

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"wa-console/internal/store"
)

// payload unwraps the {success, message, data, timestamp} envelope. Some
// endpoints put their fields at the top level instead; those are returned
// as-is.
func payload(res gjson.Result) gjson.Result {
	if d := res.Get("data"); d.Exists() && d.Type != gjson.Null {
		return d
	}
	return res
}

// first returns the first of paths that exists in r.
func first(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

// object returns the object nested under key, or r itself when r is the
// object already.
func object(r gjson.Result, key string) gjson.Result {
	if v := r.Get(key); v.IsObject() {
		return v
	}
	return r
}

// list finds an array under any of paths, falling back to r itself.
func list(r gjson.Result, paths ...string) []gjson.Result {
	if v := first(r, paths...); v.IsArray() {
		return v.Array()
	}
	if r.IsArray() {
		return r.Array()
	}
	return nil
}

func parseTime(r gjson.Result) time.Time {
	switch r.Type {
	case gjson.String:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z07:00", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, r.Str); err == nil {
				return t
			}
		}
	case gjson.Number:
		n := r.Int()
		if n <= 0 {
			return time.Time{}
		}
		// seconds vs milliseconds
		if n < 1e12 {
			return time.Unix(n, 0)
		}
		return time.UnixMilli(n)
	}
	return time.Time{}
}

func optInt(r gjson.Result) *int {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	v := int(r.Int())
	return &v
}

func optBool(r gjson.Result) *bool {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	v := r.Bool()
	return &v
}

// ParseSession converts a backend session object. Exported for the socket
// layer, which receives the same shape in session_status frames.
func ParseSession(r gjson.Result) *store.Session {
	return &store.Session{
		ID:          first(r, "sessionId", "id").String(),
		Name:        first(r, "sessionName", "name", "metadata.sessionName").String(),
		PhoneNumber: first(r, "phoneNumber", "phone", "metadata.phoneNumber").String(),
		Status:      store.ParseStatus(r.Get("status").String()),
		QRCode:      first(r, "qrCode", "qr", "qrcode").String(),
		ConnectedAt: parseTime(r.Get("connectedAt")),
		LastSeen:    parseTime(r.Get("lastSeen")),
		RetryCount:  optInt(r.Get("retryCount")),
		IsActive:    optBool(r.Get("isActive")),
		Platform:    r.Get("metadata.platform").String(),
		WAVersion:   r.Get("metadata.waVersion").String(),
		CreatedAt:   parseTime(r.Get("createdAt")),
	}
}

// ParseMessage converts a backend message object.
func ParseMessage(r gjson.Result) *store.Message {
	m := &store.Message{
		SessionID:       r.Get("sessionId").String(),
		ID:              first(r, "messageId", "id", "_id").String(),
		ChatID:          r.Get("chatId").String(),
		From:            r.Get("from").String(),
		To:              r.Get("to").String(),
		Direction:       store.Direction(r.Get("direction").String()),
		Type:            store.MessageType(r.Get("type").String()),
		Text:            first(r, "content.text", "text", "body").String(),
		Caption:         first(r, "content.caption", "caption").String(),
		MediaURL:        first(r, "content.mediaUrl", "mediaUrl").String(),
		Status:          store.MessageStatus(r.Get("status").String()),
		IsStarred:       optBool(r.Get("isStarred")),
		IsDeleted:       optBool(r.Get("isDeleted")),
		QuotedMessageID: first(r, "metadata.quotedMessageId", "quotedMessageId").String(),
		PushName:        r.Get("metadata.pushName").String(),
		Timestamp:       parseTime(r.Get("timestamp")),
	}
	if m.Direction == "" {
		if r.Get("metadata.fromMe").Bool() {
			m.Direction = store.DirectionOutgoing
		} else {
			m.Direction = store.DirectionIncoming
		}
	}
	if m.Type == "" {
		m.Type = store.MessageText
	}
	if m.ChatID == "" {
		// fall back to the counterpart
		if m.Direction == store.DirectionOutgoing {
			m.ChatID = m.To
		} else {
			m.ChatID = m.From
		}
	}
	return m
}

// ParseChat converts a backend chat object.
func ParseChat(r gjson.Result, sessionID string) *store.Chat {
	c := &store.Chat{
		SessionID:      first(r, "sessionId").String(),
		ID:             first(r, "chatId", "id").String(),
		Name:           r.Get("name").String(),
		PhoneNumber:    r.Get("phoneNumber").String(),
		ProfilePicture: r.Get("profilePicture").String(),
		IsGroup:        r.Get("isGroup").Bool(),
		UnreadCount:    int(r.Get("unreadCount").Int()),
		IsPinned:       r.Get("isPinned").Bool(),
		IsMuted:        r.Get("isMuted").Bool(),
		LastMessage: store.LastMessage{
			MessageID: r.Get("lastMessage.messageId").String(),
			Text:      first(r, "lastMessage.content", "lastMessage.text").String(),
			Type:      store.MessageType(r.Get("lastMessage.type").String()),
			Timestamp: parseTime(r.Get("lastMessage.timestamp")),
		},
	}
	if c.SessionID == "" {
		c.SessionID = sessionID
	}
	if !c.IsGroup && strings.HasSuffix(c.ID, "@g.us") {
		c.IsGroup = true
	}
	return c
}

// ParseCampaign converts a backend campaign object.
func ParseCampaign(r gjson.Result) *store.Campaign {
	c := &store.Campaign{
		ID:          first(r, "_id", "id", "campaignId").String(),
		Name:        r.Get("name").String(),
		SessionID:   r.Get("sessionId").String(),
		Type:        store.CampaignType(r.Get("type").String()),
		Receiver:    r.Get("receiver").String(),
		Text:        first(r, "message.text", "text").String(),
		Caption:     r.Get("message.caption").String(),
		DelayMs:     int(r.Get("delay").Int()),
		Total:       optInt(r.Get("total")),
		SentCount:   optInt(r.Get("sentCount")),
		FailedCount: optInt(r.Get("failedCount")),
		Status:      store.ParseCampaignStatus(r.Get("status").String()),
		CreatedAt:   parseTime(r.Get("createdAt")),
	}
	for _, n := range r.Get("numbers").Array() {
		c.Recipients = append(c.Recipients, n.String())
	}
	for _, mt := range []string{"image", "video", "audio", "document"} {
		if u := r.Get("message." + mt + ".url"); u.Exists() {
			c.MediaType = mt
			c.MediaURL = u.String()
			break
		}
	}
	return c
}
