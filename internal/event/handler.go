package event

import (
	"wa-console/internal/store"
)

// Frame names consumed from the push socket.
const (
	NameMessageReceived = "message_received"
	NameMessageStatus   = "message_status"
	NameUserTyping      = "user_typing"
	NameSessionStatus   = "session_status"
	NameQRCode          = "qr_code"
)

// SessionStatus reports a (possibly partial) session update.
type SessionStatus struct {
	Session *store.Session
}

// QRCode carries a fresh pairing QR payload.
type QRCode struct {
	SessionID string
	QR        string
}

// MessageReceived carries a new message.
type MessageReceived struct {
	Message *store.Message
}

// MessageStatus reports a delivery status change.
type MessageStatus struct {
	SessionID string
	MessageID string
	Status    store.MessageStatus
}

// UserTyping reports a remote typing indicator.
type UserTyping struct {
	SessionID string
	ChatID    string
	IsTyping  bool
}

// Handler defines the interface for handling push events.
// Handlers run on the socket read loop and must not block.
type Handler interface {
	OnSessionStatus(*SessionStatus)
	OnQRCode(*QRCode)
	OnMessageReceived(*MessageReceived)
	OnMessageStatus(*MessageStatus)
	OnUserTyping(*UserTyping)
}

// BaseHandler provides default no-op implementations for all Handler methods.
// Embed this in your handler to only implement the methods you need.
type BaseHandler struct{}

func (h *BaseHandler) OnSessionStatus(*SessionStatus)     {}
func (h *BaseHandler) OnQRCode(*QRCode)                   {}
func (h *BaseHandler) OnMessageReceived(*MessageReceived) {}
func (h *BaseHandler) OnMessageStatus(*MessageStatus)     {}
func (h *BaseHandler) OnUserTyping(*UserTyping)           {}
