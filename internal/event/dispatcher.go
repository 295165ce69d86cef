// Package event decodes push frames and routes them to registered handlers.
package event

import (
	"sync"

	"github.com/tidwall/gjson"
	waLog "go.mau.fi/whatsmeow/util/log"

	"wa-console/internal/api"
	"wa-console/internal/store"
)

// Dispatcher routes push events to registered handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	order    []int
	nextID   int
	log      waLog.Logger
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(log waLog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[int]Handler),
		log:      log.Sub("Dispatcher"),
	}
}

// Register adds a handler and returns a func that removes it again.
// Handlers are called in registration order.
func (d *Dispatcher) Register(h Handler) (unregister func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.handlers[id] = h
	d.order = append(d.order, id)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			delete(d.handlers, id)
			for i, v := range d.order {
				if v == id {
					d.order = append(d.order[:i], d.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (d *Dispatcher) snapshot() []Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Handler, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.handlers[id])
	}
	return out
}

// HandleFrame decodes a raw frame payload by event name and dispatches it.
// Unknown names and undecodable payloads are logged and dropped.
func (d *Dispatcher) HandleFrame(name string, data []byte) {
	if !gjson.ValidBytes(data) {
		d.log.Warnf("Dropping %s frame with invalid payload", name)
		return
	}
	evt := Decode(name, gjson.ParseBytes(data))
	if evt == nil {
		d.log.Debugf("Unhandled frame: %s", name)
		return
	}
	d.Handle(evt)
}

// Decode converts a frame payload into its typed event, or nil.
func Decode(name string, r gjson.Result) any {
	switch name {
	case NameSessionStatus:
		sess := api.ParseSession(r)
		if sess.ID == "" {
			return nil
		}
		return &SessionStatus{Session: sess}
	case NameQRCode:
		e := &QRCode{
			SessionID: r.Get("sessionId").String(),
			QR:        firstString(r, "qr", "qrCode", "qrcode"),
		}
		if e.SessionID == "" || e.QR == "" {
			return nil
		}
		return e
	case NameMessageReceived:
		m := api.ParseMessage(messageObject(r))
		if m.SessionID == "" {
			m.SessionID = r.Get("sessionId").String()
		}
		if m.SessionID == "" || m.ID == "" {
			return nil
		}
		return &MessageReceived{Message: m}
	case NameMessageStatus:
		e := &MessageStatus{
			SessionID: r.Get("sessionId").String(),
			MessageID: firstString(r, "messageId", "id"),
			Status:    store.MessageStatus(r.Get("status").String()),
		}
		if e.MessageID == "" || e.Status == "" {
			return nil
		}
		return e
	case NameUserTyping:
		e := &UserTyping{
			SessionID: r.Get("sessionId").String(),
			ChatID:    firstString(r, "chatId", "from"),
			IsTyping:  r.Get("isTyping").Bool(),
		}
		if e.ChatID == "" {
			return nil
		}
		return e
	}
	return nil
}

// messageObject accepts both {message: {...}} and a bare message.
func messageObject(r gjson.Result) gjson.Result {
	if m := r.Get("message"); m.IsObject() {
		return m
	}
	return r
}

func firstString(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// Handle routes a typed event to all registered handlers.
func (d *Dispatcher) Handle(evt any) {
	handlers := d.snapshot()

	switch e := evt.(type) {
	case *SessionStatus:
		d.log.Debugf("Session %s status %s", e.Session.ID, e.Session.Status)
		for _, h := range handlers {
			h.OnSessionStatus(e)
		}
	case *QRCode:
		d.log.Debugf("QR code for session %s", e.SessionID)
		for _, h := range handlers {
			h.OnQRCode(e)
		}
	case *MessageReceived:
		d.log.Debugf("Message %s in %s", e.Message.ID, e.Message.ChatID)
		for _, h := range handlers {
			h.OnMessageReceived(e)
		}
	case *MessageStatus:
		d.log.Debugf("Message %s is %s", e.MessageID, e.Status)
		for _, h := range handlers {
			h.OnMessageStatus(e)
		}
	case *UserTyping:
		for _, h := range handlers {
			h.OnUserTyping(e)
		}
	default:
		d.log.Debugf("Unhandled event type: %T", evt)
	}
}
