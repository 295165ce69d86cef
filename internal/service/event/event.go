// Package event applies push events to the local store.
package event

import (
	"context"
	"sync"

	waLog "go.mau.fi/whatsmeow/util/log"

	pushevent "wa-console/internal/event"
	"wa-console/internal/notify"
	"wa-console/internal/store"
)

// EventService persists push events for every session: status and QR
// updates go through the session merge, messages through the idempotent
// insert. Typing indicators are ephemeral and left to the chat view.
type EventService struct {
	pushevent.BaseHandler

	ctx    context.Context
	log    waLog.Logger
	notify notify.Notifier

	sessions *store.SessionStore
	chats    *store.ChatStore
	messages *store.MessageStore

	mu      sync.Mutex
	claimed map[string]int
}

// NewEventService creates a new EventService.
func NewEventService(ctx context.Context, c *store.Container, n notify.Notifier, log waLog.Logger) *EventService {
	return &EventService{
		ctx:      ctx,
		log:      log.Sub("EventService"),
		notify:   n,
		sessions: c.Sessions,
		chats:    c.Chats,
		messages: c.Messages,
		claimed:  make(map[string]int),
	}
}

// Claim silences transition notifications for session id until release
// is called. Updates are still stored. Claims nest.
func (s *EventService) Claim(id string) (release func()) {
	s.mu.Lock()
	s.claimed[id]++
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.claimed[id]--; s.claimed[id] <= 0 {
				delete(s.claimed, id)
			}
		})
	}
}

func (s *EventService) isClaimed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimed[id] > 0
}

// OnSessionStatus merges the update and announces connect/disconnect
// transitions.
func (s *EventService) OnSessionStatus(e *pushevent.SessionStatus) {
	if s.ctx.Err() != nil {
		return
	}
	before, _ := s.sessions.Get(s.ctx, e.Session.ID)
	merged, changed, err := s.sessions.Merge(s.ctx, e.Session)
	if err != nil {
		s.log.Errorf("Failed to apply session status: %v", err)
		return
	}
	if !changed || (before != nil && before.Status == merged.Status) {
		return
	}
	if s.isClaimed(merged.ID) {
		s.log.Debugf("Session %s is %s, announced by its linking run", merged.ID, merged.Status)
		return
	}
	switch merged.Status {
	case store.StatusConnected:
		s.notify.Success("Session " + label(merged) + " connected")
	case store.StatusDisconnected:
		s.notify.Error("Session " + label(merged) + " disconnected")
	}
}

// OnQRCode stores a fresh QR payload.
func (s *EventService) OnQRCode(e *pushevent.QRCode) {
	if s.ctx.Err() != nil {
		return
	}
	_, _, err := s.sessions.Merge(s.ctx, &store.Session{ID: e.SessionID, QRCode: e.QR, Status: store.StatusQRWaiting})
	if err != nil {
		s.log.Errorf("Failed to store QR for %s: %v", e.SessionID, err)
	}
}

// OnMessageReceived stores a message once and folds it into its chat.
func (s *EventService) OnMessageReceived(e *pushevent.MessageReceived) {
	if s.ctx.Err() != nil {
		return
	}
	if _, err := Ingest(s.ctx, s.messages, s.chats, e.Message); err != nil {
		s.log.Errorf("Failed to store message %s: %v", e.Message.ID, err)
	}
}

// OnMessageStatus updates the delivery status of a known message.
func (s *EventService) OnMessageStatus(e *pushevent.MessageStatus) {
	if s.ctx.Err() != nil {
		return
	}
	known, err := s.messages.UpdateStatus(s.ctx, e.SessionID, e.MessageID, e.Status)
	if err != nil {
		s.log.Errorf("Failed to update message %s: %v", e.MessageID, err)
		return
	}
	if !known {
		s.log.Debugf("Status %s for unknown message %s", e.Status, e.MessageID)
	}
}

// Ingest inserts m unless its id is already stored and, when it was new,
// updates the owning chat's summary and unread counter. It reports whether
// m was new.
func Ingest(ctx context.Context, messages *store.MessageStore, chats *store.ChatStore, m *store.Message) (bool, error) {
	added, err := messages.Insert(ctx, m)
	if err != nil || !added {
		return false, err
	}
	if err := chats.ApplyMessage(ctx, m); err != nil {
		return true, err
	}
	return true, nil
}

func label(s *store.Session) string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}
