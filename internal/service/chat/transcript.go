// Package chat is the live chat view: chat list, paginated transcript,
// push merging and typing indicators for the selected session.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	waLog "go.mau.fi/whatsmeow/util/log"

	"wa-console/internal/api"
	pushevent "wa-console/internal/event"
	"wa-console/internal/notify"
	eventsvc "wa-console/internal/service/event"
	"wa-console/internal/socket"
	"wa-console/internal/store"
)

var (
	ErrNoSession    = errors.New("no session selected")
	ErrNoChat       = errors.New("no chat selected")
	ErrEmptyMessage = errors.New("message is empty")
)

// API is the chat part of the backend.
type API interface {
	ListChats(ctx context.Context, sessionID string) ([]*store.Chat, error)
	ListMessages(ctx context.Context, sessionID, chatID string, page, limit int) (*api.MessagePage, error)
	MarkRead(ctx context.Context, sessionID, chatID string) error
	SendText(ctx context.Context, req api.SendTextRequest) (*store.Message, error)
	SendMedia(ctx context.Context, req api.SendMediaRequest, progress api.ProgressFunc) (*store.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	ToggleStar(ctx context.Context, messageID string) (bool, error)
	Search(ctx context.Context, sessionID, query string) ([]*store.Message, error)
}

// Emitter sends room and typing frames on the push channel.
type Emitter interface {
	JoinSession(ctx context.Context, id string) error
	JoinChat(ctx context.Context, sessionID, chatID string) error
	Typing(ctx context.Context, sessionID, chatID string, typing bool) error
}

// Transcript is the chat view state. It is safe for concurrent use; push
// handlers run on the socket read loop.
type Transcript struct {
	pushevent.BaseHandler

	ctx      context.Context
	api      API
	emit     Emitter
	chats    *store.ChatStore
	messages *store.MessageStore
	settings *store.SettingsStore
	notify   notify.Notifier
	log      waLog.Logger

	typingIdle time.Duration
	pageSize   int

	mu       sync.Mutex
	onChange func()
	session  string
	chat     string
	page     api.Pagination
	remote   map[string]bool
	local    map[string]*time.Timer
	closed   bool
}

// NewTranscript creates a Transcript. ctx bounds push handling and the
// typing timers. emit may be nil.
func NewTranscript(ctx context.Context, a API, emit Emitter, c *store.Container, n notify.Notifier, typingIdle time.Duration, log waLog.Logger) *Transcript {
	if typingIdle <= 0 {
		typingIdle = time.Second
	}
	return &Transcript{
		ctx:        ctx,
		api:        a,
		emit:       emit,
		chats:      c.Chats,
		messages:   c.Messages,
		settings:   c.Settings,
		notify:     n,
		log:        log.Sub("Chat"),
		typingIdle: typingIdle,
		pageSize:   api.DefaultPageSize,
		remote:     make(map[string]bool),
		local:      make(map[string]*time.Timer),
	}
}

func (t *Transcript) emitted(what string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, socket.ErrNotConnected) {
		t.log.Debugf("Skipping %s: push channel down", what)
		return
	}
	t.log.Warnf("Failed to send %s: %v", what, err)
}

func (t *Transcript) current() (string, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session, t.chat
}

// SelectSession joins the session room, fetches its chats and merges them.
func (t *Transcript) SelectSession(ctx context.Context, id string) ([]*store.Chat, error) {
	t.stopAllTyping()

	t.mu.Lock()
	t.session, t.chat = id, ""
	t.page = api.Pagination{}
	t.remote = make(map[string]bool)
	t.mu.Unlock()

	if t.emit != nil {
		t.emitted("join_session", t.emit.JoinSession(ctx, id))
	}
	if err := t.settings.Set(ctx, store.SettingCurrentSession, id); err != nil {
		t.log.Warnf("Failed to remember session: %v", err)
	}

	remote, err := t.api.ListChats(ctx, id)
	if err != nil {
		t.notify.Error(api.Message(err, "Failed to load chats"))
		return nil, fmt.Errorf("failed to load chats: %w", err)
	}
	for _, c := range remote {
		if err := t.chats.Put(ctx, c); err != nil {
			return nil, err
		}
	}
	return t.chats.List(ctx, id)
}

// Chats returns the stored chats of the selected session.
func (t *Transcript) Chats(ctx context.Context) ([]*store.Chat, error) {
	sid, _ := t.current()
	if sid == "" {
		return nil, ErrNoSession
	}
	return t.chats.List(ctx, sid)
}

// SelectChat joins the chat room, loads the first page and marks the chat
// read on the backend and locally.
func (t *Transcript) SelectChat(ctx context.Context, chatID string) ([]*store.Message, error) {
	sid, prev := t.current()
	if sid == "" {
		return nil, ErrNoSession
	}
	if prev != "" && prev != chatID {
		t.stopTyping(sid, prev)
	}

	t.mu.Lock()
	t.chat = chatID
	t.page = api.Pagination{}
	t.mu.Unlock()

	if t.emit != nil {
		t.emitted("join_chat", t.emit.JoinChat(ctx, sid, chatID))
	}
	if err := t.settings.Set(ctx, store.SettingCurrentChat, chatID); err != nil {
		t.log.Warnf("Failed to remember chat: %v", err)
	}

	if err := t.loadPage(ctx, sid, chatID, 1); err != nil {
		return nil, err
	}

	if err := t.api.MarkRead(ctx, sid, chatID); err != nil {
		t.log.Warnf("Failed to mark %s read: %v", chatID, err)
	}
	if err := t.chats.MarkRead(ctx, sid, chatID); err != nil {
		return nil, fmt.Errorf("failed to mark chat read: %w", err)
	}
	return t.messages.ListByChat(ctx, sid, chatID)
}

func (t *Transcript) loadPage(ctx context.Context, sid, chatID string, page int) error {
	res, err := t.api.ListMessages(ctx, sid, chatID, page, t.pageSize)
	if err != nil {
		t.notify.Error(api.Message(err, "Failed to load messages"))
		return fmt.Errorf("failed to load messages: %w", err)
	}
	for _, m := range res.Messages {
		if err := t.messages.Put(ctx, m); err != nil {
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == sid && t.chat == chatID {
		t.page = res.Pagination
		if t.page.Page == 0 {
			t.page.Page = page
		}
	}
	return nil
}

// HasMore reports whether older pages of the selected chat exist.
func (t *Transcript) HasMore() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.page.HasMore()
}

// LoadMore fetches the next page while one exists. It reports whether a
// page was loaded.
func (t *Transcript) LoadMore(ctx context.Context) (bool, error) {
	t.mu.Lock()
	sid, cid, p := t.session, t.chat, t.page
	t.mu.Unlock()
	if cid == "" {
		return false, ErrNoChat
	}
	if !p.HasMore() {
		return false, nil
	}
	if err := t.loadPage(ctx, sid, cid, p.Page+1); err != nil {
		return false, err
	}
	return true, nil
}

// Messages returns the stored transcript of the selected chat.
func (t *Transcript) Messages(ctx context.Context) ([]*store.Message, error) {
	sid, cid := t.current()
	if cid == "" {
		return nil, ErrNoChat
	}
	return t.messages.ListByChat(ctx, sid, cid)
}

// AddIncoming merges a pushed message. Known ids are ignored; new ones
// update the chat summary and, when incoming, its unread counter.
func (t *Transcript) AddIncoming(ctx context.Context, m *store.Message) (bool, error) {
	if m.SessionID == "" {
		m.SessionID, _ = t.current()
	}
	return eventsvc.Ingest(ctx, t.messages, t.chats, m)
}

// UpdateStatus applies a delivery status change.
func (t *Transcript) UpdateStatus(ctx context.Context, messageID string, status store.MessageStatus) (bool, error) {
	sid, _ := t.current()
	return t.messages.UpdateStatus(ctx, sid, messageID, status)
}

// SetTyping records whether the counterpart of chatID is typing.
func (t *Transcript) SetTyping(chatID string, typing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if typing {
		t.remote[chatID] = true
	} else {
		delete(t.remote, chatID)
	}
}

// IsTyping reports whether the counterpart of chatID is typing.
func (t *Transcript) IsTyping(chatID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote[chatID]
}

// Keystroke reports local typing in the selected chat. The first keystroke
// emits typing=true; typing=false follows once no keystroke arrived for the
// idle period.
func (t *Transcript) Keystroke(ctx context.Context) {
	t.mu.Lock()
	sid, cid := t.session, t.chat
	if cid == "" || t.closed {
		t.mu.Unlock()
		return
	}
	timer, active := t.local[cid]
	if active {
		timer.Stop()
	}
	t.local[cid] = time.AfterFunc(t.typingIdle, func() { t.stopTyping(sid, cid) })
	t.mu.Unlock()

	if !active && t.emit != nil {
		t.emitted("typing", t.emit.Typing(ctx, sid, cid, true))
	}
}

// LocalTyping reports whether a typing=true is outstanding for chatID.
func (t *Transcript) LocalTyping(chatID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.local[chatID]
	return ok
}

func (t *Transcript) stopTyping(sid, cid string) {
	t.mu.Lock()
	timer, ok := t.local[cid]
	if ok {
		timer.Stop()
		delete(t.local, cid)
	}
	t.mu.Unlock()

	if ok && t.emit != nil {
		t.emitted("typing", t.emit.Typing(t.ctx, sid, cid, false))
	}
}

func (t *Transcript) stopAllTyping() {
	sid, _ := t.current()
	t.mu.Lock()
	chats := make([]string, 0, len(t.local))
	for cid := range t.local {
		chats = append(chats, cid)
	}
	t.mu.Unlock()
	for _, cid := range chats {
		t.stopTyping(sid, cid)
	}
}

// SendText sends a message to the selected chat and appends the message
// the backend returns. Nothing is appended when the send fails.
func (t *Transcript) SendText(ctx context.Context, text, quotedID string) (*store.Message, error) {
	sid, cid := t.current()
	if cid == "" {
		return nil, ErrNoChat
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	t.stopTyping(sid, cid)

	m, err := t.api.SendText(ctx, api.SendTextRequest{SessionID: sid, To: cid, Message: text, QuotedMessageID: quotedID})
	if err != nil {
		t.notify.Error(api.Message(err, "Failed to send message"))
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return t.appendSent(ctx, m)
}

// SendMedia sends a file to the selected chat.
func (t *Transcript) SendMedia(ctx context.Context, req api.SendMediaRequest, progress api.ProgressFunc) (*store.Message, error) {
	sid, cid := t.current()
	if cid == "" {
		return nil, ErrNoChat
	}
	req.SessionID, req.To = sid, cid

	m, err := t.api.SendMedia(ctx, req, progress)
	if err != nil {
		t.notify.Error(api.Message(err, "Failed to send media"))
		return nil, fmt.Errorf("failed to send media: %w", err)
	}
	return t.appendSent(ctx, m)
}

func (t *Transcript) appendSent(ctx context.Context, m *store.Message) (*store.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	if _, err := eventsvc.Ingest(ctx, t.messages, t.chats, m); err != nil {
		return m, err
	}
	return m, nil
}

// DeleteMessage deletes a message on the backend and from the transcript.
func (t *Transcript) DeleteMessage(ctx context.Context, messageID string) error {
	sid, _ := t.current()
	if err := t.api.DeleteMessage(ctx, messageID); err != nil {
		t.notify.Error(api.Message(err, "Failed to delete message"))
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return t.messages.Delete(ctx, sid, messageID)
}

// ToggleStar flips the star flag and stores the backend's value.
func (t *Transcript) ToggleStar(ctx context.Context, messageID string) (bool, error) {
	sid, _ := t.current()
	starred, err := t.api.ToggleStar(ctx, messageID)
	if err != nil {
		t.notify.Error(api.Message(err, "Failed to star message"))
		return false, fmt.Errorf("failed to star message: %w", err)
	}
	return starred, t.messages.SetStarred(ctx, sid, messageID, starred)
}

// Search finds messages of the selected session.
func (t *Transcript) Search(ctx context.Context, query string) ([]*store.Message, error) {
	sid, _ := t.current()
	if sid == "" {
		return nil, ErrNoSession
	}
	return t.api.Search(ctx, sid, query)
}

// Close stops pending typing timers.
func (t *Transcript) Close() {
	t.mu.Lock()
	t.closed = true
	for cid, timer := range t.local {
		timer.Stop()
		delete(t.local, cid)
	}
	t.mu.Unlock()
}

// SetOnChange installs fn to run after pushed state changed the view. It
// runs on the push read loop. nil removes it.
func (t *Transcript) SetOnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

func (t *Transcript) changed() {
	t.mu.Lock()
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *Transcript) forSession(sessionID string) bool {
	sid, _ := t.current()
	return sid != "" && (sessionID == "" || sessionID == sid)
}

// OnMessageReceived merges pushed messages of the selected session.
func (t *Transcript) OnMessageReceived(e *pushevent.MessageReceived) {
	if t.ctx.Err() != nil || !t.forSession(e.Message.SessionID) {
		return
	}
	if _, err := t.AddIncoming(t.ctx, e.Message); err != nil {
		t.log.Errorf("Failed to add message %s: %v", e.Message.ID, err)
		return
	}
	t.changed()
}

// OnMessageStatus applies pushed status changes.
func (t *Transcript) OnMessageStatus(e *pushevent.MessageStatus) {
	if t.ctx.Err() != nil || !t.forSession(e.SessionID) {
		return
	}
	if known, err := t.UpdateStatus(t.ctx, e.MessageID, e.Status); err != nil {
		t.log.Errorf("Failed to update message %s: %v", e.MessageID, err)
	} else if known {
		t.changed()
	}
}

// OnUserTyping applies pushed typing indicators.
func (t *Transcript) OnUserTyping(e *pushevent.UserTyping) {
	if !t.forSession(e.SessionID) {
		return
	}
	t.SetTyping(e.ChatID, e.IsTyping)
	t.changed()
}
