package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LastMessage summarises the newest message of a chat.
type LastMessage struct {
	MessageID string      `json:"messageId,omitempty"`
	Text      string      `json:"content,omitempty"`
	Type      MessageType `json:"type,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Chat represents a conversation of one session with one counterpart.
type Chat struct {
	SessionID      string      `json:"sessionId"`
	ID             string      `json:"chatId"`
	Name           string      `json:"name,omitempty"`
	PhoneNumber    string      `json:"phoneNumber,omitempty"`
	ProfilePicture string      `json:"profilePicture,omitempty"`
	IsGroup        bool        `json:"isGroup"`
	LastMessage    LastMessage `json:"lastMessage"`
	UnreadCount    int         `json:"unreadCount"`
	IsPinned       bool        `json:"isPinned"`
	IsMuted        bool        `json:"isMuted"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// ChatStore handles chat operations.
type ChatStore struct {
	store *Store
}

// NewChatStore creates a new ChatStore.
func NewChatStore(s *Store) *ChatStore {
	return &ChatStore{store: s}
}

const chatColumns = `session_id, chat_id, name, phone_number, profile_picture, is_group,
	last_message_id, last_message_text, last_message_type, last_message_at,
	unread_count, is_pinned, is_muted, updated_at`

// Put stores or merges a chat from a REST snapshot. Counters and flags come
// from the snapshot; text fields keep their prior value when absent.
func (s *ChatStore) Put(ctx context.Context, c *Chat) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO wac_chats (`+chatColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, chat_id) DO UPDATE SET
			name = COALESCE(excluded.name, wac_chats.name),
			phone_number = COALESCE(excluded.phone_number, wac_chats.phone_number),
			profile_picture = COALESCE(excluded.profile_picture, wac_chats.profile_picture),
			is_group = excluded.is_group,
			last_message_id = COALESCE(excluded.last_message_id, wac_chats.last_message_id),
			last_message_text = COALESCE(excluded.last_message_text, wac_chats.last_message_text),
			last_message_type = COALESCE(excluded.last_message_type, wac_chats.last_message_type),
			last_message_at = COALESCE(excluded.last_message_at, wac_chats.last_message_at),
			unread_count = excluded.unread_count,
			is_pinned = excluded.is_pinned,
			is_muted = excluded.is_muted,
			updated_at = excluded.updated_at
	`, c.SessionID, c.ID, nullString(c.Name), nullString(c.PhoneNumber), nullString(c.ProfilePicture),
		boolToInt(c.IsGroup), nullString(c.LastMessage.MessageID), nullString(c.LastMessage.Text),
		nullString(string(c.LastMessage.Type)), nullTime(c.LastMessage.Timestamp),
		c.UnreadCount, boolToInt(c.IsPinned), boolToInt(c.IsMuted), nowMilli())
	if err != nil {
		return fmt.Errorf("failed to put chat %s: %w", c.ID, err)
	}
	return nil
}

// ApplyMessage folds a newly observed message into its chat: the summary is
// replaced when the message is not older than the current one, and incoming
// messages bump the unread counter. Missing chats are created.
func (s *ChatStore) ApplyMessage(ctx context.Context, m *Message) error {
	unread := 0
	if m.Direction == DirectionIncoming {
		unread = 1
	}
	counterpart := m.From
	if m.Direction == DirectionOutgoing {
		counterpart = m.To
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO wac_chats (session_id, chat_id, phone_number, is_group,
			last_message_id, last_message_text, last_message_type, last_message_at,
			unread_count, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, chat_id) DO UPDATE SET
			last_message_id = CASE WHEN wac_chats.last_message_at IS NULL OR excluded.last_message_at >= wac_chats.last_message_at
				THEN excluded.last_message_id ELSE wac_chats.last_message_id END,
			last_message_text = CASE WHEN wac_chats.last_message_at IS NULL OR excluded.last_message_at >= wac_chats.last_message_at
				THEN excluded.last_message_text ELSE wac_chats.last_message_text END,
			last_message_type = CASE WHEN wac_chats.last_message_at IS NULL OR excluded.last_message_at >= wac_chats.last_message_at
				THEN excluded.last_message_type ELSE wac_chats.last_message_type END,
			last_message_at = MAX(COALESCE(wac_chats.last_message_at, 0), excluded.last_message_at),
			unread_count = wac_chats.unread_count + excluded.unread_count,
			updated_at = excluded.updated_at
	`, m.SessionID, m.ChatID, nullString(counterpart),
		m.ID, nullString(m.Summary()), string(m.Type), ts.UnixMilli(),
		unread, nowMilli())
	if err != nil {
		return fmt.Errorf("failed to apply message %s to chat %s: %w", m.ID, m.ChatID, err)
	}
	return nil
}

// MarkRead zeroes the unread counter and marks incoming messages read.
func (s *ChatStore) MarkRead(ctx context.Context, sessionID, chatID string) error {
	return s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE wac_chats SET unread_count = 0, updated_at = ? WHERE session_id = ? AND chat_id = ?`,
			nowMilli(), sessionID, chatID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE wac_messages SET status = ?
			WHERE session_id = ? AND chat_id = ? AND direction = ? AND COALESCE(status, '') != ?`,
			string(MessageRead), sessionID, chatID, string(DirectionIncoming), string(MessageRead))
		return err
	})
}

// Get retrieves a chat.
func (s *ChatStore) Get(ctx context.Context, sessionID, chatID string) (*Chat, error) {
	row := s.store.db.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM wac_chats WHERE session_id = ? AND chat_id = ?`, sessionID, chatID)
	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// List returns the chats of a session, pinned first then most recent.
func (s *ChatStore) List(ctx context.Context, sessionID string) ([]*Chat, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT `+chatColumns+` FROM wac_chats WHERE session_id = ?
		ORDER BY is_pinned DESC, COALESCE(last_message_at, 0) DESC, chat_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func scanChat(row rowScanner) (*Chat, error) {
	var c Chat
	var name, phone, picture, lastID, lastText, lastType sql.NullString
	var isGroup, pinned, muted int
	var lastAt sql.NullInt64
	var updated int64
	err := row.Scan(&c.SessionID, &c.ID, &name, &phone, &picture, &isGroup,
		&lastID, &lastText, &lastType, &lastAt, &c.UnreadCount, &pinned, &muted, &updated)
	if err != nil {
		return nil, err
	}
	c.Name = name.String
	c.PhoneNumber = phone.String
	c.ProfilePicture = picture.String
	c.IsGroup = isGroup != 0
	c.LastMessage = LastMessage{
		MessageID: lastID.String,
		Text:      lastText.String,
		Type:      MessageType(lastType.String),
		Timestamp: timeFrom(lastAt),
	}
	c.IsPinned = pinned != 0
	c.IsMuted = muted != 0
	c.UpdatedAt = time.UnixMilli(updated)
	return &c, nil
}
