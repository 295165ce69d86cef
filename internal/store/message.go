package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Direction tells whether a message was received or sent.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// MessageType is the content kind of a message.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageAudio    MessageType = "audio"
	MessageDocument MessageType = "document"
)

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

// Message is a single chat message. (SessionID, ID) is unique.
type Message struct {
	SessionID       string        `json:"sessionId"`
	ID              string        `json:"messageId"`
	ChatID          string        `json:"chatId"`
	From            string        `json:"from,omitempty"`
	To              string        `json:"to,omitempty"`
	Direction       Direction     `json:"direction"`
	Type            MessageType   `json:"type"`
	Text            string        `json:"text,omitempty"`
	Caption         string        `json:"caption,omitempty"`
	MediaURL        string        `json:"mediaUrl,omitempty"`
	Status          MessageStatus `json:"status,omitempty"`
	IsStarred       *bool         `json:"isStarred,omitempty"`
	IsDeleted       *bool         `json:"isDeleted,omitempty"`
	QuotedMessageID string        `json:"quotedMessageId,omitempty"`
	PushName        string        `json:"pushName,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}

// Summary returns the text shown as a chat's last message.
func (m *Message) Summary() string {
	switch {
	case m.Text != "":
		return m.Text
	case m.Caption != "":
		return m.Caption
	case m.Type != "" && m.Type != MessageText:
		return "[" + string(m.Type) + "]"
	default:
		return ""
	}
}

// Starred reports the star flag; unknown counts as not starred.
func (m *Message) Starred() bool { return m.IsStarred != nil && *m.IsStarred }

// Deleted reports the deleted flag.
func (m *Message) Deleted() bool { return m.IsDeleted != nil && *m.IsDeleted }

// MessageStore handles message operations.
type MessageStore struct {
	store *Store
}

// NewMessageStore creates a new MessageStore.
func NewMessageStore(s *Store) *MessageStore {
	return &MessageStore{store: s}
}

const messageColumns = `session_id, message_id, chat_id, sender, recipient, direction, type, text,
	caption, media_url, status, is_starred, is_deleted, quoted_message_id, push_name, timestamp`

// Insert adds a message unless one with the same id already exists.
// It reports whether a new row was written.
func (s *MessageStore) Insert(ctx context.Context, m *Message) (bool, error) {
	if m.ID == "" {
		return false, errors.New("message id is required")
	}
	res, err := s.store.db.ExecContext(ctx, `
		INSERT INTO wac_messages (`+messageColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, message_id) DO NOTHING
	`, messageArgs(m, nowMilli())...)
	if err != nil {
		return false, fmt.Errorf("failed to insert message %s: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Put stores a message or merges it into the existing row.
func (s *MessageStore) Put(ctx context.Context, m *Message) error {
	if m.ID == "" {
		return errors.New("message id is required")
	}
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO wac_messages (`+messageColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, message_id) DO UPDATE SET
			sender = COALESCE(excluded.sender, wac_messages.sender),
			recipient = COALESCE(excluded.recipient, wac_messages.recipient),
			direction = COALESCE(excluded.direction, wac_messages.direction),
			type = COALESCE(excluded.type, wac_messages.type),
			text = COALESCE(excluded.text, wac_messages.text),
			caption = COALESCE(excluded.caption, wac_messages.caption),
			media_url = COALESCE(excluded.media_url, wac_messages.media_url),
			status = COALESCE(excluded.status, wac_messages.status),
			is_starred = COALESCE(excluded.is_starred, wac_messages.is_starred),
			is_deleted = COALESCE(excluded.is_deleted, wac_messages.is_deleted),
			quoted_message_id = COALESCE(excluded.quoted_message_id, wac_messages.quoted_message_id),
			push_name = COALESCE(excluded.push_name, wac_messages.push_name),
			timestamp = COALESCE(excluded.timestamp, wac_messages.timestamp)
	`, messageArgs(m, nowMilli())...)
	if err != nil {
		return fmt.Errorf("failed to put message %s: %w", m.ID, err)
	}
	return nil
}

func messageArgs(m *Message, now int64) []any {
	return []any{
		m.SessionID, m.ID, m.ChatID, nullString(m.From), nullString(m.To),
		nullString(string(m.Direction)), nullString(string(m.Type)), nullString(m.Text),
		nullString(m.Caption), nullString(m.MediaURL), nullString(string(m.Status)),
		nullBoolPtr(m.IsStarred), nullBoolPtr(m.IsDeleted), nullString(m.QuotedMessageID),
		nullString(m.PushName), nullTime(m.Timestamp), now,
	}
}

// UpdateStatus sets the delivery status of a message. An empty sessionID
// matches the message id in any session. It reports whether the message was
// known.
func (s *MessageStore) UpdateStatus(ctx context.Context, sessionID, messageID string, status MessageStatus) (bool, error) {
	res, err := s.store.db.ExecContext(ctx,
		`UPDATE wac_messages SET status = ? WHERE message_id = ? AND (? = '' OR session_id = ?)`,
		string(status), messageID, sessionID, sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetStarred sets the star flag.
func (s *MessageStore) SetStarred(ctx context.Context, sessionID, messageID string, starred bool) error {
	_, err := s.store.db.ExecContext(ctx,
		`UPDATE wac_messages SET is_starred = ? WHERE session_id = ? AND message_id = ?`,
		boolToInt(starred), sessionID, messageID)
	return err
}

// Delete removes a message from the transcript.
func (s *MessageStore) Delete(ctx context.Context, sessionID, messageID string) error {
	_, err := s.store.db.ExecContext(ctx,
		`DELETE FROM wac_messages WHERE session_id = ? AND message_id = ?`, sessionID, messageID)
	return err
}

// Get retrieves a message.
func (s *MessageStore) Get(ctx context.Context, sessionID, messageID string) (*Message, error) {
	row := s.store.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM wac_messages WHERE session_id = ? AND message_id = ?`,
		sessionID, messageID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// ListByChat returns the messages of a chat in chronological order.
func (s *MessageStore) ListByChat(ctx context.Context, sessionID, chatID string) ([]*Message, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM wac_messages
		WHERE session_id = ? AND chat_id = ? AND COALESCE(is_deleted, 0) = 0
		ORDER BY COALESCE(timestamp, created_at), created_at, message_id`, sessionID, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CountByChat returns how many messages of a chat are stored.
func (s *MessageStore) CountByChat(ctx context.Context, sessionID, chatID string) (int, error) {
	var n int
	err := s.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wac_messages WHERE session_id = ? AND chat_id = ? AND COALESCE(is_deleted, 0) = 0`,
		sessionID, chatID).Scan(&n)
	return n, err
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var from, to, direction, typ, text, caption, mediaURL, status, quoted, pushName sql.NullString
	var starred, deleted, ts sql.NullInt64
	err := row.Scan(&m.SessionID, &m.ID, &m.ChatID, &from, &to, &direction, &typ, &text,
		&caption, &mediaURL, &status, &starred, &deleted, &quoted, &pushName, &ts)
	if err != nil {
		return nil, err
	}
	m.From = from.String
	m.To = to.String
	m.Direction = Direction(direction.String)
	m.Type = MessageType(typ.String)
	m.Text = text.String
	m.Caption = caption.String
	m.MediaURL = mediaURL.String
	m.Status = MessageStatus(status.String)
	m.IsStarred = boolPtrFrom(starred)
	m.IsDeleted = boolPtrFrom(deleted)
	m.QuotedMessageID = quoted.String
	m.PushName = pushName.String
	m.Timestamp = timeFrom(ts)
	return &m, nil
}
