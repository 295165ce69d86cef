package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SessionStatus is the canonical session lifecycle status.
type SessionStatus string

const (
	StatusInitializing SessionStatus = "initializing"
	StatusQRWaiting    SessionStatus = "qr_waiting"
	StatusConnected    SessionStatus = "connected"
	StatusDisconnected SessionStatus = "disconnected"
	StatusError        SessionStatus = "error"
)

// ParseStatus maps any status string the backend uses onto the canonical
// set. Empty input stays empty so merges can tell "absent" from "error".
func ParseStatus(s string) SessionStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return ""
	case "initializing", "initialising", "starting":
		return StatusInitializing
	case "qr_waiting", "qr_ready", "qr":
		return StatusQRWaiting
	case "connected", "open", "ready":
		return StatusConnected
	case "disconnected", "closed", "logged_out":
		return StatusDisconnected
	default:
		// no_session, error and anything unrecognised
		return StatusError
	}
}

// Waiting reports whether the session is still pairing.
func (s SessionStatus) Waiting() bool {
	return s == StatusInitializing || s == StatusQRWaiting
}

// Terminal reports whether the status ends the pairing flow.
func (s SessionStatus) Terminal() bool {
	return s == StatusConnected || s == StatusDisconnected || s == StatusError
}

// Session is a linked messaging account.
type Session struct {
	ID          string        `json:"sessionId"`
	Name        string        `json:"sessionName,omitempty"`
	PhoneNumber string        `json:"phoneNumber,omitempty"`
	Status      SessionStatus `json:"status,omitempty"`
	QRCode      string        `json:"qrCode,omitempty"`
	ConnectedAt time.Time     `json:"connectedAt"`
	LastSeen    time.Time     `json:"lastSeen"`
	RetryCount  *int          `json:"retryCount,omitempty"`
	IsActive    *bool         `json:"isActive,omitempty"`
	Platform    string        `json:"platform,omitempty"`
	WAVersion   string        `json:"waVersion,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// sameState compares everything except UpdatedAt.
func (s *Session) sameState(o *Session) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.ID == o.ID &&
		s.Name == o.Name &&
		s.PhoneNumber == o.PhoneNumber &&
		s.Status == o.Status &&
		s.QRCode == o.QRCode &&
		s.ConnectedAt.Equal(o.ConnectedAt) &&
		s.LastSeen.Equal(o.LastSeen) &&
		equalIntPtr(s.RetryCount, o.RetryCount) &&
		equalBoolPtr(s.IsActive, o.IsActive) &&
		s.Platform == o.Platform &&
		s.WAVersion == o.WAVersion &&
		s.CreatedAt.Equal(o.CreatedAt)
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalBoolPtr(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// SessionStore handles session operations.
type SessionStore struct {
	store *Store
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(s *Store) *SessionStore {
	return &SessionStore{store: s}
}

const sessionColumns = `session_id, name, phone_number, status, qr_code, connected_at, last_seen,
	retry_count, is_active, platform, wa_version, created_at, updated_at`

// Merge applies a full snapshot or a partial update. Every zero/nil field in
// s keeps the stored value. It returns the merged row and whether anything
// other than updated_at changed.
func (s *SessionStore) Merge(ctx context.Context, sess *Session) (*Session, bool, error) {
	if sess.ID == "" {
		return nil, false, errors.New("session id is required")
	}

	var merged *Session
	var changed bool
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		before, err := getSession(ctx, tx, sess.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := putSession(ctx, tx, sess); err != nil {
			return err
		}
		merged, err = getSession(ctx, tx, sess.ID)
		if err != nil {
			return err
		}
		changed = !before.sameState(merged)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to merge session %s: %w", sess.ID, err)
	}
	return merged, changed, nil
}

func putSession(ctx context.Context, q querier, sess *Session) error {
	now := nowMilli()
	createdAt := nullTime(sess.CreatedAt)
	if !createdAt.Valid {
		createdAt = sql.NullInt64{Int64: now, Valid: true}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO wac_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			name = COALESCE(excluded.name, wac_sessions.name),
			phone_number = COALESCE(excluded.phone_number, wac_sessions.phone_number),
			status = COALESCE(excluded.status, wac_sessions.status),
			qr_code = COALESCE(excluded.qr_code, wac_sessions.qr_code),
			connected_at = COALESCE(excluded.connected_at, wac_sessions.connected_at),
			last_seen = COALESCE(excluded.last_seen, wac_sessions.last_seen),
			retry_count = COALESCE(excluded.retry_count, wac_sessions.retry_count),
			is_active = COALESCE(excluded.is_active, wac_sessions.is_active),
			platform = COALESCE(excluded.platform, wac_sessions.platform),
			wa_version = COALESCE(excluded.wa_version, wac_sessions.wa_version),
			created_at = COALESCE(wac_sessions.created_at, excluded.created_at),
			updated_at = excluded.updated_at
	`, sess.ID, nullString(sess.Name), nullString(sess.PhoneNumber), nullString(string(sess.Status)),
		nullString(sess.QRCode), nullTime(sess.ConnectedAt), nullTime(sess.LastSeen),
		nullIntPtr(sess.RetryCount), nullBoolPtr(sess.IsActive), nullString(sess.Platform),
		nullString(sess.WAVersion), createdAt, now)
	return err
}

// Get retrieves a session by id.
func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	return getSession(ctx, s.store.db, id)
}

func getSession(ctx context.Context, q querier, id string) (*Session, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM wac_sessions WHERE session_id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// List returns all sessions, newest first.
func (s *SessionStore) List(ctx context.Context) ([]*Session, error) {
	rows, err := s.store.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM wac_sessions ORDER BY created_at DESC, session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Sync merges a full list snapshot and removes sessions the snapshot no
// longer contains.
func (s *SessionStore) Sync(ctx context.Context, snapshot []*Session) error {
	return s.store.WithTx(ctx, func(tx *sql.Tx) error {
		keep := make([]any, 0, len(snapshot))
		for _, sess := range snapshot {
			if sess.ID == "" {
				continue
			}
			if err := putSession(ctx, tx, sess); err != nil {
				return fmt.Errorf("failed to merge session %s: %w", sess.ID, err)
			}
			keep = append(keep, sess.ID)
		}
		if len(keep) == 0 {
			_, err := tx.ExecContext(ctx, `DELETE FROM wac_sessions`)
			return err
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",")
		_, err := tx.ExecContext(ctx, `DELETE FROM wac_sessions WHERE session_id NOT IN (`+placeholders+`)`, keep...)
		return err
	})
}

// SetStatus overwrites the status of a session.
func (s *SessionStore) SetStatus(ctx context.Context, id string, status SessionStatus) error {
	_, err := s.store.db.ExecContext(ctx,
		`UPDATE wac_sessions SET status = ?, updated_at = ? WHERE session_id = ?`,
		string(status), nowMilli(), id)
	return err
}

// Delete removes a session.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.store.db.ExecContext(ctx, `DELETE FROM wac_sessions WHERE session_id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var name, phone, status, qr, platform, waVersion sql.NullString
	var connectedAt, lastSeen, retry, active, created sql.NullInt64
	var updated int64
	err := row.Scan(&sess.ID, &name, &phone, &status, &qr, &connectedAt, &lastSeen,
		&retry, &active, &platform, &waVersion, &created, &updated)
	if err != nil {
		return nil, err
	}
	sess.Name = name.String
	sess.PhoneNumber = phone.String
	sess.Status = SessionStatus(status.String)
	sess.QRCode = qr.String
	sess.ConnectedAt = timeFrom(connectedAt)
	sess.LastSeen = timeFrom(lastSeen)
	sess.RetryCount = intPtrFrom(retry)
	sess.IsActive = boolPtrFrom(active)
	sess.Platform = platform.String
	sess.WAVersion = waVersion.String
	sess.CreatedAt = timeFrom(created)
	sess.UpdatedAt = time.UnixMilli(updated)
	return &sess, nil
}
