package store

import (
	"context"
	"database/sql"
	"errors"
)

// Setting keys.
const (
	SettingCurrentSession = "current_session"
	SettingCurrentChat    = "current_chat"
)

// SettingsStore handles key/value settings.
type SettingsStore struct {
	store *Store
}

// NewSettingsStore creates a new SettingsStore.
func NewSettingsStore(s *Store) *SettingsStore {
	return &SettingsStore{store: s}
}

// Get retrieves a setting value. Missing keys return "".
func (s *SettingsStore) Get(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	err := s.store.db.QueryRowContext(ctx, `SELECT value FROM wac_settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value.String, err
}

// Set stores a setting value. An empty value deletes the key.
func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	if value == "" {
		_, err := s.store.db.ExecContext(ctx, `DELETE FROM wac_settings WHERE key = ?`, key)
		return err
	}
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO wac_settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, nowMilli(),
	)
	return err
}

// GetWithDefault retrieves a setting with a default fallback.
func (s *SettingsStore) GetWithDefault(ctx context.Context, key, defaultVal string) string {
	val, err := s.Get(ctx, key)
	if err != nil || val == "" {
		return defaultVal
	}
	return val
}
