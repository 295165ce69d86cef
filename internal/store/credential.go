package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Tokens is the access/refresh token pair of the signed-in user.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Empty reports whether no user is signed in.
func (t Tokens) Empty() bool {
	return t.AccessToken == "" && t.RefreshToken == ""
}

// Limits are the plan quotas attached to a user.
type Limits struct {
	MaxSessions          int `json:"maxSessions"`
	MaxMessagesPerDay    int `json:"maxMessagesPerDay"`
	MaxCampaignsPerMonth int `json:"maxCampaignsPerMonth"`
	MaxChatbots          int `json:"maxChatbots"`
}

// User is the profile of the signed-in user.
type User struct {
	ID                 string    `json:"_id"`
	Email              string    `json:"email"`
	Username           string    `json:"username"`
	FullName           string    `json:"fullName,omitempty"`
	Phone              string    `json:"phone,omitempty"`
	AvatarURL          string    `json:"avatarUrl,omitempty"`
	SubscriptionTier   string    `json:"subscriptionTier,omitempty"`
	SubscriptionStatus string    `json:"subscriptionStatus,omitempty"`
	IsEmailVerified    bool      `json:"isEmailVerified"`
	IsActive           bool      `json:"isActive"`
	Limits             Limits    `json:"limits"`
	LastLogin          time.Time `json:"lastLogin"`
	CreatedAt          time.Time `json:"createdAt"`
}

// CredentialStore persists the token pair and profile in sqlite.
type CredentialStore struct {
	store *Store
}

// NewCredentialStore creates a new CredentialStore.
func NewCredentialStore(s *Store) *CredentialStore {
	return &CredentialStore{store: s}
}

// Tokens returns the stored token pair; empty if nobody is signed in.
func (s *CredentialStore) Tokens(ctx context.Context) (Tokens, error) {
	var access, refresh sql.NullString
	err := s.store.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token FROM wac_credentials WHERE id = 1`).Scan(&access, &refresh)
	if errors.Is(err, sql.ErrNoRows) {
		return Tokens{}, nil
	}
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{AccessToken: access.String, RefreshToken: refresh.String}, nil
}

// SaveTokens replaces the token pair.
func (s *CredentialStore) SaveTokens(ctx context.Context, t Tokens) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO wac_credentials (id, access_token, refresh_token, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			updated_at = excluded.updated_at`,
		nullString(t.AccessToken), nullString(t.RefreshToken), nowMilli())
	if err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return nil
}

// SetAccessToken replaces only the access token.
func (s *CredentialStore) SetAccessToken(ctx context.Context, token string) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO wac_credentials (id, access_token, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET access_token = excluded.access_token, updated_at = excluded.updated_at`,
		nullString(token), nowMilli())
	return err
}

// User returns the stored profile, or ErrNotFound.
func (s *CredentialStore) User(ctx context.Context) (*User, error) {
	var raw sql.NullString
	err := s.store.db.QueryRowContext(ctx, `SELECT user_json FROM wac_credentials WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !raw.Valid) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var u User
	if err := json.Unmarshal([]byte(raw.String), &u); err != nil {
		return nil, fmt.Errorf("failed to decode stored user: %w", err)
	}
	return &u, nil
}

// SaveUser stores the profile.
func (s *CredentialStore) SaveUser(ctx context.Context, u *User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO wac_credentials (id, user_json, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET user_json = excluded.user_json, updated_at = excluded.updated_at`,
		string(data), nowMilli())
	return err
}

// Clear removes tokens and profile.
func (s *CredentialStore) Clear(ctx context.Context) error {
	_, err := s.store.db.ExecContext(ctx, `DELETE FROM wac_credentials`)
	return err
}
