package store

import "context"

// Container provides unified access to all stores.
type Container struct {
	// Core store
	Store *Store

	Sessions    *SessionStore
	Campaigns   *CampaignStore
	Chats       *ChatStore
	Messages    *MessageStore
	Credentials *CredentialStore
	Settings    *SettingsStore
}

// NewContainer creates a new Container with all sub-stores initialized.
func NewContainer(s *Store) *Container {
	return &Container{
		Store:       s,
		Sessions:    NewSessionStore(s),
		Campaigns:   NewCampaignStore(s),
		Chats:       NewChatStore(s),
		Messages:    NewMessageStore(s),
		Credentials: NewCredentialStore(s),
		Settings:    NewSettingsStore(s),
	}
}

// Close closes the underlying store.
func (c *Container) Close() error {
	return c.Store.Close()
}

// Stats returns statistics about stored entities.
type Stats struct {
	Sessions          int `json:"sessions"`
	ConnectedSessions int `json:"connectedSessions"`
	Campaigns         int `json:"campaigns"`
	Chats             int `json:"chats"`
	UnreadChats       int `json:"unreadChats"`
	Messages          int `json:"messages"`
}

// GetStats returns current entity counts.
func (c *Container) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	queries := []struct {
		dst   *int
		query string
	}{
		{&stats.Sessions, `SELECT COUNT(*) FROM wac_sessions`},
		{&stats.ConnectedSessions, `SELECT COUNT(*) FROM wac_sessions WHERE status = 'connected'`},
		{&stats.Campaigns, `SELECT COUNT(*) FROM wac_campaigns`},
		{&stats.Chats, `SELECT COUNT(*) FROM wac_chats`},
		{&stats.UnreadChats, `SELECT COUNT(*) FROM wac_chats WHERE unread_count > 0`},
		{&stats.Messages, `SELECT COUNT(*) FROM wac_messages WHERE COALESCE(is_deleted, 0) = 0`},
	}
	for _, q := range queries {
		if err := c.Store.db.QueryRowContext(ctx, q.query).Scan(q.dst); err != nil {
			return nil, err
		}
	}
	return stats, nil
}
