package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CampaignType distinguishes single from bulk sends.
type CampaignType string

const (
	CampaignSingle CampaignType = "single"
	CampaignBulk   CampaignType = "bulk"
)

// CampaignStatus tracks delivery progress.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignSending   CampaignStatus = "sending"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// ParseCampaignStatus maps backend vocabulary onto CampaignStatus.
func ParseCampaignStatus(s string) CampaignStatus {
	switch s {
	case "":
		return ""
	case "draft", "pending", "queued":
		return CampaignDraft
	case "sending", "running", "in_progress", "processing":
		return CampaignSending
	case "completed", "done", "sent":
		return CampaignCompleted
	default:
		return CampaignFailed
	}
}

// Campaign is a single or bulk send with delivery counters.
type Campaign struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	SessionID   string         `json:"sessionId"`
	Type        CampaignType   `json:"type"`
	Receiver    string         `json:"receiver,omitempty"`
	Recipients  []string       `json:"numbers,omitempty"`
	Text        string         `json:"text,omitempty"`
	MediaType   string         `json:"mediaType,omitempty"`
	MediaURL    string         `json:"mediaUrl,omitempty"`
	Caption     string         `json:"caption,omitempty"`
	DelayMs     int            `json:"delay,omitempty"`
	Total       *int           `json:"total,omitempty"`
	SentCount   *int           `json:"sentCount,omitempty"`
	FailedCount *int           `json:"failedCount,omitempty"`
	Status      CampaignStatus `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// CampaignStore handles campaign operations.
type CampaignStore struct {
	store *Store
}

// NewCampaignStore creates a new CampaignStore.
func NewCampaignStore(s *Store) *CampaignStore {
	return &CampaignStore{store: s}
}

const campaignColumns = `id, name, session_id, type, receiver, recipients, text, media_type, media_url,
	caption, delay_ms, total, sent_count, failed_count, status, created_at, updated_at`

// Put stores a campaign or merges it into the existing row.
func (s *CampaignStore) Put(ctx context.Context, c *Campaign) error {
	if c.ID == "" {
		return errors.New("campaign id is required")
	}
	now := nowMilli()
	createdAt := nullTime(c.CreatedAt)
	if !createdAt.Valid {
		createdAt = sql.NullInt64{Int64: now, Valid: true}
	}
	var delay sql.NullInt64
	if c.DelayMs > 0 {
		delay = sql.NullInt64{Int64: int64(c.DelayMs), Valid: true}
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO wac_campaigns (`+campaignColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = COALESCE(excluded.name, wac_campaigns.name),
			session_id = COALESCE(excluded.session_id, wac_campaigns.session_id),
			type = COALESCE(excluded.type, wac_campaigns.type),
			receiver = COALESCE(excluded.receiver, wac_campaigns.receiver),
			recipients = COALESCE(excluded.recipients, wac_campaigns.recipients),
			text = COALESCE(excluded.text, wac_campaigns.text),
			media_type = COALESCE(excluded.media_type, wac_campaigns.media_type),
			media_url = COALESCE(excluded.media_url, wac_campaigns.media_url),
			caption = COALESCE(excluded.caption, wac_campaigns.caption),
			delay_ms = COALESCE(excluded.delay_ms, wac_campaigns.delay_ms),
			total = COALESCE(excluded.total, wac_campaigns.total),
			sent_count = COALESCE(excluded.sent_count, wac_campaigns.sent_count),
			failed_count = COALESCE(excluded.failed_count, wac_campaigns.failed_count),
			status = COALESCE(excluded.status, wac_campaigns.status),
			created_at = COALESCE(wac_campaigns.created_at, excluded.created_at),
			updated_at = excluded.updated_at
	`, c.ID, nullString(c.Name), nullString(c.SessionID), nullString(string(c.Type)),
		nullString(c.Receiver), jsonStrings(c.Recipients), nullString(c.Text),
		nullString(c.MediaType), nullString(c.MediaURL), nullString(c.Caption), delay,
		nullIntPtr(c.Total), nullIntPtr(c.SentCount), nullIntPtr(c.FailedCount),
		nullString(string(c.Status)), createdAt, now)
	if err != nil {
		return fmt.Errorf("failed to put campaign %s: %w", c.ID, err)
	}
	return nil
}

// Get retrieves a campaign by id.
func (s *CampaignStore) Get(ctx context.Context, id string) (*Campaign, error) {
	row := s.store.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM wac_campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// List returns campaigns newest first. A limit of 0 returns everything.
func (s *CampaignStore) List(ctx context.Context, limit, offset int) ([]*Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM wac_campaigns ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []*Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// Count returns the number of stored campaigns.
func (s *CampaignStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wac_campaigns`).Scan(&n)
	return n, err
}

// Delete removes a campaign.
func (s *CampaignStore) Delete(ctx context.Context, id string) error {
	_, err := s.store.db.ExecContext(ctx, `DELETE FROM wac_campaigns WHERE id = ?`, id)
	return err
}

func scanCampaign(row rowScanner) (*Campaign, error) {
	var c Campaign
	var name, sessionID, typ, receiver, recipients, text, mediaType, mediaURL, caption, status sql.NullString
	var delay, total, sent, failed, created sql.NullInt64
	var updated int64
	err := row.Scan(&c.ID, &name, &sessionID, &typ, &receiver, &recipients, &text, &mediaType,
		&mediaURL, &caption, &delay, &total, &sent, &failed, &status, &created, &updated)
	if err != nil {
		return nil, err
	}
	c.Name = name.String
	c.SessionID = sessionID.String
	c.Type = CampaignType(typ.String)
	c.Receiver = receiver.String
	c.Recipients = stringsFrom(recipients)
	c.Text = text.String
	c.MediaType = mediaType.String
	c.MediaURL = mediaURL.String
	c.Caption = caption.String
	c.DelayMs = int(delay.Int64)
	c.Total = intPtrFrom(total)
	c.SentCount = intPtrFrom(sent)
	c.FailedCount = intPtrFrom(failed)
	c.Status = CampaignStatus(status.String)
	c.CreatedAt = timeFrom(created)
	c.UpdatedAt = time.UnixMilli(updated)
	return &c, nil
}
