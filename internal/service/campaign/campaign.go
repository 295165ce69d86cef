// Package campaign validates and submits single and bulk sends.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	waLog "go.mau.fi/whatsmeow/util/log"

	"wa-console/internal/api"
	"wa-console/internal/notify"
	"wa-console/internal/store"
	"wa-console/internal/utils/jid"
	"wa-console/internal/utils/media"
)

// Delay bounds for bulk sends, in milliseconds.
const (
	MinDelayMs     = 1000
	MaxDelayMs     = 10000
	DefaultDelayMs = 2000
)

// Validation failures. They are returned wrapped in *ValidationError.
var (
	ErrMissingSession      = errors.New("please select a session")
	ErrSessionNotConnected = errors.New("session is not connected")
	ErrMissingRecipients   = errors.New("please enter at least one phone number")
	ErrInvalidRecipient    = errors.New("invalid phone number")
	ErrMissingContent      = errors.New("please enter a message or attach media")
	ErrMediaNotUploaded    = errors.New("please upload the selected media first")
	ErrDelayOutOfRange     = fmt.Errorf("delay must be between %d and %d ms", MinDelayMs, MaxDelayMs)
)

// ErrRejected matches every *RejectedError.
var ErrRejected = errors.New("send rejected")

// DefaultRejectMessage is shown when the backend gives no reason.
const DefaultRejectMessage = "Failed to send message"

// ValidationError ties a validation failure to a form field.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// RejectedError is a send the backend refused.
type RejectedError struct {
	Message string
	Err     error
}

func (e *RejectedError) Error() string {
	return e.Message
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// API is the campaign part of the backend.
type API interface {
	SendSingle(ctx context.Context, sessionID, receiver string, content api.MessageContent) (string, error)
	SendBulk(ctx context.Context, sessionID string, numbers []string, content api.MessageContent, delayMs int) (*api.BulkResult, error)
	UploadMedia(ctx context.Context, path string, progress api.ProgressFunc) (string, error)
	ListCampaigns(ctx context.Context, page, limit int) (*api.CampaignPage, error)
	GetCampaign(ctx context.Context, id string) (*store.Campaign, error)
}

// StatusSource fetches a session's live status into the store.
type StatusSource interface {
	Status(ctx context.Context, id string) (*store.Session, error)
}

// Draft is the campaign form.
type Draft struct {
	Name      string
	SessionID string
	Type      store.CampaignType

	// Receiver is used for single sends, Recipients (one number per line)
	// for bulk sends.
	Receiver   string
	Recipients string

	Text      string
	MediaType media.Type
	Upload    *Upload
	Caption   string

	// DelayMs applies to bulk sends; zero selects the default.
	DelayMs int
}

// plan is a validated draft.
type plan struct {
	numbers []string
	content api.MessageContent
	delayMs int
}

// Flow runs the campaign form.
type Flow struct {
	api       API
	sessions  *store.SessionStore
	campaigns *store.CampaignStore
	notify    notify.Notifier
	log       waLog.Logger
	status    StatusSource

	defaultDelayMs int

	// OnSubmitted runs after a campaign was accepted and recorded.
	OnSubmitted func(*store.Campaign)
}

// NewFlow creates a new Flow. defaultDelayMs is used for bulk drafts
// without a delay; zero selects DefaultDelayMs.
func NewFlow(a API, c *store.Container, n notify.Notifier, defaultDelayMs int, log waLog.Logger) *Flow {
	if defaultDelayMs <= 0 {
		defaultDelayMs = DefaultDelayMs
	}
	return &Flow{
		api:            a,
		sessions:       c.Sessions,
		campaigns:      c.Campaigns,
		notify:         n,
		log:            log.Sub("Campaigns"),
		defaultDelayMs: defaultDelayMs,
	}
}

// SetStatusSource makes Submit and Precheck refresh the sending session's
// status before the connected check.
func (f *Flow) SetStatusSource(s StatusSource) {
	f.status = s
}

// Validate checks a draft against the stored state without touching the
// network.
func (f *Flow) Validate(ctx context.Context, d *Draft) error {
	_, err := f.validate(ctx, d)
	return err
}

// Precheck checks the parts of a draft that need no upload: session,
// recipients and delay. Run it before starting an upload.
func (f *Flow) Precheck(ctx context.Context, d *Draft) error {
	f.refreshSession(ctx, d.SessionID)
	_, err := f.target(ctx, d)
	return err
}

// refreshSession pulls the live status so the connected check does not
// trust a stale row. On failure the stored status decides.
func (f *Flow) refreshSession(ctx context.Context, id string) {
	if f.status == nil || strings.TrimSpace(id) == "" {
		return
	}
	if _, err := f.status.Status(ctx, id); err != nil {
		f.log.Warnf("Failed to refresh session %s, using stored status: %v", id, err)
	}
}

func (f *Flow) validate(ctx context.Context, d *Draft) (*plan, error) {
	p, err := f.target(ctx, d)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(d.Text)
	if text == "" && d.MediaType == media.TypeNone {
		return nil, invalid("message", ErrMissingContent)
	}
	if d.MediaType != media.TypeNone && !d.Upload.Completed() {
		return nil, invalid("media", ErrMediaNotUploaded)
	}
	p.content = api.MessageContent{Text: text, MediaType: d.MediaType, Caption: strings.TrimSpace(d.Caption)}
	if d.MediaType != media.TypeNone {
		p.content.MediaURL = d.Upload.URL()
	}
	return p, nil
}

// target checks who sends to whom and how fast.
func (f *Flow) target(ctx context.Context, d *Draft) (*plan, error) {
	if strings.TrimSpace(d.SessionID) == "" {
		return nil, invalid("sessionId", ErrMissingSession)
	}
	sess, err := f.sessions.Get(ctx, d.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, invalid("sessionId", ErrSessionNotConnected)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", d.SessionID, err)
	}
	if sess.Status != store.StatusConnected {
		return nil, invalid("sessionId", ErrSessionNotConnected)
	}

	p := &plan{}
	switch d.Type {
	case store.CampaignSingle, "":
		d.Type = store.CampaignSingle
		if strings.TrimSpace(d.Receiver) == "" {
			return nil, invalid("receiver", ErrMissingRecipients)
		}
		n, err := recipient(d.Receiver)
		if err != nil {
			return nil, invalid("receiver", err)
		}
		p.numbers = []string{n}
	case store.CampaignBulk:
		numbers, err := ParseRecipients(d.Recipients)
		if err != nil {
			return nil, invalid("numbers", err)
		}
		p.numbers = numbers
	default:
		return nil, invalid("type", fmt.Errorf("unknown campaign type %q", d.Type))
	}

	if d.Type == store.CampaignBulk {
		p.delayMs = d.DelayMs
		if p.delayMs == 0 {
			p.delayMs = f.defaultDelayMs
		}
		if p.delayMs < MinDelayMs || p.delayMs > MaxDelayMs {
			return nil, invalid("delay", ErrDelayOutOfRange)
		}
	}
	return p, nil
}

// ParseRecipients splits newline separated numbers, skipping blank lines.
func ParseRecipients(text string) ([]string, error) {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		n, err := recipient(line)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, ErrMissingRecipients
	}
	return out, nil
}

func recipient(value string) (string, error) {
	user, parsed, err := jid.Recipient(value)
	if err != nil || !jid.IsUser(parsed) {
		return "", fmt.Errorf("%w: %s", ErrInvalidRecipient, strings.TrimSpace(value))
	}
	return user, nil
}

// Submit validates and dispatches a draft. On success the optimistic record
// is stored and returned; on failure nothing is recorded.
func (f *Flow) Submit(ctx context.Context, d *Draft) (*store.Campaign, error) {
	f.refreshSession(ctx, d.SessionID)
	p, err := f.validate(ctx, d)
	if err != nil {
		return nil, err
	}

	rec := &store.Campaign{
		Name:      d.Name,
		SessionID: d.SessionID,
		Type:      d.Type,
		Text:      p.content.Text,
		MediaType: string(p.content.MediaType),
		MediaURL:  p.content.MediaURL,
		Caption:   p.content.Caption,
	}

	if d.Type == store.CampaignSingle {
		id, err := f.api.SendSingle(ctx, d.SessionID, p.numbers[0], p.content)
		if err != nil {
			return nil, f.reject(err)
		}
		rec.ID = id
		rec.Receiver = p.numbers[0]
		rec.Total, rec.SentCount, rec.FailedCount = store.IntPtr(1), store.IntPtr(1), store.IntPtr(0)
		rec.Status = store.CampaignCompleted
		if rec.Name == "" {
			rec.Name = "Message to " + rec.Receiver
		}
	} else {
		res, err := f.api.SendBulk(ctx, d.SessionID, p.numbers, p.content, p.delayMs)
		if err != nil {
			return nil, f.reject(err)
		}
		rec.ID = res.CampaignID
		rec.Recipients = p.numbers
		rec.DelayMs = p.delayMs
		rec.Total, rec.SentCount, rec.FailedCount = store.IntPtr(len(p.numbers)), store.IntPtr(0), store.IntPtr(0)
		rec.Status = store.CampaignSending
		if rec.Name == "" {
			rec.Name = fmt.Sprintf("Bulk send to %d recipients", len(p.numbers))
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	if err := f.campaigns.Put(ctx, rec); err != nil {
		f.log.Errorf("Failed to record campaign %s: %v", rec.ID, err)
	}
	if d.Type == store.CampaignSingle {
		f.notify.Success("Message sent successfully")
	} else {
		f.notify.Success(fmt.Sprintf("Bulk campaign started for %d recipients", len(p.numbers)))
	}
	if f.OnSubmitted != nil {
		f.OnSubmitted(rec)
	}
	return rec, nil
}

func (f *Flow) reject(err error) error {
	msg := api.Message(err, DefaultRejectMessage)
	f.notify.Error(msg)
	return &RejectedError{Message: msg, Err: err}
}

// List fetches a page of campaigns and merges them into the store.
func (f *Flow) List(ctx context.Context, page, limit int) (*api.CampaignPage, error) {
	res, err := f.api.ListCampaigns(ctx, page, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	for _, c := range res.Campaigns {
		if err := f.campaigns.Put(ctx, c); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Get fetches one campaign, merges it and returns the merged record.
func (f *Flow) Get(ctx context.Context, id string) (*store.Campaign, error) {
	c, err := f.api.GetCampaign(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign %s: %w", id, err)
	}
	if err := f.campaigns.Put(ctx, c); err != nil {
		return nil, err
	}
	return f.campaigns.Get(ctx, c.ID)
}

// Recent returns locally known campaigns, newest first.
func (f *Flow) Recent(ctx context.Context, limit, offset int) ([]*store.Campaign, error) {
	return f.campaigns.List(ctx, limit, offset)
}
