package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"wa-console/internal/store"
	"wa-console/internal/utils/media"
)

// MessageContent is the message body of a campaign. Media, when present,
// is sent as {"<type>": {"url": ...}} next to text and caption.
type MessageContent struct {
	Text      string
	MediaType media.Type
	MediaURL  string
	Caption   string
}

// payload builds the backend's message shape.
func (m MessageContent) payload() map[string]any {
	out := map[string]any{}
	if m.Text != "" {
		out["text"] = m.Text
	}
	if m.MediaType != media.TypeNone && m.MediaURL != "" {
		out[string(m.MediaType)] = map[string]string{"url": m.MediaURL}
		if m.Caption != "" {
			out["caption"] = m.Caption
		}
	}
	return out
}

// BulkResult is what the backend returns for an accepted bulk send.
type BulkResult struct {
	CampaignID string
	Total      int
}

// SendSingle sends one message through a session.
func (c *Client) SendSingle(ctx context.Context, sessionID, receiver string, content MessageContent) (string, error) {
	res, err := c.do(ctx, request{
		method: http.MethodPost,
		base:   c.sessionURL,
		path:   "/messages/send",
		query:  url.Values{"id": {sessionID}},
		body:   map[string]any{"receiver": receiver, "message": content.payload()},
	})
	if err != nil {
		return "", err
	}
	return first(res, "data.campaignId", "data._id", "data.messageId", "campaignId").String(), nil
}

// SendBulk queues a message to many recipients with delayMs between sends.
func (c *Client) SendBulk(ctx context.Context, sessionID string, numbers []string, content MessageContent, delayMs int) (*BulkResult, error) {
	res, err := c.do(ctx, request{
		method: http.MethodPost,
		base:   c.sessionURL,
		path:   "/messages/bulk",
		body: map[string]any{
			"id":      sessionID,
			"numbers": numbers,
			"message": content.payload(),
			"delay":   delayMs,
		},
	})
	if err != nil {
		return nil, err
	}
	out := &BulkResult{
		CampaignID: first(res, "data.campaignId", "data._id", "data.id", "campaignId").String(),
		Total:      int(first(res, "data.total", "total").Int()),
	}
	return out, nil
}

// UploadMedia uploads a file and returns the URL to reference in a send.
func (c *Client) UploadMedia(ctx context.Context, path string, progress ProgressFunc) (string, error) {
	res, err := c.do(ctx, request{
		method:    http.MethodPost,
		base:      c.sessionURL,
		path:      "/sessions/upload/media",
		multipart: fileForm(path, "file", nil, progress),
	})
	if err != nil {
		return "", err
	}
	u := first(res, "url", "data.url", "data.fileUrl", "fileUrl").String()
	if u == "" {
		return "", errors.New("upload response did not contain a url")
	}
	return u, nil
}

// CampaignPage is one page of the campaign listing.
type CampaignPage struct {
	Campaigns []*store.Campaign
	Page      int
	Pages     int
	Total     int
}

// ListCampaigns lists campaigns. page and limit are optional (0).
func (c *Client) ListCampaigns(ctx context.Context, page, limit int) (*CampaignPage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	res, err := c.do(ctx, request{method: http.MethodGet, base: c.sessionURL, path: "/campaigns", query: q})
	if err != nil {
		return nil, err
	}

	out := &CampaignPage{
		Page:  int(first(res, "data.pagination.page", "pagination.page", "page").Int()),
		Pages: int(first(res, "data.pagination.pages", "data.pagination.total_pages", "pagination.pages").Int()),
		Total: int(first(res, "data.pagination.total", "data.pagination.total_count", "pagination.total").Int()),
	}
	for _, item := range list(res, "data.campaigns", "campaigns", "data") {
		if camp := ParseCampaign(item); camp.ID != "" {
			out.Campaigns = append(out.Campaigns, camp)
		}
	}
	if out.Total == 0 {
		out.Total = len(out.Campaigns)
	}
	return out, nil
}

// GetCampaign fetches one campaign.
func (c *Client) GetCampaign(ctx context.Context, id string) (*store.Campaign, error) {
	res, err := c.do(ctx, request{method: http.MethodGet, base: c.sessionURL, path: "/campaigns/" + url.PathEscape(id)})
	if err != nil {
		return nil, err
	}
	camp := ParseCampaign(object(payload(res), "campaign"))
	if camp.ID == "" {
		camp.ID = id
	}
	return camp, nil
}
