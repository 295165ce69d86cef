// Package handler serves the local dashboard JSON API over the canonical
// store.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	waLog "go.mau.fi/whatsmeow/util/log"

	"wa-console/internal/auth"
	"wa-console/internal/notify"
	"wa-console/internal/service/campaign"
	"wa-console/internal/store"
	"wa-console/internal/utils/media"
)

// Campaigns submits campaign drafts.
type Campaigns interface {
	Submit(ctx context.Context, d *campaign.Draft) (*store.Campaign, error)
}

// Typing reports live typing indicators.
type Typing interface {
	IsTyping(chatID string) bool
}

// Dashboard holds the dependencies of the dashboard routes.
type Dashboard struct {
	store     *store.Container
	campaigns Campaigns
	typing    Typing
	notes     *notify.Recorder
	log       waLog.Logger
}

// NewDashboard creates a Dashboard. campaigns, typing and notes may be nil;
// the routes depending on them answer 503 then.
func NewDashboard(c *store.Container, campaigns Campaigns, typing Typing, notes *notify.Recorder, log waLog.Logger) *Dashboard {
	return &Dashboard{
		store:     c,
		campaigns: campaigns,
		typing:    typing,
		notes:     notes,
		log:       log.Sub("Dashboard"),
	}
}

// Router returns the route tree.
func (h *Dashboard) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/stats", h.Stats)
	r.Get("/notifications", h.Notifications)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.Get("/{id}", h.GetSession)
		r.Get("/{id}/qr.png", h.SessionQR)
		r.Get("/{id}/chats", h.ListChats)
		r.Get("/{id}/chats/{chatId}/messages", h.ListMessages)
		r.Get("/{id}/chats/{chatId}/typing", h.ChatTyping)
	})

	r.Route("/campaigns", func(r chi.Router) {
		r.Get("/", h.ListCampaigns)
		r.Post("/", h.CreateCampaign)
		r.Get("/{id}", h.GetCampaign)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (h *Dashboard) writeError(w http.ResponseWriter, err error) {
	var invalid *campaign.ValidationError
	var rejected *campaign.RejectedError
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: invalid.Err.Error(), Field: invalid.Field})
	case errors.As(err, &rejected):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: rejected.Message})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	default:
		h.log.Errorf("Request failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v >= 0 {
		return v
	}
	return def
}

func (h *Dashboard) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Dashboard) Notifications(w http.ResponseWriter, r *http.Request) {
	if h.notes == nil {
		writeJSON(w, http.StatusOK, []notify.Notification{})
		return
	}
	writeJSON(w, http.StatusOK, h.notes.All())
}

func (h *Dashboard) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.Sessions.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

func (h *Dashboard) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.Sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// SessionQR renders the pending QR payload of a session as PNG.
func (h *Dashboard) SessionQR(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.Sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if sess.QRCode == "" || !sess.Status.Waiting() {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no QR code pending"})
		return
	}
	png, err := auth.PNG(sess.QRCode, queryInt(r, "size", auth.DefaultPNGSize))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

func (h *Dashboard) ListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.store.Chats.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats, "count": len(chats)})
}

func (h *Dashboard) ListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.store.Messages.ListByChat(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "chatId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages, "count": len(messages)})
}

func (h *Dashboard) ChatTyping(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	typing := h.typing != nil && h.typing.IsTyping(chatID)
	writeJSON(w, http.StatusOK, map[string]any{"chatId": chatID, "isTyping": typing})
}

func (h *Dashboard) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	campaigns, err := h.store.Campaigns.List(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	total, err := h.store.Campaigns.Count(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": campaigns, "total": total})
}

func (h *Dashboard) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.Campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type campaignRequest struct {
	Name      string             `json:"name"`
	SessionID string             `json:"sessionId"`
	Type      store.CampaignType `json:"type"`
	Receiver  string             `json:"receiver"`
	Numbers   string             `json:"numbers"`
	Text      string             `json:"text"`
	MediaType media.Type         `json:"mediaType"`
	Caption   string             `json:"caption"`
	Delay     int                `json:"delay"`
}

// CreateCampaign submits a text campaign. Media campaigns need a finished
// upload and are only available from the CLI.
func (h *Dashboard) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	if h.campaigns == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "campaigns unavailable"})
		return
	}
	var req campaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Type == "" {
		req.Type = store.CampaignSingle
	}

	c, err := h.campaigns.Submit(r.Context(), &campaign.Draft{
		Name:       req.Name,
		SessionID:  req.SessionID,
		Type:       req.Type,
		Receiver:   req.Receiver,
		Recipients: req.Numbers,
		Text:       req.Text,
		MediaType:  req.MediaType,
		Caption:    req.Caption,
		DelayMs:    req.Delay,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}
