package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wa-console/internal/store"
	"wa-console/internal/utils/media"
)

func TestSendSinglePayload(t *testing.T) {
	var got map[string]any
	var sessionID string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /messages/send", func(w http.ResponseWriter, r *http.Request) {
		sessionID = r.URL.Query().Get("id")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, 200, map[string]any{"success": true, "message": "Message sent"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, &memTokens{tokens: store.Tokens{AccessToken: "a"}})
	_, err := c.SendSingle(context.Background(), "9876543210", "111", MessageContent{
		Text:      "hello",
		MediaType: media.TypeImage,
		MediaURL:  "https://cdn.example.com/a.png",
		Caption:   "look",
	})
	require.NoError(t, err)

	assert.Equal(t, "9876543210", sessionID)
	assert.Equal(t, "111", got["receiver"])
	msg := got["message"].(map[string]any)
	assert.Equal(t, "hello", msg["text"])
	assert.Equal(t, "look", msg["caption"])
	assert.Equal(t, map[string]any{"url": "https://cdn.example.com/a.png"}, msg["image"])
}

func TestSendBulkPayload(t *testing.T) {
	var got map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /messages/bulk", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, 200, map[string]any{"success": true, "data": map[string]any{"campaignId": "camp-1", "total": 2}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, &memTokens{tokens: store.Tokens{AccessToken: "a"}})
	res, err := c.SendBulk(context.Background(), "s1", []string{"111", "222"}, MessageContent{Text: "hi"}, 2000)
	require.NoError(t, err)
	assert.Equal(t, "camp-1", res.CampaignID)
	assert.Equal(t, 2, res.Total)

	assert.Equal(t, "s1", got["id"])
	assert.Equal(t, []any{"111", "222"}, got["numbers"])
	assert.Equal(t, float64(2000), got["delay"])
	assert.Equal(t, map[string]any{"text": "hi"}, got["message"])
}

func TestUploadMediaReportsProgress(t *testing.T) {
	content := strings.Repeat("x", 256*1024)
	path := filepath.Join(t.TempDir(), "photo.png")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions/upload/media", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "photo.png", header.Filename)
		assert.Equal(t, "image/png", header.Header.Get("Content-Type"))
		assert.Len(t, data, len(content))
		// top-level url, no envelope
		writeJSON(w, 200, map[string]any{"url": "https://cdn.example.com/photo.png"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var mu sync.Mutex
	var seen []int
	c := newTestClient(t, srv, &memTokens{tokens: store.Tokens{AccessToken: "a"}})
	u, err := c.UploadMedia(context.Background(), path, func(p int) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/photo.png", u)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, 0, seen[0])
	assert.Equal(t, 100, seen[len(seen)-1])
	assert.IsNonDecreasing(t, seen)
}

func TestUploadMediaReplaysMultipartAfterRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0644))

	uploads := 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"data": map[string]string{"accessToken": "fresh"}})
	})
	mux.HandleFunc("POST /sessions/upload/media", func(w http.ResponseWriter, r *http.Request) {
		uploads++
		if r.Header.Get("Authorization") != "Bearer fresh" {
			writeJSON(w, 401, map[string]any{"success": false})
			return
		}
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)
		assert.Equal(t, "%PDF-1.4", string(data))
		writeJSON(w, 200, map[string]any{"success": true, "data": map[string]string{"url": "https://cdn.example.com/doc.pdf"}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, &memTokens{tokens: store.Tokens{AccessToken: "stale", RefreshToken: "r"}})
	u, err := c.UploadMedia(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/doc.pdf", u)
	assert.Equal(t, 2, uploads)
}

func TestListCampaigns(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /campaigns", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		writeJSON(w, 200, map[string]any{"success": true, "data": map[string]any{
			"campaigns": []map[string]any{{
				"_id": "c1", "sessionId": "s1", "type": "bulk", "numbers": []string{"111", "222"},
				"message": map[string]any{"text": "hi", "video": map[string]string{"url": "https://v"}},
				"total":   2, "sentCount": 1, "failedCount": 0, "status": "running",
			}},
			"pagination": map[string]int{"page": 2, "pages": 3, "total": 21},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, &memTokens{tokens: store.Tokens{AccessToken: "a"}})
	page, err := c.ListCampaigns(context.Background(), 2, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Pages)
	assert.Equal(t, 21, page.Total)
	require.Len(t, page.Campaigns, 1)

	camp := page.Campaigns[0]
	assert.Equal(t, store.CampaignSending, camp.Status)
	assert.Equal(t, []string{"111", "222"}, camp.Recipients)
	assert.Equal(t, "video", camp.MediaType)
	assert.Equal(t, 1, *camp.SentCount)
}
