package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wa-console/internal/store"
)

func TestListChatsAndMessages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /messages/sessions/{sid}/chats", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s1", r.PathValue("sid"))
		writeJSON(w, 200, map[string]any{"success": true, "data": map[string]any{
			"count": 2,
			"chats": []map[string]any{
				{"chatId": "919876543210@s.whatsapp.net", "name": "Alice", "unreadCount": 3,
					"lastMessage": map[string]any{"content": "hey", "timestamp": "2024-05-01T10:00:00Z", "messageId": "m9", "type": "text"}},
				{"chatId": "120363025246125486@g.us", "name": "Team"},
			},
		}})
	})
	mux.HandleFunc("GET /messages/sessions/{sid}/chats/{cid}/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "919876543210@s.whatsapp.net", r.PathValue("cid"))
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		writeJSON(w, 200, map[string]any{"success": true, "data": map[string]any{
			"messages": []map[string]any{
				{"messageId": "m1", "from": "919876543210@s.whatsapp.net", "type": "image",
					"content": map[string]any{"caption": "pic", "mediaUrl": "https://m"}, "timestamp": 1714557600000,
					"metadata": map[string]any{"fromMe": false, "pushName": "Alice"}},
				{"messageId": "m2", "to": "919876543210@s.whatsapp.net", "direction": "outgoing", "status": "delivered",
					"content": map[string]any{"text": "hi"}, "timestamp": 1714557601},
			},
			"pagination": map[string]int{"page": 1, "limit": 50, "total": 120, "pages": 3},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, &memTokens{tokens: store.Tokens{AccessToken: "a"}})
	ctx := context.Background()

	chats, err := c.ListChats(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "s1", chats[0].SessionID)
	assert.Equal(t, 3, chats[0].UnreadCount)
	assert.Equal(t, "hey", chats[0].LastMessage.Text)
	assert.True(t, chats[1].IsGroup)

	page, err := c.ListMessages(ctx, "s1", "919876543210@s.whatsapp.net", 0, 0)
	require.NoError(t, err)
	assert.True(t, page.Pagination.HasMore())
	require.Len(t, page.Messages, 2)

	in := page.Messages[0]
	assert.Equal(t, store.DirectionIncoming, in.Direction)
	assert.Equal(t, "919876543210@s.whatsapp.net", in.ChatID)
	assert.Equal(t, "s1", in.SessionID)
	assert.Equal(t, "Alice", in.PushName)
	assert.Equal(t, int64(1714557600000), in.Timestamp.UnixMilli())

	out := page.Messages[1]
	assert.Equal(t, store.DirectionOutgoing, out.Direction)
	assert.Equal(t, "919876543210@s.whatsapp.net", out.ChatID)
	assert.Equal(t, int64(1714557601), out.Timestamp.Unix())
	assert.Nil(t, out.IsStarred, "absent flags stay unknown")
}

func TestSendTextAndMedia(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /messages/send", func(w http.ResponseWriter, r *http.Request) {
		var body SendTextRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "s1", body.SessionID)
		writeJSON(w, 200, map[string]any{"success": true, "data": map[string]any{"messageId": "out-1", "timestamp": 1714557600000}})
	})
	mux.HandleFunc("POST /messages/send-media", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "video", r.FormValue("mediaType"))
		assert.Equal(t, "clip", r.FormValue("caption"))
		_, header, err := r.FormFile("media")
		require.NoError(t, err)
		assert.Equal(t, "clip.mp4", header.Filename)
		writeJSON(w, 200, map[string]any{"success": true, "data": map[string]any{"message": map[string]any{"messageId": "out-2"}}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, &memTokens{tokens: store.Tokens{AccessToken: "a"}})
	ctx := context.Background()

	m, err := c.SendText(ctx, SendTextRequest{SessionID: "s1", To: "111@s.whatsapp.net", Message: "yo"})
	require.NoError(t, err)
	assert.Equal(t, "out-1", m.ID)
	assert.Equal(t, "yo", m.Text)
	assert.Equal(t, store.DirectionOutgoing, m.Direction)
	assert.Equal(t, "111@s.whatsapp.net", m.ChatID)
	assert.Equal(t, store.MessageSent, m.Status)

	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("mp4"), 0644))
	m, err = c.SendMedia(ctx, SendMediaRequest{SessionID: "s1", To: "111@s.whatsapp.net", Path: path, Caption: "clip"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "out-2", m.ID)
	assert.Equal(t, store.MessageVideo, m.Type)
	assert.Equal(t, "clip", m.Caption)
}

func TestStarDeleteSearch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /messages/messages/{mid}/star", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"success": true, "data": map[string]any{"messageId": r.PathValue("mid"), "isStarred": true}})
	})
	mux.HandleFunc("DELETE /messages/messages/{mid}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 404, map[string]any{"success": false, "message": "Message not found"})
	})
	mux.HandleFunc("GET /messages/sessions/{sid}/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "invoice", r.URL.Query().Get("q"))
		writeJSON(w, 200, map[string]any{"success": true, "data": []map[string]any{
			{"messageId": "m1", "chatId": "c1", "content": map[string]any{"text": "your invoice"}},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, &memTokens{tokens: store.Tokens{AccessToken: "a"}})
	ctx := context.Background()

	starred, err := c.ToggleStar(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, starred)

	err = c.DeleteMessage(ctx, "m404")
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.Equal(t, "Message not found", Message(err, "x"))

	found, err := c.Search(ctx, "s1", "invoice")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "your invoice", found[0].Text)
	assert.Equal(t, "s1", found[0].SessionID)
}
