package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wa-console/internal/infra/logger"
	"wa-console/internal/store"
)

type recorder struct {
	BaseHandler
	sessions []*SessionStatus
	qrs      []*QRCode
	messages []*MessageReceived
	statuses []*MessageStatus
	typing   []*UserTyping
}

func (r *recorder) OnSessionStatus(e *SessionStatus)     { r.sessions = append(r.sessions, e) }
func (r *recorder) OnQRCode(e *QRCode)                   { r.qrs = append(r.qrs, e) }
func (r *recorder) OnMessageReceived(e *MessageReceived) { r.messages = append(r.messages, e) }
func (r *recorder) OnMessageStatus(e *MessageStatus)     { r.statuses = append(r.statuses, e) }
func (r *recorder) OnUserTyping(e *UserTyping)           { r.typing = append(r.typing, e) }

func TestHandleFrameDecodesEvents(t *testing.T) {
	d := NewDispatcher(logger.Noop())
	rec := &recorder{}
	d.Register(rec)

	d.HandleFrame(NameSessionStatus, []byte(`{"sessionId":"s1","status":"qr_ready"}`))
	d.HandleFrame(NameQRCode, []byte(`{"sessionId":"s1","qr":"2@abc"}`))
	d.HandleFrame(NameMessageReceived, []byte(`{"sessionId":"s1","message":{"messageId":"m1","from":"111@s.whatsapp.net","content":{"text":"hi"}}}`))
	d.HandleFrame(NameMessageStatus, []byte(`{"sessionId":"s1","messageId":"m1","status":"read"}`))
	d.HandleFrame(NameUserTyping, []byte(`{"sessionId":"s1","chatId":"111@s.whatsapp.net","isTyping":true}`))

	require.Len(t, rec.sessions, 1)
	assert.Equal(t, store.StatusQRWaiting, rec.sessions[0].Session.Status)

	require.Len(t, rec.qrs, 1)
	assert.Equal(t, "2@abc", rec.qrs[0].QR)

	require.Len(t, rec.messages, 1)
	m := rec.messages[0].Message
	assert.Equal(t, "s1", m.SessionID)
	assert.Equal(t, "111@s.whatsapp.net", m.ChatID)
	assert.Equal(t, store.DirectionIncoming, m.Direction)
	assert.Equal(t, "hi", m.Text)

	require.Len(t, rec.statuses, 1)
	assert.Equal(t, store.MessageRead, rec.statuses[0].Status)

	require.Len(t, rec.typing, 1)
	assert.True(t, rec.typing[0].IsTyping)
}

func TestHandleFrameDropsBadFrames(t *testing.T) {
	d := NewDispatcher(logger.Noop())
	rec := &recorder{}
	d.Register(rec)

	d.HandleFrame("unknown", []byte(`{}`))
	d.HandleFrame(NameSessionStatus, []byte(`not json`))
	d.HandleFrame(NameSessionStatus, []byte(`{"status":"connected"}`))
	d.HandleFrame(NameQRCode, []byte(`{"sessionId":"s1"}`))
	d.HandleFrame(NameMessageReceived, []byte(`{"sessionId":"s1","message":{}}`))

	assert.Empty(t, rec.sessions)
	assert.Empty(t, rec.qrs)
	assert.Empty(t, rec.messages)
}

func TestUnregister(t *testing.T) {
	d := NewDispatcher(logger.Noop())
	a, b := &recorder{}, &recorder{}
	unregisterA := d.Register(a)
	d.Register(b)

	d.Handle(&QRCode{SessionID: "s1", QR: "x"})
	unregisterA()
	unregisterA()
	d.Handle(&QRCode{SessionID: "s1", QR: "y"})

	assert.Len(t, a.qrs, 1)
	assert.Len(t, b.qrs, 2)
}
