package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wa-console/internal/infra/logger"
)

func newTestContainer(t *testing.T) *Container {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), logger.Noop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewContainer(s)
}

func TestParseStatusCanonicalises(t *testing.T) {
	assert.Equal(t, StatusQRWaiting, ParseStatus("qr_ready"))
	assert.Equal(t, StatusQRWaiting, ParseStatus("QR_WAITING"))
	assert.Equal(t, StatusError, ParseStatus("no_session"))
	assert.Equal(t, StatusError, ParseStatus("banana"))
	assert.Equal(t, SessionStatus(""), ParseStatus(""))
	assert.True(t, StatusInitializing.Waiting())
	assert.True(t, StatusDisconnected.Terminal())
	assert.False(t, StatusQRWaiting.Terminal())
}

func TestSessionMergeKeepsPriorFields(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t)

	connectedAt := time.UnixMilli(1_700_000_000_000)
	_, changed, err := c.Sessions.Merge(ctx, &Session{
		ID:          "9876543210",
		Name:        "Test",
		PhoneNumber: "+919876543210",
		Status:      StatusQRWaiting,
		QRCode:      "qr-1",
		ConnectedAt: connectedAt,
		IsActive:    BoolPtr(true),
	})
	require.NoError(t, err)
	assert.True(t, changed)

	// a status poll only carries the status
	merged, changed, err := c.Sessions.Merge(ctx, &Session{ID: "9876543210", Status: StatusConnected})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusConnected, merged.Status)
	assert.Equal(t, "Test", merged.Name)
	assert.Equal(t, "qr-1", merged.QRCode)
	assert.True(t, merged.ConnectedAt.Equal(connectedAt))
	require.NotNil(t, merged.IsActive)
	assert.True(t, *merged.IsActive)

	// the same payload again is not a change
	_, changed, err = c.Sessions.Merge(ctx, &Session{ID: "9876543210", Status: StatusConnected})
	require.NoError(t, err)
	assert.False(t, changed)

	// explicit false is a value, not absence
	merged, _, err = c.Sessions.Merge(ctx, &Session{ID: "9876543210", IsActive: BoolPtr(false), RetryCount: IntPtr(0)})
	require.NoError(t, err)
	assert.False(t, *merged.IsActive)
	assert.Equal(t, 0, *merged.RetryCount)
}

func TestSessionSyncRemovesMissing(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t)

	for _, id := range []string{"a", "b", "c"} {
		_, _, err := c.Sessions.Merge(ctx, &Session{ID: id, Status: StatusInitializing, Name: "n-" + id})
		require.NoError(t, err)
	}

	require.NoError(t, c.Sessions.Sync(ctx, []*Session{
		{ID: "a", Status: StatusConnected},
		{ID: "c"},
	}))

	sessions, err := c.Sessions.List(ctx)
	require.NoError(t, err)
	ids := map[string]*Session{}
	for _, s := range sessions {
		ids[s.ID] = s
	}
	assert.Len(t, ids, 2)
	assert.Equal(t, StatusConnected, ids["a"].Status)
	assert.Equal(t, "n-a", ids["a"].Name)
	assert.Equal(t, StatusInitializing, ids["c"].Status)

	_, err = c.Sessions.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Sessions.Sync(ctx, nil))
	sessions, err = c.Sessions.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestMessageInsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t)

	m := &Message{SessionID: "s1", ID: "m1", ChatID: "c1", Direction: DirectionIncoming, Type: MessageText, Text: "hi", Timestamp: time.Now()}

	added, err := c.Messages.Insert(ctx, m)
	require.NoError(t, err)
	assert.True(t, added)

	dup := *m
	dup.Text = "changed"
	added, err = c.Messages.Insert(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, added)

	msgs, err := c.Messages.ListByChat(ctx, "s1", "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text)

	// the same id in another session is a different message
	other := *m
	other.SessionID = "s2"
	added, err = c.Messages.Insert(ctx, &other)
	require.NoError(t, err)
	assert.True(t, added)
}

func TestMessagePutMergesAndOrders(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t)
	base := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, c.Messages.Put(ctx, &Message{SessionID: "s", ID: "late", ChatID: "c", Text: "second", Timestamp: base.Add(time.Minute)}))
	require.NoError(t, c.Messages.Put(ctx, &Message{SessionID: "s", ID: "early", ChatID: "c", Text: "first", Timestamp: base, Status: MessageSent}))
	require.NoError(t, c.Messages.Put(ctx, &Message{SessionID: "s", ID: "early", ChatID: "c", Status: MessageDelivered}))

	msgs, err := c.Messages.ListByChat(ctx, "s", "c")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "early", msgs[0].ID)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, MessageDelivered, msgs[0].Status)
	assert.Equal(t, "late", msgs[1].ID)

	known, err := c.Messages.UpdateStatus(ctx, "s", "late", MessageRead)
	require.NoError(t, err)
	assert.True(t, known)
	known, err = c.Messages.UpdateStatus(ctx, "s", "nope", MessageRead)
	require.NoError(t, err)
	assert.False(t, known)

	require.NoError(t, c.Messages.Delete(ctx, "s", "late"))
	n, err := c.Messages.CountByChat(ctx, "s", "c")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMessagePutKeepsFlagsWhenAbsent(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t)

	require.NoError(t, c.Messages.Put(ctx, &Message{SessionID: "s", ID: "m1", ChatID: "c", Text: "hi"}))
	m, err := c.Messages.Get(ctx, "s", "m1")
	require.NoError(t, err)
	assert.Nil(t, m.IsStarred)
	assert.False(t, m.Starred())

	require.NoError(t, c.Messages.SetStarred(ctx, "s", "m1", true))
	// a page re-fetch without the flag keeps the local star
	require.NoError(t, c.Messages.Put(ctx, &Message{SessionID: "s", ID: "m1", ChatID: "c", Text: "hi again"}))
	m, err = c.Messages.Get(ctx, "s", "m1")
	require.NoError(t, err)
	assert.True(t, m.Starred())
	assert.False(t, m.Deleted())
	assert.Equal(t, "hi again", m.Text)

	require.NoError(t, c.Messages.Put(ctx, &Message{SessionID: "s", ID: "m1", ChatID: "c", IsStarred: BoolPtr(false)}))
	m, err = c.Messages.Get(ctx, "s", "m1")
	require.NoError(t, err)
	assert.False(t, m.Starred())

	require.NoError(t, c.Messages.Put(ctx, &Message{SessionID: "s", ID: "m1", ChatID: "c", IsDeleted: BoolPtr(true)}))
	n, err := c.Messages.CountByChat(ctx, "s", "c")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChatApplyMessageAndMarkRead(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t)
	base := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, c.Chats.Put(ctx, &Chat{SessionID: "s", ID: "c", Name: "Alice", UnreadCount: 2}))

	in := &Message{SessionID: "s", ID: "m1", ChatID: "c", From: "c", Direction: DirectionIncoming, Type: MessageText, Text: "hello", Timestamp: base}
	_, err := c.Messages.Insert(ctx, in)
	require.NoError(t, err)
	require.NoError(t, c.Chats.ApplyMessage(ctx, in))

	out := &Message{SessionID: "s", ID: "m0", ChatID: "c", Direction: DirectionOutgoing, Type: MessageImage, Timestamp: base.Add(-time.Minute)}
	require.NoError(t, c.Chats.ApplyMessage(ctx, out))

	chat, err := c.Chats.Get(ctx, "s", "c")
	require.NoError(t, err)
	assert.Equal(t, "Alice", chat.Name)
	assert.Equal(t, 3, chat.UnreadCount)
	// the older outgoing message does not replace the summary
	assert.Equal(t, "m1", chat.LastMessage.MessageID)
	assert.Equal(t, "hello", chat.LastMessage.Text)

	require.NoError(t, c.Chats.MarkRead(ctx, "s", "c"))
	chat, err = c.Chats.Get(ctx, "s", "c")
	require.NoError(t, err)
	assert.Zero(t, chat.UnreadCount)

	m, err := c.Messages.Get(ctx, "s", "m1")
	require.NoError(t, err)
	assert.Equal(t, MessageRead, m.Status)
}

func TestChatApplyMessageCreatesChat(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t)

	m := &Message{SessionID: "s", ID: "m1", ChatID: "919876543210@s.whatsapp.net", From: "919876543210@s.whatsapp.net", Direction: DirectionIncoming, Type: MessageVideo}
	require.NoError(t, c.Chats.ApplyMessage(ctx, m))

	chats, err := c.Chats.List(ctx, "s")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, 1, chats[0].UnreadCount)
	assert.Equal(t, "[video]", chats[0].LastMessage.Text)
}

func TestCampaignPutListMerge(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t)
	base := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, c.Campaigns.Put(ctx, &Campaign{
		ID: "old", SessionID: "s", Type: CampaignSingle, Receiver: "111", Text: "hi",
		Total: IntPtr(1), SentCount: IntPtr(1), Status: CampaignCompleted, CreatedAt: base,
	}))
	require.NoError(t, c.Campaigns.Put(ctx, &Campaign{
		ID: "new", SessionID: "s", Type: CampaignBulk, Recipients: []string{"111", "222"}, DelayMs: 2000,
		Total: IntPtr(2), SentCount: IntPtr(0), Status: CampaignSending, CreatedAt: base.Add(time.Hour),
	}))

	// server progress update
	require.NoError(t, c.Campaigns.Put(ctx, &Campaign{ID: "new", SentCount: IntPtr(1), FailedCount: IntPtr(0)}))

	list, err := c.Campaigns.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, []string{"111", "222"}, list[0].Recipients)
	assert.Equal(t, 2, *list[0].Total)
	assert.Equal(t, 1, *list[0].SentCount)
	assert.Equal(t, CampaignSending, list[0].Status)
	assert.Equal(t, 2000, list[0].DelayMs)

	page, err := c.Campaigns.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "old", page[0].ID)

	n, err := c.Campaigns.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCredentialsLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t)

	tokens, err := c.Credentials.Tokens(ctx)
	require.NoError(t, err)
	assert.True(t, tokens.Empty())

	require.NoError(t, c.Credentials.SaveTokens(ctx, Tokens{AccessToken: "a1", RefreshToken: "r1"}))
	require.NoError(t, c.Credentials.SaveUser(ctx, &User{ID: "u1", Email: "a@example.com", SubscriptionTier: "pro"}))
	require.NoError(t, c.Credentials.SetAccessToken(ctx, "a2"))

	tokens, err = c.Credentials.Tokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, Tokens{AccessToken: "a2", RefreshToken: "r1"}, tokens)

	u, err := c.Credentials.User(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pro", u.SubscriptionTier)

	require.NoError(t, c.Credentials.Clear(ctx))
	tokens, err = c.Credentials.Tokens(ctx)
	require.NoError(t, err)
	assert.True(t, tokens.Empty())
	_, err = c.Credentials.User(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSettingsAndStats(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t)

	require.NoError(t, c.Settings.Set(ctx, SettingCurrentSession, "s1"))
	v, err := c.Settings.Get(ctx, SettingCurrentSession)
	require.NoError(t, err)
	assert.Equal(t, "s1", v)

	require.NoError(t, c.Settings.Set(ctx, SettingCurrentSession, ""))
	assert.Equal(t, "none", c.Settings.GetWithDefault(ctx, SettingCurrentSession, "none"))

	_, _, err = c.Sessions.Merge(ctx, &Session{ID: "s1", Status: StatusConnected})
	require.NoError(t, err)
	stats, err := c.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sessions)
	assert.Equal(t, 1, stats.ConnectedSessions)
}
