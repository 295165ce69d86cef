package store

// schema contains all table definitions.
// Times are stored as unix milliseconds; NULL means unknown.
//
// Tables:
//   - wac_sessions - Linked account sessions and their pairing state
//   - wac_campaigns - Single and bulk sends, optimistic and server-synced
//   - wac_chats - Conversations per session
//   - wac_messages - Messages keyed by (session_id, message_id)
//   - wac_credentials - Token pair and profile of the signed-in user
//   - wac_settings - Key/value settings (current session, current chat)
const schema = `
-- ============================================================
-- Sessions
-- ============================================================
CREATE TABLE IF NOT EXISTS wac_sessions (
    session_id TEXT PRIMARY KEY,
    name TEXT,
    phone_number TEXT,
    status TEXT,
    qr_code TEXT,
    connected_at INTEGER,
    last_seen INTEGER,
    retry_count INTEGER,
    is_active INTEGER,
    platform TEXT,
    wa_version TEXT,
    created_at INTEGER,
    updated_at INTEGER NOT NULL
);

-- ============================================================
-- Campaigns
-- ============================================================
CREATE TABLE IF NOT EXISTS wac_campaigns (
    id TEXT PRIMARY KEY,
    name TEXT,
    session_id TEXT,
    type TEXT,
    receiver TEXT,
    recipients TEXT,
    text TEXT,
    media_type TEXT,
    media_url TEXT,
    caption TEXT,
    delay_ms INTEGER,
    total INTEGER,
    sent_count INTEGER,
    failed_count INTEGER,
    status TEXT,
    created_at INTEGER,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_wac_campaigns_created ON wac_campaigns(created_at DESC);

-- ============================================================
-- Chats
-- ============================================================
CREATE TABLE IF NOT EXISTS wac_chats (
    session_id TEXT NOT NULL,
    chat_id TEXT NOT NULL,
    name TEXT,
    phone_number TEXT,
    profile_picture TEXT,
    is_group INTEGER NOT NULL DEFAULT 0,
    last_message_id TEXT,
    last_message_text TEXT,
    last_message_type TEXT,
    last_message_at INTEGER,
    unread_count INTEGER NOT NULL DEFAULT 0,
    is_pinned INTEGER NOT NULL DEFAULT 0,
    is_muted INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (session_id, chat_id)
);

-- ============================================================
-- Messages
-- ============================================================
CREATE TABLE IF NOT EXISTS wac_messages (
    session_id TEXT NOT NULL,
    message_id TEXT NOT NULL,
    chat_id TEXT NOT NULL,
    sender TEXT,
    recipient TEXT,
    direction TEXT,
    type TEXT,
    text TEXT,
    caption TEXT,
    media_url TEXT,
    status TEXT,
    is_starred INTEGER,
    is_deleted INTEGER,
    quoted_message_id TEXT,
    push_name TEXT,
    timestamp INTEGER,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (session_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_wac_messages_chat ON wac_messages(session_id, chat_id, timestamp);

-- ============================================================
-- Credentials (single row)
-- ============================================================
CREATE TABLE IF NOT EXISTS wac_credentials (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    access_token TEXT,
    refresh_token TEXT,
    user_json TEXT,
    updated_at INTEGER NOT NULL
);

-- ============================================================
-- Settings
-- ============================================================
CREATE TABLE IF NOT EXISTS wac_settings (
    key TEXT PRIMARY KEY,
    value TEXT,
    updated_at INTEGER NOT NULL
);
`
