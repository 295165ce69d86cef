// Package session manages linked sessions: creation, QR pairing, listing
// and lifecycle operations, all funnelled through the session store.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"wa-console/internal/api"
	"wa-console/internal/notify"
	"wa-console/internal/store"
	"wa-console/internal/utils/jid"
)

// Validation errors of Create.
var (
	ErrInvalidMobile = errors.New("enter a valid 10 digit mobile number")
	ErrMissingName   = errors.New("session name is required")
	ErrNoSession     = errors.New("no session selected")
)

// API is the session part of the backend.
type API interface {
	StatusAPI
	CreateSession(ctx context.Context, id string) (*store.Session, error)
	SaveMetadata(ctx context.Context, meta api.SessionMetadata) error
	ListSessions(ctx context.Context) ([]*store.Session, error)
	ListAllSessions(ctx context.Context) ([]*store.Session, error)
	GetSession(ctx context.Context, id string) (*store.Session, error)
	UpdateSession(ctx context.Context, id string, upd api.SessionUpdate) (*store.Session, error)
	LogoutSession(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, id string) error
	RestoreSessions(ctx context.Context) ([]string, error)
}

// Manager is the session service.
type Manager struct {
	api      API
	sessions *store.SessionStore
	settings *store.SettingsStore
	rooms    Rooms
	events   Registrar
	notify   notify.Notifier
	log      waLog.Logger

	announcer   Announcer
	countryCode string
	pacing      Options

	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewManager creates a new Manager. rooms and events may be nil.
func NewManager(a API, c *store.Container, rooms Rooms, events Registrar, n notify.Notifier, countryCode string, pacing Options, log waLog.Logger) *Manager {
	return &Manager{
		api:         a,
		sessions:    c.Sessions,
		settings:    c.Settings,
		rooms:       rooms,
		events:      events,
		notify:      n,
		log:         log.Sub("Sessions"),
		countryCode: jid.Digits(countryCode),
		pacing:      pacing,
	}
}

// SetAnnouncer makes linking runs claim their session from a, so the
// transition is announced once.
func (m *Manager) SetAnnouncer(a Announcer) {
	m.announcer = a
}

// CreateRequest is the input of Create.
type CreateRequest struct {
	Mobile string
	Name   string
}

// NormalizeMobile returns the 10 digit national number. A leading country
// code matching countryCode is accepted and stripped.
func NormalizeMobile(mobile, countryCode string) (string, error) {
	trimmed := strings.TrimSpace(mobile)
	digits := jid.Digits(trimmed)
	if len(digits) != len(strings.Map(keepPhoneRune, trimmed)) {
		return "", ErrInvalidMobile
	}
	if len(digits) == 10+len(countryCode) && countryCode != "" && strings.HasPrefix(digits, countryCode) {
		digits = digits[len(countryCode):]
	}
	if len(digits) != 10 {
		return "", ErrInvalidMobile
	}
	return digits, nil
}

func keepPhoneRune(r rune) rune {
	switch {
	case r >= '0' && r <= '9':
		return r
	case r == '+' || r == ' ' || r == '-':
		return -1
	default:
		// kept so the length check fails
		return r
	}
}

// Create validates the form, creates the session with the mobile number as
// its id and stores its metadata. The returned session normally carries the
// first QR payload.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*store.Session, error) {
	mobile, err := NormalizeMobile(req.Mobile, m.countryCode)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrMissingName
	}

	sess, err := m.api.CreateSession(ctx, mobile)
	if err != nil {
		m.notify.Error(api.Message(err, "Failed to create session"))
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if sess.QRCode == "" {
		if qr, err := m.api.GetQR(ctx, sess.ID); err == nil {
			sess.QRCode = qr
		} else {
			m.log.Debugf("No QR yet for %s: %v", sess.ID, err)
		}
	}

	phone := "+" + m.countryCode + mobile
	if err := m.api.SaveMetadata(ctx, api.SessionMetadata{SessionID: sess.ID, SessionName: name, PhoneNumber: phone}); err != nil {
		m.log.Warnf("Failed to save metadata for %s: %v", sess.ID, err)
	}
	sess.Name = name
	sess.PhoneNumber = phone

	merged, _, err := m.sessions.Merge(ctx, sess)
	if err != nil {
		return nil, err
	}
	if err := m.settings.Set(ctx, store.SettingCurrentSession, merged.ID); err != nil {
		m.log.Warnf("Failed to select session %s: %v", merged.ID, err)
	}
	m.notify.Success("Session created successfully")
	return merged, nil
}

// Reconciler returns a reconciler for id using the manager's pacing,
// overridden by the hooks in opts.
func (m *Manager) Reconciler(id string, hooks Options) *Reconciler {
	opts := m.pacing
	opts.OnQR = hooks.OnQR
	opts.OnCountdown = hooks.OnCountdown
	opts.OnConnected = hooks.OnConnected
	return NewReconciler(id, Deps{
		API:       m.api,
		Sessions:  m.sessions,
		Rooms:     m.rooms,
		Events:    m.events,
		Announcer: m.announcer,
		Notify:    m.notify,
		Log:       m.log,
	}, opts)
}

// Link runs the pairing flow of id until it connects or fails.
func (m *Manager) Link(ctx context.Context, id string, hooks Options) error {
	return m.Reconciler(id, hooks).Run(ctx)
}

// List fetches the session list and syncs it into the store.
func (m *Manager) List(ctx context.Context) ([]*store.Session, error) {
	remote, err := m.api.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if err := m.sessions.Sync(ctx, remote); err != nil {
		return nil, fmt.Errorf("failed to sync sessions: %w", err)
	}
	return m.sessions.List(ctx)
}

// All lists every session persisted by the backend and merges them.
func (m *Manager) All(ctx context.Context) ([]*store.Session, error) {
	remote, err := m.api.ListAllSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list all sessions: %w", err)
	}
	out := make([]*store.Session, 0, len(remote))
	for _, s := range remote {
		merged, _, err := m.sessions.Merge(ctx, s)
		if err != nil {
			return nil, err
		}
		out = append(out, merged)
	}
	return out, nil
}

// Get fetches one session and merges it.
func (m *Manager) Get(ctx context.Context, id string) (*store.Session, error) {
	sess, err := m.api.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	merged, _, err := m.sessions.Merge(ctx, sess)
	return merged, err
}

// Status fetches the live status. Timestamps the status call omits keep
// their stored values.
func (m *Manager) Status(ctx context.Context, id string) (*store.Session, error) {
	sess, err := m.api.GetStatus(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get status of %s: %w", id, err)
	}
	merged, _, err := m.sessions.Merge(ctx, sess)
	return merged, err
}

// Update edits a session's name or active flag.
func (m *Manager) Update(ctx context.Context, id string, upd api.SessionUpdate) (*store.Session, error) {
	sess, err := m.api.UpdateSession(ctx, id, upd)
	if err != nil {
		m.notify.Error(api.Message(err, "Failed to update session"))
		return nil, fmt.Errorf("failed to update session %s: %w", id, err)
	}
	if sess.Name == "" {
		sess.Name = upd.SessionName
	}
	if sess.IsActive == nil {
		sess.IsActive = upd.IsActive
	}
	merged, _, err := m.sessions.Merge(ctx, sess)
	if err != nil {
		return nil, err
	}
	m.notify.Success("Session updated")
	return merged, nil
}

// Logout logs the session out on the backend and marks it disconnected.
func (m *Manager) Logout(ctx context.Context, id string) error {
	if err := m.api.LogoutSession(ctx, id); err != nil {
		m.notify.Error(api.Message(err, "Failed to logout session"))
		return fmt.Errorf("failed to logout session %s: %w", id, err)
	}
	if err := m.sessions.SetStatus(ctx, id, store.StatusDisconnected); err != nil {
		return err
	}
	m.notify.Success("Session logged out successfully")
	return nil
}

// Delete removes the session on the backend and locally.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.api.DeleteSession(ctx, id); err != nil {
		m.notify.Error(api.Message(err, "Failed to delete session"))
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if err := m.sessions.Delete(ctx, id); err != nil {
		return err
	}
	if cur, _ := m.Current(ctx); cur == id {
		if err := m.settings.Set(ctx, store.SettingCurrentSession, ""); err != nil {
			return err
		}
	}
	m.notify.Success("Session deleted successfully")
	return nil
}

// Restore asks the backend to restart persisted sessions and refreshes the
// list. It returns the restored ids.
func (m *Manager) Restore(ctx context.Context) ([]string, error) {
	ids, err := m.api.RestoreSessions(ctx)
	if err != nil {
		m.notify.Error(api.Message(err, "Failed to restore sessions"))
		return nil, fmt.Errorf("failed to restore sessions: %w", err)
	}
	if _, err := m.List(ctx); err != nil {
		m.log.Warnf("Failed to refresh after restore: %v", err)
	}
	m.notify.Info(fmt.Sprintf("Restored %d session(s)", len(ids)))
	return ids, nil
}

// Use selects the current session. The session must be known locally.
func (m *Manager) Use(ctx context.Context, id string) error {
	if _, err := m.sessions.Get(ctx, id); err != nil {
		return fmt.Errorf("unknown session %s: %w", id, err)
	}
	return m.settings.Set(ctx, store.SettingCurrentSession, id)
}

// Current returns the selected session id.
func (m *Manager) Current(ctx context.Context) (string, error) {
	id, err := m.settings.Get(ctx, store.SettingCurrentSession)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrNoSession
	}
	return id, nil
}

// StartWatch refreshes the session list every interval until StopWatch.
func (m *Manager) StartWatch(ctx context.Context, interval time.Duration) {
	if m.watchCancel != nil {
		m.log.Warnf("Watch already running")
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	wctx, cancel := context.WithCancel(ctx)
	m.watchCancel = cancel
	m.watchWg.Add(1)
	go m.runPeriodic(wctx, interval)
}

// StopWatch stops the list refresh and waits for it to exit.
func (m *Manager) StopWatch() {
	if m.watchCancel != nil {
		m.watchCancel()
		m.watchWg.Wait()
		m.watchCancel = nil
	}
}

func (m *Manager) runPeriodic(ctx context.Context, interval time.Duration) {
	defer m.watchWg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.List(ctx); err != nil && ctx.Err() == nil {
				m.log.Warnf("Periodic session refresh failed: %v", err)
			}
		}
	}
}
