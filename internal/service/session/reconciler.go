package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"wa-console/internal/api"
	pushevent "wa-console/internal/event"
	"wa-console/internal/notify"
	"wa-console/internal/store"
	"wa-console/internal/utils/retry"
)

// ErrSessionDisconnected is returned by Reconciler.Run when the session
// ends up disconnected or failed instead of connected.
var ErrSessionDisconnected = errors.New("session disconnected")

// StatusAPI is the part of the backend the reconciler polls.
type StatusAPI interface {
	GetStatus(ctx context.Context, id string) (*store.Session, error)
	GetQR(ctx context.Context, id string) (string, error)
}

// Rooms subscribes to per-session push frames.
type Rooms interface {
	SubscribeSession(ctx context.Context, id string) error
	UnsubscribeSession(ctx context.Context, id string) error
	JoinSession(ctx context.Context, id string) error
}

// Registrar registers push event handlers.
type Registrar interface {
	Register(h pushevent.Handler) (unregister func())
}

// Announcer is a push handler that announces session transitions itself.
// While a reconciler runs it claims its session, and the announcer stays
// quiet about it until the claim is released.
type Announcer interface {
	Claim(id string) (release func())
}

// Deps are the collaborators of a Reconciler. Rooms and Events may be nil,
// in which case the reconciler relies on polling alone. Announcer may be nil.
type Deps struct {
	API       StatusAPI
	Sessions  *store.SessionStore
	Rooms     Rooms
	Events    Registrar
	Announcer Announcer
	Notify    notify.Notifier
	Log       waLog.Logger
}

// Options tunes a Reconciler.
type Options struct {
	PollInterval  time.Duration
	QRCountdown   time.Duration
	NavigateDelay time.Duration
	BackoffMax    time.Duration

	// MaxPollFailures ends Run after that many consecutive failed polls.
	// Zero means unlimited.
	MaxPollFailures int

	// OnQR receives every new QR payload while the session is pairing.
	OnQR func(qr string)
	// OnCountdown receives the whole seconds left before the first QR fetch.
	OnCountdown func(remaining int)
	// OnConnected runs once, NavigateDelay after the session connected.
	OnConnected func(*store.Session)
}

// DefaultOptions returns the standard pacing.
func DefaultOptions() Options {
	return Options{
		PollInterval:  3 * time.Second,
		QRCountdown:   5 * time.Second,
		NavigateDelay: 2 * time.Second,
		BackoffMax:    30 * time.Second,
	}
}

// Reconciler drives one session from pairing to a terminal status by
// merging polled snapshots and pushed partial updates into the store.
type Reconciler struct {
	id   string
	deps Deps
	opts Options
	log  waLog.Logger

	connected atomic.Bool

	// state below is owned by the Run goroutine
	finished bool
	lastQR   string
}

// NewReconciler creates a Reconciler for session id.
func NewReconciler(id string, deps Deps, opts Options) *Reconciler {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.QRCountdown < 0 {
		opts.QRCountdown = 0
	}
	if opts.NavigateDelay < 0 {
		opts.NavigateDelay = 0
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = def.BackoffMax
	}
	if deps.Notify == nil {
		deps.Notify = notify.NewRecorder(0, nil)
	}
	return &Reconciler{
		id:   id,
		deps: deps,
		opts: opts,
		log:  deps.Log.Sub("Reconciler/" + id),
	}
}

// pushInbox collects pushed updates for one session without blocking the
// socket read loop.
type pushInbox struct {
	pushevent.BaseHandler
	id string

	mu      sync.Mutex
	pending []*store.Session
	wake    chan struct{}
}

func newPushInbox(id string) *pushInbox {
	return &pushInbox{id: id, wake: make(chan struct{}, 1)}
}

func (p *pushInbox) put(s *store.Session) {
	p.mu.Lock()
	p.pending = append(p.pending, s)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *pushInbox) drain() []*store.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pending
	p.pending = nil
	return out
}

func (p *pushInbox) OnSessionStatus(e *pushevent.SessionStatus) {
	if e.Session.ID == p.id {
		cp := *e.Session
		p.put(&cp)
	}
}

func (p *pushInbox) OnQRCode(e *pushevent.QRCode) {
	if e.SessionID == p.id {
		p.put(&store.Session{ID: p.id, QRCode: e.QR})
	}
}

// Run reconciles until the session reaches a terminal status or ctx is
// done. It returns nil once connected (after OnConnected ran),
// ErrSessionDisconnected on disconnect or failure, and the last poll error
// when MaxPollFailures is exceeded. No timer or request outlives Run.
func (r *Reconciler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// claim before registering so no push slips between the two
	if r.deps.Announcer != nil {
		release := r.deps.Announcer.Claim(r.id)
		defer release()
	}
	inbox := newPushInbox(r.id)
	if r.deps.Events != nil {
		unregister := r.deps.Events.Register(inbox)
		defer unregister()
	}
	if r.deps.Rooms != nil {
		r.joinRooms(ctx)
		defer r.leaveRooms(ctx)
	}

	poll := time.NewTimer(0)
	defer poll.Stop()

	countdown := r.opts.QRCountdown
	step := min(time.Second, countdown)
	if step <= 0 {
		step = time.Millisecond
	}
	tick := time.NewTicker(step)
	defer tick.Stop()
	qrPending := true

	backoff := retry.NewBackoff(r.opts.PollInterval, r.opts.BackoffMax, 2)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-inbox.wake:
			for _, upd := range inbox.drain() {
				if done, err := r.apply(ctx, upd, "push"); done {
					return r.finish(ctx, err)
				}
			}

		case <-tick.C:
			if !qrPending {
				continue
			}
			countdown -= step
			if countdown > 0 {
				if r.opts.OnCountdown != nil {
					r.opts.OnCountdown(int((countdown + time.Second - 1) / time.Second))
				}
				continue
			}
			qrPending = false
			tick.Stop()
			if r.opts.OnCountdown != nil {
				r.opts.OnCountdown(0)
			}
			if done, err := r.fetchQR(ctx); done {
				return r.finish(ctx, err)
			}

		case <-poll.C:
			sess, err := r.deps.API.GetStatus(ctx, r.id)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				wait := backoff.Next()
				r.log.Warnf("Status poll failed (%d in a row), retrying in %s: %v", backoff.Failures(), wait, err)
				if r.opts.MaxPollFailures > 0 && backoff.Failures() >= r.opts.MaxPollFailures {
					r.deps.Notify.Error(api.Message(err, "Failed to check session status"))
					return fmt.Errorf("failed to poll session %s: %w", r.id, err)
				}
				poll.Reset(wait)
				continue
			}
			backoff.Reset()
			if done, err := r.apply(ctx, sess, "poll"); done {
				return r.finish(ctx, err)
			}
			poll.Reset(r.opts.PollInterval)
		}
	}
}

// apply merges one update. It reports whether the session reached a
// terminal status, and the error Run should end with.
func (r *Reconciler) apply(ctx context.Context, upd *store.Session, source string) (bool, error) {
	if r.finished {
		r.log.Debugf("Discarding %s update after terminal status", source)
		return false, nil
	}
	if upd.ID == "" {
		upd.ID = r.id
	}
	merged, changed, err := r.deps.Sessions.Merge(ctx, upd)
	if err != nil {
		r.log.Errorf("Failed to merge %s update: %v", source, err)
		return false, nil
	}
	if changed {
		r.log.Debugf("Session %s is %s (%s)", r.id, merged.Status, source)
	}

	// the update's own status decides transitions; a QR-only push must not
	// inherit a stale stored status
	switch upd.Status {
	case store.StatusConnected:
		r.finished = true
		return true, nil
	case store.StatusDisconnected, store.StatusError:
		r.finished = true
		return true, ErrSessionDisconnected
	}

	if merged.QRCode != "" && merged.QRCode != r.lastQR {
		r.lastQR = merged.QRCode
		if r.opts.OnQR != nil {
			r.opts.OnQR(merged.QRCode)
		}
	}
	return false, nil
}

func (r *Reconciler) fetchQR(ctx context.Context) (bool, error) {
	qr, err := r.deps.API.GetQR(ctx, r.id)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Warnf("Failed to fetch QR: %v", err)
		}
		return false, nil
	}
	return r.apply(ctx, &store.Session{ID: r.id, QRCode: qr}, "qr")
}

// finish performs the terminal side effects.
func (r *Reconciler) finish(ctx context.Context, result error) error {
	if result != nil {
		r.deps.Notify.Error("Session disconnected")
		return result
	}
	if !r.connected.CompareAndSwap(false, true) {
		return nil
	}

	sess, err := r.deps.Sessions.Get(ctx, r.id)
	if err != nil {
		sess = &store.Session{ID: r.id, Status: store.StatusConnected}
	}
	r.deps.Notify.Success("Session connected successfully!")

	if err := retry.Sleep(ctx, r.opts.NavigateDelay); err != nil {
		return err
	}
	if r.opts.OnConnected != nil {
		r.opts.OnConnected(sess)
	}
	return nil
}

func (r *Reconciler) joinRooms(ctx context.Context) {
	if err := r.deps.Rooms.SubscribeSession(ctx, r.id); err != nil {
		r.log.Debugf("Subscribe failed, relying on polling: %v", err)
	}
	if err := r.deps.Rooms.JoinSession(ctx, r.id); err != nil {
		r.log.Debugf("Join failed: %v", err)
	}
}

func (r *Reconciler) leaveRooms(ctx context.Context) {
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := r.deps.Rooms.UnsubscribeSession(lctx, r.id); err != nil {
		r.log.Debugf("Unsubscribe failed: %v", err)
	}
}
