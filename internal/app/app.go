package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"wa-console/internal/auth"
	pushevent "wa-console/internal/event"
	"wa-console/internal/handler"
	"wa-console/internal/infra/config"
	"wa-console/internal/infra/logger"
	"wa-console/internal/notify"
	"wa-console/internal/service/campaign"
	"wa-console/internal/service/chat"
	"wa-console/internal/service/event"
	"wa-console/internal/service/session"
	"wa-console/internal/store"
)

// App is the main application orchestrator.
type App struct {
	Config *config.Config
	Log    *logger.Logger
	Store  *store.Container
	Client *Client

	Events       *pushevent.Dispatcher
	EventService *event.EventService
	Notes        *notify.Recorder
	Sessions     *session.Manager
	Campaigns    *campaign.Flow
	Chat         *chat.Transcript
	QR           *auth.QRRenderer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pushOnce     sync.Once
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a new App instance. The returned App's context is cancelled
// by SIGINT or SIGTERM.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.Open("wac", logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return nil, err
	}
	log.Debugf("Initializing wa-console...")

	if err := cfg.EnsureStorePath(); err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to ensure store path: %w", err)
	}
	s, err := store.New(cfg.DatabasePath(), log)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	c := store.NewContainer(s)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	notes := notify.NewRecorder(notify.DefaultRecorderSize, notify.NewConsole(log))
	events := pushevent.NewDispatcher(log)

	client, err := NewClient(ctx, cfg, c, events, notes, log)
	if err != nil {
		cancel()
		c.Close()
		log.Close()
		return nil, err
	}

	pacing := session.Options{
		PollInterval:    cfg.Session.PollInterval(),
		QRCountdown:     cfg.Session.QRCountdown(),
		NavigateDelay:   cfg.Session.NavigateDelay(),
		BackoffMax:      cfg.Session.BackoffMax(),
		MaxPollFailures: cfg.Session.MaxPollFailures,
	}

	a := &App{
		Config:       cfg,
		Log:          log,
		Store:        c,
		Client:       client,
		Events:       events,
		EventService: event.NewEventService(ctx, c, notes, log),
		Notes:        notes,
		Sessions:     session.NewManager(client.API, c, client.Socket, events, notes, cfg.Session.CountryCode, pacing, log),
		Campaigns:    campaign.NewFlow(client.API, c, notes, cfg.DefaultBulkDelayMs, log),
		Chat:         chat.NewTranscript(ctx, client.API, client.Socket, c, notes, cfg.TypingIdle(), log),
		QR:           auth.NewQRRenderer(os.Stdout, log),
		ctx:          ctx,
		cancel:       cancel,
	}

	events.Register(a.EventService)
	events.Register(a.Chat)
	a.Sessions.SetAnnouncer(a.EventService)
	a.Campaigns.SetStatusSource(a.Sessions)
	return a, nil
}

// Context is cancelled on shutdown or by a signal.
func (a *App) Context() context.Context {
	return a.ctx
}

// StartPush connects the push socket in the background. Without stored
// credentials it does nothing; the console then works on polling alone.
func (a *App) StartPush() {
	if !a.Client.SignedIn(a.ctx) {
		a.Log.Debugf("Not signed in, live updates disabled")
		return
	}
	a.pushOnce.Do(func() {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.Client.Socket.Run(a.ctx); err != nil && a.ctx.Err() == nil {
				a.Log.Errorf("Push socket stopped: %v", err)
				a.Notes.Error("Live updates unavailable")
			}
		}()
	})
}

// Serve runs the dashboard API with live updates and the periodic session
// refresh until the context is cancelled.
func (a *App) Serve() error {
	a.Log.Infof("Starting wa-console dashboard on %s", a.Config.ListenAddr)

	a.StartPush()
	a.Sessions.StartWatch(a.ctx, a.Config.Session.RefreshInterval())

	dashboard := handler.NewDashboard(a.Store, a.Campaigns, a.Chat, a.Notes, a.Log)
	srv := &http.Server{
		Addr:              a.Config.ListenAddr,
		Handler:           dashboard.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-a.ctx.Done():
		a.Log.Infof("Shutting down...")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("failed to serve dashboard: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Log.Warnf("Dashboard shutdown: %v", err)
	}
	return errors.Join(serveErr, a.Shutdown())
}

// Shutdown stops background work and closes the stores. Later calls
// return the first result.
func (a *App) Shutdown() error {
	a.shutdownOnce.Do(func() {
		a.cancel()
		a.Sessions.StopWatch()
		a.Chat.Close()
		a.wg.Wait()
		a.shutdownErr = errors.Join(a.Client.Close(), a.Store.Close(), a.Log.Close())
	})
	return a.shutdownErr
}
