// Package session ties the dashboard together: one DashboardSession owns the
// token, the selected period, the backend client and the sync controller.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"dashsync/internal/backend"
	"dashsync/internal/journey"
	"dashsync/internal/logging"
	"dashsync/internal/syncer"
)

// PreviewToken skips backend validation for local development.
const PreviewToken = "preview"

var (
	ErrLoginRequired   = errors.New("login required")
	ErrUpdateAvailable = errors.New("dashboard update available")
	ErrSignedOut       = errors.New("signed out")
)

type Options struct {
	BackendURL string
	// HTTPClient carries the transport for backend calls, usually the cache
	// agent.
	HTTPClient  *http.Client
	Credentials CredentialStore
	// Token overrides the stored credentials.
	Token    string
	Period   string
	Rules    journey.Rules
	Renderer Renderer

	Scheduler      syncer.Scheduler
	SessionMarkers []string
	RetryDelay     time.Duration
	Timeout        time.Duration

	Logger *zap.SugaredLogger
}

// DashboardSession is built once per sign-in and passed to whatever drives the
// dashboard.
type DashboardSession struct {
	backend  *backend.Client
	creds    CredentialStore
	rules    journey.Rules
	renderer Renderer
	ctrl     *syncer.Controller
	timeout  time.Duration
	log      *zap.SugaredLogger

	token      string
	name       string
	appVersion string

	mu     sync.Mutex
	period string
	report journey.Report

	endOnce sync.Once
	done    chan struct{}
	err     error
}

// New resolves and validates the session token. It fails with
// ErrLoginRequired when no usable token exists.
func New(ctx context.Context, opts Options) (*DashboardSession, error) {
	if opts.Credentials == nil {
		opts.Credentials = &MemoryCredentials{}
	}
	if opts.Renderer == nil {
		opts.Renderer = NewLogRenderer(opts.Logger)
	}
	if opts.Period == "" {
		opts.Period = "WEEKLY"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	logger := logging.OrNop(opts.Logger).With("component", "session")

	token := opts.Token
	if token == "" {
		stored, err := opts.Credentials.Load()
		if err != nil && !errors.Is(err, ErrNoCredentials) {
			logger.Warnw("failed to load stored credentials", "error", err)
		}
		token = stored.Token
	}
	if token == "" {
		return nil, ErrLoginRequired
	}

	client := backend.New(opts.BackendURL, opts.HTTPClient, opts.Logger)
	client.SetToken(token)

	s := &DashboardSession{
		backend:  client,
		creds:    opts.Credentials,
		rules:    opts.Rules,
		renderer: opts.Renderer,
		timeout:  opts.Timeout,
		log:      logger,
		token:    token,
		period:   opts.Period,
		done:     make(chan struct{}),
	}

	if token == PreviewToken {
		s.name = "Preview User"
	} else {
		vctx, cancel := context.WithTimeout(ctx, opts.Timeout)
		info, err := client.ValidateSession(vctx, token)
		cancel()
		if err != nil || !info.Valid {
			_ = s.creds.Clear()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrLoginRequired, err)
			}
			return nil, ErrLoginRequired
		}
		s.name = info.Name
		if s.name == "" {
			s.name = "User"
		}
	}

	if err := s.creds.Save(Credentials{Token: token, Name: s.name}); err != nil {
		logger.Warnw("failed to persist credentials", "error", err)
	}

	vctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	if v, err := client.AppVersion(vctx); err == nil {
		s.appVersion = v
	}
	cancel()

	s.ctrl = syncer.New(syncer.Options{
		Scheduler:  opts.Scheduler,
		Loader:     syncer.LoaderFunc(s.load),
		Versions:   client,
		Classifier: backend.NewClassifier(opts.SessionMarkers),
		RetryDelay: opts.RetryDelay,
		Timeout:    opts.Timeout,
		Logger:     opts.Logger,
		Hooks: syncer.Hooks{
			OnCountdown: s.renderer.RenderSync,
			OnRetrying: func(error) {
				s.renderer.RenderStatus("error loading data, retrying...")
			},
			OnFailed: func(err error) {
				s.renderer.RenderStatus("error loading data: " + err.Error())
			},
			OnSessionInvalid: func(error) { s.finish(ErrLoginRequired) },
			OnUpdateAvailable: func(previous, current string) {
				s.renderer.RenderUpdateAvailable(previous, current)
				s.finish(ErrUpdateAvailable)
			},
		},
	})

	logger.Infow("session ready", "name", s.name, "period", s.period, "appVersion", s.appVersion)
	return s, nil
}

func (s *DashboardSession) Name() string       { return s.name }
func (s *DashboardSession) AppVersion() string { return s.appVersion }

func (s *DashboardSession) Period() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

// Report is the journey report of the last successful load.
func (s *DashboardSession) Report() journey.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

func (s *DashboardSession) Sync() syncer.SyncState { return s.ctrl.Snapshot() }

// Run drives the sync controller until ctx is cancelled or the session ends.
// It returns nil on cancellation and the ending reason otherwise.
func (s *DashboardSession) Run(ctx context.Context) error {
	s.ctrl.Start(ctx)

	select {
	case <-ctx.Done():
		s.ctrl.Stop()
		return nil
	case <-s.done:
	}
	s.ctrl.Stop()

	reason := s.Err()
	switch {
	case errors.Is(reason, ErrUpdateAvailable):
		s.signOut(context.WithoutCancel(ctx))
	case errors.Is(reason, ErrLoginRequired):
		if err := s.creds.Clear(); err != nil {
			s.log.Warnw("failed to clear credentials", "error", err)
		}
	}
	return reason
}

// SetPeriod switches the reporting period and reloads immediately.
func (s *DashboardSession) SetPeriod(period string) error {
	s.mu.Lock()
	s.period = period
	s.mu.Unlock()
	return s.ctrl.Reload()
}

// Resume restarts the countdown after a blocking prompt.
func (s *DashboardSession) Resume() { s.ctrl.Resume() }

// SignOut ends the session. Backend errors are ignored; credentials are
// always cleared.
func (s *DashboardSession) SignOut(ctx context.Context) {
	s.finish(ErrSignedOut)
	s.ctrl.Stop()
	s.signOut(ctx)
}

func (s *DashboardSession) Done() <-chan struct{} { return s.done }

func (s *DashboardSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *DashboardSession) finish(reason error) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.err = reason
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *DashboardSession) signOut(ctx context.Context) {
	if s.token != PreviewToken {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		if err := s.backend.SignOut(ctx, s.token); err != nil {
			s.log.Debugw("sign out call failed", "error", err)
		}
		cancel()
	}
	if err := s.creds.Clear(); err != nil {
		s.log.Warnw("failed to clear credentials", "error", err)
	}
	s.log.Infow("signed out", "name", s.name)
}

func (s *DashboardSession) load(ctx context.Context) error {
	period := s.Period()
	data, err := s.backend.FetchDashboard(ctx, period)
	if err != nil {
		return err
	}

	pages, err := data.PageRecords()
	if err != nil {
		s.log.Warnw("page flow section unusable", "error", err)
	}
	if !data.PageFlow.Success {
		s.log.Warnw("page flow failed", "error", data.PageFlow.Error)
	}
	events, err := data.EventCounts()
	if err != nil {
		s.log.Warnw("events section unusable", "error", err)
	}

	report := journey.Aggregate(s.rules, pages, events)
	s.mu.Lock()
	s.report = report
	s.mu.Unlock()

	s.renderer.RenderDashboard(period, data, report)
	return nil
}
