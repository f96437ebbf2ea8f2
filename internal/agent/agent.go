// Package agent implements the client-side cache agent: an http.RoundTripper
// that intercepts retrieval requests and applies a per-class caching policy on
// top of a versioned, named cache store.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dashsync/internal/config"
	"dashsync/internal/logging"
)

var ErrNotInstalled = errors.New("agent not installed")

type Agent struct {
	cfg        config.Agent
	shell      *url.URL
	classifier Classifier

	storage Storage
	base    http.RoundTripper

	log      *zap.SugaredLogger
	storeLog *logging.RateLimited

	mu     sync.RWMutex
	store  Store
	active bool

	bgSem  chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	stats *statsCollector
}

// New builds an agent over storage. base performs the real network calls and
// defaults to http.DefaultTransport.
func New(cfg config.Agent, storage Storage, base http.RoundTripper, logger *zap.SugaredLogger) (*Agent, error) {
	shell, err := url.Parse(cfg.ShellOrigin)
	if err != nil || shell.Scheme == "" || shell.Host == "" {
		return nil, fmt.Errorf("agent: invalid shell origin %q", cfg.ShellOrigin)
	}
	if cfg.DynamicMatchers == nil && cfg.Dynamic != "" {
		if cfg.DynamicMatchers, err = config.ParseMatch(cfg.Dynamic); err != nil {
			return nil, fmt.Errorf("agent: dynamic: %w", err)
		}
	}
	if cfg.Revalidate.Concurrency <= 0 {
		cfg.Revalidate.Concurrency = 32
	}
	if cfg.RevalidateTimeoutDur <= 0 {
		cfg.RevalidateTimeoutDur = 30 * time.Second
	}
	if base == nil {
		base = http.DefaultTransport
	}
	logger = logging.OrNop(logger).With("component", "agent")

	return &Agent{
		cfg:        cfg,
		shell:      shell,
		classifier: NewClassifier(shell, cfg.DynamicMatchers, cfg.TrustedHosts),
		storage:    storage,
		base:       base,
		log:        logger,
		storeLog:   logging.NewRateLimited(logger, time.Minute),
		bgSem:      make(chan struct{}, cfg.Revalidate.Concurrency),
		stopCh:     make(chan struct{}),
		stats:      newStatsCollector(),
	}, nil
}

// Start installs and activates the agent.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.Install(ctx); err != nil {
		return err
	}
	return a.Activate(ctx)
}

// Install pre-populates the current store with the shell manifest. Either
// every manifest entry is fetched with a success status and stored, or the
// install fails and the new store is discarded.
func (a *Agent) Install(ctx context.Context) error {
	name := a.cfg.StoreName()
	existing, err := a.storage.Names()
	if err != nil {
		return fmt.Errorf("install: list stores: %w", err)
	}

	keys := make([]string, len(a.cfg.Precache))
	entries := make([]Entry, len(a.cfg.Precache))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range a.cfg.Precache {
		i, p := i, p
		g.Go(func() error {
			ref, err := url.Parse(p)
			if err != nil {
				return fmt.Errorf("precache %s: %w", p, err)
			}
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, a.shell.ResolveReference(ref).String(), nil)
			if err != nil {
				return fmt.Errorf("precache %s: %w", p, err)
			}
			ent, err := a.fetch(req)
			if err != nil {
				return fmt.Errorf("precache %s: %w", p, err)
			}
			if !ent.OK() {
				return fmt.Errorf("precache %s: status %d", p, ent.Status)
			}
			keys[i], entries[i] = Identity(req), ent
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("install %s: %w", name, err)
	}

	store, err := a.storage.Open(name)
	if err != nil {
		return fmt.Errorf("install %s: open store: %w", name, err)
	}
	for i := range entries {
		if err := store.Put(keys[i], entries[i]); err != nil {
			if !slices.Contains(existing, name) {
				_ = a.storage.Drop(name)
			}
			return fmt.Errorf("install %s: store %s: %w", name, keys[i], err)
		}
	}

	a.mu.Lock()
	a.store = store
	a.mu.Unlock()

	a.log.Infow("installed", "store", name, "precached", len(entries))
	return nil
}

// Activate deletes every store that does not belong to the current version,
// then starts intercepting requests.
func (a *Agent) Activate(ctx context.Context) error {
	a.mu.RLock()
	installed := a.store != nil
	a.mu.RUnlock()
	if !installed {
		return ErrNotInstalled
	}

	names, err := a.storage.Names()
	if err != nil {
		return fmt.Errorf("activate: list stores: %w", err)
	}
	current := a.cfg.StoreName()
	for _, n := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if n == current {
			continue
		}
		if err := a.storage.Drop(n); err != nil {
			return fmt.Errorf("activate: drop %s: %w", n, err)
		}
		a.log.Infow("dropped superseded store", "store", n)
	}

	a.mu.Lock()
	a.active = true
	a.mu.Unlock()
	a.log.Infow("activated", "store", current)
	return nil
}

// Close stops background work and waits for in-flight revalidations.
func (a *Agent) Close() {
	close(a.stopCh)
	a.wg.Wait()
}

// Wait blocks until in-flight background revalidations finish.
func (a *Agent) Wait() { a.wg.Wait() }

func (a *Agent) Classify(u *url.URL) Class { return a.classifier.Classify(u) }

func (a *Agent) current() (Store, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store, a.active
}

func (a *Agent) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, _, err := a.intercept(req)
	return resp, err
}

func (a *Agent) intercept(req *http.Request) (*http.Response, Outcome, error) {
	store, active := a.current()
	if !active || req.Method != http.MethodGet {
		return a.passThrough(req)
	}

	switch a.classifier.Classify(req.URL) {
	case OwnOriginAsset:
		return a.staleWhileRevalidate(store, req)
	case ThirdPartyAsset:
		return a.cacheFirst(store, req)
	default:
		return a.passThrough(req)
	}
}

func (a *Agent) passThrough(req *http.Request) (*http.Response, Outcome, error) {
	a.stats.bypass.Add(1)
	resp, err := a.base.RoundTrip(req)
	return resp, OutcomeBypass, err
}

func (a *Agent) cacheFirst(store Store, req *http.Request) (*http.Response, Outcome, error) {
	key := Identity(req)
	if ent, ok := store.Get(key); ok {
		a.stats.hit(len(ent.Body))
		return ent.Response(req), OutcomeHit, nil
	}
	return a.fetchAndStore(store, key, req)
}

func (a *Agent) staleWhileRevalidate(store Store, req *http.Request) (*http.Response, Outcome, error) {
	key := Identity(req)
	if ent, ok := store.Get(key); ok {
		a.stats.hit(len(ent.Body))
		a.revalidateAsync(store, key, req)
		return ent.Response(req), OutcomeHit, nil
	}
	return a.fetchAndStore(store, key, req)
}

func (a *Agent) fetchAndStore(store Store, key string, req *http.Request) (*http.Response, Outcome, error) {
	ent, err := a.fetch(req)
	if err != nil {
		return nil, OutcomeMiss, err
	}
	a.stats.miss(len(ent.Body))
	if ent.OK() {
		a.put(store, key, ent)
	}
	return ent.Response(req), OutcomeMiss, nil
}

// put never fails the caller: a lost store update is only logged.
func (a *Agent) put(store Store, key string, ent Entry) {
	if err := store.Put(key, ent); err != nil {
		a.stats.storeErrors.Add(1)
		a.storeLog.Warnw("cache store write failed", "store", store.Name(), "key", key, "error", err)
	}
}

func (a *Agent) fetch(req *http.Request) (Entry, error) {
	resp, err := a.base.RoundTrip(req)
	if err != nil {
		return Entry{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Entry{}, err
	}
	return newEntry(resp.StatusCode, resp.Header, body), nil
}

// revalidateAsync refreshes key in the background. When the background pool is
// full the revalidation is skipped; the next hit will try again.
func (a *Agent) revalidateAsync(store Store, key string, req *http.Request) {
	select {
	case <-a.stopCh:
		return
	default:
	}
	select {
	case a.bgSem <- struct{}{}:
	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RevalidateTimeoutDur)
	bg := req.Clone(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() { <-a.bgSem }()
		defer cancel()

		a.revalidateOnce(store, key, bg)
	}()
}

func (a *Agent) revalidateOnce(store Store, key string, req *http.Request) {
	a.stats.revalidations.Add(1)
	ent, err := a.fetch(req)
	if err != nil {
		a.log.Debugw("revalidate failed", "key", key, "error", err)
		return
	}
	if !ent.OK() {
		a.log.Debugw("revalidate kept stale entry", "key", key, "status", ent.Status)
		return
	}
	if cur, ok := store.Get(key); ok && cur.Hash32 == ent.Hash32 && cur.Status == ent.Status {
		return
	}
	a.put(store, key, ent)
}
