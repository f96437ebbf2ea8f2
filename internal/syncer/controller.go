// Package syncer keeps dashboard data fresh on a fixed cadence, watches the
// backend deployment version and pauses itself around blocking UI events.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"dashsync/internal/backend"
	"dashsync/internal/logging"
)

// Cadence is the refresh interval. It is not configurable at runtime.
const Cadence = 60 * time.Second

const tickEvery = time.Second

var ErrNotStarted = errors.New("sync controller not started")

type State int

const (
	Idle State = iota
	Running
	Suspended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SyncState is the countdown as shown to the user.
type SyncState struct {
	State            State
	CadenceSeconds   int
	RemainingSeconds int
	BackendVersion   string
}

func (s SyncState) Running() bool { return s.State == Running }

// Progress is the elapsed share of the cadence in percent.
func (s SyncState) Progress() float64 {
	if s.CadenceSeconds <= 0 {
		return 0
	}
	return float64(s.CadenceSeconds-s.RemainingSeconds) / float64(s.CadenceSeconds) * 100
}

func (s SyncState) Label() string {
	if s.RemainingSeconds <= 0 {
		return "Syncing..."
	}
	return fmt.Sprintf("Next sync in %ds", s.RemainingSeconds)
}

// Loader performs one data refresh.
type Loader interface {
	Load(ctx context.Context) error
}

type LoaderFunc func(ctx context.Context) error

func (f LoaderFunc) Load(ctx context.Context) error { return f(ctx) }

type VersionChecker interface {
	DeploymentVersion(ctx context.Context) (string, error)
}

// Hooks receive controller events. They run outside the controller lock and
// may call back into it. Nil hooks are skipped.
type Hooks struct {
	OnCountdown       func(SyncState)
	OnRetrying        func(err error)
	OnFailed          func(err error)
	OnSessionInvalid  func(err error)
	OnUpdateAvailable func(previous, current string)
}

type Options struct {
	Scheduler  Scheduler
	Loader     Loader
	Versions   VersionChecker
	Classifier backend.Classifier
	// RetryDelay is the wait before the single retry of a failed refresh.
	RetryDelay time.Duration
	// Timeout bounds each backend call.
	Timeout time.Duration
	Hooks   Hooks
	Logger  *zap.SugaredLogger
}

type Controller struct {
	opts    Options
	cadence int
	log     *zap.SugaredLogger

	mu        sync.Mutex
	state     State
	gen       uint64
	remaining int
	version   string
	stopTick  func()
	stopRetry func()
	ctx       context.Context
	cancel    context.CancelFunc

	wg sync.WaitGroup
}

func New(opts Options) *Controller {
	if opts.Scheduler == nil {
		opts.Scheduler = RealScheduler{}
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	cadence := int(Cadence / time.Second)
	return &Controller{
		opts:      opts,
		cadence:   cadence,
		remaining: cadence,
		log:       logging.OrNop(opts.Logger).With("component", "syncer"),
		stopTick:  func() {},
		stopRetry: func() {},
	}
}

// Start moves Idle to Running, issues the initial load and records the
// initial deployment version.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.state = Running
	c.remaining = c.cadence
	c.version = ""
	c.armTickLocked(gen)
	c.spawnLocked(func() { c.refresh(gen, 0) })
	c.spawnLocked(func() { c.checkVersion(gen) })
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Infow("sync started", "cadence", Cadence)
	c.publish(snap)
}

// Suspend stops the countdown. In-flight refreshes still complete.
func (c *Controller) Suspend() {
	c.mu.Lock()
	if c.state != Running {
		c.mu.Unlock()
		return
	}
	c.state = Suspended
	c.stopTick()
	c.stopTick = func() {}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Infow("sync suspended", "remaining", snap.RemainingSeconds)
	c.publish(snap)
}

// Resume re-arms the countdown from a full cadence.
func (c *Controller) Resume() {
	c.mu.Lock()
	if c.state != Suspended {
		c.mu.Unlock()
		return
	}
	c.state = Running
	c.remaining = c.cadence
	c.armTickLocked(c.gen)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Infow("sync resumed")
	c.publish(snap)
}

// Reload refreshes immediately, e.g. after a period change.
func (c *Controller) Reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		return ErrNotStarted
	}
	gen := c.gen
	c.spawnLocked(func() { c.refresh(gen, 0) })
	return nil
}

// Stop returns to Idle and waits for in-flight work.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return
	}
	c.state = Idle
	c.gen++
	c.stopTick()
	c.stopRetry()
	c.stopTick, c.stopRetry = func() {}, func() {}
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	c.log.Infow("sync stopped")
}

// Wait blocks until in-flight refreshes and version checks finish.
func (c *Controller) Wait() { c.wg.Wait() }

func (c *Controller) Snapshot() SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() SyncState {
	return SyncState{
		State:            c.state,
		CadenceSeconds:   c.cadence,
		RemainingSeconds: c.remaining,
		BackendVersion:   c.version,
	}
}

func (c *Controller) armTickLocked(gen uint64) {
	c.stopTick()
	c.stopTick = c.opts.Scheduler.Every(tickEvery, func() { c.tick(gen) })
}

// spawnLocked runs f on its own goroutine. The caller holds c.mu and has
// checked the controller is not Idle.
func (c *Controller) spawnLocked(f func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		f()
	}()
}

func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != Running {
		c.mu.Unlock()
		return
	}
	if c.remaining > 0 {
		c.remaining--
	}
	if c.remaining == 0 {
		c.remaining = c.cadence
		c.spawnLocked(func() { c.refresh(gen, 0) })
		c.spawnLocked(func() { c.checkVersion(gen) })
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snap)
}

func (c *Controller) refresh(gen uint64, attempt int) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	base := c.ctx
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, c.opts.Timeout)
	err := c.opts.Loader.Load(ctx)
	cancel()

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	if err == nil {
		c.stopRetry()
		c.stopRetry = func() {}
		c.remaining = c.cadence
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.publish(snap)
		return
	}

	err = c.opts.Classifier.Classify(err)
	switch {
	case errors.Is(err, backend.ErrSessionInvalid):
		c.mu.Unlock()
		c.log.Warnw("session rejected by backend", "error", err)
		call(c.opts.Hooks.OnSessionInvalid, err)
	case attempt == 0:
		c.stopRetry()
		c.stopRetry = c.opts.Scheduler.After(c.opts.RetryDelay, func() { c.retry(gen) })
		c.mu.Unlock()
		c.log.Warnw("refresh failed, retrying", "delay", c.opts.RetryDelay, "error", err)
		call(c.opts.Hooks.OnRetrying, err)
	default:
		c.mu.Unlock()
		c.log.Errorw("refresh retry failed", "error", err)
		call(c.opts.Hooks.OnFailed, err)
	}
}

func (c *Controller) retry(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state == Idle {
		return
	}
	c.stopRetry = func() {}
	c.spawnLocked(func() { c.refresh(gen, 1) })
}

// checkVersion records the deployment token. Two different non-empty tokens
// in a row mean a redeploy: the cadence is suspended and the update hook fires.
func (c *Controller) checkVersion(gen uint64) {
	if c.opts.Versions == nil {
		return
	}
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	base := c.ctx
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, c.opts.Timeout)
	v, err := c.opts.Versions.DeploymentVersion(ctx)
	cancel()
	if err != nil {
		c.log.Debugw("version check failed", "error", err)
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	previous := c.version
	c.version = v
	changed := previous != "" && v != "" && v != previous
	if changed && c.state == Running {
		c.state = Suspended
		c.stopTick()
		c.stopTick = func() {}
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if changed {
		c.log.Infow("backend redeployed", "previous", previous, "current", v)
		if f := c.opts.Hooks.OnUpdateAvailable; f != nil {
			f(previous, v)
		}
		c.publish(snap)
	}
}

func (c *Controller) publish(s SyncState) {
	if f := c.opts.Hooks.OnCountdown; f != nil {
		f(s)
	}
}

func call(f func(error), err error) {
	if f != nil {
		f(err)
	}
}
