package syncer

import (
	"sort"
	"sync"
	"time"
)

// Scheduler arms timers for the controller. Stop functions are idempotent.
type Scheduler interface {
	Every(d time.Duration, f func()) (stop func())
	After(d time.Duration, f func()) (stop func())
}

// RealScheduler runs timers on the wall clock.
type RealScheduler struct{}

func (RealScheduler) Every(d time.Duration, f func()) func() {
	t := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-t.C:
				f()
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			t.Stop()
			close(done)
		})
	}
}

func (RealScheduler) After(d time.Duration, f func()) func() {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}

// ManualScheduler is a virtual clock. Timers fire only inside Advance, on the
// caller's goroutine.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers map[int]*manualTimer
}

type manualTimer struct {
	id    int
	at    time.Duration
	every time.Duration
	f     func()
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{timers: make(map[int]*manualTimer)}
}

func (m *ManualScheduler) Every(d time.Duration, f func()) func() {
	return m.add(d, d, f)
}

func (m *ManualScheduler) After(d time.Duration, f func()) func() {
	return m.add(d, 0, f)
}

func (m *ManualScheduler) add(d, every time.Duration, f func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := m.seq
	m.timers[id] = &manualTimer{id: id, at: m.now + d, every: every, f: f}
	return func() {
		m.mu.Lock()
		delete(m.timers, id)
		m.mu.Unlock()
	}
}

// Advance moves the clock forward by d, firing due timers in time order.
func (m *ManualScheduler) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		t := m.nextDueLocked(target)
		if t == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = t.at
		if t.every > 0 {
			t.at += t.every
		} else {
			delete(m.timers, t.id)
		}
		f := t.f
		m.mu.Unlock()

		f()
	}
}

func (m *ManualScheduler) nextDueLocked(target time.Duration) *manualTimer {
	due := make([]*manualTimer, 0, len(m.timers))
	for _, t := range m.timers {
		if t.at <= target {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at != due[j].at {
			return due[i].at < due[j].at
		}
		return due[i].id < due[j].id
	})
	return due[0]
}

// Pending counts armed timers.
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}
