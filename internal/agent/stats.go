package agent

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

type statsCollector struct {
	hits          atomic.Uint64
	misses        atomic.Uint64
	bypass        atomic.Uint64
	revalidations atomic.Uint64
	storeErrors   atomic.Uint64

	totalRespBytes atomic.Uint64
	minRespBytes   atomic.Uint64
	maxRespBytes   atomic.Uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{}
	s.minRespBytes.Store(math.MaxUint64)
	return s
}

func (s *statsCollector) hit(respBytes int) {
	s.hits.Add(1)
	s.observe(respBytes)
}

func (s *statsCollector) miss(respBytes int) {
	s.misses.Add(1)
	s.observe(respBytes)
}

func (s *statsCollector) observe(respBytes int) {
	if respBytes < 0 {
		respBytes = 0
	}
	n := uint64(respBytes)
	s.totalRespBytes.Add(n)

	for {
		cur := s.minRespBytes.Load()
		if n >= cur || s.minRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.maxRespBytes.Load()
		if n <= cur || s.maxRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
}

// Stats is a point-in-time view of the agent counters.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Bypassed      uint64
	Revalidations uint64
	StoreErrors   uint64

	MinRespBytes uint64
	MaxRespBytes uint64
	AvgRespBytes uint64
}

func (s *statsCollector) snapshot() Stats {
	out := Stats{
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		Bypassed:      s.bypass.Load(),
		Revalidations: s.revalidations.Load(),
		StoreErrors:   s.storeErrors.Load(),
		MaxRespBytes:  s.maxRespBytes.Load(),
	}
	if served := out.Hits + out.Misses; served > 0 {
		out.MinRespBytes = s.minRespBytes.Load()
		out.AvgRespBytes = s.totalRespBytes.Load() / served
	}
	return out
}

func (a *Agent) Stats() Stats { return a.stats.snapshot() }

// RunStatsLoop logs cache statistics every interval until the agent closes.
func (a *Agent) RunStatsLoop(every time.Duration) {
	if every <= 0 {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-a.stopCh:
				return
			case <-t.C:
				a.logStats()
			}
		}
	}()
}

func (a *Agent) logStats() {
	ss := a.stats.snapshot()
	kv := []any{
		"hits", ss.Hits,
		"misses", ss.Misses,
		"bypassed", ss.Bypassed,
		"revalidations", ss.Revalidations,
		"storeErrors", ss.StoreErrors,
		"respMin", humanize.IBytes(ss.MinRespBytes),
		"respAvg", humanize.IBytes(ss.AvgRespBytes),
		"respMax", humanize.IBytes(ss.MaxRespBytes),
	}
	if store, _ := a.current(); store != nil {
		kv = append(kv, "store", store.Name(), "entries", store.Len(), "size", humanize.IBytes(uint64(store.Size())))
	}
	if rss, ok := processRSSBytes(); ok {
		kv = append(kv, "rss", humanize.IBytes(rss))
	}
	a.log.Infow("cache stats", kv...)
}
