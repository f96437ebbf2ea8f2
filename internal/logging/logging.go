// Package logging builds the zap loggers shared by every dashsync component.
package logging

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a sugared logger at the given level. Development mode switches to
// the human-readable console encoder.
func New(level string, development bool) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stdout"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}

// RateLimited forwards at most one warning per interval to the wrapped logger.
type RateLimited struct {
	log      *zap.SugaredLogger
	interval time.Duration

	mu     sync.Mutex
	lastAt time.Time
}

func NewRateLimited(l *zap.SugaredLogger, interval time.Duration) *RateLimited {
	return &RateLimited{log: OrNop(l), interval: interval}
}

func (l *RateLimited) Warnw(msg string, keysAndValues ...any) {
	l.mu.Lock()
	now := time.Now()
	if !l.lastAt.IsZero() && now.Sub(l.lastAt) < l.interval {
		l.mu.Unlock()
		return
	}
	l.lastAt = now
	l.mu.Unlock()
	l.log.Warnw(msg, keysAndValues...)
}
