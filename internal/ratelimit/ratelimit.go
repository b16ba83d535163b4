// Package ratelimit admits or rejects calls per (scope, caller) using fixed
// time windows. The in-memory backend serves a single process; the Redis
// backend shares counters across instances behind the same Limiter contract.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter admits one unit of quota per call.
type Limiter interface {
	Admit(ctx context.Context, scope, callerID string) (Decision, error)
}

type Decision struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type Config struct {
	Limit  int
	Window time.Duration
	// SweepInterval controls how often expired windows are dropped once
	// Start is called. Defaults to Window.
	SweepInterval time.Duration
}

func key(scope, callerID string) string {
	return scope + ":" + callerID
}

// RetryAfter rounds the time left in the window up to whole seconds, never
// less than one.
func RetryAfter(resetAt, now time.Time) time.Duration {
	left := resetAt.Sub(now)
	secs := (left + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}

// InMemoryLimiter keeps one window per key under a single mutex, so the
// count for a key can never exceed the limit. The map holds at most one
// entry per distinct key seen in the current window, plus stale keys not
// yet swept.
type InMemoryLimiter struct {
	limit         int
	window        time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	mu      sync.Mutex
	windows map[string]*window

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
}

type window struct {
	count   int
	resetAt time.Time
}

func NewInMemoryLimiter(cfg Config) *InMemoryLimiter {
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = cfg.Window
	}
	return &InMemoryLimiter{
		limit:         cfg.Limit,
		window:        cfg.Window,
		sweepInterval: sweep,
		now:           time.Now,
		windows:       make(map[string]*window),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func (l *InMemoryLimiter) Admit(_ context.Context, scope, callerID string) (Decision, error) {
	k := key(scope, callerID)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[k]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.window)}
		l.windows[k] = w
	}

	if w.count >= l.limit {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    w.resetAt,
			RetryAfter: RetryAfter(w.resetAt, now),
		}, nil
	}

	w.count++
	return Decision{
		Allowed:   true,
		Remaining: l.limit - w.count,
		ResetAt:   w.resetAt,
	}, nil
}

// Len reports how many keys are currently tracked.
func (l *InMemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Sweep removes expired windows and returns how many were dropped.
func (l *InMemoryLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
			removed++
		}
	}
	return removed
}

// Start runs the periodic sweep until ctx is done or Stop is called.
// Sweeping is memory hygiene only; Admit already expires windows lazily.
func (l *InMemoryLimiter) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		l.started.Store(true)
		go l.sweepLoop(ctx)
	})
}

func (l *InMemoryLimiter) sweepLoop(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Stop halts a sweeper started with Start and waits for it to exit.
func (l *InMemoryLimiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
		if l.started.Load() {
			<-l.done
		}
	})
}
