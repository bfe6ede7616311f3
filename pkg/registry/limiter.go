package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// LimiterConfig sets the registry call budget.
type LimiterConfig struct {
	CallsPerWindow int
	Window         time.Duration
	MinDelay       time.Duration
}

// Limiter enforces at most CallsPerWindow calls in any rolling Window and a
// minimum gap of MinDelay between consecutive calls.
type Limiter struct {
	cfg   LimiterConfig
	clock Clock

	mu    sync.Mutex
	calls []time.Time // grant times inside the current window, oldest first
	last  time.Time
}

// NewLimiter builds a limiter. A nil clock uses RealClock.
func NewLimiter(cfg LimiterConfig, clock Clock) *Limiter {
	if cfg.CallsPerWindow <= 0 {
		cfg.CallsPerWindow = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Limiter{
		cfg:   cfg,
		clock: clock,
		calls: make([]time.Time, 0, cfg.CallsPerWindow),
	}
}

// Acquire blocks until a call may be made, then records it.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait := l.tryAcquire()
		if wait <= 0 {
			return nil
		}
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return eris.Wrap(err, "registry: limiter acquire")
		}
	}
}

// tryAcquire grants a call and returns 0, or returns how long to wait.
func (l *Limiter) tryAcquire() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()

	// Drop grants that have aged out of the window.
	keep := 0
	for _, t := range l.calls {
		if now.Sub(t) < l.cfg.Window {
			l.calls[keep] = t
			keep++
		}
	}
	l.calls = l.calls[:keep]

	var wait time.Duration
	if !l.last.IsZero() {
		if d := l.cfg.MinDelay - now.Sub(l.last); d > wait {
			wait = d
		}
	}
	if len(l.calls) >= l.cfg.CallsPerWindow {
		if d := l.cfg.Window - now.Sub(l.calls[0]); d > wait {
			wait = d
		}
	}
	if wait > 0 {
		return wait
	}

	l.calls = append(l.calls, now)
	l.last = now
	return 0
}

// Reset discards the window's call history. Used after a 429, when the
// server's view of our budget no longer matches ours. The min delay still
// applies from the last grant.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = l.calls[:0]
}

// InWindow reports how many grants the current window holds.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	n := 0
	for _, t := range l.calls {
		if now.Sub(t) < l.cfg.Window {
			n++
		}
	}
	return n
}
