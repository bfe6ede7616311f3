package registry

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances instantly on Sleep.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.Advance(d)
	return nil
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func assertWindowBudget(t *testing.T, grants []time.Time, n int, window time.Duration) {
	t.Helper()
	for i := n; i < len(grants); i++ {
		assert.GreaterOrEqual(t, grants[i].Sub(grants[i-n]), window,
			"grants %d and %d fall in one window", i-n, i)
	}
}

func TestLimiter_RollingWindowBudget(t *testing.T) {
	clock := newFakeClock()
	cfg := LimiterConfig{CallsPerWindow: 5, Window: time.Minute}
	l := NewLimiter(cfg, clock)

	var grants []time.Time
	for i := 0; i < 40; i++ {
		require.NoError(t, l.Acquire(context.Background()))
		grants = append(grants, clock.Now())
	}
	assertWindowBudget(t, grants, cfg.CallsPerWindow, cfg.Window)
	// First window's calls go out back to back.
	assert.Equal(t, grants[0], grants[4])
	assert.Equal(t, time.Minute, grants[5].Sub(grants[0]))
}

func TestLimiter_RandomGapsNeverExceedBudget(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for trial := 0; trial < 20; trial++ {
		clock := newFakeClock()
		cfg := LimiterConfig{
			CallsPerWindow: 1 + rng.IntN(8),
			Window:         time.Duration(1+rng.IntN(60)) * time.Second,
			MinDelay:       time.Duration(rng.IntN(500)) * time.Millisecond,
		}
		l := NewLimiter(cfg, clock)

		var grants []time.Time
		for i := 0; i < 60; i++ {
			clock.Advance(time.Duration(rng.IntN(3000)) * time.Millisecond)
			require.NoError(t, l.Acquire(context.Background()))
			grants = append(grants, clock.Now())
		}
		assertWindowBudget(t, grants, cfg.CallsPerWindow, cfg.Window)
		for i := 1; i < len(grants); i++ {
			assert.GreaterOrEqual(t, grants[i].Sub(grants[i-1]), cfg.MinDelay)
		}
	}
}

func TestLimiter_MinDelay(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(LimiterConfig{CallsPerWindow: 100, Window: time.Minute, MinDelay: 700 * time.Millisecond}, clock)

	start := clock.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	assert.Equal(t, 1400*time.Millisecond, clock.Now().Sub(start))
}

func TestLimiter_Reset(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(LimiterConfig{CallsPerWindow: 2, Window: time.Minute}, clock)

	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Acquire(context.Background()))
	assert.Equal(t, 2, l.InWindow())

	l.Reset()
	assert.Equal(t, 0, l.InWindow())

	before := clock.Now()
	require.NoError(t, l.Acquire(context.Background()))
	assert.Equal(t, before, clock.Now())
}

func TestLimiter_CancelledWhileWaiting(t *testing.T) {
	l := NewLimiter(LimiterConfig{CallsPerWindow: 1, Window: time.Hour}, RealClock{})
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
