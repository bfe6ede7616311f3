package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff retries a call that failed with a retryable error, doubling the
// wait from Base up to Max.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	Retries int
	// Jitter spreads each wait by up to this fraction either way.
	Jitter float64

	Retryable func(error) bool
	OnRetry   func(retry int, err error)
	Sleep     func(ctx context.Context, d time.Duration) error
}

// RateLimitBackoff retries only 429s: base, 2x base, 4x base... capped at
// 8x base, with 10% jitter.
func RateLimitBackoff(base time.Duration, retries int) Backoff {
	if base <= 0 {
		base = 30 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	return Backoff{
		Base:      base,
		Max:       8 * base,
		Retries:   retries,
		Jitter:    0.1,
		Retryable: IsRateLimited,
	}
}

// Delay is the wait before retry number n, counting from 1.
func (b Backoff) Delay(n int) time.Duration {
	d := b.Max
	if n <= 32 {
		if s := b.Base << (n - 1); s > 0 && (b.Max <= 0 || s < b.Max) {
			d = s
		}
	}
	if b.Jitter > 0 {
		d += time.Duration((rand.Float64()*2 - 1) * b.Jitter * float64(d))
	}
	return max(d, 0)
}

// Retry calls fn until it succeeds, returns a non-retryable error, runs out
// of retries or ctx ends. The last error is returned.
func Retry[T any](ctx context.Context, b Backoff, fn func(ctx context.Context) (T, error)) (T, error) {
	sleep := b.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	retryable := b.Retryable
	if retryable == nil {
		retryable = func(error) bool { return false }
	}

	for n := 1; ; n++ {
		v, err := fn(ctx)
		if err == nil || n > b.Retries || ctx.Err() != nil || !retryable(err) {
			return v, err
		}
		if b.OnRetry != nil {
			b.OnRetry(n, err)
		}
		if sleep(ctx, b.Delay(n)) != nil {
			return v, err
		}
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
