package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrBreakerOpen is returned without calling through while the breaker is open.
var ErrBreakerOpen = eris.New("breaker open")

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	Name string
	// Failures in a row that open the breaker. Default 5.
	Failures int
	// Cooldown before one probe call is let through. Default 60s.
	Cooldown time.Duration
	// Counts decides which errors are failures. Default: all but 404s.
	Counts func(error) bool
	// OnChange observes open/closed transitions.
	OnChange func(name string, open bool)
}

// NewBreakerConfig builds a config from the configured failure count and
// cooldown seconds; zero values keep the defaults.
func NewBreakerConfig(name string, failures, cooldownSecs int) BreakerConfig {
	return BreakerConfig{
		Name:     name,
		Failures: failures,
		Cooldown: time.Duration(cooldownSecs) * time.Second,
	}
}

// Breaker stops calling a failing dependency for a cooldown after a run of
// failures. After the cooldown a single probe decides whether it closes.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	failures int
	openedAt time.Time
	open     bool
	probing  bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Failures <= 0 {
		cfg.Failures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.Counts == nil {
		cfg.Counts = func(err error) bool { return !IsNotFound(err) }
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Open reports whether calls are currently being refused.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open && (b.probing || b.now().Sub(b.openedAt) < b.cfg.Cooldown)
}

// Guard runs fn unless the breaker is open.
func Guard[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !b.admit() {
		return zero, ErrBreakerOpen
	}
	v, err := fn(ctx)
	b.record(err)
	return v, err
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if b.probing || b.now().Sub(b.openedAt) < b.cfg.Cooldown {
		return false
	}
	b.probing = true
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := err != nil && b.cfg.Counts(err)
	wasOpen := b.open
	b.probing = false

	if !failed {
		b.failures = 0
		b.open = false
	} else {
		b.failures++
		if wasOpen || b.failures >= b.cfg.Failures {
			b.open = true
			b.openedAt = b.now()
		}
	}

	if b.open != wasOpen {
		zap.L().Info("breaker state change",
			zap.String("breaker", b.cfg.Name),
			zap.Bool("open", b.open),
			zap.Int("failures", b.failures),
		)
		if b.cfg.OnChange != nil {
			b.cfg.OnChange(b.cfg.Name, b.open)
		}
	}
}
