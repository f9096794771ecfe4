package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default configuration values applied by New for zero fields.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultTimeout          = 30 * time.Second
	DefaultWindowSize       = 60 * time.Second
)

// Operation is the guarded call.
type Operation func(ctx context.Context) error

// Fallback runs instead of the operation while the breaker is open. It
// receives the *OpenError that would otherwise have been returned.
type Fallback func(ctx context.Context, openErr error) error

// Config holds breaker settings. It is copied by New and never mutated.
type Config struct {
	Name             string        `mapstructure:"name"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
	WindowSize       time.Duration `mapstructure:"window_size"`

	// Clock defaults to the system clock.
	Clock Clock `mapstructure:"-"`
	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State) `mapstructure:"-"`
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.Clock == nil {
		c.Clock = SystemClock()
	}
	return c
}

// circuit is the mutable state owned by one Breaker. All changes of state go
// through toOpen, toHalfOpen and toClosed.
type circuit struct {
	state     State
	failures  []time.Time // oldest first
	successes int         // only meaningful in StateHalfOpen
	openedAt  time.Time
}

type transition struct {
	from, to State
}

func (c *circuit) toOpen(now time.Time) transition {
	t := transition{from: c.state, to: StateOpen}
	c.state = StateOpen
	c.openedAt = now
	c.successes = 0
	return t
}

func (c *circuit) toHalfOpen() transition {
	t := transition{from: c.state, to: StateHalfOpen}
	c.state = StateHalfOpen
	c.successes = 0
	return t
}

func (c *circuit) toClosed() transition {
	t := transition{from: c.state, to: StateClosed}
	c.state = StateClosed
	c.failures = c.failures[:0]
	c.successes = 0
	return t
}

// prune drops failures older than now-window.
func (c *circuit) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(c.failures) && c.failures[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		c.failures = append(c.failures[:0], c.failures[i:]...)
	}
}

func (c *circuit) countSince(cutoff time.Time) int {
	n := 0
	for _, f := range c.failures {
		if !f.Before(cutoff) {
			n++
		}
	}
	return n
}

// Breaker gates calls to an unreliable dependency. It is safe for concurrent
// use, but admission is decided before a call and accounting happens after
// it, so calls already in flight when the breaker opens still run to
// completion.
type Breaker struct {
	cfg    Config
	logger *slog.Logger

	mu sync.Mutex
	c  circuit
}

// New creates a closed breaker.
func New(cfg Config, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Breaker{
		cfg:    cfg,
		logger: logger.With("component", "breaker", "breaker", cfg.Name),
		c:      circuit{state: StateClosed},
	}
}

// Name returns the configured breaker name.
func (b *Breaker) Name() string { return b.cfg.Name }

// Config returns the effective configuration.
func (b *Breaker) Config() Config { return b.cfg }

// Execute runs op if the breaker admits it and updates the breaker from the
// outcome. The operation's own error is returned unchanged. When the breaker
// is open and the timeout has not elapsed, op is not invoked: fallback runs
// if non-nil, otherwise an *OpenError is returned.
func (b *Breaker) Execute(ctx context.Context, op Operation, fallback Fallback) error {
	if err := b.admit(); err != nil {
		if fallback != nil {
			b.logger.Debug("breaker open, serving fallback", "retry_after", err.RetryAfter)
			return fallback(ctx, err)
		}
		return err
	}

	if err := op(ctx); err != nil {
		b.onFailure(err)
		return err
	}
	b.onSuccess()
	return nil
}

// Call is Execute for operations that produce a value.
func Call[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error), fallback func(context.Context, error) (T, error)) (T, error) {
	var out T
	var fb Fallback
	if fallback != nil {
		fb = func(ctx context.Context, openErr error) error {
			v, err := fallback(ctx, openErr)
			out = v
			return err
		}
	}
	err := b.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		out = v
		return err
	}, fb)
	return out, err
}

func (b *Breaker) admit() *OpenError {
	b.mu.Lock()
	if b.c.state != StateOpen {
		b.mu.Unlock()
		return nil
	}
	now := b.cfg.Clock.Now()
	elapsed := now.Sub(b.c.openedAt)
	if elapsed < b.cfg.Timeout {
		b.mu.Unlock()
		return &OpenError{Name: b.cfg.Name, RetryAfter: b.cfg.Timeout - elapsed}
	}
	t := b.c.toHalfOpen()
	b.mu.Unlock()

	b.notify(t)
	return nil
}

func (b *Breaker) onFailure(cause error) {
	b.mu.Lock()
	now := b.cfg.Clock.Now()
	var t *transition
	switch b.c.state {
	case StateClosed:
		b.c.failures = append(b.c.failures, now)
		b.c.prune(now, b.cfg.WindowSize)
		if len(b.c.failures) >= b.cfg.FailureThreshold {
			tr := b.c.toOpen(now)
			t = &tr
		}
	case StateHalfOpen:
		tr := b.c.toOpen(now)
		t = &tr
	case StateOpen:
		// A call admitted before the breaker opened finished late.
		b.c.failures = append(b.c.failures, now)
		b.c.prune(now, b.cfg.WindowSize)
	}
	failures := len(b.c.failures)
	b.mu.Unlock()

	b.logger.Debug("call failed", "failures", failures, "error", cause)
	if t != nil {
		b.notify(*t)
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	var t *transition
	switch b.c.state {
	case StateClosed:
		b.c.failures = b.c.failures[:0]
	case StateHalfOpen:
		b.c.successes++
		if b.c.successes >= b.cfg.SuccessThreshold {
			tr := b.c.toClosed()
			t = &tr
		}
	case StateOpen:
	}
	b.mu.Unlock()

	if t != nil {
		b.notify(*t)
	}
}

func (b *Breaker) notify(t transition) {
	switch t.to {
	case StateOpen:
		b.logger.Warn("circuit breaker opened", "from", t.from.String(), "timeout", b.cfg.Timeout)
	default:
		b.logger.Info("circuit breaker state changed", "from", t.from.String(), "to", t.to.String())
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, t.from, t.to)
	}
}

// State returns the current state without side effects. An open breaker
// whose timeout has elapsed still reports StateOpen until the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.c.state
}

// FailureCount returns the number of recorded failures inside the window.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.c.countSince(b.cfg.Clock.Now().Add(-b.cfg.WindowSize))
}

// Snapshot returns a serializable view of the breaker.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{
		Name:         b.cfg.Name,
		State:        b.c.state.String(),
		FailureCount: b.c.countSince(b.cfg.Clock.Now().Add(-b.cfg.WindowSize)),
		SuccessCount: b.c.successes,
	}
	if !b.c.openedAt.IsZero() {
		s.OpenedAt = b.c.openedAt.UTC().Format(time.RFC3339)
	}
	return s
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	prev := b.c.state
	t := b.c.toClosed()
	b.c.openedAt = time.Time{}
	b.mu.Unlock()

	b.logger.Info("circuit breaker reset", "previous_state", prev.String())
	if t.from != t.to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, t.from, t.to)
	}
}
