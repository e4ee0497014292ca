// Package resilience provides the bounded-retry circuit breaker shared by
// link reconnection and remote-call retries.
//
// The central type is [Breaker]: a two-state breaker that permits a fixed
// number of consecutive failures with exponential backoff between attempts,
// then opens terminally. An open breaker makes no further automatic attempts
// until [Breaker.Reset] is called.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned once the configured attempt budget is exhausted.
// Callers switch to their fallback path on this error instead of terminating.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed is the normal operating state — attempts are permitted.
	StateClosed State = iota

	// StateOpen indicates the attempt budget is exhausted. No automatic
	// attempts occur until an explicit [Breaker.Reset].
	StateOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BackoffFunc maps a zero-based attempt index to the delay before the next
// attempt.
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff returns a [BackoffFunc] producing base·2^attempt,
// capped at max. A non-positive max disables the cap.
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		d := base
		for range attempt {
			d *= 2
			if max > 0 && d >= max {
				return max
			}
		}
		return d
	}
}

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxAttempts is the number of consecutive failures tolerated before the
	// breaker opens. Default: 3.
	MaxAttempts int

	// Backoff computes the delay before each retry.
	// Default: ExponentialBackoff(1s, 0).
	Backoff BackoffFunc
}

// Breaker is a bounded-retry circuit breaker. Failure accounting can be
// driven two ways: [Breaker.Execute] runs an operation in a retry loop with
// its own backoff sleeps, while [Breaker.Failure]/[Breaker.Success] let a
// caller that owns its own retry timer (the link state machine) consume the
// same budget step by step.
type Breaker struct {
	name        string
	maxAttempts int
	backoff     BackoffFunc

	mu       sync.Mutex
	state    State
	attempt  int
	lastErr  error
	deadline time.Time
}

// NewBreaker creates a [Breaker] with the supplied configuration.
// Zero-value config fields are replaced with sensible defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff == nil {
		cfg.Backoff = ExponentialBackoff(time.Second, 0)
	}
	return &Breaker{
		name:        cfg.Name,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		state:       StateClosed,
	}
}

// Failure records one failed attempt. If budget remains it returns the
// backoff delay before the next attempt and retry=true; otherwise the breaker
// opens and retry=false. The attempt counter never exceeds MaxAttempts.
func (b *Breaker) Failure(err error) (delay time.Duration, retry bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		return 0, false
	}

	b.lastErr = err
	delay = b.backoff(b.attempt)
	b.attempt++

	if b.attempt >= b.maxAttempts {
		b.state = StateOpen
		slog.Warn("circuit breaker opened",
			"name", b.name,
			"consecutive_failures", b.attempt,
			"err", err)
		return 0, false
	}

	b.deadline = time.Now().Add(delay)
	slog.Debug("circuit breaker backing off",
		"name", b.name,
		"attempt", b.attempt,
		"delay", delay)
	return delay, true
}

// Success resets the failure accounting after a successful attempt.
// It has no effect on an open breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		return
	}
	b.attempt = 0
	b.lastErr = nil
	b.deadline = time.Time{}
}

// Execute invokes fn, retrying on failure with the configured backoff until
// it succeeds or the attempt budget is exhausted. On exhaustion the breaker
// opens and the returned error matches [ErrBreakerOpen] and wraps the last
// failure. An already-open breaker rejects immediately without calling fn.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	for {
		b.mu.Lock()
		open := b.state == StateOpen
		b.mu.Unlock()
		if open {
			return b.openErr()
		}

		err := fn()
		if err == nil {
			b.Success()
			return nil
		}

		delay, retry := b.Failure(err)
		if !retry {
			return b.openErr()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// openErr returns ErrBreakerOpen wrapping the last recorded failure, if any.
func (b *Breaker) openErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastErr != nil {
		return fmt.Errorf("%w: %w", ErrBreakerOpen, b.lastErr)
	}
	return ErrBreakerOpen
}

// State returns the current [State] of the breaker.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Attempt returns the number of consecutive failures recorded so far.
func (b *Breaker) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

// Reset forces the breaker back to [StateClosed], clearing all failure
// accounting. This is the only way to resume attempts after the breaker
// opens.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.attempt = 0
	b.lastErr = nil
	b.deadline = time.Time{}
	slog.Info("circuit breaker reset", "name", b.name)
}

// ExecuteWithResult runs fn under the breaker's retry policy and returns its
// value. See [Breaker.Execute] for the retry and open semantics.
func ExecuteWithResult[T any](ctx context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
