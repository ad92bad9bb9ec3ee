// Package retry provides bounded-attempt repetition of idempotent operations.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
)

// Default backoff parameters.
const (
	DefaultBaseDelay = 100 * time.Millisecond
	DefaultMaxDelay  = 30 * time.Second
)

// Op is one attempt of an idempotent operation. It inspects the result of its
// own side effect and reports success.
type Op func(ctx context.Context) bool

// Backoff computes the delay before retrying after a failed attempt.
type Backoff struct {
	base time.Duration
	max  time.Duration
}

// Option configures Stubbornly.
type Option func(*Backoff)

// WithBackoff sets the base and maximum delay. A zero base disables the delay.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(b *Backoff) {
		b.base = base
		b.max = maxDelay
	}
}

// NoBackoff retries immediately.
func NoBackoff() Option {
	return WithBackoff(0, 0)
}

// NewBackoff returns the default backoff with opts applied.
func NewBackoff(opts ...Option) Backoff {
	b := Backoff{base: DefaultBaseDelay, max: DefaultMaxDelay}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// Delay returns the wait before the given attempt (1-based, counting the
// failed attempt) using exponential growth with ±25% jitter, capped at max.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.base <= 0 {
		return 0
	}

	delay := time.Duration(math.Pow(2, float64(attempt-1))) * b.base

	jitterRange := int64(float64(delay) * 0.25)
	if jitterRange > 0 {
		delay += time.Duration(rand.Int63n(2*jitterRange) - jitterRange) //nolint:gosec // jitter only
	}

	if b.max > 0 && delay > b.max {
		delay = b.max
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Stubbornly invokes op up to attempts times and returns nil on the first
// attempt that reports success. It returns ErrRetriesExhausted after the last
// failed attempt, or the context error if ctx ends while waiting.
func Stubbornly(ctx context.Context, attempts int, op Op, opts ...Option) error {
	if attempts < 1 {
		attempts = 1
	}

	b := NewBackoff(opts...)
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if op(ctx) {
			return nil
		}
		if attempt == attempts {
			break
		}

		delay := b.Delay(attempt)
		if delay == 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts", arkerrors.ErrRetriesExhausted, attempts)
}
