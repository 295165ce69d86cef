package retry

import (
	"context"
	"math"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultConfig returns sensible retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     10 * time.Second,
		Multiplier:  2.0,
	}
}

// Do executes fn with retry logic using default config.
func Do[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	return DoWithConfig(ctx, DefaultConfig(), fn)
}

// DoWithConfig executes fn with retry logic using provided config.
// Waiting between attempts is aborted as soon as ctx is done.
func DoWithConfig[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	var err error

	b := NewBackoff(cfg.InitialWait, cfg.MaxWait, cfg.Multiplier)

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}

		// Don't wait after the last attempt
		if attempt == cfg.MaxAttempts {
			break
		}

		if werr := Sleep(ctx, b.Next()); werr != nil {
			return result, werr
		}
	}

	return result, err
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff produces bounded exponentially growing waits. The zero value is
// not usable; use NewBackoff.
type Backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	failures   int
}

// NewBackoff creates a Backoff starting at initial and capped at max.
// A multiplier below 1 is treated as 2.
func NewBackoff(initial, max time.Duration, multiplier float64) *Backoff {
	if multiplier < 1 {
		multiplier = 2
	}
	if max < initial {
		max = initial
	}
	return &Backoff{initial: initial, max: max, multiplier: multiplier}
}

// Next records a failure and returns the wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	wait := b.At(b.failures)
	b.failures++
	return wait
}

// At returns the wait after n prior failures without changing state.
func (b *Backoff) At(n int) time.Duration {
	wait := float64(b.initial) * math.Pow(b.multiplier, float64(n))
	if wait >= float64(b.max) {
		return b.max
	}
	return time.Duration(wait)
}

// Reset forgets recorded failures; the next wait is the initial one.
func (b *Backoff) Reset() {
	b.failures = 0
}

// Failures returns the number of consecutive failures recorded.
func (b *Backoff) Failures() int {
	return b.failures
}
