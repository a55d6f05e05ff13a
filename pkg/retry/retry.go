// Package retry runs an operation again after transient failures, with
// capped exponential backoff and jitter.
//
// It is used for establishing connections to backing services at startup.
// Progression mutations are never retried: a failed mutation is reported to
// the caller unchanged.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MARKERS
// ══════════════════════════════════════════════════════════════════════════════

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt. Nil stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// Permanent marks err as final; Do returns it immediately. Nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// unmark strips a top-level marker so callers see the original error.
func unmark(err error) error {
	var r *retryableError
	if errors.As(err, &r) {
		return r.err
	}
	var p *permanentError
	if errors.As(err, &p) {
		return p.err
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config controls the attempt budget and backoff curve.
type Config struct {
	// MaxAttempts counts the first attempt. Default: 3.
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// JitterFactor spreads each delay by ±factor. 0 disables jitter.
	JitterFactor float64

	// RetryIf decides which errors are retried. When nil only errors marked
	// with Retryable are.
	RetryIf func(error) bool

	// OnRetry runs before each sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns 3 attempts starting at 100ms, doubling up to 30s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Option adjusts a Config. Out-of-range values are ignored.
type Option func(*Config)

func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.InitialDelay = d
		}
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxDelay = d
		}
	}
}

func WithMultiplier(m float64) Option {
	return func(c *Config) {
		if m >= 1.0 {
			c.Multiplier = m
		}
	}
}

func WithJitter(j float64) Option {
	return func(c *Config) {
		if j >= 0 && j <= 1.0 {
			c.JitterFactor = j
		}
	}
}

func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) { c.RetryIf = fn }
}

func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *Config) { c.OnRetry = fn }
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ══════════════════════════════════════════════════════════════════════════════

// Retrier executes operations under one Config. It is safe for concurrent use.
type Retrier struct {
	config Config
}

// New builds a Retrier from DefaultConfig and opts.
func New(opts ...Option) *Retrier {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Retrier{config: config}
}

// Do runs op until it succeeds, returns a non-retryable error, the attempt
// budget is spent, or ctx is done. The returned error has its marker removed.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return unmark(last)
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		last = err

		if IsPermanent(err) || !r.shouldRetry(err) || attempt == r.config.MaxAttempts {
			return unmark(err)
		}

		delay := r.delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, unmark(err), delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return unmark(last)
		case <-timer.C:
		}
	}

	return unmark(last)
}

func (r *Retrier) shouldRetry(err error) bool {
	if r.config.RetryIf != nil {
		return r.config.RetryIf(err)
	}
	return IsRetryable(err)
}

// delay returns InitialDelay * Multiplier^(attempt-1), capped and jittered.
func (r *Retrier) delay(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}
	if r.config.JitterFactor > 0 {
		d += d * r.config.JitterFactor * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Do runs op with a one-off Retrier.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, op)
}

// DoWithData runs op with a one-off Retrier and returns its last result.
func DoWithData[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var result T
	err := New(opts...).Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}

// ConnectOptions is the preset for dialing a database or cache at startup:
// every error except context cancellation is retried, with delays growing
// from 250ms to 5s.
func ConnectOptions(attempts int, onRetry func(attempt int, err error, delay time.Duration)) []Option {
	return []Option{
		WithMaxAttempts(attempts),
		WithInitialDelay(250 * time.Millisecond),
		WithMaxDelay(5 * time.Second),
		WithMultiplier(2.0),
		WithJitter(0.2),
		WithRetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
		WithOnRetry(onRetry),
	}
}
