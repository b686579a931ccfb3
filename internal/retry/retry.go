// Package retry provides bounded retries with exponential backoff and
// jitter for transient upstream failures.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config bounds a retry loop. The zero value is normalized to defaults.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the delay after the first failure.
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// MaxTotal bounds the wall time of the whole loop, attempts included.
	// Zero means unbounded.
	MaxTotal time.Duration
}

// DefaultConfig matches the runtime's default retry budget.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		MaxTotal:   2 * time.Minute,
	}
}

func (c Config) normalized() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	return c
}

// Result describes the outcome of a retry loop.
type Result struct {
	Attempts int
	Err      error
	Duration time.Duration
}

// Do runs op until it succeeds, returns a permanent error, exhausts the
// retry budget, or the context is cancelled.
func Do(ctx context.Context, config Config, op func() error) Result {
	config = config.normalized()
	start := time.Now()
	var res Result

	var deadline time.Time
	if config.MaxTotal > 0 {
		deadline = start.Add(config.MaxTotal)
	}

	delay := config.BaseDelay
	for attempt := 0; ; attempt++ {
		res.Attempts = attempt + 1

		if ctx.Err() != nil {
			res.Err = ctx.Err()
			break
		}

		err := op()
		if err == nil {
			res.Err = nil
			break
		}
		res.Err = err

		if IsPermanent(err) || attempt >= config.MaxRetries {
			break
		}

		sleep := jitter(delay)
		if !deadline.IsZero() && time.Now().Add(sleep).After(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			res.Duration = time.Since(start)
			return res
		case <-time.After(sleep):
		}

		delay *= 2
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	res.Duration = time.Since(start)
	return res
}

// jitter spreads a delay over [0.5d, 1.5d] so retries from concurrent
// sessions don't synchronize.
func jitter(d time.Duration) time.Duration {
	factor := 0.5 + rand.Float64() // #nosec G404 -- jitter needs no crypto randomness
	return time.Duration(float64(d) * factor)
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do stops retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}
