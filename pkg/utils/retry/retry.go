// Package retry runs remote calls under an exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a bounded exponential backoff.
type Policy struct {
	MaxAttempts     int           `yaml:"maxAttempts"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	Multiplier      float64       `yaml:"multiplier"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
}

// DefaultPolicy is three attempts starting at one second, doubling up to ten seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxInterval:     10 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	return p
}

// Budget is the longest Do can take when every attempt runs for callTimeout
// before failing.
func (p Policy) Budget(callTimeout time.Duration) time.Duration {
	p = p.WithDefaults()
	total := time.Duration(p.MaxAttempts) * callTimeout
	interval := float64(p.InitialInterval)
	for i := 1; i < p.MaxAttempts; i++ {
		wait := time.Duration(interval)
		if wait > p.MaxInterval {
			wait = p.MaxInterval
		}
		total += wait
		interval *= p.Multiplier
	}
	return total
}

// ErrExhausted wraps the last error once every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

type exhaustedError struct {
	attempts int
	err      error
}

func (e *exhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrExhausted, e.attempts, e.err)
}

func (e *exhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.err}
}

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do calls op until it succeeds, returns a permanent error, the context ends
// or the attempts run out. onRetry, if set, sees every failed attempt that
// will be retried.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, onRetry func(attempt int, err error, next time.Duration)) error {
	p = p.WithDefaults()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.Multiplier = p.Multiplier
	eb.MaxInterval = p.MaxInterval
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()

	var (
		attempts  int
		lastErr   error
		permanent bool
	)
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)
	err := backoff.RetryNotify(func() error {
		attempts++
		err := op(ctx)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
		}
		lastErr = err
		return err
	}, b, func(err error, next time.Duration) {
		if onRetry != nil {
			onRetry(attempts, err, next)
		}
	})
	if err == nil {
		return nil
	}
	if permanent {
		return err
	}
	if cerr := ctx.Err(); cerr != nil {
		if errors.Is(err, cerr) {
			return err
		}
		return fmt.Errorf("%w: %v", cerr, err)
	}
	if lastErr == nil {
		lastErr = err
	}
	return &exhaustedError{attempts: attempts, err: lastErr}
}

// IsExhausted reports whether err came from running out of attempts.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrExhausted)
}
