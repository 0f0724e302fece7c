// Package retry runs an operation with exponential backoff and jitter.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// cryptoInt64n returns a random int64 in [0, n) using crypto/rand.
func cryptoInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1
	return int64(v % uint64(n)) //nolint:gosec // n>0
}

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that the retry loop stops on it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Policy describes a bounded backoff schedule.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay caps a single sleep. Zero means uncapped.
	MaxDelay time.Duration
	// Retryable classifies errors that are not wrapped with Permanent.
	// Nil treats every such error as retryable.
	Retryable func(error) bool
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Delay returns the jittered sleep before retry number attempt (0-based):
// BaseDelay * 2^attempt, +-25%.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	jitter := d / 4
	return d - jitter + time.Duration(cryptoInt64n(int64(2*jitter+1)))
}

// Run calls fn until it succeeds, returns a permanent or non-retryable
// error, the attempts are exhausted, or ctx is done. fn receives the
// 1-based attempt number.
func (p Policy) Run(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn(ctx, attempt+1)
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}

		// Don't sleep after the last attempt.
		if attempt == maxAttempts-1 {
			break
		}

		sleep := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, sleep, err)
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return err
}

// Do calls fn up to maxAttempts times. baseDelay is doubled on each retry
// with +-25% jitter.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	p := Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay}
	return p.Run(ctx, func(context.Context, int) error { return fn() })
}
