// Package retry runs an operation with capped exponential backoff. Callers
// decide which errors are worth another attempt.
package retry

import (
	"context"
	"time"
)

// Policy configures Do. Zero values get defaults:
//   - Attempts: 1 (no retries)
//   - Initial:  100ms
//   - Max:      2s
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// Initial is the wait before the first retry. Each later retry doubles
	// the previous wait up to Max.
	Initial time.Duration
	Max     time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Initial <= 0 {
		p.Initial = 100 * time.Millisecond
	}
	if p.Max <= 0 {
		p.Max = 2 * time.Second
	}
	return p
}

// Backoff returns the wait before retry number attempt (0-based), clamped
// to max.
func Backoff(initial time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt <= 0 {
		if initial > max {
			return max
		}
		return initial
	}
	if attempt > 30 {
		return max
	}
	d := initial << attempt
	if d > max || d <= 0 {
		return max
	}
	return d
}

// OnRetry is called before each wait with the failed attempt number
// (1-based), the error, and the wait.
type OnRetry func(attempt int, err error, wait time.Duration)

// Do calls fn until it succeeds, returns an error retryable rejects, the
// attempts run out, or ctx is done. It returns fn's last error, or the
// context error when cancelled during a wait.
func Do(ctx context.Context, p Policy, retryable func(error) bool, onRetry OnRetry, fn func(context.Context) error) error {
	p = p.withDefaults()
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err != nil {
				return err
			}
			return cerr
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if retryable == nil || !retryable(err) || attempt+1 >= p.Attempts {
			return err
		}
		wait := Backoff(p.Initial, attempt, p.Max)
		if onRetry != nil {
			onRetry(attempt+1, err, wait)
		}
		if serr := Sleep(ctx, wait); serr != nil {
			return serr
		}
	}
	return err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
