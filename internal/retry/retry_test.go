package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, Initial: time.Millisecond, Max: 2 * time.Millisecond}
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		initial time.Duration
		attempt int
		max     time.Duration
		want    time.Duration
	}{
		{"first", 100 * time.Millisecond, 0, time.Second, 100 * time.Millisecond},
		{"doubles", 100 * time.Millisecond, 2, time.Second, 400 * time.Millisecond},
		{"clamped", 100 * time.Millisecond, 5, time.Second, time.Second},
		{"initial_above_max", 3 * time.Second, 0, time.Second, time.Second},
		{"huge_attempt", time.Millisecond, 80, time.Second, time.Second},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			if got := Backoff(c.initial, c.attempt, c.max); got != c.want {
				t.Fatalf("Backoff = %v, want %v", got, c.want)
			}
		})
	}
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	calls, retries := 0, 0
	err := Do(context.Background(), fastPolicy(3), isTransient,
		func(int, error, time.Duration) { retries++ },
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if calls != 3 || retries != 2 {
		t.Fatalf("calls=%d retries=%d, want 3 and 2", calls, retries)
	}
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	t.Parallel()

	perm := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), fastPolicy(5), isTransient, nil, func(context.Context) error {
		calls++
		return perm
	})
	if !errors.Is(err, perm) || calls != 1 {
		t.Fatalf("err=%v calls=%d, want permanent after 1 call", err, calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), fastPolicy(3), isTransient, nil, func(context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) || calls != 3 {
		t.Fatalf("err=%v calls=%d, want transient after 3 calls", err, calls)
	}
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 3, Initial: time.Hour, Max: time.Hour}
	err := Do(ctx, p, isTransient, func(int, error, time.Duration) { cancel() }, func(context.Context) error {
		return errTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSleep_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep = %v, want context.Canceled", err)
	}
}
