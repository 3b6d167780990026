package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy bounds how often and how long an operation is retried.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy suits short transient faults such as lock contention.
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// TransientFunc reports whether an error is worth retrying.
type TransientFunc func(error) bool

// Do runs fn until it succeeds, returns a permanent error, or the policy is
// exhausted. Backoff doubles per attempt with up to 50% random jitter.
func Do(ctx context.Context, policy Policy, transient TransientFunc, fn func() error) error {
	backoff := policy.InitialBackoff

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !transient(err) || attempt >= policy.MaxAttempts {
			return err
		}

		sleep := backoff
		if half := int64(backoff / 2); half > 0 {
			sleep += time.Duration(rand.Int63n(half))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		if backoff *= 2; backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
}
