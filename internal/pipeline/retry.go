package pipeline

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/dgallion1/novelgen/internal/llm"
)

// MaxRetries bounds the attempts of each generation phase of a job.
const MaxRetries = 3

// IsRetryable reports whether a failed phase is worth another attempt: only
// transient provider failures are, and never once the job was cancelled.
func IsRetryable(ctx context.Context, err error) bool {
	return ctx.Err() == nil && llm.IsRetryable(err)
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
