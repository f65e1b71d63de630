// Package ratelimit implements fixed-window request admission shared by every
// gateway instance. Counters live in a shared backend; this package holds the
// policy table, the window algorithm, the fail-open guard and the decision
// logic, none of which keep counts in process memory.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable is returned when the counting backend cannot be reached
// or does not answer in time. The call either fully happened or did not.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Counter is the shared counting backend. IncrWithExpiry atomically
// increments key and, only when the increment created the key, sets its time
// to live to ttl. It returns the post-increment value.
type Counter interface {
	IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// QuotaStore counts attempts per key within fixed windows.
type QuotaStore interface {
	IncrementAndCheck(ctx context.Context, key Key, window time.Duration) (Window, error)
}
