package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
)

// Window is the state of one fixed window after an increment.
type Window struct {
	Count int64
	Start time.Time
	End   time.Time
}

// RetryAfter returns whole seconds from now until the window ends, rounded
// up and clamped to [1, ceil(window length)].
func (w Window) RetryAfter(now time.Time) int {
	length := int(math.Ceil(w.End.Sub(w.Start).Seconds()))
	secs := int(math.Ceil(w.End.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	if secs > length {
		secs = length
	}
	return secs
}

// FixedWindow is the QuotaStore: it maps a key to the counter of the
// current bucket and increments it in the shared backend.
type FixedWindow struct {
	counter Counter
	clock   clockwork.Clock
}

func NewFixedWindow(counter Counter, clock clockwork.Clock) *FixedWindow {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FixedWindow{
		counter: counter,
		clock:   clock,
	}
}

// IncrementAndCheck increments the counter of the bucket containing now,
// where bucket = floor(now / window) * window. The counter expires with the
// window, so nothing ever has to be cleaned up.
func (f *FixedWindow) IncrementAndCheck(ctx context.Context, key Key, window time.Duration) (Window, error) {
	start, end := Bucket(f.clock.Now(), window)
	redisKey := CounterKey(key, start)

	count, err := f.counter.IncrWithExpiry(ctx, redisKey, window)
	if err != nil {
		return Window{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return Window{Count: count, Start: start, End: end}, nil
}

// Bucket returns the start and end of the fixed window that contains now.
// Buckets are aligned to the Unix epoch so every instance agrees on them.
func Bucket(now time.Time, window time.Duration) (time.Time, time.Time) {
	size := window.Milliseconds()
	if size <= 0 {
		size = 1
	}
	startMs := now.UnixMilli() / size * size
	start := time.UnixMilli(startMs)
	return start, start.Add(time.Duration(size) * time.Millisecond)
}

// CounterKey is the backend key of one (category, subject, bucket) counter.
func CounterKey(key Key, bucketStart time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", key.Category, key.Subject.Key, bucketStart.UnixMilli())
}
