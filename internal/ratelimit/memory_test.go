package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCounter_IncrementsAndExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMemoryCounter(clock)
	ctx := context.Background()

	n, err := m.IncrWithExpiry(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	clock.Advance(500 * time.Millisecond)
	n, _ = m.IncrWithExpiry(ctx, "k", time.Second)
	assert.Equal(t, int64(2), n, "later increments do not move the expiry")

	clock.Advance(500 * time.Millisecond)
	n, _ = m.IncrWithExpiry(ctx, "k", time.Second)
	assert.Equal(t, int64(1), n)
}

func TestMemoryCounter_CanceledContext(t *testing.T) {
	m := NewMemoryCounter(clockwork.NewFakeClock())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.IncrWithExpiry(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryCounter_Sweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMemoryCounter(clock)
	ctx := context.Background()

	_, _ = m.IncrWithExpiry(ctx, "short", time.Second)
	_, _ = m.IncrWithExpiry(ctx, "long", time.Minute)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
}

func TestMemoryCounter_ConcurrentIncrements(t *testing.T) {
	m := NewMemoryCounter(clockwork.NewFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = m.IncrWithExpiry(context.Background(), "shared", time.Minute)
			}
		}()
	}
	wg.Wait()

	n, err := m.IncrWithExpiry(context.Background(), "shared", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), n)
}
