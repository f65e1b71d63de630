package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounter is a process-local Counter. Counts are not shared between
// instances, so it is only suitable for a single gateway process in
// development and for tests.
type MemoryCounter struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	entries map[string]*memoryEntry
}

func NewMemoryCounter(clock clockwork.Clock) *MemoryCounter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryCounter{
		clock:   clock,
		entries: make(map[string]*memoryEntry),
	}
}

func (m *MemoryCounter) IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		e = &memoryEntry{expiresAt: now.Add(ttl)}
		m.entries[key] = e
	}
	e.count++

	return e.count, nil
}

// Sweep drops expired counters and returns how many were removed.
func (m *MemoryCounter) Sweep() int {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (m *MemoryCounter) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := m.clock.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				m.Sweep()
			}
		}
	}()
}

// Len returns the number of live or not yet swept counters.
func (m *MemoryCounter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
