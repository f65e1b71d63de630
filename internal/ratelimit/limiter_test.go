package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	QuotaStore
	calls int
}

func (s *countingStore) IncrementAndCheck(ctx context.Context, key Key, window time.Duration) (Window, error) {
	s.calls++
	return s.QuotaStore.IncrementAndCheck(ctx, key, window)
}

func newTestLimiter(t *testing.T, clock clockwork.FakeClock) (*Limiter, *countingStore, *Metrics) {
	t.Helper()
	table, err := NewPolicyTable(DefaultPolicies(), nil)
	require.NoError(t, err)

	store := &countingStore{QuotaStore: NewFixedWindow(NewMemoryCounter(clock), clock)}
	metrics := NewMetrics(nil)
	limiter := New(Options{
		Table:   table,
		Store:   store,
		Guard:   NewGuard(GuardConfig{Timeout: time.Second}, nil, metrics),
		Clock:   clock,
		Metrics: metrics,
	})
	return limiter, store, metrics
}

func user(id string) Subject {
	return Subject{Key: "user:" + id + ":user", Class: ClassAuthenticated}
}

func TestLimiter_AllowsWithinLimit(t *testing.T) {
	clock := clockwork.NewFakeClockAt(windowStart)
	limiter, _, _ := newTestLimiter(t, clock)

	d := limiter.Check(context.Background(), CategoryWrite, user("42"))
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Count)
	assert.Equal(t, 59, d.Remaining())
	assert.Equal(t, windowStart.Add(time.Minute), d.ResetAt)
	assert.Zero(t, d.RetryAfter)
}

func TestLimiter_RejectsOverLimit(t *testing.T) {
	clock := clockwork.NewFakeClockAt(windowStart.Add(10 * time.Second))
	limiter, _, metrics := newTestLimiter(t, clock)
	subject := user("42")

	for i := 0; i < 60; i++ {
		require.True(t, limiter.Check(context.Background(), CategoryWrite, subject).Allowed, "attempt %d", i+1)
	}

	d := limiter.Check(context.Background(), CategoryWrite, subject)
	assert.False(t, d.Allowed)
	assert.Equal(t, 50, d.RetryAfter)
	assert.Equal(t, 60, d.Policy.Limit)
	assert.Zero(t, d.Remaining())
	assert.Equal(t, "rejected", d.Outcome())

	// Rejected attempts still count.
	d = limiter.Check(context.Background(), CategoryWrite, subject)
	assert.Equal(t, int64(62), d.Count)

	assert.Equal(t, 60.0, testutil.ToFloat64(metrics.decisions.WithLabelValues("write", "authenticated", "allowed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.decisions.WithLabelValues("write", "authenticated", "rejected")))
}

func TestLimiter_SubjectsAndCategoriesAreIsolated(t *testing.T) {
	clock := clockwork.NewFakeClockAt(windowStart)
	limiter, _, _ := newTestLimiter(t, clock)

	for i := 0; i < 61; i++ {
		limiter.Check(context.Background(), CategoryWrite, user("42"))
	}
	require.False(t, limiter.Check(context.Background(), CategoryWrite, user("42")).Allowed)

	assert.True(t, limiter.Check(context.Background(), CategoryWrite, user("7")).Allowed)
	assert.True(t, limiter.Check(context.Background(), CategoryRead, user("42")).Allowed)
}

func TestLimiter_ClassSelectsPolicy(t *testing.T) {
	clock := clockwork.NewFakeClockAt(windowStart)
	limiter, _, _ := newTestLimiter(t, clock)
	anon := Subject{Key: "ip:203.0.113.7", Class: ClassAnonymous}

	for i := 0; i < 100; i++ {
		require.True(t, limiter.Check(context.Background(), CategoryPublic, anon).Allowed)
	}
	d := limiter.Check(context.Background(), CategoryPublic, anon)
	assert.False(t, d.Allowed)
	assert.Equal(t, 60, d.RetryAfter)
	assert.Equal(t, "100 per 1 minute", d.Policy.Describe())
}

func TestLimiter_ExemptSkipsStore(t *testing.T) {
	clock := clockwork.NewFakeClockAt(windowStart)
	limiter, store, metrics := newTestLimiter(t, clock)

	for i := 0; i < 1000; i++ {
		d := limiter.Check(context.Background(), CategoryExempt, Subject{Key: "ip:1.1.1.1", Class: ClassAnonymous})
		require.True(t, d.Allowed)
		require.True(t, d.Exempt)
	}

	assert.Zero(t, store.calls)
	assert.Equal(t, 1000.0, testutil.ToFloat64(metrics.decisions.WithLabelValues("exempt", "anonymous", "exempt")))
}

func TestLimiter_WindowRollover(t *testing.T) {
	clock := clockwork.NewFakeClockAt(windowStart.Add(30 * time.Second))
	limiter, _, _ := newTestLimiter(t, clock)
	subject := user("42")

	for i := 0; i < 61; i++ {
		limiter.Check(context.Background(), CategoryWrite, subject)
	}
	require.False(t, limiter.Check(context.Background(), CategoryWrite, subject).Allowed)

	clock.Advance(30 * time.Second)
	d := limiter.Check(context.Background(), CategoryWrite, subject)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Count)
}

func TestLimiter_FailsOpenWhenStoreUnavailable(t *testing.T) {
	table, err := NewPolicyTable(DefaultPolicies(), nil)
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(windowStart)
	down := counterFunc(func(context.Context, string, time.Duration) (int64, error) {
		return 0, errors.New("connection refused")
	})
	limiter := New(Options{Table: table, Store: NewFixedWindow(down, clock), Clock: clock})

	for i := 0; i < 200; i++ {
		d := limiter.Check(context.Background(), CategoryWrite, user("42"))
		require.True(t, d.Allowed)
		require.True(t, d.Degraded)
	}
}
