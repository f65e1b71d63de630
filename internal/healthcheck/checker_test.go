package healthcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestChecker_MarksUnhealthyAfterMaxFailures(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(int(status.Load()))
	}))
	defer upstream.Close()

	c := NewChecker(Config{Target: upstream.URL, MaxFailures: 2, Clock: clockwork.NewFakeClock()}, nil)
	ctx := context.Background()

	c.Check(ctx)
	assert.NoError(t, c.Ping(ctx))

	status.Store(http.StatusServiceUnavailable)
	c.Check(ctx)
	assert.NoError(t, c.Ping(ctx), "one failure is tolerated")
	assert.Equal(t, 1, c.Status().FailureCount)

	c.Check(ctx)
	assert.ErrorIs(t, c.Ping(ctx), ErrUnhealthy)

	status.Store(http.StatusOK)
	c.Check(ctx)
	assert.NoError(t, c.Ping(ctx))
	assert.Zero(t, c.Status().FailureCount)
}

func TestChecker_UnreachableUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	target := upstream.URL
	upstream.Close()

	c := NewChecker(Config{Target: target, MaxFailures: 1}, nil)
	c.Check(context.Background())

	status := c.Status()
	assert.False(t, status.IsHealthy)
	assert.Equal(t, target, status.Target)
	assert.False(t, status.LastFailure.IsZero())
}

func TestChecker_StartRunsImmediately(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer upstream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewChecker(Config{Target: upstream.URL, Clock: clockwork.NewFakeClock()}, nil)
	c.Start(ctx)

	assert.Equal(t, int32(1), hits.Load())
}
