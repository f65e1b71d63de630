package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/config"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/fakeupstream"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/ratelimit"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/storage"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "server-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	*Server
	url     string
	backend *fakeupstream.Backend
}

// newTestServer serves the gateway on a real listener. The reverse proxy
// needs a ResponseWriter that supports CloseNotify, which a recorder lacks.
func newTestServer(t *testing.T, mutate func(*config.Config, *Deps)) *testServer {
	t.Helper()
	backend := fakeupstream.New()
	upstream := httptest.NewServer(backend)
	t.Cleanup(upstream.Close)

	cfg, err := config.FromEnv(func(key string) string {
		switch key {
		case "UPSTREAM_URL":
			return upstream.URL
		case "JWT_SECRET":
			return testSecret
		}
		return ""
	})
	require.NoError(t, err)

	table, err := ratelimit.NewPolicyTable(cfg.RateLimit.Policies, cfg.RateLimit.Exempt)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	metrics := ratelimit.NewMetrics(registry)
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_040, 0))
	deps := Deps{
		Registry: registry,
		Limiter: ratelimit.New(ratelimit.Options{
			Table:   table,
			Store:   ratelimit.NewFixedWindow(ratelimit.NewMemoryCounter(clock), clock),
			Clock:   clock,
			Metrics: metrics,
		}),
	}
	if mutate != nil {
		mutate(cfg, &deps)
	}

	s, err := New(cfg, deps)
	require.NoError(t, err)

	gateway := httptest.NewServer(s.Router())
	t.Cleanup(gateway.Close)

	return &testServer{Server: s, url: gateway.URL, backend: backend}
}

func (ts *testServer) do(t *testing.T, method, path, token string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, ts.url+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (ts *testServer) status(t *testing.T, method, path string) int {
	t.Helper()
	code, _ := ts.do(t, method, path, "")
	return code
}

func token(t *testing.T, id, role string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": id,
		"role":    role,
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestServer_ExercisesRateLimited(t *testing.T) {
	ts := newTestServer(t, nil)

	for i := 0; i < 100; i++ {
		require.Equal(t, http.StatusOK, ts.status(t, http.MethodGet, "/exercises"), "attempt %d", i+1)
	}
	code, body := ts.do(t, http.MethodGet, "/exercises", "")
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Contains(t, body, `"path":"/exercises"`)
	assert.Equal(t, int64(100), ts.backend.Hits(), "rejected requests never reach the upstream")

	// Other categories keep their own budgets.
	assert.Equal(t, http.StatusOK, ts.status(t, http.MethodGet, "/exercises/3"))
}

func TestServer_HealthAndMetricsAreExempt(t *testing.T) {
	ts := newTestServer(t, nil)

	for i := 0; i < 150; i++ {
		require.Equal(t, http.StatusOK, ts.status(t, http.MethodGet, "/health"))
	}
	require.Equal(t, http.StatusCreated, ts.status(t, http.MethodPost, "/exercises"))

	code, body := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `gateway_ratelimit_decisions_total{category="write",decision="allowed",subject_class="anonymous"} 1`)
	assert.NotContains(t, body, `category="exempt"`, "exempt routes skip the limiter")
}

func TestServer_HealthDegraded(t *testing.T) {
	ts := newTestServer(t, func(_ *config.Config, deps *Deps) {
		deps.Redis = pingFunc(func(context.Context) error { return errors.New("connection refused") })
		deps.Postgres = pingFunc(func(context.Context) error { return nil })
		deps.Upstream = pingFunc(func(context.Context) error { return nil })
	})

	code, body := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, `"status":"degraded"`)
	assert.Contains(t, body, `"redis":false`)
	assert.Contains(t, body, `"database":true`)
	assert.Contains(t, body, `"upstream":true`)
}

func TestServer_GatewayEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	admin := token(t, "1", "admin")

	code, body := ts.do(t, http.MethodGet, "/gateway/ratelimit/policies", admin)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"description":"100 per 1 minute"`)

	code, body = ts.do(t, http.MethodGet, "/gateway/ratelimit/status", admin)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"state":"closed"`)

	code, _ = ts.do(t, http.MethodPost, "/gateway/ratelimit/breaker/reset", admin)
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_GatewayEndpointsRequireElevatedRole(t *testing.T) {
	ts := newTestServer(t, nil)

	code, _ := ts.do(t, http.MethodPost, "/gateway/ratelimit/breaker/reset", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = ts.do(t, http.MethodPost, "/gateway/ratelimit/breaker/reset", token(t, "42", "user"))
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = ts.do(t, http.MethodGet, "/gateway/ratelimit/policies", token(t, "42", "user"))
	assert.Equal(t, http.StatusForbidden, code)

	// Refused calls still spend the anonymous admin budget of 5 per minute,
	// which is shared with upstream admin routes.
	for i := 0; i < 4; i++ {
		require.Equal(t, http.StatusOK, ts.status(t, http.MethodDelete, "/admin/users/9"))
	}
	assert.Equal(t, http.StatusTooManyRequests, ts.status(t, http.MethodPost, "/gateway/ratelimit/breaker/reset"))
}

func TestServer_RedisDownAtStartupAdmitsRequests(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	redis := storage.NewRedis(addr, "", 0, nil)
	t.Cleanup(func() { redis.Close() })

	ts := newTestServer(t, func(cfg *config.Config, deps *Deps) {
		table, err := ratelimit.NewPolicyTable(cfg.RateLimit.Policies, nil)
		require.NoError(t, err)
		clock := clockwork.NewRealClock()
		deps.Redis = redis
		deps.Limiter = ratelimit.New(ratelimit.Options{
			Table: table,
			Store: ratelimit.NewFixedWindow(redis, clock),
			Guard: ratelimit.NewGuard(ratelimit.GuardConfig{Timeout: time.Second}, nil, nil),
			Clock: clock,
		})
	})

	for i := 0; i < 110; i++ {
		require.Equal(t, http.StatusOK, ts.status(t, http.MethodGet, "/exercises"), "attempt %d", i+1)
	}
	assert.Equal(t, int64(110), ts.backend.Hits())

	code, body := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, `"redis":false`)
}

func TestServer_Disabled(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config, _ *Deps) {
		cfg.RateLimit.Enabled = false
	})

	for i := 0; i < 150; i++ {
		require.Equal(t, http.StatusOK, ts.status(t, http.MethodGet, "/exercises"))
	}
	assert.Equal(t, int64(150), ts.backend.Hits())

	_, body := ts.do(t, http.MethodGet, "/gateway/ratelimit/policies", token(t, "1", "admin"))
	assert.Contains(t, body, `"enabled":false`)
}

func TestNew_RequiresLimiter(t *testing.T) {
	cfg, err := config.FromEnv(func(string) string { return "" })
	require.NoError(t, err)

	_, err = New(cfg, Deps{})
	assert.Error(t, err)
}

func TestUpstreamRoutes_Categories(t *testing.T) {
	for _, r := range UpstreamRoutes {
		assert.True(t, r.Category.Valid(), r.Path)
		assert.NotEqual(t, ratelimit.CategoryExempt, r.Category, r.Path)
	}
}
