package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/classifier"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/ratelimit"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Log       LogConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port        string
	Environment string
	UpstreamURL string
}

type AuthConfig struct {
	JWTSecret string
}

type LogConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	URL string
}

type RateLimitConfig struct {
	Enabled         bool
	Store           string // "redis" or "memory"
	StoreTimeout    time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
	TrustForwarded  bool
	TrustedProxies  []*net.IPNet
	ElevatedRoles   []string
	Exempt          []ratelimit.Category
	// Policies are the defaults with any RATE_LIMIT_<CATEGORY>_<CLASS>
	// overrides applied. Not yet validated as a table.
	Policies []ratelimit.Policy
}

// Load reads .env files when present and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from getenv. Every invalid value is
// reported, not just the first.
func FromEnv(getenv func(string) string) (*Config, error) {
	e := env{get: getenv}

	cfg := &Config{
		Server: ServerConfig{
			Port:        e.getString("PORT", "8080"),
			Environment: e.getString("ENVIRONMENT", "development"),
			UpstreamURL: e.getString("UPSTREAM_URL", "http://localhost:8000"),
		},
		Auth: AuthConfig{
			JWTSecret: e.getString("JWT_SECRET", ""),
		},
		Log: LogConfig{
			Level:  e.getString("LOG_LEVEL", "info"),
			Format: e.getString("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			Addr:     e.getString("REDIS_ADDR", "localhost:6379"),
			Password: e.getString("REDIS_PASSWORD", ""),
			DB:       e.getInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			URL: e.getString("DATABASE_URL", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:         e.getBool("RATE_LIMIT_ENABLED", true),
			Store:           strings.ToLower(e.getString("RATE_LIMIT_STORE", "redis")),
			StoreTimeout:    e.getDuration("RATE_LIMIT_STORE_TIMEOUT", ratelimit.DefaultStoreTimeout),
			BreakerFailures: e.getInt("RATE_LIMIT_BREAKER_FAILURES", 5),
			BreakerCooldown: e.getDuration("RATE_LIMIT_BREAKER_COOLDOWN", 10*time.Second),
			TrustForwarded:  e.getBool("RATE_LIMIT_TRUST_FORWARDED", false),
			ElevatedRoles:   splitList(e.getString("RATE_LIMIT_ELEVATED_ROLES", "admin")),
		},
	}

	rl := &cfg.RateLimit
	if rl.Store != "redis" && rl.Store != "memory" {
		e.fail("RATE_LIMIT_STORE", fmt.Errorf("must be redis or memory, got %q", rl.Store))
	}
	if rl.StoreTimeout <= 0 {
		e.fail("RATE_LIMIT_STORE_TIMEOUT", errors.New("must be positive"))
	}

	if proxies := splitList(e.getString("RATE_LIMIT_TRUSTED_PROXIES", "")); len(proxies) > 0 {
		nets, err := classifier.ParseProxies(proxies)
		if err != nil {
			e.fail("RATE_LIMIT_TRUSTED_PROXIES", err)
		}
		rl.TrustedProxies = nets
	}

	for _, name := range splitList(e.getString("RATE_LIMIT_EXEMPT", "")) {
		category, err := ratelimit.ParseCategory(name)
		if err != nil {
			e.fail("RATE_LIMIT_EXEMPT", err)
			continue
		}
		rl.Exempt = append(rl.Exempt, category)
	}

	var overrides []ratelimit.Policy
	for _, category := range ratelimit.Categories {
		if category == ratelimit.CategoryExempt {
			continue
		}
		for _, class := range ratelimit.SubjectClasses {
			key := PolicyEnvKey(category, class)
			raw := strings.TrimSpace(getenv(key))
			if raw == "" {
				continue
			}
			limit, window, err := ParsePolicy(raw)
			if err != nil {
				e.fail(key, err)
				continue
			}
			overrides = append(overrides, ratelimit.Policy{
				Category: category,
				Class:    class,
				Limit:    limit,
				Window:   window,
			})
		}
	}
	rl.Policies = ratelimit.MergePolicies(ratelimit.DefaultPolicies(), overrides)

	if e.errs != nil {
		return nil, &ratelimit.ConfigurationError{Err: e.errs}
	}
	return cfg, nil
}

// PolicyEnvKey is the variable that overrides one policy, e.g.
// RATE_LIMIT_WRITE_AUTHENTICATED.
func PolicyEnvKey(category ratelimit.Category, class ratelimit.SubjectClass) string {
	return "RATE_LIMIT_" + strings.ToUpper(string(category)) + "_" + strings.ToUpper(string(class))
}

// ParsePolicy parses "<limit>/<window>". The window is a Go duration
// ("1m", "90s") or a bare number of seconds.
func ParsePolicy(s string) (int, time.Duration, error) {
	limitPart, windowPart, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0, fmt.Errorf("expected <limit>/<window>, got %q", s)
	}

	limit, err := strconv.Atoi(strings.TrimSpace(limitPart))
	if err != nil || limit <= 0 {
		return 0, 0, fmt.Errorf("limit must be a positive integer, got %q", limitPart)
	}

	windowPart = strings.TrimSpace(windowPart)
	var window time.Duration
	if secs, err := strconv.Atoi(windowPart); err == nil {
		window = time.Duration(secs) * time.Second
	} else if window, err = time.ParseDuration(windowPart); err != nil {
		return 0, 0, fmt.Errorf("invalid window %q", windowPart)
	}
	if window <= 0 {
		return 0, 0, fmt.Errorf("window must be positive, got %q", windowPart)
	}

	return limit, window, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type env struct {
	get  func(string) string
	errs error
}

func (e *env) fail(key string, err error) {
	e.errs = multierr.Append(e.errs, fmt.Errorf("%s: %w", key, err))
}

func (e *env) getString(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) getInt(key string, def int) int {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *env) getBool(key string, def bool) bool {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *env) getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}
