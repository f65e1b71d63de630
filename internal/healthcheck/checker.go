// Package healthcheck probes the upstream API in the background so the
// gateway's own health endpoint can report on it without a request of its
// own.
package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var ErrUnhealthy = errors.New("upstream is unhealthy")

// Performs periodic health checks on the upstream
type Checker struct {
	mu          sync.RWMutex
	status      Status
	url         string
	client      *http.Client
	clock       clockwork.Clock
	logger      *zap.Logger
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
}

// Holds health checker configuration
type Config struct {
	Target      string
	Endpoint    string        // Health check endpoint (e.g., "/health")
	Interval    time.Duration // How often to check (default: 10s)
	Timeout     time.Duration // Request timeout (default: 2s)
	MaxFailures int           // Failures before marking unhealthy (default: 3)
	Client      *http.Client
	Clock       clockwork.Clock
}

func NewChecker(cfg Config, logger *zap.Logger) *Checker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/health"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Checker{
		// Assume healthy until the first probe says otherwise
		status: Status{
			Target:    cfg.Target,
			IsHealthy: true,
			LastCheck: cfg.Clock.Now(),
		},
		url:         cfg.Target + cfg.Endpoint,
		client:      cfg.Client,
		clock:       cfg.Clock,
		logger:      logger,
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		maxFailures: cfg.MaxFailures,
	}
}

// Start runs one check immediately and then one per interval until ctx is
// done.
func (c *Checker) Start(ctx context.Context) {
	c.logger.Info("starting upstream health checks",
		zap.String("url", c.url),
		zap.Duration("interval", c.interval),
	)

	c.Check(ctx)

	go func() {
		ticker := c.clock.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.Chan():
				c.Check(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Check probes the upstream once and records the result.
func (c *Checker) Check(ctx context.Context) {
	if err := c.probe(ctx); err != nil {
		c.recordFailure(err)
		return
	}
	c.recordSuccess()
}

func (c *Checker) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Consider 2xx and 3xx as healthy
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Records a successful health check
func (c *Checker) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.status.LastCheck = now
	c.status.LastSuccess = now
	c.status.FailureCount = 0

	if !c.status.IsHealthy {
		c.logger.Info("upstream is healthy again", zap.String("target", c.status.Target))
		c.status.IsHealthy = true
	}
}

// Records a failed health check
func (c *Checker) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.status.LastCheck = now
	c.status.LastFailure = now
	c.status.FailureCount++

	if c.status.IsHealthy && c.status.FailureCount >= c.maxFailures {
		c.logger.Warn("upstream is unhealthy",
			zap.String("target", c.status.Target),
			zap.Int("failures", c.status.FailureCount),
			zap.Error(err),
		)
		c.status.IsHealthy = false
	}
}

// Status returns a copy of the last known status.
func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.status
}

// Ping reports the last known status without probing.
func (c *Checker) Ping(context.Context) error {
	if !c.Status().IsHealthy {
		return ErrUnhealthy
	}
	return nil
}
