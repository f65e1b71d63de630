package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/circuitbreaker"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/config"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/healthcheck"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/logging"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/ratelimit"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/repository"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/server"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/storage"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	// Load env if it exists
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := server.Deps{
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	policies := cfg.RateLimit.Policies
	if cfg.Database.URL != "" {
		postgres, err := storage.NewPostgres(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer postgres.Close()

		if err := postgres.AutoMigrate(); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}

		overrides, err := repository.NewPolicyRepository(postgres).Policies(ctx)
		if err != nil {
			logger.Fatal("Failed to load rate limit policies", zap.Error(err))
		}
		policies = ratelimit.MergePolicies(policies, overrides)
		deps.Postgres = postgres

		logger.Info("Loaded rate limit policy overrides", zap.Int("count", len(overrides)))
	}

	table, err := ratelimit.NewPolicyTable(policies, cfg.RateLimit.Exempt)
	if err != nil {
		logger.Fatal("Invalid rate limit policies", zap.Error(err))
	}

	clock := clockwork.NewRealClock()

	var counter ratelimit.Counter
	switch cfg.RateLimit.Store {
	case "memory":
		memory := ratelimit.NewMemoryCounter(clock)
		memory.StartSweeper(ctx, time.Minute)
		counter = memory
		logger.Warn("Using in-process rate limit counters; limits are not shared between instances")
	default:
		redis := storage.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		defer redis.Close()
		counter = redis
		deps.Redis = redis
	}

	metrics := ratelimit.NewMetrics(deps.Registry)
	breaker := circuitbreaker.New(circuitbreaker.Config{
		MaxFailures: cfg.RateLimit.BreakerFailures,
		Cooldown:    cfg.RateLimit.BreakerCooldown,
		Clock:       clock,
	})
	deps.Limiter = ratelimit.New(ratelimit.Options{
		Table:   table,
		Store:   ratelimit.NewFixedWindow(counter, clock),
		Guard:   ratelimit.NewGuard(ratelimit.GuardConfig{Timeout: cfg.RateLimit.StoreTimeout, Breaker: breaker}, logger, metrics),
		Clock:   clock,
		Metrics: metrics,
	})

	upstream := healthcheck.NewChecker(healthcheck.Config{Target: cfg.Server.UpstreamURL, Clock: clock}, logger)
	upstream.Start(ctx)
	deps.Upstream = upstream

	// Create server
	srv, err := server.New(cfg, deps)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
