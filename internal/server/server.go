package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/auth"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/classifier"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/config"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/handler"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/middleware"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/proxy"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Limiter  *ratelimit.Limiter
	Logger   *zap.Logger
	Registry *prometheus.Registry
	// Optional health checks; nil entries are skipped
	Redis    Pinger
	Postgres Pinger
	Upstream Pinger
}

type Server struct {
	router           *gin.Engine
	config           *config.Config
	logger           *zap.Logger
	redis            Pinger
	postgres         Pinger
	upstream         Pinger
	registry         *prometheus.Registry
	proxy            *proxy.Proxy
	limiter          *ratelimit.Limiter
	classifier       *classifier.Classifier
	tokens           *auth.TokenParser
	rateLimitHandler *handler.RateLimitHandler
	httpServer       *http.Server
}

func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Limiter == nil {
		return nil, errors.New("server requires a limiter")
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	p, err := proxy.New(cfg.Server.UpstreamURL, deps.Logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:           gin.New(),
		config:           cfg,
		logger:           deps.Logger,
		redis:            deps.Redis,
		postgres:         deps.Postgres,
		upstream:         deps.Upstream,
		registry:         deps.Registry,
		proxy:            p,
		limiter:          deps.Limiter,
		classifier:       classifier.New(classifier.Options{
			TrustForwarded: cfg.RateLimit.TrustForwarded,
			TrustedProxies: cfg.RateLimit.TrustedProxies,
			ElevatedRoles:  cfg.RateLimit.ElevatedRoles,
		}),
		tokens:           auth.NewTokenParser(cfg.Auth.JWTSecret),
		rateLimitHandler: handler.NewRateLimitHandler(deps.Limiter, cfg.RateLimit.Enabled),
	}

	// Setup middleware
	s.setupMiddleware()

	// Setup routes
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Authenticate(s.tokens, s.logger))
}

// limit returns the per-route limiter for category, or a pass-through when
// rate limiting is switched off.
func (s *Server) limit(category ratelimit.Category) gin.HandlerFunc {
	if !s.config.RateLimit.Enabled {
		return middleware.RateLimit(nil, nil, category, s.logger)
	}
	return middleware.RateLimit(s.limiter, s.classifier, category, s.logger)
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true

	probe := func(name string, p Pinger) {
		if p == nil {
			return
		}
		ok := true
		if err := p.Ping(ctx); err != nil {
			ok = false
			healthy = false
			s.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
		}
		checks[name] = ok
	}
	probe("redis", s.redis)
	probe("database", s.postgres)
	probe("upstream", s.upstream)

	status := "healthy"
	statusCode := http.StatusOK

	if !healthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "workout-tracker-gateway",
		"version":   "1.0.0",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(startTime).Seconds(),
		"checks":    checks,
	})
}

func (s *Server) metricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	s.logger.Info("starting gateway",
		zap.String("addr", addr),
		zap.String("environment", s.config.Server.Environment),
		zap.Bool("rate_limit_enabled", s.config.RateLimit.Enabled),
	)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

var startTime = time.Now()
