package server

import (
	"net/http"

	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/middleware"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/ratelimit"
	"go.uber.org/zap"
)

// Route binds an upstream path to the category it is metered under. An empty
// method matches every method.
type Route struct {
	Method   string
	Path     string
	Category ratelimit.Category
}

// UpstreamRoutes are forwarded to the Workout Tracker API.
var UpstreamRoutes = []Route{
	{http.MethodGet, "/exercises", ratelimit.CategoryPublic},
	{http.MethodPost, "/exercises", ratelimit.CategoryWrite},
	{http.MethodGet, "/exercises/:id", ratelimit.CategoryRead},
	{http.MethodPut, "/exercises/:id", ratelimit.CategoryWrite},
	{http.MethodPatch, "/exercises/:id", ratelimit.CategoryWrite},
	{http.MethodDelete, "/exercises/:id", ratelimit.CategoryWrite},
	{http.MethodPost, "/auth/google", ratelimit.CategoryAuth},
	{http.MethodPost, "/auth/refresh", ratelimit.CategoryAuth},
	{http.MethodGet, "/users/me", ratelimit.CategoryRead},
	{"", "/admin/*path", ratelimit.CategoryAdmin},
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.limit(ratelimit.CategoryExempt), s.healthCheck)
	s.router.GET("/metrics", s.limit(ratelimit.CategoryExempt), s.metricsHandler())

	gateway := s.router.Group("/gateway/ratelimit",
		s.limit(ratelimit.CategoryAdmin),
		middleware.RequireRole(s.config.RateLimit.ElevatedRoles...),
	)
	{
		gateway.GET("/policies", s.rateLimitHandler.Policies)
		gateway.GET("/status", s.rateLimitHandler.Status)
		gateway.POST("/breaker/reset", s.rateLimitHandler.ResetBreaker)
	}

	s.setupProxyRoutes()
}

func (s *Server) setupProxyRoutes() {
	for _, r := range UpstreamRoutes {
		if r.Method == "" {
			s.router.Any(r.Path, s.limit(r.Category), s.proxy.Handle)
		} else {
			s.router.Handle(r.Method, r.Path, s.limit(r.Category), s.proxy.Handle)
		}

		s.logger.Debug("registered proxy route",
			zap.String("method", r.Method),
			zap.String("path", r.Path),
			zap.String("category", string(r.Category)),
		)
	}
}
