// Package fakeupstream is a stand-in for the Workout Tracker API, used in
// tests and for running the gateway locally without the real service.
package fakeupstream

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

type Backend struct {
	router *gin.Engine
	hits   atomic.Int64
}

func New() *Backend {
	b := &Backend{router: gin.New()}

	b.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	b.router.NoRoute(b.echo)

	return b
}

// echo answers every request with its method and path
func (b *Backend) echo(c *gin.Context) {
	b.hits.Add(1)

	status := http.StatusOK
	if c.Request.Method == http.MethodPost {
		status = http.StatusCreated
	}

	c.JSON(status, gin.H{
		"message":    "Hello from dummy backend",
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"request_id": c.GetHeader("X-Request-ID"),
	})
}

func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.router.ServeHTTP(w, r)
}

// Hits counts requests other than health checks.
func (b *Backend) Hits() int64 {
	return b.hits.Load()
}
