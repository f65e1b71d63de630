package handler

import (
	"net/http"

	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// Handles the limiter's operator endpoints
type RateLimitHandler struct {
	limiter *ratelimit.Limiter
	enabled bool
}

func NewRateLimitHandler(limiter *ratelimit.Limiter, enabled bool) *RateLimitHandler {
	return &RateLimitHandler{
		limiter: limiter,
		enabled: enabled,
	}
}

type policyView struct {
	Category      ratelimit.Category     `json:"category"`
	SubjectClass  ratelimit.SubjectClass `json:"subject_class"`
	Limit         int                    `json:"limit"`
	WindowSeconds float64                `json:"window_seconds"`
	Description   string                 `json:"description"`
}

// Lists the effective policy table
func (h *RateLimitHandler) Policies(c *gin.Context) {
	table := h.limiter.Table()

	policies := make([]policyView, 0, len(table.Policies()))
	for _, p := range table.Policies() {
		policies = append(policies, policyView{
			Category:      p.Category,
			SubjectClass:  p.Class,
			Limit:         p.Limit,
			WindowSeconds: p.Window.Seconds(),
			Description:   p.Describe(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"enabled":  h.enabled,
		"exempt":   table.Exempt(),
		"policies": policies,
	})
}

// Returns the state of the store circuit breaker
func (h *RateLimitHandler) Status(c *gin.Context) {
	guard := h.limiter.Guard()
	metrics := guard.Breaker().Metrics()

	c.JSON(http.StatusOK, gin.H{
		"enabled":          h.enabled,
		"store_timeout_ms": guard.Timeout().Milliseconds(),
		"breaker": gin.H{
			"state":             metrics.State.String(),
			"failure_count":     metrics.FailureCount,
			"last_failure_time": metrics.LastFailureTime,
			"last_state_change": metrics.LastStateChange,
		},
	})
}

// Manually closes the store circuit breaker
func (h *RateLimitHandler) ResetBreaker(c *gin.Context) {
	h.limiter.Guard().Breaker().Reset()

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
	})
}
