package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/classifier"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimit meters every request on the route against category. A nil
// limiter installs a pass-through.
func RateLimit(limiter *ratelimit.Limiter, cls *classifier.Classifier, category ratelimit.Category, logger *zap.Logger) gin.HandlerFunc {
	if limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		// Exempt routes skip classification and the store entirely
		if limiter.IsExempt(category) {
			c.Next()
			return
		}

		subject := cls.Classify(c.Request)
		d := limiter.Check(c.Request.Context(), category, subject)

		if d.Policy.Limit > 0 && !d.Degraded {
			c.Header("X-RateLimit-Limit", strconv.Itoa(d.Policy.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining()))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		}

		if d.Allowed {
			c.Next()
			return
		}

		path := c.Request.URL.Path
		logger.Warn("rate limit exceeded",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("category", string(category)),
			zap.String("subject", ratelimit.RedactSubject(subject)),
			zap.String("subject_class", string(subject.Class)),
			zap.String("decision", d.Outcome()),
			zap.String("path", path),
			zap.Int("retry_after", d.RetryAfter),
		)

		c.Header("Retry-After", strconv.Itoa(d.RetryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"detail":      fmt.Sprintf("Rate limit exceeded: %s", d.Policy.Describe()),
			"retry_after": d.RetryAfter,
			"path":        path,
		})
	}
}
