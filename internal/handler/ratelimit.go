package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/inference-gate/llm-gateway/internal/middleware"
	"github.com/inference-gate/llm-gateway/internal/ratelimit"
)

type RateLimitHandler struct {
	limiter *ratelimit.Limiter
}

func NewRateLimitHandler(limiter *ratelimit.Limiter) *RateLimitHandler {
	return &RateLimitHandler{limiter: limiter}
}

// Handles GET /api/rate-limit. Reports the caller's consumption across all
// windows without charging anything.
func (h *RateLimitHandler) Status(c *gin.Context) {
	id := middleware.IdentityFrom(c)

	windows, err := h.limiter.Usage(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{
			"message": "Rate limit store unavailable",
			"type":    "service_unavailable",
		}})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tier":      id.Tier,
		"anonymous": id.IsAnonymous(),
		"windows":   windows,
	})
}
