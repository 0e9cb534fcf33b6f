package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/inference-gate/llm-gateway/internal/ratelimit"
)

// RateLimit admits or rejects requests against the caller's tier limits.
// Allowed requests are charged one request per window immediately, off the
// request path; token cost arrives later from the usage recorder.
func RateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := IdentityFrom(c)
		decision := limiter.Check(c.Request.Context(), id)

		if !decision.Allowed {
			c.Header("Retry-After", strconv.Itoa(decision.RetryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": gin.H{
				"message":     fmt.Sprintf("Rate limit exceeded: too many %s in the current %s window", decision.Reason, decision.Window),
				"type":        "rate_limit_exceeded",
				"window":      string(decision.Window),
				"limit":       decision.Limit,
				"used":        decision.Used,
				"retry_after": decision.RetryAfter,
			}})
			return
		}

		limits := limiter.Policy().LimitsFor(id)
		c.Header("X-Ratelimit-Limit-Requests", strconv.FormatInt(limits.EffectiveRequests(ratelimit.WindowMinute), 10))
		c.Header("X-Ratelimit-Limit-Tokens", strconv.FormatInt(limits.EffectiveTokens(ratelimit.WindowMinute), 10))
		if decision.RemainingRequests >= 0 {
			c.Header("X-Ratelimit-Remaining-Requests", strconv.FormatInt(decision.RemainingRequests, 10))
		}
		if decision.RemainingTokens >= 0 {
			c.Header("X-Ratelimit-Remaining-Tokens", strconv.FormatInt(decision.RemainingTokens, 10))
		}

		go limiter.RecordRequest(context.Background(), id)

		c.Next()
	}
}
