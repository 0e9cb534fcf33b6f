package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/inference-gate/llm-gateway/internal/identity"
)

// RequireAdmin gates the admin surface behind the admin tier.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IdentityFrom(c).Tier != identity.TierAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": gin.H{
				"message": "Admin access required",
				"type":    "permission_error",
			}})
			return
		}
		c.Next()
	}
}
