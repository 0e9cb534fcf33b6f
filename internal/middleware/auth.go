package middleware

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/inference-gate/llm-gateway/internal/identity"
	"github.com/inference-gate/llm-gateway/internal/models"
	"github.com/inference-gate/llm-gateway/internal/service"
)

const identityKey = "identity"

// SessionCookie carries the browser session token for dashboard traffic.
const SessionCookie = "g4f_session"

// KeyValidator resolves presented API keys. Satisfied by service.APIKeyService.
type KeyValidator interface {
	Validate(ctx context.Context, key string) (*models.APIKey, error)
	UpdateLastUsed(ctx context.Context, id uuid.UUID)
}

// Auth resolves every request to an identity before rate limiting runs.
// Resolution order: gateway API key, then session token, then anonymous by
// client address. A request that presents an invalid API key is rejected; a
// stale session token silently degrades to anonymous, because browsers keep
// sending expired cookies.
func Auth(keys KeyValidator, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := presentedAPIKey(c)
		if apiKey != "" {
			record, err := keys.Validate(c.Request.Context(), apiKey)
			if err != nil {
				// Validation outages degrade to anonymous limits rather
				// than taking the gateway down with the database.
				log.Printf("api key validation unavailable: %v", err)
				setIdentity(c, identity.Anonymous(c.ClientIP()))
				c.Next()
				return
			}
			if record == nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{
					"message": "Invalid API key",
					"type":    "invalid_request_error",
				}})
				return
			}

			go keys.UpdateLastUsed(context.Background(), record.ID)
			setIdentity(c, identity.User(record.UserID, identity.Tier(record.Tier)))
			c.Next()
			return
		}

		if token := presentedSessionToken(c); token != "" {
			if id, ok := identityFromSession(token, jwtSecret); ok {
				setIdentity(c, id)
				c.Next()
				return
			}
		}

		setIdentity(c, identity.Anonymous(c.ClientIP()))
		c.Next()
	}
}

func setIdentity(c *gin.Context, id identity.Identity) {
	c.Set(identityKey, id)
}

// IdentityFrom returns the identity resolved by Auth. Handlers running
// outside the auth chain get an anonymous identity for the client address.
func IdentityFrom(c *gin.Context) identity.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(identity.Identity); ok {
			return id
		}
	}
	return identity.Anonymous(c.ClientIP())
}

// presentedAPIKey finds a gateway-issued key in either the X-API-Key header
// or an Authorization bearer token.
func presentedAPIKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); strings.HasPrefix(key, service.KeyPrefix) {
		return key
	}
	if token := bearerToken(c); strings.HasPrefix(token, service.KeyPrefix) {
		return token
	}
	return ""
}

func presentedSessionToken(c *gin.Context) string {
	if token := bearerToken(c); token != "" && !strings.HasPrefix(token, service.KeyPrefix) {
		return token
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie
	}
	return ""
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// identityFromSession verifies a session JWT and extracts the user identity.
// Claims: sub is the user id, tier is the plan name at login time.
func identityFromSession(token, secret string) (identity.Identity, bool) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return identity.Identity{}, false
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return identity.Identity{}, false
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return identity.Identity{}, false
	}
	tier, _ := claims["tier"].(string)

	return identity.User(sub, identity.Tier(tier)), true
}
