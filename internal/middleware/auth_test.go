package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/inference-gate/llm-gateway/internal/identity"
	"github.com/inference-gate/llm-gateway/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValidator struct {
	keys map[string]*models.APIKey
	err  error
}

func (f *fakeValidator) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.keys[key], nil
}

func (f *fakeValidator) UpdateLastUsed(ctx context.Context, id uuid.UUID) {}

func authRouter(keys KeyValidator, secret string) (*gin.Engine, *identity.Identity) {
	gin.SetMode(gin.TestMode)

	var resolved identity.Identity
	router := gin.New()
	router.Use(Auth(keys, secret))
	router.GET("/probe", func(c *gin.Context) {
		resolved = IdentityFrom(c)
		c.Status(http.StatusOK)
	})
	return router, &resolved
}

func TestAuthResolvesAPIKey(t *testing.T) {
	validator := &fakeValidator{keys: map[string]*models.APIKey{
		"g4f_valid": {ID: uuid.New(), UserID: "user-1", Tier: "pro"},
	}}
	router, resolved := authRouter(validator, "secret")

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer g4f_valid")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", resolved.UserID)
	assert.Equal(t, identity.TierPro, resolved.Tier)
}

func TestAuthResolvesAPIKeyHeader(t *testing.T) {
	validator := &fakeValidator{keys: map[string]*models.APIKey{
		"g4f_valid": {ID: uuid.New(), UserID: "user-2", Tier: "free"},
	}}
	router, resolved := authRouter(validator, "secret")

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("X-API-Key", "g4f_valid")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-2", resolved.UserID)
}

func TestAuthRejectsInvalidAPIKey(t *testing.T) {
	router, _ := authRouter(&fakeValidator{}, "secret")

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer g4f_bogus")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid API key")
}

func TestAuthFailsOpenOnValidatorOutage(t *testing.T) {
	validator := &fakeValidator{err: errors.New("database unavailable")}
	router, resolved := authRouter(validator, "secret")

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer g4f_valid")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resolved.IsAnonymous())
}

func TestAuthResolvesSessionToken(t *testing.T) {
	secret := "session-secret"
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "user-3",
		"tier": "sponsor",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	router, resolved := authRouter(&fakeValidator{}, secret)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-3", resolved.UserID)
	assert.Equal(t, identity.TierSponsor, resolved.Tier)
}

func TestAuthStaleSessionDegradesToAnonymous(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-4",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("session-secret"))
	require.NoError(t, err)

	router, resolved := authRouter(&fakeValidator{}, "session-secret")

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resolved.IsAnonymous())
}

func TestAuthAnonymousWithoutCredentials(t *testing.T) {
	router, resolved := authRouter(&fakeValidator{}, "secret")

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resolved.IsAnonymous())
	assert.Equal(t, identity.TierAnonymous, resolved.Tier)
}
