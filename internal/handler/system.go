package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/inference-gate/llm-gateway/internal/provider"
	"github.com/inference-gate/llm-gateway/internal/proxy"
	"github.com/inference-gate/llm-gateway/internal/storage"
)

// Handles health and provider status endpoints.
type SystemHandler struct {
	forwarder *proxy.Forwarder
	registry  *provider.Registry
	prober    *provider.Prober
	redis     *storage.RedisClient
	postgres  *storage.Postgres
}

func NewSystemHandler(forwarder *proxy.Forwarder, registry *provider.Registry, prober *provider.Prober, redis *storage.RedisClient, postgres *storage.Postgres) *SystemHandler {
	return &SystemHandler{
		forwarder: forwarder,
		registry:  registry,
		prober:    prober,
		redis:     redis,
		postgres:  postgres,
	}
}

// Handles GET /health. The gateway reports degraded rather than down when a
// backing store is unreachable, since proxying fails open.
func (h *SystemHandler) Health(c *gin.Context) {
	status := "ok"
	checks := gin.H{}

	if err := h.redis.Ping(c.Request.Context()); err != nil {
		status = "degraded"
		checks["redis"] = err.Error()
	} else {
		checks["redis"] = "ok"
	}

	if err := h.postgres.Ping(c.Request.Context()); err != nil {
		status = "degraded"
		checks["postgres"] = err.Error()
	} else {
		checks["postgres"] = "ok"
	}

	code := http.StatusOK
	c.JSON(code, gin.H{"status": status, "checks": checks})
}

// Handles GET /admin/providers. Lists configured providers with their
// breaker state.
func (h *SystemHandler) Providers(c *gin.Context) {
	breakers := h.forwarder.BreakerStates()

	providers := make([]gin.H, 0)
	for _, name := range h.registry.Names() {
		state, ok := breakers[name]
		if !ok {
			state = "closed"
		}
		providers = append(providers, gin.H{
			"name":    name,
			"breaker": state,
		})
	}

	c.JSON(http.StatusOK, providers)
}

// Handles POST /admin/providers/:provider/probe. Runs a live reachability
// check against the upstream.
func (h *SystemHandler) ProbeProvider(c *gin.Context) {
	name := c.Param("provider")

	prov := h.registry.Get(name)
	if prov == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{
			"message": "Unknown provider: " + name,
			"type":    "invalid_request_error",
		}})
		return
	}

	result := h.prober.Probe(c.Request.Context(), prov)
	c.JSON(http.StatusOK, result)
}

// Handles POST /admin/providers/:provider/reset. Manually closes the
// provider's circuit breaker.
func (h *SystemHandler) ResetBreaker(c *gin.Context) {
	name := c.Param("provider")

	if !h.forwarder.ResetBreaker(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{
			"message": "No breaker for provider: " + name,
			"type":    "invalid_request_error",
		}})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Circuit breaker reset", "provider": name})
}
