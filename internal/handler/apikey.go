package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/inference-gate/llm-gateway/internal/middleware"
	"github.com/inference-gate/llm-gateway/internal/service"
)

type APIKeyHandler struct {
	service *service.APIKeyService
}

func NewAPIKeyHandler(service *service.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{service: service}
}

// Handles POST /api/keys. Issues a key for the authenticated caller at their
// own tier, within the tier's key quota.
func (h *APIKeyHandler) Create(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	if id.IsAnonymous() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{
			"message": "Authentication required",
			"type":    "invalid_request_error",
		}})
		return
	}

	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
			"message": err.Error(),
			"type":    "invalid_request_error",
		}})
		return
	}

	key, record, err := h.service.Create(c.Request.Context(), id.UserID, req.Name, id.Tier)
	if errors.Is(err, service.ErrKeyQuotaExceeded) {
		c.JSON(http.StatusForbidden, gin.H{"error": gin.H{
			"message": "API key quota exceeded for your tier",
			"type":    "permission_error",
		}})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"key":     key,
		"id":      record.ID,
		"prefix":  record.Prefix,
		"message": "Save this key - it won't be shown again",
	})
}

// Handles GET /api/keys.
func (h *APIKeyHandler) List(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	if id.IsAnonymous() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{
			"message": "Authentication required",
			"type":    "invalid_request_error",
		}})
		return
	}

	keys, err := h.service.ListByUser(c.Request.Context(), id.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}

	c.JSON(http.StatusOK, keys)
}

// Handles POST /admin/keys/prune. Sweeps temporary keys past their expiry.
func (h *APIKeyHandler) PruneExpired(c *gin.Context) {
	deleted, err := h.service.PruneExpired(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// Handles DELETE /api/keys/:id. Callers can only delete their own keys.
func (h *APIKeyHandler) Delete(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	if id.IsAnonymous() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{
			"message": "Authentication required",
			"type":    "invalid_request_error",
		}})
		return
	}

	keyID := c.Param("id")

	keys, err := h.service.ListByUser(c.Request.Context(), id.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}

	owned := false
	for _, k := range keys {
		if k.ID.String() == keyID {
			owned = true
			break
		}
	}
	if !owned {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{
			"message": "API key not found",
			"type":    "invalid_request_error",
		}})
		return
	}

	if err := h.service.Delete(c.Request.Context(), keyID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key deleted successfully"})
}
