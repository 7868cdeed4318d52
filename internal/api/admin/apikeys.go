// Package admin implements the administrative HTTP handlers of the object log: users, groups,
// registered actions and API keys. Every route except API key self-service sits behind
// middleware.RequireSuperuser (see internal/api/router.go).
package admin

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/object-log/object-log/internal/auth"
	"github.com/object-log/object-log/internal/config"
	"github.com/object-log/object-log/internal/db/models"
	"github.com/object-log/object-log/internal/db/repositories"
	"github.com/object-log/object-log/internal/middleware"
)

// APIKeyHandlers handles API key self-service endpoints
type APIKeyHandlers struct {
	cfg        *config.Config
	apiKeyRepo *repositories.APIKeyRepository
}

// NewAPIKeyHandlers creates a new APIKeyHandlers instance
func NewAPIKeyHandlers(cfg *config.Config, db *sqlx.DB) *APIKeyHandlers {
	return &APIKeyHandlers{
		cfg:        cfg,
		apiKeyRepo: repositories.NewAPIKeyRepository(db),
	}
}

// CreateAPIKeyRequest represents the request to create a new API key
type CreateAPIKeyRequest struct {
	Name      string   `json:"name" binding:"required"`
	Scopes    []string `json:"scopes"`
	ExpiresAt *string  `json:"expires_at"` // RFC3339 format
}

// CreateAPIKeyResponse represents the response when creating an API key
type CreateAPIKeyResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Key       string     `json:"key"` // Only returned once during creation
	KeyPrefix string     `json:"key_prefix"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// ListAPIKeysHandler lists the caller's API keys
// GET /api/v1/apikeys
func (h *APIKeyHandlers) ListAPIKeysHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": middleware.MsgUnauthorized})
			return
		}

		keys, err := h.apiKeyRepo.ListByUser(c.Request.Context(), user.ID)
		if err != nil {
			slog.Error("failed to list API keys", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list API keys"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"api_keys": keys})
	}
}

// @Summary      Create API key
// @Description  Create an API key for the authenticated user. The full key is returned once. Only superusers may request the admin scope.
// @Tags         API Keys
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateAPIKeyRequest  true  "API key"
// @Success      201  {object}  CreateAPIKeyResponse
// @Failure      400  {object}  map[string]interface{}  "Invalid request or scopes"
// @Failure      403  {object}  map[string]interface{}  "Scope exceeds permissions"
// @Router       /api/v1/apikeys [post]
// CreateAPIKeyHandler creates a new API key owned by the caller
// POST /api/v1/apikeys
func (h *APIKeyHandlers) CreateAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.cfg.Auth.APIKeys.Enabled {
			c.JSON(http.StatusForbidden, gin.H{"error": "API keys are disabled"})
			return
		}

		var req CreateAPIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		user := middleware.CurrentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": middleware.MsgUnauthorized})
			return
		}

		scopes := req.Scopes
		if len(scopes) == 0 {
			scopes = auth.GetDefaultScopes()
		}
		if err := auth.ValidateScopes(scopes); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid scopes: " + err.Error()})
			return
		}
		if auth.HasScope(scopes, auth.ScopeAdmin) && !user.IsSuperuser {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only superusers may create keys with the admin scope"})
			return
		}

		var expiresAt *time.Time
		if req.ExpiresAt != nil {
			parsed, err := time.Parse(time.RFC3339, *req.ExpiresAt)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid expires_at format. Use RFC3339"})
				return
			}
			if !parsed.After(time.Now()) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be in the future"})
				return
			}
			expiresAt = &parsed
		}

		fullKey, keyHash, displayPrefix, err := auth.GenerateAPIKey(h.keyPrefix())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate API key"})
			return
		}

		apiKey := &models.APIKey{
			UserID:    user.ID,
			Name:      req.Name,
			KeyHash:   keyHash,
			KeyPrefix: displayPrefix,
			Scopes:    scopes,
			ExpiresAt: expiresAt,
		}
		if err := h.apiKeyRepo.Create(c.Request.Context(), apiKey); err != nil {
			slog.Error("failed to create API key", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create API key"})
			return
		}

		c.JSON(http.StatusCreated, CreateAPIKeyResponse{
			ID:        apiKey.ID,
			Name:      apiKey.Name,
			Key:       fullKey,
			KeyPrefix: displayPrefix,
			Scopes:    apiKey.Scopes,
			ExpiresAt: apiKey.ExpiresAt,
			CreatedAt: apiKey.CreatedAt,
		})
	}
}

// keyPrefix is the configured prefix without its separator.
func (h *APIKeyHandlers) keyPrefix() string {
	p := strings.TrimSuffix(h.cfg.Auth.APIKeys.Prefix, "_")
	if p == "" {
		return auth.DefaultAPIKeyPrefix
	}
	return p
}

// DeleteAPIKeyHandler revokes one of the caller's API keys
// DELETE /api/v1/apikeys/:id
func (h *APIKeyHandlers) DeleteAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": middleware.MsgUnauthorized})
			return
		}

		deleted, err := h.apiKeyRepo.Delete(c.Request.Context(), c.Param("id"), user.ID)
		if err != nil {
			slog.Error("failed to delete API key", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete API key"})
			return
		}
		// another user's key is reported as missing
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "API key deleted successfully"})
	}
}
