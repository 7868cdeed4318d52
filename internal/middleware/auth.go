// Package middleware provides the Gin middleware of the object log service: authentication,
// the admin gate, rate limiting, security headers, request ids and metrics.
//
// Order, as wired in internal/api/router.go:
//
//	Recovery → RequestID → Metrics → Logger → Security → Auth → RateLimit → RequireSuperuser/RequireScope → Handler
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/object-log/object-log/internal/auth"
	"github.com/object-log/object-log/internal/db/models"
	"github.com/object-log/object-log/internal/db/repositories"
	"github.com/object-log/object-log/internal/safego"
)

// SessionCookie carries a session JWT for browser access to the HTML views.
const SessionCookie = "objlog_session"

// Context keys set by the auth middleware.
const (
	ContextKeyUser       = "user"
	ContextKeyUserID     = "user_id"
	ContextKeyAuthMethod = "auth_method"
	ContextKeyScopes     = "scopes"
	ContextKeyAPIKeyID   = "api_key_id"
)

// Auth methods stored under ContextKeyAuthMethod.
const (
	AuthMethodJWT    = "jwt"
	AuthMethodAPIKey = "api_key"
)

var (
	errNoCredentials      = errors.New("no credentials")
	errInvalidCredentials = errors.New("invalid credentials")
	errKeyExpired         = errors.New("API key expired")
	errUserInactive       = errors.New("user is inactive")
)

type identity struct {
	user   *models.User
	apiKey *models.APIKey
	method string
	scopes []string
}

// AuthMiddleware requires a valid JWT or API key in the Authorization header and aborts with
// 401 otherwise. The session cookie is not accepted here, so a cross-site form cannot drive
// the API with a browser session.
func AuthMiddleware(userRepo *repositories.UserRepository, apiKeyRepo *repositories.APIKeyRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := authenticate(c, userRepo, apiKeyRepo, false)
		switch {
		case err == nil:
			setIdentity(c, id)
			c.Next()
		case errors.Is(err, errNoCredentials):
			AbortWithError(c, http.StatusUnauthorized, MsgUnauthorized)
		case errors.Is(err, errInvalidCredentials), errors.Is(err, errKeyExpired), errors.Is(err, errUserInactive):
			AbortWithError(c, http.StatusUnauthorized, err.Error())
		default:
			slog.Error("authentication failed", "error", err, "request_id", c.GetString(RequestIDKey))
			AbortWithError(c, http.StatusInternalServerError, "Authentication failed")
		}
	}
}

// OptionalAuthMiddleware sets the identity when valid credentials are present and otherwise
// continues anonymously. It also reads the session cookie; use it only on read-only page routes.
func OptionalAuthMiddleware(userRepo *repositories.UserRepository, apiKeyRepo *repositories.APIKeyRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := authenticate(c, userRepo, apiKeyRepo, true)
		if err == nil {
			setIdentity(c, id)
		} else if !errors.Is(err, errNoCredentials) {
			slog.Debug("ignoring invalid credentials", "error", err)
		}
		c.Next()
	}
}

// credential returns the bearer token, falling back to the session cookie when allowCookie.
func credential(c *gin.Context, allowCookie bool) (string, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		token, err := auth.ExtractBearerToken(header)
		if err != nil {
			return "", errInvalidCredentials
		}
		return token, nil
	}
	if !allowCookie {
		return "", errNoCredentials
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie, nil
	}
	return "", errNoCredentials
}

func authenticate(c *gin.Context, userRepo *repositories.UserRepository, apiKeyRepo *repositories.APIKeyRepository, allowCookie bool) (*identity, error) {
	token, err := credential(c, allowCookie)
	if err != nil {
		return nil, err
	}
	ctx := c.Request.Context()

	// JWT needs no database round-trip to verify, so it is tried first.
	if claims, err := auth.ValidateJWT(token); err == nil {
		user, err := activeUser(ctx, userRepo, claims.UserID)
		if err != nil {
			return nil, err
		}
		return &identity{user: user, method: AuthMethodJWT, scopes: auth.SessionScopes(user.IsSuperuser)}, nil
	}

	// nil when API keys are disabled
	if apiKeyRepo == nil {
		return nil, errInvalidCredentials
	}
	apiKey, err := authenticateAPIKey(ctx, token, apiKeyRepo)
	if err != nil {
		return nil, err
	}
	if apiKey == nil {
		return nil, errInvalidCredentials
	}
	if apiKey.IsExpired(time.Now()) {
		return nil, errKeyExpired
	}

	user, err := activeUser(ctx, userRepo, apiKey.UserID)
	if err != nil {
		return nil, err
	}

	keyID := apiKey.ID
	safego.Go(safego.TaskAPIKeyLastUsed, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiKeyRepo.UpdateLastUsed(ctx, keyID); err != nil {
			slog.Warn("failed to update API key last use", "api_key_id", keyID, "error", err)
		}
	})

	return &identity{user: user, apiKey: apiKey, method: AuthMethodAPIKey, scopes: apiKey.Scopes}, nil
}

func activeUser(ctx context.Context, userRepo *repositories.UserRepository, userID string) (*models.User, error) {
	user, err := userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errInvalidCredentials
	}
	if !user.IsActive {
		return nil, errUserInactive
	}
	return user, nil
}

// authenticateAPIKey narrows candidates by the stored plaintext prefix and then runs bcrypt
// only on those rows. It returns (nil, nil) when no key matches.
func authenticateAPIKey(ctx context.Context, providedKey string, apiKeyRepo *repositories.APIKeyRepository) (*models.APIKey, error) {
	keys, err := apiKeyRepo.GetAPIKeysByPrefix(ctx, auth.KeyPrefix(providedKey))
	if err != nil {
		return nil, err
	}

	for _, key := range keys {
		if auth.ValidateAPIKey(providedKey, key.KeyHash) {
			return key, nil
		}
	}

	return nil, nil
}

func setIdentity(c *gin.Context, id *identity) {
	c.Set(ContextKeyUser, id.user)
	c.Set(ContextKeyUserID, id.user.ID)
	c.Set(ContextKeyAuthMethod, id.method)
	c.Set(ContextKeyScopes, id.scopes)
	if id.apiKey != nil {
		c.Set(ContextKeyAPIKeyID, id.apiKey.ID)
	}
}

// CurrentUser returns the authenticated user, or nil.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(ContextKeyUser)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}

// CurrentScopes returns the scopes of the authenticated caller.
func CurrentScopes(c *gin.Context) []string {
	v, ok := c.Get(ContextKeyScopes)
	if !ok {
		return nil
	}
	scopes, _ := v.([]string)
	return scopes
}
