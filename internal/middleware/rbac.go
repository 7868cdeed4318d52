// rbac.go holds the authorization wrappers. RequireSuperuser is the one admin gate placed in
// front of every admin-only view, in both its HTML and JSON form.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/object-log/object-log/internal/auth"
)

// RequireSuperuser lets only superusers through. Anonymous callers and regular users get 403
// whatever the request parameters; API keys must also carry the admin scope.
func RequireSuperuser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil || !user.IsSuperuser {
			AbortWithError(c, http.StatusForbidden, MsgForbidden)
			return
		}
		if c.GetString(ContextKeyAuthMethod) == AuthMethodAPIKey && !auth.HasScope(CurrentScopes(c), auth.ScopeAdmin) {
			AbortWithError(c, http.StatusForbidden, MsgForbidden)
			return
		}
		c.Next()
	}
}

// RequireScope checks if the authenticated caller has the required scope
func RequireScope(scope auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUser(c) == nil {
			AbortWithError(c, http.StatusUnauthorized, MsgUnauthorized)
			return
		}
		if !auth.HasScope(CurrentScopes(c), scope) {
			AbortWithError(c, http.StatusForbidden, "Missing required scope: "+string(scope))
			return
		}
		c.Next()
	}
}
