// Package auth - scopes.go defines the permission scopes an API key or session can carry and
// the helpers used to check them.
package auth

import (
	"errors"
	"fmt"
)

// Scope represents a permission/scope type
type Scope string

const (
	// ScopeLogRead allows reading object log entries the caller is otherwise permitted to see
	ScopeLogRead Scope = "log:read"
	// ScopeLogWrite allows recording entries on behalf of the authenticated user
	ScopeLogWrite Scope = "log:write"

	// Admin scope (wildcard - all permissions)
	ScopeAdmin Scope = "admin"
)

// AllScopes returns all valid scopes
func AllScopes() []Scope {
	return []Scope{
		ScopeLogRead,
		ScopeLogWrite,
		ScopeAdmin,
	}
}

// ValidScopes returns a map of valid scope strings
func ValidScopes() map[string]bool {
	validScopes := make(map[string]bool)
	for _, scope := range AllScopes() {
		validScopes[string(scope)] = true
	}
	return validScopes
}

// ValidateScopes checks if all provided scopes are valid
func ValidateScopes(scopes []string) error {
	validScopes := ValidScopes()

	for _, scope := range scopes {
		if !validScopes[scope] {
			return fmt.Errorf("invalid scope: %s", scope)
		}
	}

	return nil
}

// HasScope checks if a user has a required scope.
// admin grants everything and log:write implies log:read.
func HasScope(userScopes []string, required Scope) bool {
	requiredStr := string(required)

	for _, scope := range userScopes {
		if scope == requiredStr || scope == string(ScopeAdmin) {
			return true
		}
		if required == ScopeLogRead && scope == string(ScopeLogWrite) {
			return true
		}
	}

	return false
}

// HasAnyScope checks if a user has at least one of the required scopes
func HasAnyScope(userScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if HasScope(userScopes, required) {
			return true
		}
	}
	return false
}

// HasAllScopes checks if a user has all of the required scopes
func HasAllScopes(userScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if !HasScope(userScopes, required) {
			return false
		}
	}
	return true
}

// GetDefaultScopes returns default scopes for a new API key
func GetDefaultScopes() []string {
	return []string{string(ScopeLogWrite)}
}

// SessionScopes returns the scopes granted to a JWT session.
func SessionScopes(isSuperuser bool) []string {
	scopes := []string{string(ScopeLogRead), string(ScopeLogWrite)}
	if isSuperuser {
		scopes = append(scopes, string(ScopeAdmin))
	}
	return scopes
}

// ValidateScopeString validates a single scope string
func ValidateScopeString(scope string) error {
	validScopes := ValidScopes()
	if !validScopes[scope] {
		return errors.New("invalid scope")
	}
	return nil
}
