// Package models defines the database model types for the object log.
// Each type corresponds to a database table. Models are pure data types: validation belongs
// in the objectlog service and query logic in the repositories layer.
package models

import "time"

// APIKey is a long-lived credential a host application uses to record entries on behalf of
// a user.
type APIKey struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`          // bcrypt hash of the full key
	KeyPrefix  string     `json:"key_prefix"` // first 10 chars, e.g. "olk_a1b2c3"
	Scopes     []string   `json:"scopes"`     // JSONB array: ["log:read", "log:write"]
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsExpired reports whether the key has an expiry in the past.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
