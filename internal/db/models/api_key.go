package models

import "time"

// APIKey represents an API key for authentication
type APIKey struct {
	ID         string     `json:"id" db:"id"`
	UserID     string     `json:"user_id" db:"user_id"`
	Name       string     `json:"name" db:"name"`            // Friendly name (e.g., "CI publisher")
	KeyHash    string     `json:"-" db:"key_hash"`           // Bcrypt hash of the full key
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"` // First chars for display and lookup
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// IsExpired reports whether the key has an expiry in the past.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
