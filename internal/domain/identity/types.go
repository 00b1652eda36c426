// Package identity contains the domain types and logic for agent
// authentication.
package identity

import (
	"time"
)

// Agent represents a registered autonomous agent.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string
	// Name is the display name for this agent.
	Name string
	// Active indicates whether the agent may act at all.
	Active bool
	// CreatedAt is when the agent was registered (UTC).
	CreatedAt time.Time
}

// APIKey represents an agent API key.
type APIKey struct {
	// Key is the hashed key value (SHA-256 hex or Argon2id PHC format).
	Key string
	// AgentID maps this key to an Agent.
	AgentID string
	// Name is a human-readable label for this key.
	Name string
	// CreatedAt is when the key was created (UTC).
	CreatedAt time.Time
	// ExpiresAt is when the key expires (nil = never expires).
	ExpiresAt *time.Time
	// Revoked indicates if the key has been revoked.
	Revoked bool
}

// IsExpired returns true if the API key has expired.
// A key with nil ExpiresAt never expires.
func (k *APIKey) IsExpired() bool {
	if k.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*k.ExpiresAt)
}
