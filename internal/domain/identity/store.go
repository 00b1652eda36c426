package identity

import (
	"context"
	"errors"
)

// Sentinel errors for identity store operations.
var (
	// ErrAgentNotFound is returned when an agent is not found.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrKeyNotFound is returned when an API key is not found.
	ErrKeyNotFound = errors.New("API key not found")
)

// Store provides credential lookup for agent authentication.
// This interface is defined in the domain to avoid circular imports.
type Store interface {
	// GetAPIKey retrieves an API key by its hash.
	// Returns ErrKeyNotFound if the key doesn't exist.
	GetAPIKey(ctx context.Context, keyHash string) (*APIKey, error)

	// GetAgent retrieves an agent by ID.
	// Returns ErrAgentNotFound if the agent doesn't exist.
	GetAgent(ctx context.Context, id string) (*Agent, error)

	// ListAgents returns all registered agents.
	ListAgents(ctx context.Context) ([]Agent, error)

	// ListAPIKeys returns all stored API keys for iteration-based
	// verification.
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
}
