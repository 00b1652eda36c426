package memory

import (
	"context"
	"sync"

	"github.com/fe-row/AEGIS/internal/domain/identity"
)

// CredentialStore implements identity.Store with in-memory maps seeded
// from configuration at boot. Thread-safe for concurrent access.
type CredentialStore struct {
	keys   map[string]*identity.APIKey // keyHash -> APIKey
	agents map[string]*identity.Agent  // ID -> Agent
	mu     sync.RWMutex
}

// NewCredentialStore creates a new in-memory credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		keys:   make(map[string]*identity.APIKey),
		agents: make(map[string]*identity.Agent),
	}
}

// GetAPIKey retrieves an API key by its hash.
// Returns identity.ErrKeyNotFound if the key doesn't exist.
func (s *CredentialStore) GetAPIKey(ctx context.Context, keyHash string) (*identity.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[keyHash]
	if !ok {
		return nil, identity.ErrKeyNotFound
	}

	// Return a copy to prevent mutation
	keyCopy := *key
	return &keyCopy, nil
}

// GetAgent retrieves an agent by ID.
// Returns identity.ErrAgentNotFound if the agent doesn't exist.
func (s *CredentialStore) GetAgent(ctx context.Context, id string) (*identity.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agents[id]
	if !ok {
		return nil, identity.ErrAgentNotFound
	}

	// Return a copy to prevent mutation
	agentCopy := *agent
	return &agentCopy, nil
}

// ListAgents returns all registered agents.
func (s *CredentialStore) ListAgents(ctx context.Context) ([]identity.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]identity.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		result = append(result, *a)
	}
	return result, nil
}

// ListAPIKeys returns all stored API keys for iteration-based verification.
func (s *CredentialStore) ListAPIKeys(ctx context.Context) ([]*identity.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*identity.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		keyCopy := *k
		result = append(result, &keyCopy)
	}
	return result, nil
}

// AddAgent adds an agent (for seeding from config).
func (s *CredentialStore) AddAgent(agent *identity.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agentCopy := *agent
	s.agents[agent.ID] = &agentCopy
}

// AddKey adds an API key (for seeding from config).
func (s *CredentialStore) AddKey(key *identity.APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyCopy := *key
	s.keys[key.Key] = &keyCopy
}

// RevokeKey marks the key with the given hash as revoked.
// Returns identity.ErrKeyNotFound if the key doesn't exist.
func (s *CredentialStore) RevokeKey(keyHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[keyHash]
	if !ok {
		return identity.ErrKeyNotFound
	}
	key.Revoked = true
	return nil
}

// Compile-time interface verification.
var _ identity.Store = (*CredentialStore)(nil)
