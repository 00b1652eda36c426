package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fe-row/AEGIS/internal/domain/pipeline"
	"github.com/fe-row/AEGIS/internal/domain/policy"
)

const (
	// defaultPermissionTTL is how long a lookup result stays cached
	// before the store consults the grant table again.
	defaultPermissionTTL = 5 * time.Minute

	// maxPermissionCacheSize bounds the lookup cache. The cache is
	// cleared wholesale when it fills; grants themselves are never
	// evicted.
	maxPermissionCacheSize = 4096
)

// permissionCacheEntry is one cached lookup result. Misses are cached
// too so repeated probes for unknown pairs stay cheap.
type permissionCacheEntry struct {
	perm    policy.Permission
	ok      bool
	expires time.Time
}

// PermissionStore holds agent permission grants keyed by agent and
// service, seeded from configuration at boot. Lookups go through a TTL
// cache that is invalidated on any administrative mutation.
// Thread-safe for concurrent access.
type PermissionStore struct {
	grants map[string]map[string]policy.Permission // agentID -> service -> grant
	cache  map[string]permissionCacheEntry         // agentID + "\x00" + service
	ttl    time.Duration
	now    func() time.Time
	mu     sync.RWMutex
}

// PermissionStoreConfig holds tunables for the permission store.
type PermissionStoreConfig struct {
	// TTL is how long lookup results stay cached. Zero means the
	// default of 5 minutes.
	TTL time.Duration
}

// NewPermissionStore creates a permission store with default settings.
func NewPermissionStore() *PermissionStore {
	return NewPermissionStoreWithConfig(PermissionStoreConfig{})
}

// NewPermissionStoreWithConfig creates a permission store with the
// given configuration.
func NewPermissionStoreWithConfig(cfg PermissionStoreConfig) *PermissionStore {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultPermissionTTL
	}
	return &PermissionStore{
		grants: make(map[string]map[string]policy.Permission),
		cache:  make(map[string]permissionCacheEntry),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Lookup returns the active grant for the agent/service pair. The second
// return is false when no active grant covers the pair.
func (s *PermissionStore) Lookup(ctx context.Context, agentID, service string) (policy.Permission, bool) {
	key := agentID + "\x00" + service

	s.mu.RLock()
	entry, cached := s.cache[key]
	now := s.now()
	if cached && now.Before(entry.expires) {
		s.mu.RUnlock()
		return entry.perm, entry.ok
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have refreshed the entry between locks.
	if entry, cached := s.cache[key]; cached && now.Before(entry.expires) {
		return entry.perm, entry.ok
	}

	perm, ok := s.resolveLocked(agentID, service)
	if len(s.cache) >= maxPermissionCacheSize {
		s.cache = make(map[string]permissionCacheEntry)
	}
	s.cache[key] = permissionCacheEntry{perm: perm, ok: ok, expires: now.Add(s.ttl)}
	return perm, ok
}

// resolveLocked consults the grant table. Caller must hold the lock.
func (s *PermissionStore) resolveLocked(agentID, service string) (policy.Permission, bool) {
	byService, ok := s.grants[agentID]
	if !ok {
		return policy.Permission{}, false
	}
	perm, ok := byService[service]
	if !ok || !perm.Active {
		return policy.Permission{}, false
	}
	return copyPermission(perm), true
}

// Grant adds or replaces a permission for the agent. The grant's Service
// field keys it; any cached lookup results are invalidated.
func (s *PermissionStore) Grant(agentID string, perm policy.Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byService, ok := s.grants[agentID]
	if !ok {
		byService = make(map[string]policy.Permission)
		s.grants[agentID] = byService
	}
	byService[perm.Service] = copyPermission(perm)
	s.invalidateLocked()
}

// Revoke removes the agent's grant for a service. Cached lookup results
// are invalidated. Revoking an absent grant is a no-op.
func (s *PermissionStore) Revoke(agentID, service string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if byService, ok := s.grants[agentID]; ok {
		delete(byService, service)
		if len(byService) == 0 {
			delete(s.grants, agentID)
		}
	}
	s.invalidateLocked()
}

// Permissions returns all grants for the agent, active or not.
func (s *PermissionStore) Permissions(agentID string) []policy.Permission {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byService, ok := s.grants[agentID]
	if !ok {
		return nil
	}
	result := make([]policy.Permission, 0, len(byService))
	for _, perm := range byService {
		result = append(result, copyPermission(perm))
	}
	return result
}

// invalidateLocked drops the lookup cache. Caller must hold the lock.
func (s *PermissionStore) invalidateLocked() {
	s.cache = make(map[string]permissionCacheEntry)
}

// copyPermission returns a deep copy so callers cannot mutate stored
// grants through the shared AllowedActions slice.
func copyPermission(p policy.Permission) policy.Permission {
	permCopy := p
	permCopy.AllowedActions = make([]string, len(p.AllowedActions))
	copy(permCopy.AllowedActions, p.AllowedActions)
	return permCopy
}

// Compile-time interface verification.
var _ pipeline.PermissionSource = (*PermissionStore)(nil)
