package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fe-row/AEGIS/internal/adapter/outbound/memory"
	"github.com/fe-row/AEGIS/internal/domain/anomaly"
	"github.com/fe-row/AEGIS/internal/domain/breaker"
	"github.com/fe-row/AEGIS/internal/domain/identity"
	"github.com/fe-row/AEGIS/internal/domain/pipeline"
	"github.com/fe-row/AEGIS/internal/domain/policy"
	"github.com/fe-row/AEGIS/internal/domain/trust"
	"github.com/fe-row/AEGIS/internal/domain/wallet"
)

// WalletSeed is an agent's boot-time wallet configuration.
type WalletSeed struct {
	Balance      float64
	DailyLimit   float64
	MonthlyLimit float64
}

// ProfileSeed is an agent's configured behavior baseline.
type ProfileSeed struct {
	TypicalServices    []string
	TypicalHours       []int
	AvgRequestsPerHour float64
}

// AgentSeed is one agent's full boot-time registration: identity,
// credentials, trust seed, wallet, permission grants, and optionally a
// behavior baseline. Assembled from config by the loader.
type AgentSeed struct {
	ID          string
	Name        string
	Type        string
	TrustScore  float64
	KeyHashes   []string
	Wallet      WalletSeed
	Permissions []policy.Permission
	Profile     *ProfileSeed
}

// AgentRegistry is the registration hub: it seeds the credential store,
// trust engine, wallet ledger, permission store, anomaly profiles, and
// breaker baselines from config, and resolves agents for the pipeline.
// There is no persistence; a restart re-seeds from config.
type AgentRegistry struct {
	creds       *memory.CredentialStore
	verifier    *identity.Service
	permissions *memory.PermissionStore
	trust       *trust.Engine
	wallet      *wallet.Ledger
	anomaly     *anomaly.Detector
	breaker     *breaker.Breaker
	logger      *slog.Logger

	mu    sync.RWMutex
	seeds map[string]AgentSeed
}

// NewAgentRegistry creates a registry over the given stores. The anomaly
// detector and breaker may be nil when those subsystems are disabled.
func NewAgentRegistry(
	creds *memory.CredentialStore,
	permissions *memory.PermissionStore,
	trustEngine *trust.Engine,
	ledger *wallet.Ledger,
	detector *anomaly.Detector,
	spendBreaker *breaker.Breaker,
	logger *slog.Logger,
) *AgentRegistry {
	return &AgentRegistry{
		creds:       creds,
		verifier:    identity.NewService(creds),
		permissions: permissions,
		trust:       trustEngine,
		wallet:      ledger,
		anomaly:     detector,
		breaker:     spendBreaker,
		logger:      logger,
		seeds:       make(map[string]AgentSeed),
	}
}

// Register seeds every subsystem for one agent. An empty ID gets a fresh
// UUID; a zero trust score falls back to the initial score. Re-registering
// an ID overwrites its previous seeds.
func (r *AgentRegistry) Register(seed AgentSeed) (string, error) {
	if seed.Name == "" {
		return "", fmt.Errorf("register agent: name is required")
	}
	if seed.ID == "" {
		seed.ID = uuid.NewString()
	}
	if seed.TrustScore == 0 {
		seed.TrustScore = trust.InitialScore
	}

	r.creds.AddAgent(&identity.Agent{
		ID:        seed.ID,
		Name:      seed.Name,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
	for i, hash := range seed.KeyHashes {
		r.creds.AddKey(&identity.APIKey{
			Key:       hash,
			AgentID:   seed.ID,
			Name:      fmt.Sprintf("%s-key-%d", seed.Name, i+1),
			CreatedAt: time.Now().UTC(),
		})
	}

	r.trust.Seed(seed.ID, seed.TrustScore)
	r.wallet.Seed(seed.ID, seed.Wallet.Balance, seed.Wallet.DailyLimit, seed.Wallet.MonthlyLimit)

	for _, perm := range seed.Permissions {
		r.permissions.Grant(seed.ID, perm)
	}

	if r.anomaly != nil {
		if seed.Profile != nil {
			r.anomaly.SeedProfile(seed.ID, seed.Profile.TypicalServices, seed.Profile.TypicalHours, seed.Profile.AvgRequestsPerHour)
		} else {
			r.anomaly.EnsureProfile(seed.ID)
		}
	}
	if r.breaker != nil && seed.Profile != nil && seed.Profile.AvgRequestsPerHour > 0 {
		// Expected per-window spend approximated from the hourly request
		// rate; refined by RecordSpend as real charges arrive.
		r.breaker.SetBaseline(seed.ID, seed.Profile.AvgRequestsPerHour)
	}

	r.mu.Lock()
	r.seeds[seed.ID] = seed
	r.mu.Unlock()

	r.logger.Info("agent registered",
		"agent_id", seed.ID,
		"name", seed.Name,
		"trust", seed.TrustScore,
		"permissions", len(seed.Permissions),
	)
	return seed.ID, nil
}

// Agent returns the agent record for an ID.
func (r *AgentRegistry) Agent(ctx context.Context, agentID string) (*identity.Agent, error) {
	return r.creds.GetAgent(ctx, agentID)
}

// VerifyKey resolves the agent owning a cleartext API key.
func (r *AgentRegistry) VerifyKey(ctx context.Context, rawKey string) (*identity.Agent, error) {
	return r.verifier.Validate(ctx, rawKey)
}

// List returns all registered agents.
func (r *AgentRegistry) List(ctx context.Context) ([]identity.Agent, error) {
	return r.creds.ListAgents(ctx)
}

// Deactivate marks an agent inactive. The pipeline refuses requests from
// inactive agents at the identify stage.
func (r *AgentRegistry) Deactivate(ctx context.Context, agentID string) error {
	agent, err := r.creds.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	agent.Active = false
	r.creds.AddAgent(agent)
	r.logger.Warn("agent deactivated", "agent_id", agentID)
	return nil
}

// Seed returns the boot-time seed for an agent.
func (r *AgentRegistry) Seed(agentID string) (AgentSeed, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seed, ok := r.seeds[agentID]
	return seed, ok
}

// Compile-time interface verification.
var _ pipeline.Directory = (*AgentRegistry)(nil)
