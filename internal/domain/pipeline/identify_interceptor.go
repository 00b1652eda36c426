package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fe-row/AEGIS/internal/domain/identity"
	"github.com/fe-row/AEGIS/internal/domain/trust"
)

// Directory resolves agents and verifies credentials.
// This interface is satisfied by service.AgentRegistry.
type Directory interface {
	// Agent returns the agent record for an ID.
	Agent(ctx context.Context, agentID string) (*identity.Agent, error)
	// VerifyKey resolves the agent owning a cleartext API key.
	VerifyKey(ctx context.Context, rawKey string) (*identity.Agent, error)
}

// IdentifyInterceptor resolves the requesting agent and, when credential
// checks are enforced, verifies the presented API key belongs to it.
type IdentifyInterceptor struct {
	directory  Directory
	trust      *trust.Engine
	requireKey bool
	next       Interceptor
	logger     *slog.Logger
}

// NewIdentifyInterceptor creates a new IdentifyInterceptor. With requireKey
// set, requests without a valid API key for the claimed agent are refused.
func NewIdentifyInterceptor(directory Directory, trustEngine *trust.Engine, requireKey bool, next Interceptor, logger *slog.Logger) *IdentifyInterceptor {
	return &IdentifyInterceptor{
		directory:  directory,
		trust:      trustEngine,
		requireKey: requireKey,
		next:       next,
		logger:     logger,
	}
}

// Intercept resolves the agent, snapshots its trust score, and enforces
// the credential when required.
func (i *IdentifyInterceptor) Intercept(ctx context.Context, st *State) error {
	st.Stage = StageIdentify
	req := st.Request

	agent, err := i.directory.Agent(ctx, req.AgentID)
	if err != nil {
		i.logger.Warn("unknown agent", "agent_id", req.AgentID)
		return fmt.Errorf("%w: %s", ErrUnauthorized, req.AgentID)
	}
	if !agent.Active {
		i.logger.Warn("inactive agent", "agent_id", req.AgentID)
		return fmt.Errorf("%w: agent %s is inactive", ErrUnauthorized, req.AgentID)
	}

	if i.requireKey {
		owner, err := i.directory.VerifyKey(ctx, req.APIKey)
		if err != nil {
			i.logger.Warn("credential rejected", "agent_id", req.AgentID)
			return fmt.Errorf("%w: invalid credential", ErrUnauthorized)
		}
		if owner.ID != agent.ID {
			i.logger.Warn("credential belongs to another agent",
				"agent_id", req.AgentID,
				"key_owner", owner.ID)
			return fmt.Errorf("%w: credential mismatch", ErrUnauthorized)
		}
	}

	st.Agent = agent
	if score, err := i.trust.Score(agent.ID); err == nil {
		st.Trust = score
	}

	return i.next.Intercept(ctx, st)
}

// Compile-time check that IdentifyInterceptor implements Interceptor.
var _ Interceptor = (*IdentifyInterceptor)(nil)
