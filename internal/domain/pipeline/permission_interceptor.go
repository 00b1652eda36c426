package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fe-row/AEGIS/internal/domain/policy"
	"github.com/fe-row/AEGIS/internal/domain/risk"
)

// PermissionSource looks up the active grant for an agent/service pair.
// This interface is satisfied by memory.PermissionStore.
type PermissionSource interface {
	// Lookup returns the grant and true, or false when no active grant
	// covers the pair.
	Lookup(ctx context.Context, agentID, service string) (policy.Permission, bool)
}

// PermissionInterceptor resolves the grant the rest of the chain evaluates
// under. No grant means a hard block. The action's risk level is classified
// here, once the request is known to be in scope.
type PermissionInterceptor struct {
	source PermissionSource
	next   Interceptor
	logger *slog.Logger
}

// NewPermissionInterceptor creates a new PermissionInterceptor.
func NewPermissionInterceptor(source PermissionSource, next Interceptor, logger *slog.Logger) *PermissionInterceptor {
	return &PermissionInterceptor{
		source: source,
		next:   next,
		logger: logger,
	}
}

// Intercept resolves the permission, classifies risk, and clamps the
// requested record count to the grant's cap.
func (p *PermissionInterceptor) Intercept(ctx context.Context, st *State) error {
	st.Stage = StagePermission
	req := st.Request

	perm, ok := p.source.Lookup(ctx, req.AgentID, req.Service)
	if !ok {
		p.logger.Info("no permission for service",
			"agent_id", req.AgentID,
			"service", req.Service)
		return fmt.Errorf("%w: No permission for service: %s", ErrNoPermission, req.Service)
	}
	st.Permission = &perm
	st.Risk = risk.Classify(req.Action)

	if perm.MaxRecordsPerRequest > 0 && req.Records > perm.MaxRecordsPerRequest {
		p.logger.Debug("records clamped to permission cap",
			"agent_id", req.AgentID,
			"requested", req.Records,
			"cap", perm.MaxRecordsPerRequest)
		req.Records = perm.MaxRecordsPerRequest
	}

	return p.next.Intercept(ctx, st)
}

// Compile-time check that PermissionInterceptor implements Interceptor.
var _ Interceptor = (*PermissionInterceptor)(nil)
