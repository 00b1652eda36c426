package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fe-row/AEGIS/internal/domain/breaker"
)

// BreakerInterceptor asks the spending circuit breaker whether this
// request's cost, on top of the current window, trips the velocity or
// baseline rule. A trip blocks the request; the owning service reacts to
// the trip (wallet freeze, trust penalty, quarantine) when it sees
// ErrBreakerTripped.
type BreakerInterceptor struct {
	breaker *breaker.Breaker
	next    Interceptor
	logger  *slog.Logger
}

// NewBreakerInterceptor creates a new BreakerInterceptor.
func NewBreakerInterceptor(br *breaker.Breaker, next Interceptor, logger *slog.Logger) *BreakerInterceptor {
	return &BreakerInterceptor{
		breaker: br,
		next:    next,
		logger:  logger,
	}
}

// Intercept blocks when the proposed spend trips the breaker.
func (b *BreakerInterceptor) Intercept(ctx context.Context, st *State) error {
	st.Stage = StageBreaker
	req := st.Request

	if b.breaker.CheckAndTrip(req.AgentID, req.EstimatedCost) {
		b.logger.Warn("circuit breaker tripped",
			"agent_id", req.AgentID,
			"estimated_cost", req.EstimatedCost)
		return fmt.Errorf("%w: spend velocity for agent %s", ErrBreakerTripped, req.AgentID)
	}

	return b.next.Intercept(ctx, st)
}

// Compile-time check that BreakerInterceptor implements Interceptor.
var _ Interceptor = (*BreakerInterceptor)(nil)
