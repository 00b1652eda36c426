package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fe-row/AEGIS/internal/domain/anomaly"
	"github.com/fe-row/AEGIS/internal/domain/breaker"
	"github.com/fe-row/AEGIS/internal/domain/ratelimit"
	"github.com/fe-row/AEGIS/internal/domain/trust"
	"github.com/fe-row/AEGIS/internal/domain/wallet"
)

// SettleInterceptor applies the side effects of an authorized action, in
// order: charge the wallet, record the spend for the breaker window,
// record the action in the behavior profile, reward trust, and bump the
// hourly counter. It terminates the chain.
type SettleInterceptor struct {
	ledger   *wallet.Ledger
	breaker  *breaker.Breaker
	detector *anomaly.Detector
	trust    *trust.Engine
	counter  ratelimit.HourlyCounter
	logger   *slog.Logger
}

// NewSettleInterceptor creates a new SettleInterceptor.
func NewSettleInterceptor(ledger *wallet.Ledger, br *breaker.Breaker, detector *anomaly.Detector, trustEngine *trust.Engine, counter ratelimit.HourlyCounter, logger *slog.Logger) *SettleInterceptor {
	return &SettleInterceptor{
		ledger:   ledger,
		breaker:  br,
		detector: detector,
		trust:    trustEngine,
		counter:  counter,
		logger:   logger,
	}
}

// Intercept settles the authorized action. The charge re-checks the
// wallet constraints atomically, so a spend that raced past the earlier
// stages still cannot overdraw.
func (s *SettleInterceptor) Intercept(ctx context.Context, st *State) error {
	st.Stage = StageSettle
	req := st.Request

	if req.EstimatedCost > 0 {
		desc := fmt.Sprintf("%s on %s", req.Action, req.Service)
		if _, err := s.ledger.Charge(req.AgentID, req.EstimatedCost, desc, req.Service, req.Action); err != nil {
			s.logger.Warn("charge failed after authorization",
				"agent_id", req.AgentID,
				"cost", req.EstimatedCost,
				"error", err)
			return fmt.Errorf("%w: %v", ErrWalletRefused, err)
		}
		st.Charged = req.EstimatedCost
		s.breaker.RecordSpend(req.AgentID, req.EstimatedCost)
	}

	s.detector.RecordAction(req.AgentID, req.Service, req.Action, req.EstimatedCost)

	if score, err := s.trust.Apply(req.AgentID, trust.EventActionSucceeded); err == nil {
		st.Trust = score
	}

	if _, err := s.counter.Increment(ctx, req.AgentID, req.Service); err != nil {
		s.logger.Warn("hourly counter increment failed",
			"agent_id", req.AgentID,
			"error", err)
	}

	if st.Outcome == "" {
		st.Outcome = OutcomeAllowed
	}

	s.logger.Debug("action settled",
		"agent_id", req.AgentID,
		"action", req.Action,
		"service", req.Service,
		"charged", st.Charged,
		"trust", st.Trust)
	return nil
}

// Compile-time check that SettleInterceptor implements Interceptor.
var _ Interceptor = (*SettleInterceptor)(nil)
