package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fe-row/AEGIS/internal/domain/anomaly"
	"github.com/fe-row/AEGIS/internal/domain/trust"
)

// AnomalyInterceptor compares the request against the agent's behavior
// profile. Anomalous behavior always burns trust; whether it also blocks
// the request is a deployment choice (denyOnAnomaly).
type AnomalyInterceptor struct {
	detector      *anomaly.Detector
	trust         *trust.Engine
	denyOnAnomaly bool
	next          Interceptor
	logger        *slog.Logger
}

// NewAnomalyInterceptor creates a new AnomalyInterceptor.
func NewAnomalyInterceptor(detector *anomaly.Detector, trustEngine *trust.Engine, denyOnAnomaly bool, next Interceptor, logger *slog.Logger) *AnomalyInterceptor {
	return &AnomalyInterceptor{
		detector:      detector,
		trust:         trustEngine,
		denyOnAnomaly: denyOnAnomaly,
		next:          next,
		logger:        logger,
	}
}

// Intercept runs detection and keeps the report on the state. In
// deny-on-anomaly mode a flagged request blocks with ErrAnomalous.
func (a *AnomalyInterceptor) Intercept(ctx context.Context, st *State) error {
	st.Stage = StageAnomaly

	report := a.detector.Detect(st.Request.AgentID, st.Request.Service)
	st.Anomaly = &report

	if report.Anomalous {
		if score, err := a.trust.Apply(st.Request.AgentID, trust.EventAnomaly); err == nil {
			st.Trust = score
		}
		if a.denyOnAnomaly {
			return fmt.Errorf("%w: %s", ErrAnomalous, strings.Join(report.Anomalies, ", "))
		}
		a.logger.Warn("anomalous request allowed through",
			"agent_id", st.Request.AgentID,
			"risk_score", report.RiskScore,
			"anomalies", report.Anomalies)
	}

	return a.next.Intercept(ctx, st)
}

// Compile-time check that AnomalyInterceptor implements Interceptor.
var _ Interceptor = (*AnomalyInterceptor)(nil)
