package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fe-row/AEGIS/internal/domain/firewall"
	"github.com/fe-row/AEGIS/internal/domain/trust"
)

// FirewallInterceptor inspects the request prompt for injection attempts
// and sensitive content. An unsafe prompt blocks the request and burns
// trust; requests without a prompt pass through untouched.
type FirewallInterceptor struct {
	firewall *firewall.Firewall
	trust    *trust.Engine
	next     Interceptor
	logger   *slog.Logger
}

// NewFirewallInterceptor creates a new FirewallInterceptor.
func NewFirewallInterceptor(fw *firewall.Firewall, trustEngine *trust.Engine, next Interceptor, logger *slog.Logger) *FirewallInterceptor {
	return &FirewallInterceptor{
		firewall: fw,
		trust:    trustEngine,
		next:     next,
		logger:   logger,
	}
}

// Intercept scores the prompt and blocks when it crosses the unsafe
// threshold. The assessment, including the sanitized rendering of a
// blocked prompt, is kept on the state for the verdict and audit record.
func (f *FirewallInterceptor) Intercept(ctx context.Context, st *State) error {
	st.Stage = StageFirewall

	if st.Request.Prompt == "" {
		return f.next.Intercept(ctx, st)
	}

	assessment := f.firewall.Inspect(st.Request.Prompt)
	st.Firewall = &assessment

	if !assessment.Safe {
		if score, err := f.trust.Apply(st.Request.AgentID, trust.EventPromptInjection); err == nil {
			st.Trust = score
		}
		f.logger.Warn("prompt blocked",
			"agent_id", st.Request.AgentID,
			"risk_score", assessment.RiskScore,
			"threats", assessment.Threats)
		return fmt.Errorf("%w: risk %.2f, threats: %s",
			ErrBlockedPrompt, assessment.RiskScore, strings.Join(assessment.Threats, ", "))
	}

	return f.next.Intercept(ctx, st)
}

// Compile-time check that FirewallInterceptor implements Interceptor.
var _ Interceptor = (*FirewallInterceptor)(nil)
