package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fe-row/AEGIS/internal/domain/policy"
	"github.com/fe-row/AEGIS/internal/domain/ratelimit"
	"github.com/fe-row/AEGIS/internal/domain/trust"
)

// Evaluator evaluates a PolicyInput against the five hard gates.
// This interface is satisfied by service.GateService.
type Evaluator interface {
	Evaluate(ctx context.Context, in policy.PolicyInput) (policy.PolicyDecision, error)
}

// ConditionInput is the request context a permission's CEL condition
// evaluates against.
type ConditionInput struct {
	Action           string
	Service          string
	AgentID          string
	Params           map[string]interface{}
	TrustScore       float64
	Hour             int
	Minute           int
	EstimatedCost    float64
	RequestsThisHour int
}

// ConditionEvaluator evaluates a permission's CEL condition expression.
// This interface is satisfied by cel.Evaluator.
type ConditionEvaluator interface {
	// Evaluate returns whether the condition holds for the input.
	// Expressions are compiled once and cached by the implementation.
	Evaluate(ctx context.Context, expr string, in ConditionInput) (bool, error)
}

// PolicyInterceptor runs the policy gate: it assembles the PolicyInput
// from everything earlier stages resolved, evaluates the five hard gates,
// and applies the permission's optional condition. Gate evaluation never
// short-circuits, so a denial carries the complete reason set.
type PolicyInterceptor struct {
	evaluator  Evaluator
	conditions ConditionEvaluator
	counter    ratelimit.HourlyCounter
	trust      *trust.Engine
	next       Interceptor
	logger     *slog.Logger
}

// NewPolicyInterceptor creates a new PolicyInterceptor. The condition
// evaluator may be nil when no permission carries a condition.
func NewPolicyInterceptor(evaluator Evaluator, conditions ConditionEvaluator, counter ratelimit.HourlyCounter, trustEngine *trust.Engine, next Interceptor, logger *slog.Logger) *PolicyInterceptor {
	return &PolicyInterceptor{
		evaluator:  evaluator,
		conditions: conditions,
		counter:    counter,
		trust:      trustEngine,
		next:       next,
		logger:     logger,
	}
}

// Intercept evaluates the gates and blocks on denial. A clean pass, with
// or without a pending review requirement, continues down the chain.
func (p *PolicyInterceptor) Intercept(ctx context.Context, st *State) error {
	st.Stage = StagePolicy
	req := st.Request

	hourCount, err := p.counter.Count(ctx, req.AgentID, req.Service)
	if err != nil {
		return fmt.Errorf("hourly count: %w", err)
	}
	st.HourCount = int(hourCount)

	in := st.Permission.Input(req.Action, policy.ClockAt(st.Now),
		st.Trust, st.Balance, req.EstimatedCost, st.HourCount)

	decision, err := p.evaluator.Evaluate(ctx, in)
	if err != nil {
		p.logger.Error("policy evaluation failed",
			"agent_id", req.AgentID,
			"action", req.Action,
			"error", err)
		return fmt.Errorf("policy evaluation error: %w", err)
	}

	if expr := st.Permission.Condition; expr != "" && p.conditions != nil {
		if reason := p.conditionReason(ctx, expr, st); reason != "" {
			decision.DenyReasons = append(decision.DenyReasons, reason)
			decision.Allow = false
		}
	}
	st.Decision = &decision

	if decision.Denied() {
		if score, err := p.trust.Apply(req.AgentID, trust.EventPolicyViolation); err == nil {
			st.Trust = score
		}
		p.logger.Info("action denied by policy",
			"agent_id", req.AgentID,
			"action", req.Action,
			"service", req.Service,
			"reasons", decision.DenyReasons)
		return &DenyError{Reasons: decision.DenyReasons}
	}

	if decision.RequiresHITL {
		p.logger.Info("action requires review",
			"agent_id", req.AgentID,
			"action", req.Action,
			"trust_score", st.Trust)
	} else {
		p.logger.Debug("action allowed by policy",
			"agent_id", req.AgentID,
			"action", req.Action)
	}

	return p.next.Intercept(ctx, st)
}

// conditionReason evaluates the permission condition and returns the deny
// reason, or "" when the condition holds. Evaluation failures deny closed.
func (p *PolicyInterceptor) conditionReason(ctx context.Context, expr string, st *State) string {
	req := st.Request
	ok, err := p.conditions.Evaluate(ctx, expr, ConditionInput{
		Action:           req.Action,
		Service:          req.Service,
		AgentID:          req.AgentID,
		Params:           req.Params,
		TrustScore:       st.Trust,
		Hour:             st.Now.Hour(),
		Minute:           st.Now.Minute(),
		EstimatedCost:    req.EstimatedCost,
		RequestsThisHour: st.HourCount,
	})
	if err != nil {
		p.logger.Warn("condition evaluation failed",
			"agent_id", req.AgentID,
			"condition", expr,
			"error", err)
		return fmt.Sprintf("Condition error: %v", err)
	}
	if !ok {
		return fmt.Sprintf("Condition not met: %s", expr)
	}
	return ""
}

// Compile-time check that PolicyInterceptor implements Interceptor.
var _ Interceptor = (*PolicyInterceptor)(nil)
