// Package pipeline runs an agent action request through the authorization
// stages: contract validation, identity, prompt firewall, anomaly detection,
// permission lookup, wallet and breaker checks, the policy gate, human
// review, and settlement. Stages stop at the first hard block; the policy
// gate inside the chain still reports its complete reason set.
package pipeline

import (
	"time"

	"github.com/fe-row/AEGIS/internal/domain/anomaly"
	"github.com/fe-row/AEGIS/internal/domain/approval"
	"github.com/fe-row/AEGIS/internal/domain/firewall"
	"github.com/fe-row/AEGIS/internal/domain/identity"
	"github.com/fe-row/AEGIS/internal/domain/policy"
	"github.com/fe-row/AEGIS/internal/domain/risk"
)

// ActionRequest is one agent action submitted for authorization.
type ActionRequest struct {
	// ID correlates the request through logs and audit records.
	// Assigned during validation when the caller leaves it empty.
	ID string `json:"id,omitempty"`
	// AgentID identifies the requesting agent.
	AgentID string `json:"agent_id"`
	// APIKey is the agent's cleartext credential. Optional when
	// authentication is not enforced.
	APIKey string `json:"api_key,omitempty"`
	// Service and Action name the operation to authorize.
	Service string `json:"service"`
	Action  string `json:"action"`
	// Params are the operation arguments, sanitized during validation.
	Params map[string]interface{} `json:"params,omitempty"`
	// Prompt is the free-text instruction attached to the action,
	// inspected by the firewall stage.
	Prompt string `json:"prompt,omitempty"`
	// EstimatedCost is the projected spend in currency units.
	EstimatedCost float64 `json:"estimated_cost"`
	// Records is the number of records the action wants back, clamped
	// to the permission's cap.
	Records int `json:"records,omitempty"`
}

// Outcome is the terminal disposition of a request.
type Outcome string

const (
	// OutcomeAllowed means every stage passed without review.
	OutcomeAllowed Outcome = "allowed"
	// OutcomeDenied means a stage hard-blocked the request.
	OutcomeDenied Outcome = "denied"
	// OutcomeEscalated means the request is parked awaiting human review.
	OutcomeEscalated Outcome = "escalated"
	// OutcomeApproved means a reviewer approved the escalated request.
	OutcomeApproved Outcome = "approved"
	// OutcomeRejected means a reviewer rejected the escalated request,
	// or the review expired.
	OutcomeRejected Outcome = "rejected"
)

// Verdict is the caller-facing result of one authorization.
type Verdict struct {
	RequestID       string          `json:"request_id"`
	AgentID         string          `json:"agent_id"`
	Outcome         Outcome         `json:"outcome"`
	Reasons         []string        `json:"reasons,omitempty"`
	RequiresReview  bool            `json:"requires_review"`
	ApprovalID      string          `json:"approval_id,omitempty"`
	ApprovalStatus  approval.Status `json:"approval_status,omitempty"`
	RiskLevel       risk.Level      `json:"risk_level,omitempty"`
	RiskScore       float64         `json:"risk_score"`
	Threats         []string        `json:"threats,omitempty"`
	SanitizedPrompt string          `json:"sanitized_prompt,omitempty"`
	TrustAfter      float64         `json:"trust_after"`
	CostCharged     float64         `json:"cost_charged"`
	LatencyMicros   int64           `json:"latency_micros"`
}

// Allowed reports whether the action may proceed.
func (v Verdict) Allowed() bool {
	return v.Outcome == OutcomeAllowed || v.Outcome == OutcomeApproved
}

// State is the mutable context one request accumulates as it moves through
// the chain. Stages read what earlier stages resolved and write their own
// findings; the final Verdict is assembled from it.
type State struct {
	Request *ActionRequest

	// Now is the evaluation clock, resolved once when the state is built.
	Now time.Time
	// StartedAt anchors the latency measurement.
	StartedAt time.Time

	// Stage names the stage currently executing. On a block it is left
	// pointing at the stage that produced the error.
	Stage string

	// Agent is resolved by the identify stage.
	Agent *identity.Agent
	// Trust tracks the agent's score, updated as stages apply events.
	Trust float64
	// Permission is resolved by the permission stage.
	Permission *policy.Permission
	// Balance is the wallet snapshot taken by the wallet stage.
	Balance float64
	// HourCount is the request count already accumulated this hour.
	HourCount int

	// Firewall and Anomaly hold stage findings, nil when skipped.
	Firewall *firewall.Assessment
	Anomaly  *anomaly.Report
	// Risk is the action's classified risk level.
	Risk risk.Level

	// Decision is the policy gate's verdict.
	Decision *policy.PolicyDecision

	// ApprovalID and ApprovalStatus are set when the request is escalated
	// for review. Plain copies, not the live queue entry, so the verdict
	// can be assembled while reviewers mutate the queue.
	ApprovalID     string
	ApprovalStatus approval.Status

	// Outcome is set by the stage that terminates the request without an
	// error: settle on the happy path, approval on escalation.
	Outcome Outcome
	// Charged is the amount actually debited during settlement.
	Charged float64
}

// NewState builds the initial state for one request.
func NewState(req *ActionRequest, now time.Time) *State {
	return &State{
		Request:   req,
		Now:       now,
		StartedAt: now,
	}
}

// Stage names, in chain order. Used for logging, stats, and audit records.
const (
	StageValidate   = "validate"
	StageAudit      = "audit"
	StageIdentify   = "identify"
	StageFirewall   = "firewall"
	StageAnomaly    = "anomaly"
	StagePermission = "permission"
	StageWallet     = "wallet"
	StageBreaker    = "breaker"
	StagePolicy     = "policy"
	StageApproval   = "approval"
	StageSettle     = "settle"
)
