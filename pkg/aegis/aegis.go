// Package aegis embeds the agent authorization engine in a Go process.
//
// A Guard owns the full decision pipeline: contract validation, identity,
// prompt firewall, behavior anomaly detection, permission lookup, wallet
// and spending-velocity checks, the policy gate, human review, and audit.
// Requests run in-process; there is no server round trip.
//
// Quick start:
//
//	guard, err := aegis.New(
//	    aegis.WithConfig(&aegis.Config{
//	        Agents: []aegis.AgentConfig{{
//	            ID:   "research-bot",
//	            Name: "Research Bot",
//	            Wallet: aegis.WalletConfig{Balance: 100, DailyLimit: 50},
//	            Permissions: []aegis.PermissionConfig{{
//	                Service:         "email",
//	                AllowedActions:  []string{"send_email"},
//	                TimeWindowStart: "08:00",
//	                TimeWindowEnd:   "18:00",
//	            }},
//	        }},
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer guard.Close()
//
//	verdict, err := guard.Authorize(ctx, &aegis.Request{
//	    AgentID: "research-bot",
//	    Service: "email",
//	    Action:  "send_email",
//	    Params:  map[string]interface{}{"to": "team@corp.example"},
//	})
//	if verdict.Allowed() {
//	    // perform the action
//	}
//
// The exported names are aliases into the engine's packages, so values
// returned by a Guard and values constructed from this package are the
// same types.
package aegis

import (
	"github.com/fe-row/AEGIS/internal/config"
	"github.com/fe-row/AEGIS/internal/domain/approval"
	"github.com/fe-row/AEGIS/internal/domain/audit"
	"github.com/fe-row/AEGIS/internal/domain/pipeline"
	"github.com/fe-row/AEGIS/internal/domain/policy"
)

// Configuration types, identical to the YAML schema loaded from
// aegis.yaml. Construct these directly when embedding without a
// configuration file.
type (
	Config              = config.Config
	ServerConfig        = config.ServerConfig
	AuthConfig          = config.AuthConfig
	KeyConfig           = config.KeyConfig
	AgentConfig         = config.AgentConfig
	WalletConfig        = config.WalletConfig
	PermissionConfig    = config.PermissionConfig
	ProfileConfig       = config.ProfileConfig
	FirewallConfig      = config.FirewallConfig
	AnomalyConfig       = config.AnomalyConfig
	BreakerConfig       = config.BreakerConfig
	ApprovalConfig      = config.ApprovalConfig
	AuditConfig         = config.AuditConfig
	CacheConfig         = config.CacheConfig
	ObservabilityConfig = config.ObservabilityConfig
	MetricsConfig       = config.MetricsConfig
	TracingConfig       = config.TracingConfig
	PermissionPack      = config.PermissionPack
	PackGrant           = config.PackGrant
)

// Request and decision types.
type (
	// Request is one agent action submitted for authorization.
	Request = pipeline.ActionRequest
	// Verdict is the terminal result of one authorization.
	Verdict = pipeline.Verdict
	// Outcome is a verdict's disposition.
	Outcome = pipeline.Outcome

	// PolicyInput and PolicyDecision are the pure policy gate's
	// contract, used by Evaluate.
	PolicyInput    = policy.PolicyInput
	PolicyDecision = policy.PolicyDecision
	// Permission is one service grant in its evaluated form.
	Permission = policy.Permission

	// DecisionRecord is one audit trail entry.
	DecisionRecord = audit.DecisionRecord
	// AuditSink receives decision records. Implementations must be safe
	// for concurrent use; Append is called from the audit worker.
	AuditSink = audit.Store
	// Review is one pending human review.
	Review = approval.Request
)

// Verdict outcomes.
const (
	OutcomeAllowed   = pipeline.OutcomeAllowed
	OutcomeDenied    = pipeline.OutcomeDenied
	OutcomeEscalated = pipeline.OutcomeEscalated
	OutcomeApproved  = pipeline.OutcomeApproved
	OutcomeRejected  = pipeline.OutcomeRejected
)

// Sentinel errors returned by Authorize. Branch with errors.Is; the
// Verdict carries the full reason set regardless.
var (
	ErrUnauthorized     = pipeline.ErrUnauthorized
	ErrBlockedPrompt    = pipeline.ErrBlockedPrompt
	ErrAnomalous        = pipeline.ErrAnomalous
	ErrNoPermission     = pipeline.ErrNoPermission
	ErrWalletRefused    = pipeline.ErrWalletRefused
	ErrBreakerTripped   = pipeline.ErrBreakerTripped
	ErrPolicyDenied     = pipeline.ErrPolicyDenied
	ErrApprovalRejected = pipeline.ErrApprovalRejected
	ErrApprovalTimeout  = pipeline.ErrApprovalTimeout
)

// LoadPermissionPack reads and validates a standalone grants file.
func LoadPermissionPack(path string) (*PermissionPack, error) {
	return config.LoadPermissionPack(path)
}
