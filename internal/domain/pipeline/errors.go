package pipeline

import (
	"errors"
	"strings"
)

// Sentinel errors for stage blocks. Callers branch with errors.Is.
var (
	// ErrUnauthorized means the agent is unknown, inactive, or presented
	// a bad credential.
	ErrUnauthorized = errors.New("unauthorized agent")

	// ErrBlockedPrompt means the firewall scored the prompt unsafe.
	ErrBlockedPrompt = errors.New("prompt blocked")

	// ErrAnomalous means the behavior detector flagged the request and
	// the pipeline is configured to deny on anomalies.
	ErrAnomalous = errors.New("anomalous behavior")

	// ErrNoPermission means no active grant covers the agent/service pair.
	ErrNoPermission = errors.New("no permission")

	// ErrWalletRefused means the wallet pre-check refused the spend.
	ErrWalletRefused = errors.New("wallet refused")

	// ErrBreakerTripped means the spending circuit breaker tripped on
	// this request.
	ErrBreakerTripped = errors.New("circuit breaker tripped")

	// ErrPolicyDenied means the policy gate denied the action. The
	// complete reason set travels in a DenyError.
	ErrPolicyDenied = errors.New("policy denied")

	// ErrApprovalRejected means a reviewer rejected the escalated request.
	ErrApprovalRejected = errors.New("approval rejected")

	// ErrApprovalTimeout means the escalated request expired or the
	// caller gave up waiting for a decision.
	ErrApprovalTimeout = errors.New("approval timed out")
)

// DenyError wraps a policy denial with the complete reason set from the
// gate evaluation. The gates never short-circuit, so every failing gate
// contributes its reason.
type DenyError struct {
	Reasons []string
}

// Error implements the error interface.
func (e *DenyError) Error() string {
	return "policy denied: " + strings.Join(e.Reasons, "; ")
}

// Unwrap returns ErrPolicyDenied so errors.Is(err, ErrPolicyDenied) works.
func (e *DenyError) Unwrap() error {
	return ErrPolicyDenied
}
