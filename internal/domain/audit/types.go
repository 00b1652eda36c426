// Package audit contains domain types for decision audit logging.
package audit

import (
	"strings"
	"time"
)

// Decision constants for audit records.
const (
	// DecisionAllow indicates the action was permitted.
	DecisionAllow = "allow"
	// DecisionDeny indicates the action was blocked.
	DecisionDeny = "deny"
	// DecisionEscalate indicates the action was parked for human review.
	DecisionEscalate = "escalate"
)

// maxSnippetLength caps stored prompt snippets.
const maxSnippetLength = 500

// sensitiveKeywords lists substrings that indicate a sensitive parameter key.
// Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// RedactParams returns a copy of params with sensitive values masked.
// A key is considered sensitive if it contains any of the sensitiveKeywords
// (case-insensitive). Values are replaced with "***REDACTED***".
func RedactParams(params map[string]interface{}) map[string]interface{} {
	if len(params) == 0 {
		return params
	}
	redacted := make(map[string]interface{}, len(params))
	for k, v := range params {
		if isSensitiveKey(k) {
			redacted[k] = "***REDACTED***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

// isSensitiveKey checks if a key name indicates sensitive data.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// TruncateSnippet caps a prompt snippet at the stored maximum.
func TruncateSnippet(s string) string {
	if len(s) > maxSnippetLength {
		return s[:maxSnippetLength]
	}
	return s
}

// DecisionRecord represents a single audited authorization decision.
type DecisionRecord struct {
	// Timestamp is when the action request was received.
	Timestamp time.Time `json:"timestamp"`
	// RequestID is for correlation across systems.
	RequestID string `json:"request_id"`
	// AgentID of the agent requesting the action.
	AgentID string `json:"agent_id"`
	// AgentName is the human-readable name (resolved from AgentID).
	AgentName string `json:"agent_name,omitempty"`
	// Action is the verb being authorized.
	Action string `json:"action"`
	// Service is the target service.
	Service string `json:"service"`
	// Params are the action parameters (redacted before storage).
	Params map[string]interface{} `json:"params,omitempty"`
	// PromptSnippet is the leading slice of the inspected prompt, if any.
	PromptSnippet string `json:"prompt_snippet,omitempty"`
	// Decision is "allow", "deny", or "escalate".
	Decision string `json:"decision"`
	// DenyReasons lists every gate that denied the action.
	DenyReasons []string `json:"deny_reasons,omitempty"`
	// RequiresReview records whether the action was escalated for review.
	RequiresReview bool `json:"requires_review,omitempty"`
	// Stage is the pipeline stage that produced the terminal outcome.
	Stage string `json:"stage,omitempty"`
	// TrustScore is the agent's trust score at decision time.
	TrustScore float64 `json:"trust_score"`
	// RiskLevel is the classified risk of the action.
	RiskLevel string `json:"risk_level,omitempty"`
	// CostUSD is the estimated cost of the action.
	CostUSD float64 `json:"cost_usd"`
	// Threats lists firewall and anomaly findings, if any.
	Threats []string `json:"threats,omitempty"`
	// LatencyMicros is the decision latency in microseconds.
	LatencyMicros int64 `json:"latency_micros"`
	// Metadata carries extra context set by interceptors.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
