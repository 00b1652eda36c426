// Package policy implements the agent-action policy decision engine.
//
// The engine is a pure function: it receives a snapshot of the request
// context (PolicyInput) and returns a verdict with itemized reasons
// (PolicyDecision). It holds no state, reads no clock, and performs no
// I/O, so it is safe to call concurrently without synchronization.
package policy

import "time"

// PolicyInput is the immutable snapshot a caller assembles per evaluation.
// The caller resolves "now" into CurrentHour/CurrentMinute so the engine
// never reads wall-clock time itself.
type PolicyInput struct {
	// Action is the operation the agent wants to perform. Non-empty.
	Action string `json:"action"`
	// AllowedActions lists the operations the permission record grants.
	// An empty list means nothing is allowed.
	AllowedActions []string `json:"allowed_actions"`
	// TrustScore is the agent's reputation, conceptually 0-100. The
	// engine compares it against fixed thresholds but never clamps it.
	TrustScore float64 `json:"trust_score"`
	// CurrentHour and CurrentMinute are the caller-supplied time of day.
	CurrentHour   int `json:"current_hour"`
	CurrentMinute int `json:"current_minute"`
	// TimeWindowStart and TimeWindowEnd bound the permitted window,
	// "HH:MM" on a zero-padded 24h clock. Both bounds are inclusive.
	TimeWindowStart string `json:"time_window_start"`
	TimeWindowEnd   string `json:"time_window_end"`
	// MaxRequestsPerHour caps the hourly request budget.
	MaxRequestsPerHour int `json:"max_requests_per_hour"`
	// CurrentHourRequests counts requests already made this hour.
	CurrentHourRequests int `json:"current_hour_requests"`
	// WalletBalance and EstimatedCost are in currency units.
	WalletBalance float64 `json:"wallet_balance"`
	EstimatedCost float64 `json:"estimated_cost"`
	// RequiresHITL is the permission record's explicit flag requesting
	// human review for this action class. Agents at or above
	// ReviewFlaggedTrustBar bypass the flag.
	RequiresHITL bool `json:"requires_hitl"`
}

// PolicyDecision is the verdict for one evaluation.
//
// Invariant: Allow is true iff DenyReasons is empty and RequiresHITL is
// false. DenyReasons carries one entry per failing hard gate with set
// semantics: no duplicates, order not part of the contract. The review
// escalation never contributes a deny reason.
type PolicyDecision struct {
	Allow        bool     `json:"allow"`
	DenyReasons  []string `json:"deny_reasons"`
	RequiresHITL bool     `json:"requires_hitl"`
}

// Denied reports whether any hard gate failed.
func (d PolicyDecision) Denied() bool {
	return len(d.DenyReasons) > 0
}

// Permission is one grant in an agent's permission set: which actions it
// may take against a service, under what time window and budgets. The
// surrounding registry owns these records; the engine only sees the
// PolicyInput assembled from one.
type Permission struct {
	// Service names the upstream service this grant applies to.
	Service string `json:"service" yaml:"service"`
	// AllowedActions lists the permitted operations.
	AllowedActions []string `json:"allowed_actions" yaml:"allowed_actions"`
	// MaxRequestsPerHour caps the hourly request budget.
	MaxRequestsPerHour int `json:"max_requests_per_hour" yaml:"max_requests_per_hour"`
	// TimeWindowStart and TimeWindowEnd bound the permitted window ("HH:MM").
	TimeWindowStart string `json:"time_window_start" yaml:"time_window_start"`
	TimeWindowEnd   string `json:"time_window_end" yaml:"time_window_end"`
	// MaxRecordsPerRequest caps the result size an action may request.
	MaxRecordsPerRequest int `json:"max_records_per_request" yaml:"max_records_per_request"`
	// RequiresHITL routes this action class to human review when the
	// agent's trust is below the review bar.
	RequiresHITL bool `json:"requires_hitl" yaml:"requires_hitl"`
	// Condition is an optional CEL expression evaluated against the
	// request context. Empty means unconditional.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	// Active disables the grant without deleting it.
	Active bool `json:"active" yaml:"active"`
}

// Input assembles the engine input for one action attempt under this
// permission. The caller supplies the resolved clock, the agent's trust
// score, the wallet balance, the estimated cost, and the request count
// already accumulated in the current hour.
func (p Permission) Input(action string, at Clock, trust, balance, cost float64, hourCount int) PolicyInput {
	return PolicyInput{
		Action:              action,
		AllowedActions:      p.AllowedActions,
		TrustScore:          trust,
		CurrentHour:         at.Hour,
		CurrentMinute:       at.Minute,
		TimeWindowStart:     p.TimeWindowStart,
		TimeWindowEnd:       p.TimeWindowEnd,
		MaxRequestsPerHour:  p.MaxRequestsPerHour,
		CurrentHourRequests: hourCount,
		WalletBalance:       balance,
		EstimatedCost:       cost,
		RequiresHITL:        p.RequiresHITL,
	}
}

// Clock is a caller-resolved time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ClockAt resolves a Clock from a time.Time.
func ClockAt(t time.Time) Clock {
	return Clock{Hour: t.Hour(), Minute: t.Minute()}
}

// Minutes returns the clock position as minutes since midnight.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}
