// Package trust tracks per-agent reputation scores. Good behavior earns
// autonomy; violations, anomalies, and breaker trips burn it.
package trust

// Score bounds and the seed for agents without a configured score.
const (
	MinScore     = 0.0
	MaxScore     = 100.0
	InitialScore = 50.0
)

// Event is a scored behavior observation. Each event carries a fixed
// delta applied to the agent's score, clamped to [MinScore, MaxScore].
type Event string

const (
	// EventActionSucceeded rewards a completed action.
	EventActionSucceeded Event = "successful_action"
	// EventCleanAudit rewards a clean periodic audit pass.
	EventCleanAudit Event = "clean_audit"
	// EventPolicyViolation penalizes a hard-gate denial.
	EventPolicyViolation Event = "policy_violation"
	// EventAnomaly penalizes behavior flagged by the anomaly detector.
	EventAnomaly Event = "anomaly_detected"
	// EventBreakerTripped penalizes a spending circuit-breaker trip.
	EventBreakerTripped Event = "circuit_breaker_tripped"
	// EventPromptInjection penalizes a blocked prompt injection.
	EventPromptInjection Event = "prompt_injection_detected"
	// EventReviewRejected penalizes a human rejection of an escalated action.
	EventReviewRejected Event = "approval_rejected"
)

// deltas holds the fixed adjustment per event.
var deltas = map[Event]float64{
	EventActionSucceeded: 0.1,
	EventCleanAudit:      0.5,
	EventPolicyViolation: -2.0,
	EventAnomaly:         -5.0,
	EventBreakerTripped:  -15.0,
	EventPromptInjection: -10.0,
	EventReviewRejected:  -3.0,
}

// Delta returns the score adjustment for the event, 0 for unknown events.
func (e Event) Delta() float64 {
	return deltas[e]
}

// Level describes the autonomy an agent earns at a given score.
type Level struct {
	// Name is the tier label.
	Name string `json:"name"`
	// SpendingMultiplier scales the agent's configured spending limits.
	SpendingMultiplier float64 `json:"spending_multiplier"`
	// ReviewBypass lets the agent skip flagged-action review entirely.
	ReviewBypass bool `json:"review_bypass"`
	// MaxUnattendedCost is the largest single action cost the agent may
	// incur without review at this tier.
	MaxUnattendedCost float64 `json:"max_unattended_cost"`
}

// LevelFor maps a trust score to its autonomy tier. Higher trust means
// higher limits; below 20 the agent is quarantined with no autonomy.
func LevelFor(score float64) Level {
	switch {
	case score >= 80:
		return Level{Name: "high", SpendingMultiplier: 2.0, ReviewBypass: true, MaxUnattendedCost: 10.0}
	case score >= 60:
		return Level{Name: "medium", SpendingMultiplier: 1.5, MaxUnattendedCost: 5.0}
	case score >= 40:
		return Level{Name: "standard", SpendingMultiplier: 1.0, MaxUnattendedCost: 2.0}
	case score >= 20:
		return Level{Name: "restricted", SpendingMultiplier: 0.5, MaxUnattendedCost: 0.5}
	default:
		return Level{Name: "quarantine"}
	}
}
