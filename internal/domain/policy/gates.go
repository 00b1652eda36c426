package policy

import "fmt"

// TrustFloor is the fixed minimum trust score enforced by the trust hard
// gate. It is deliberately non-configurable and distinct from the review
// escalation thresholds in hitl.go.
const TrustFloor = 10.0

// Each hard gate returns the deny reason for a failing input, or "" when
// the gate passes. Reason templates are stable so downstream log and UI
// consumers can grep and test against them.

// timeWindowReason checks that the caller-supplied time of day falls
// inside the permitted window, inclusive on both bounds. A window whose
// start is after its end denies everything; midnight-crossing windows
// are intentionally not inferred (see DESIGN.md).
func timeWindowReason(in PolicyInput) (string, error) {
	start, err := ClockMinutes(in.TimeWindowStart)
	if err != nil {
		return "", fmt.Errorf("parse window start: %w", err)
	}
	end, err := ClockMinutes(in.TimeWindowEnd)
	if err != nil {
		return "", fmt.Errorf("parse window end: %w", err)
	}
	now := Clock{Hour: in.CurrentHour, Minute: in.CurrentMinute}.Minutes()
	if start <= now && now <= end {
		return "", nil
	}
	return fmt.Sprintf("Outside time window %s-%s (current: %d min)",
		in.TimeWindowStart, in.TimeWindowEnd, now), nil
}

// actionReason checks exact membership of the action in the permitted
// set. An empty set denies every action.
func actionReason(in PolicyInput) string {
	for _, allowed := range in.AllowedActions {
		if in.Action == allowed {
			return ""
		}
	}
	return fmt.Sprintf("Action '%s' not in allowed: %v", in.Action, in.AllowedActions)
}

// rateReason enforces the hourly budget with a strict less-than: a
// caller already at the limit is denied the next request.
func rateReason(in PolicyInput) string {
	if in.CurrentHourRequests < in.MaxRequestsPerHour {
		return ""
	}
	return fmt.Sprintf("Rate limit: %d/%d requests this hour",
		in.CurrentHourRequests, in.MaxRequestsPerHour)
}

// walletReason requires the balance to cover the estimated cost,
// inclusive: an exact match passes, as does zero cost against a zero
// balance.
func walletReason(in PolicyInput) string {
	if in.WalletBalance >= in.EstimatedCost {
		return ""
	}
	return fmt.Sprintf("Insufficient funds: $%.4f < $%.4f",
		in.WalletBalance, in.EstimatedCost)
}

// trustReason enforces the fixed trust floor.
func trustReason(in PolicyInput) string {
	if in.TrustScore >= TrustFloor {
		return ""
	}
	return fmt.Sprintf("Trust too low: %.1f < %.1f", in.TrustScore, TrustFloor)
}
