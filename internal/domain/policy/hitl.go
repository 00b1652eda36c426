package policy

// Review escalation thresholds. Each trigger compares trust against its
// own bar, so high-trust agents bypass each trigger independently; an
// agent at or above ReviewDeleteTrustBar is never escalated at all.
const (
	// ReviewFlaggedTrustBar gates the permission record's explicit
	// review flag: flagged actions auto-approve at this trust or above.
	ReviewFlaggedTrustBar = 80.0
	// ReviewCostTrustBar gates high-value actions.
	ReviewCostTrustBar = 70.0
	// ReviewDeleteTrustBar gates destructive deletes, the highest bar.
	ReviewDeleteTrustBar = 90.0
	// HighValueCost is the estimated cost above which low-trust actions
	// need human review.
	HighValueCost = 5.0

	deleteAction = "delete"
)

// NeedsReview reports whether the action must be routed to human review.
// It is the OR of three independent triggers:
//
//  1. the permission record flags the action class for review and the
//     agent's trust is below ReviewFlaggedTrustBar;
//  2. the estimated cost exceeds HighValueCost and trust is below
//     ReviewCostTrustBar;
//  3. the action is "delete" and trust is below ReviewDeleteTrustBar.
//
// Review is an escalation channel, not a denial: it never contributes a
// deny reason, and it is computed independently of the hard gates.
func NeedsReview(in PolicyInput) bool {
	if in.RequiresHITL && in.TrustScore < ReviewFlaggedTrustBar {
		return true
	}
	if in.EstimatedCost > HighValueCost && in.TrustScore < ReviewCostTrustBar {
		return true
	}
	if in.Action == deleteAction && in.TrustScore < ReviewDeleteTrustBar {
		return true
	}
	return false
}
