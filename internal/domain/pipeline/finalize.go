package pipeline

import (
	"errors"
	"time"
)

// Finalize assembles the caller-facing Verdict from the chain's terminal
// state and error. Pure over its inputs apart from the latency reading.
func Finalize(st *State, err error) Verdict {
	outcome, reasons := outcomeOf(st, err)

	v := Verdict{
		RequestID:     st.Request.ID,
		AgentID:       st.Request.AgentID,
		Outcome:       outcome,
		Reasons:       reasons,
		RiskLevel:     st.Risk,
		TrustAfter:    st.Trust,
		CostCharged:   st.Charged,
		LatencyMicros: time.Since(st.StartedAt).Microseconds(),
	}

	if st.Decision != nil {
		v.RequiresReview = st.Decision.RequiresHITL
	}
	if st.ApprovalID != "" {
		v.ApprovalID = st.ApprovalID
		v.ApprovalStatus = st.ApprovalStatus
	}
	if st.Firewall != nil {
		v.RiskScore = st.Firewall.RiskScore
		v.Threats = st.Firewall.Threats
		v.SanitizedPrompt = st.Firewall.Sanitized
	}
	if st.Anomaly != nil && st.Anomaly.RiskScore > v.RiskScore {
		v.RiskScore = st.Anomaly.RiskScore
	}

	return v
}

// outcomeOf maps the chain's terminal error to an outcome and reason set.
func outcomeOf(st *State, err error) (Outcome, []string) {
	if err == nil {
		if st.Outcome == "" {
			return OutcomeAllowed, nil
		}
		return st.Outcome, nil
	}

	var deny *DenyError
	if errors.As(err, &deny) {
		return OutcomeDenied, deny.Reasons
	}

	switch {
	case errors.Is(err, ErrApprovalRejected), errors.Is(err, ErrApprovalTimeout):
		return OutcomeRejected, []string{err.Error()}
	default:
		return OutcomeDenied, []string{err.Error()}
	}
}
