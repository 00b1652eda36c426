package policy

// Evaluate runs every hard gate against the input and assembles the
// decision. All five gates are evaluated unconditionally; a failing gate
// never suppresses evaluation of the others, so DenyReasons explains
// every violation at once. The review escalation is computed
// independently of the gates.
//
// The only error path is a malformed time-window bound, which is a
// caller contract violation and propagates; every other input
// combination is total. Identical inputs always yield identical
// decisions.
func Evaluate(in PolicyInput) (PolicyDecision, error) {
	windowReason, err := timeWindowReason(in)
	if err != nil {
		return PolicyDecision{}, err
	}

	dec := PolicyDecision{DenyReasons: []string{}}
	dec.DenyReasons = appendReason(dec.DenyReasons, windowReason)
	dec.DenyReasons = appendReason(dec.DenyReasons, actionReason(in))
	dec.DenyReasons = appendReason(dec.DenyReasons, rateReason(in))
	dec.DenyReasons = appendReason(dec.DenyReasons, walletReason(in))
	dec.DenyReasons = appendReason(dec.DenyReasons, trustReason(in))

	dec.RequiresHITL = NeedsReview(in)
	dec.Allow = len(dec.DenyReasons) == 0 && !dec.RequiresHITL
	return dec, nil
}

// appendReason adds a non-empty reason to the set, dropping duplicates
// so DenyReasons keeps set semantics.
func appendReason(reasons []string, reason string) []string {
	if reason == "" {
		return reasons
	}
	for _, r := range reasons {
		if r == reason {
			return reasons
		}
	}
	return append(reasons, reason)
}
