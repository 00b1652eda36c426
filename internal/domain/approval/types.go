package approval

import "time"

const (
	// DefaultExpiry is how long a request stays pending before it expires.
	DefaultExpiry = 30 * time.Minute
	// DefaultMaxPending is the default maximum number of queued requests.
	DefaultMaxPending = 100
)

// Status is the lifecycle state of a review request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Request is an agent action held for human review.
type Request struct {
	ID            string                 `json:"id"`
	AgentID       string                 `json:"agent_id"`
	Action        string                 `json:"action"`
	Service       string                 `json:"service"`
	Params        map[string]interface{} `json:"params,omitempty"`
	Reason        string                 `json:"reason,omitempty"`
	EstimatedCost float64                `json:"estimated_cost"`
	Status        Status                 `json:"status"`
	CreatedAt     time.Time              `json:"created_at"`
	ExpiresAt     time.Time              `json:"expires_at"`
	DecidedBy     string                 `json:"decided_by,omitempty"`
	DecisionNote  string                 `json:"decision_note,omitempty"`
	DecidedAt     time.Time              `json:"decided_at"`

	result chan Result
}

// Result carries the outcome of a review back to the waiting caller.
type Result struct {
	Status    Status
	DecidedBy string
	Note      string
}

// Approved reports whether the review ended in an approval.
func (r Result) Approved() bool { return r.Status == StatusApproved }
