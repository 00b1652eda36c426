package audit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MaxQueryRange is the widest time range a single query may cover.
const MaxQueryRange = 90 * 24 * time.Hour

// Query limit bounds.
const (
	// DefaultQueryLimit applies when a Filter leaves Limit unset.
	DefaultQueryLimit = 100
	// MaxQueryLimit caps a single query page.
	MaxQueryLimit = 1000
)

// Sentinel errors for audit store operations.
var (
	// ErrRangeTooWide is returned when the query date range exceeds MaxQueryRange.
	ErrRangeTooWide = errors.New("date range exceeds maximum of 90 days")

	// ErrBadFilter is returned when the query filter is missing its time
	// range or the range is inverted.
	ErrBadFilter = errors.New("invalid query filter")
)

// Store persists decision records.
// Interface owned by domain per hexagonal architecture.
// Implementations handle batching and async writes.
type Store interface {
	// Append stores decision records. Must be non-blocking from the caller's
	// perspective.
	Append(ctx context.Context, records ...DecisionRecord) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Filter specifies query parameters for decision log queries.
type Filter struct {
	// StartTime is the beginning of the time range (required).
	StartTime time.Time
	// EndTime is the end of the time range (required).
	EndTime time.Time
	// AgentID filters by agent (optional).
	AgentID string
	// Service filters by target service (optional).
	Service string
	// Action filters by action name (optional).
	Action string
	// Decision filters by decision (optional: "allow", "deny", or "escalate").
	Decision string
	// Limit is the maximum number of records to return (default 100, max 1000).
	Limit int
	// Cursor is the pagination cursor for fetching the next page (optional).
	Cursor string
}

// Normalize validates the filter's time range and clamps Limit into
// [1, MaxQueryLimit], applying DefaultQueryLimit when unset. Every Reader
// implementation calls this before touching storage.
func (f *Filter) Normalize() error {
	if f.StartTime.IsZero() || f.EndTime.IsZero() {
		return fmt.Errorf("%w: start and end times are required", ErrBadFilter)
	}
	if f.EndTime.Before(f.StartTime) {
		return fmt.Errorf("%w: end time precedes start time", ErrBadFilter)
	}
	if f.EndTime.Sub(f.StartTime) > MaxQueryRange {
		return ErrRangeTooWide
	}
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	return nil
}

// Matches reports whether the record falls inside the filter's time range
// and satisfies its field selectors. Empty selectors match everything.
func (f Filter) Matches(rec DecisionRecord) bool {
	if rec.Timestamp.Before(f.StartTime) || rec.Timestamp.After(f.EndTime) {
		return false
	}
	if f.AgentID != "" && rec.AgentID != f.AgentID {
		return false
	}
	if f.Service != "" && rec.Service != f.Service {
		return false
	}
	if f.Action != "" && rec.Action != f.Action {
		return false
	}
	if f.Decision != "" && rec.Decision != f.Decision {
		return false
	}
	return true
}

// ActionStats contains per-action decision statistics.
type ActionStats struct {
	// Calls is the total number of decisions for this action.
	Calls int64
	// Allowed is the number of decisions that allowed the action.
	Allowed int64
	// Denied is the number of decisions that denied the action.
	Denied int64
}

// Stats contains aggregated decision statistics for a time period.
type Stats struct {
	// TotalDecisions is the total number of decision records.
	TotalDecisions int64
	// UniqueAgents is the count of distinct agent IDs.
	UniqueAgents int64
	// ByAction maps action names to per-action statistics.
	ByAction map[string]ActionStats
	// ByDecision maps decision values to counts.
	ByDecision map[string]int64
	// Escalations is the number of decisions held for human review.
	Escalations int64
	// TotalCostUSD is the summed estimated cost across decisions.
	TotalCostUSD float64
}

// Reader provides read access to decision logs for queries and reporting.
// This interface is separate from Store, which handles writes.
type Reader interface {
	// Query retrieves decision records matching the filter, newest first.
	// Returns records, next cursor (empty if no more pages), and error.
	// Returns ErrRangeTooWide if EndTime - StartTime > MaxQueryRange.
	Query(ctx context.Context, filter Filter) ([]DecisionRecord, string, error)

	// QueryStats returns aggregated statistics for the given time range.
	QueryStats(ctx context.Context, start, end time.Time) (*Stats, error)

	// CountSince returns the number of records for the agent at or after the
	// given time.
	CountSince(ctx context.Context, agentID string, since time.Time) (int64, error)
}
