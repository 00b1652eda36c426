package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/fe-row/AEGIS/internal/domain/audit"
)

// defaultAuditCapacity bounds the ring when the caller does not choose one.
const defaultAuditCapacity = 10000

// auditEntry pairs a record with its insertion sequence number. The
// sequence is the keyset for query pagination: it survives ring wraps,
// so a cursor stays valid while older pages are being read even as new
// records evict old ones.
type auditEntry struct {
	seq int64
	rec audit.DecisionRecord
}

// AuditStore keeps decision records in a bounded ring buffer, overwriting
// the oldest once full. It implements both the write Store port and the
// Reader port over whatever window the ring still holds. Used when no
// durable audit output is configured.
// Thread-safe for concurrent access.
type AuditStore struct {
	mu      sync.RWMutex
	entries []auditEntry
	head    int
	count   int
	nextSeq int64
}

// NewAuditStore creates a ring store with the given capacity. Non-positive
// capacity falls back to the default.
func NewAuditStore(capacity int) *AuditStore {
	if capacity <= 0 {
		capacity = defaultAuditCapacity
	}
	return &AuditStore{
		entries: make([]auditEntry, capacity),
	}
}

// Append adds records to the ring.
func (s *AuditStore) Append(_ context.Context, records ...audit.DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		s.entries[s.head] = auditEntry{seq: s.nextSeq, rec: rec}
		s.nextSeq++
		s.head = (s.head + 1) % len(s.entries)
		if s.count < len(s.entries) {
			s.count++
		}
	}
	return nil
}

// Flush is a no-op; the ring has no write buffer.
func (s *AuditStore) Flush(_ context.Context) error { return nil }

// Close is a no-op.
func (s *AuditStore) Close() error { return nil }

// Len returns the number of records currently held.
func (s *AuditStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Recent returns the last n records, newest first. If n exceeds the held
// count, all records are returned.
func (s *AuditStore) Recent(n int) []audit.DecisionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || s.count == 0 {
		return nil
	}
	if n > s.count {
		n = s.count
	}

	out := make([]audit.DecisionRecord, n)
	for i := 0; i < n; i++ {
		// head is the next write position, so head-1 is the newest entry.
		idx := (s.head - 1 - i + len(s.entries)) % len(s.entries)
		out[i] = s.entries[idx].rec
	}
	return out
}

// Query returns records matching the filter, newest first, with keyset
// pagination over insertion sequence numbers.
func (s *AuditStore) Query(_ context.Context, filter audit.Filter) ([]audit.DecisionRecord, string, error) {
	if err := filter.Normalize(); err != nil {
		return nil, "", err
	}

	afterSeq := int64(-1)
	if filter.Cursor != "" {
		seq, err := strconv.ParseInt(filter.Cursor, 10, 64)
		if err != nil {
			return nil, "", audit.ErrBadFilter
		}
		afterSeq = seq
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		out     []audit.DecisionRecord
		lastSeq int64
		more    bool
	)
	for i := 0; i < s.count; i++ {
		idx := (s.head - 1 - i + len(s.entries)) % len(s.entries)
		entry := s.entries[idx]
		if afterSeq >= 0 && entry.seq >= afterSeq {
			continue
		}
		if !filter.Matches(entry.rec) {
			continue
		}
		if len(out) == filter.Limit {
			more = true
			break
		}
		out = append(out, entry.rec)
		lastSeq = entry.seq
	}

	cursor := ""
	if more {
		cursor = strconv.FormatInt(lastSeq, 10)
	}
	return out, cursor, nil
}

// QueryStats aggregates decision statistics over [start, end].
func (s *AuditStore) QueryStats(_ context.Context, start, end time.Time) (*audit.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &audit.Stats{
		ByAction:   make(map[string]audit.ActionStats),
		ByDecision: make(map[string]int64),
	}
	agents := make(map[string]struct{})

	for i := 0; i < s.count; i++ {
		idx := (s.head - 1 - i + len(s.entries)) % len(s.entries)
		rec := s.entries[idx].rec
		if rec.Timestamp.Before(start) || rec.Timestamp.After(end) {
			continue
		}

		stats.TotalDecisions++
		agents[rec.AgentID] = struct{}{}
		stats.ByDecision[rec.Decision]++
		stats.TotalCostUSD += rec.CostUSD
		if rec.RequiresReview {
			stats.Escalations++
		}

		action := stats.ByAction[rec.Action]
		action.Calls++
		switch rec.Decision {
		case audit.DecisionAllow:
			action.Allowed++
		case audit.DecisionDeny:
			action.Denied++
		}
		stats.ByAction[rec.Action] = action
	}

	stats.UniqueAgents = int64(len(agents))
	return stats, nil
}

// CountSince returns the number of records for the agent at or after the
// given time.
func (s *AuditStore) CountSince(_ context.Context, agentID string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for i := 0; i < s.count; i++ {
		idx := (s.head - 1 - i + len(s.entries)) % len(s.entries)
		rec := s.entries[idx].rec
		if rec.AgentID == agentID && !rec.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

// Compile-time interface verification.
var (
	_ audit.Store  = (*AuditStore)(nil)
	_ audit.Reader = (*AuditStore)(nil)
)
