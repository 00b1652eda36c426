// Package service contains application services.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fe-row/AEGIS/internal/domain/pipeline"
	"github.com/fe-row/AEGIS/internal/domain/policy"
	"github.com/fe-row/AEGIS/internal/observability"
)

// lruEntry is a doubly-linked list node for the LRU cache.
type lruEntry struct {
	key      uint64
	decision policy.PolicyDecision
	prev     *lruEntry
	next     *lruEntry
}

// ResultCache provides bounded LRU caching for gate evaluation results.
// Sound because the engine is pure: identical inputs always yield
// identical decisions. Thread-safe with Mutex (both Get and Put mutate
// LRU order).
type ResultCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry // most recently used
	tail    *lruEntry // least recently used
	maxSize int
}

// NewResultCache creates a new LRU cache with the given max size.
func NewResultCache(maxSize int) *ResultCache {
	return &ResultCache{
		entries: make(map[uint64]*lruEntry, maxSize),
		maxSize: maxSize,
	}
}

// Get retrieves a cached decision. Returns (decision, true) on hit,
// (zero, false) on miss. On hit, the entry is promoted to the head.
func (c *ResultCache) Get(key uint64) (policy.PolicyDecision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.decision, true
	}
	return policy.PolicyDecision{}, false
}

// Put stores a decision in the cache. If at capacity, the least recently
// used entry is evicted.
func (c *ResultCache) Put(key uint64, decision policy.PolicyDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.decision = decision
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &lruEntry{key: key, decision: decision}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Clear empties the cache. Called on permission reload.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*lruEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

// Size returns current cache size.
func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// moveToHeadLocked moves an existing entry to the head. Must be called with lock held.
func (c *ResultCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

// pushHeadLocked inserts an entry at the head. Must be called with lock held.
func (c *ResultCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

// unlinkLocked removes an entry from the linked list. Must be called with lock held.
func (c *ResultCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

// evictTailLocked removes the least recently used entry. Must be called with lock held.
func (c *ResultCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// cacheKey generates a unique hash for a gate evaluation input. Every
// field the gates read is folded in with zero-byte separators; the
// allowed-action list is sorted on a copy so permutations of the same
// grant share a key.
func cacheKey(in policy.PolicyInput) uint64 {
	h := xxhash.New()

	_, _ = h.WriteString(in.Action)
	_, _ = h.Write([]byte{0})

	sorted := make([]string, len(in.AllowedActions))
	copy(sorted, in.AllowedActions)
	sort.Strings(sorted)
	for _, a := range sorted {
		_, _ = h.WriteString(a)
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write([]byte{0})

	_, _ = h.WriteString(strconv.FormatFloat(in.TrustScore, 'g', -1, 64))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(strconv.Itoa(in.CurrentHour*60 + in.CurrentMinute))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(in.TimeWindowStart)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(in.TimeWindowEnd)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(strconv.Itoa(in.MaxRequestsPerHour))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(strconv.Itoa(in.CurrentHourRequests))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(strconv.FormatFloat(in.WalletBalance, 'g', -1, 64))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(strconv.FormatFloat(in.EstimatedCost, 'g', -1, 64))
	_, _ = h.Write([]byte{0})
	if in.RequiresHITL {
		_, _ = h.Write([]byte{1})
	} else {
		_, _ = h.Write([]byte{0})
	}

	return h.Sum64()
}

// permissionSnapshot is the immutable validated-permission set stored in
// atomic.Value.
type permissionSnapshot struct {
	permissions []policy.Permission
}

// GateService wraps the pure decision engine for the hot path: an LRU
// result cache keyed by the canonical input hash, Prometheus metrics, and
// an optional trace span per evaluation. It also holds the validated
// permission snapshot so window or condition mistakes surface at reload
// time, not mid-request.
//
// Reads are lock-free (atomic.Value snapshot); Reload serializes writers.
type GateService struct {
	snapshot atomic.Value // stores *permissionSnapshot
	mu       sync.Mutex   // only for Reload writes
	cache    *ResultCache
	metrics  *observability.Metrics // optional, may be nil
	tracer   trace.Tracer
	logger   *slog.Logger

	// validateCondition checks a permission's CEL condition at reload
	// time. Nil skips condition validation.
	validateCondition func(expr string) error
}

// GateOption configures GateService.
type GateOption func(*GateService)

// WithCacheSize sets the maximum number of cached decisions.
func WithCacheSize(size int) GateOption {
	return func(s *GateService) {
		s.cache = NewResultCache(size)
	}
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *observability.Metrics) GateOption {
	return func(s *GateService) {
		s.metrics = m
	}
}

// WithTracer attaches a tracer for per-evaluation spans.
func WithTracer(tracer trace.Tracer) GateOption {
	return func(s *GateService) {
		s.tracer = tracer
	}
}

// WithConditionValidator sets the reload-time validator for permission
// CEL conditions.
func WithConditionValidator(validate func(expr string) error) GateOption {
	return func(s *GateService) {
		s.validateCondition = validate
	}
}

// NewGateService creates a GateService with an empty permission snapshot.
func NewGateService(logger *slog.Logger, opts ...GateOption) *GateService {
	s := &GateService{
		cache:  NewResultCache(1000), // default 1000 entries
		tracer: noop.NewTracerProvider().Tracer("gate"),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snapshot.Store(&permissionSnapshot{})
	return s
}

// Evaluate runs the gates over the input, serving repeated inputs from
// the result cache. Parse errors are never cached: a malformed window is
// a caller contract violation and must stay loud on every call.
func (s *GateService) Evaluate(ctx context.Context, in policy.PolicyInput) (policy.PolicyDecision, error) {
	_, span := s.tracer.Start(ctx, "gate.evaluate",
		trace.WithAttributes(
			attribute.String("action", in.Action),
			attribute.Float64("trust_score", in.TrustScore),
		))
	defer span.End()

	key := cacheKey(in)
	if decision, ok := s.cache.Get(key); ok {
		s.recordCacheEvent("hit")
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return decision, nil
	}
	s.recordCacheEvent("miss")

	start := time.Now()
	decision, err := policy.Evaluate(in)
	if s.metrics != nil {
		s.metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		return policy.PolicyDecision{}, err
	}

	if s.metrics != nil {
		for _, reason := range decision.DenyReasons {
			s.metrics.DenyReasonsTotal.WithLabelValues(observability.GateOf(reason)).Inc()
		}
		if decision.RequiresHITL {
			s.metrics.EscalationsTotal.Inc()
		}
	}
	span.SetAttributes(
		attribute.Bool("allow", decision.Allow),
		attribute.Bool("requires_review", decision.RequiresHITL),
	)

	s.cache.Put(key, decision)
	return decision, nil
}

// Reload validates the permission set and publishes it as the new
// snapshot, purging the result cache. Window bounds must parse and
// conditions must compile; a bad record rejects the whole reload so a
// running service never holds a half-valid set.
func (s *GateService) Reload(permissions []policy.Permission) error {
	validated := make([]policy.Permission, 0, len(permissions))
	for _, p := range permissions {
		if _, err := policy.ClockMinutes(p.TimeWindowStart); err != nil {
			return fmt.Errorf("permission %s: window start: %w", p.Service, err)
		}
		if _, err := policy.ClockMinutes(p.TimeWindowEnd); err != nil {
			return fmt.Errorf("permission %s: window end: %w", p.Service, err)
		}
		if p.Condition != "" && s.validateCondition != nil {
			if err := s.validateCondition(p.Condition); err != nil {
				return fmt.Errorf("permission %s: condition: %w", p.Service, err)
			}
		}
		validated = append(validated, p)
	}

	s.mu.Lock()
	s.snapshot.Store(&permissionSnapshot{permissions: validated})
	s.mu.Unlock()

	s.cache.Clear()

	s.logger.Info("gate permission snapshot reloaded",
		"permissions", len(validated),
		"cache_cleared", true,
	)
	return nil
}

// Permissions returns the validated permission snapshot (lock-free read).
func (s *GateService) Permissions() []policy.Permission {
	snap := s.snapshot.Load().(*permissionSnapshot)
	out := make([]policy.Permission, len(snap.permissions))
	copy(out, snap.permissions)
	return out
}

// CacheSize returns the number of cached decisions.
func (s *GateService) CacheSize() int {
	return s.cache.Size()
}

// recordCacheEvent bumps the result-cache metric when metrics are wired.
func (s *GateService) recordCacheEvent(event string) {
	if s.metrics != nil {
		s.metrics.ResultCacheEvents.WithLabelValues(event).Inc()
	}
}

// Compile-time interface verification.
var _ pipeline.Evaluator = (*GateService)(nil)
