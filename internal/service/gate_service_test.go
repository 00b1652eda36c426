package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fe-row/AEGIS/internal/domain/policy"
	"github.com/fe-row/AEGIS/internal/observability"
)

// passingInput builds an input that clears every gate.
func passingInput() policy.PolicyInput {
	return policy.PolicyInput{
		Action:              "read_file",
		AllowedActions:      []string{"read_file", "send_email"},
		TrustScore:          75.0,
		CurrentHour:         12,
		CurrentMinute:       30,
		TimeWindowStart:     "00:00",
		TimeWindowEnd:       "23:59",
		MaxRequestsPerHour:  100,
		CurrentHourRequests: 5,
		WalletBalance:       50.0,
		EstimatedCost:       1.0,
	}
}

func newTestGateService(t *testing.T, opts ...GateOption) *GateService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGateService(logger, opts...)
}

func TestGateService_EvaluateAllow(t *testing.T) {
	svc := newTestGateService(t)

	decision, err := svc.Evaluate(context.Background(), passingInput())
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !decision.Allow {
		t.Errorf("expected allow, got deny: %v", decision.DenyReasons)
	}
	if decision.RequiresHITL {
		t.Error("expected no review requirement")
	}
}

func TestGateService_CacheHit(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	svc := newTestGateService(t, WithMetrics(metrics))

	in := passingInput()

	first, err := svc.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("first Evaluate: %v", err)
	}
	second, err := svc.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}

	if first.Allow != second.Allow {
		t.Error("cached decision differs from original")
	}
	if size := svc.CacheSize(); size != 1 {
		t.Errorf("expected cache size 1, got %d", size)
	}

	hits := testutil.ToFloat64(metrics.ResultCacheEvents.WithLabelValues("hit"))
	misses := testutil.ToFloat64(metrics.ResultCacheEvents.WithLabelValues("miss"))
	if hits != 1 || misses != 1 {
		t.Errorf("expected 1 hit / 1 miss, got %v / %v", hits, misses)
	}
}

func TestGateService_CacheKeyActionOrderInsensitive(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	svc := newTestGateService(t, WithMetrics(metrics))

	in := passingInput()
	if _, err := svc.Evaluate(context.Background(), in); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	permuted := passingInput()
	permuted.AllowedActions = []string{"send_email", "read_file"}
	if _, err := svc.Evaluate(context.Background(), permuted); err != nil {
		t.Fatalf("Evaluate permuted: %v", err)
	}

	if size := svc.CacheSize(); size != 1 {
		t.Errorf("permuted allowed list should share the cache entry, size=%d", size)
	}
	if hits := testutil.ToFloat64(metrics.ResultCacheEvents.WithLabelValues("hit")); hits != 1 {
		t.Errorf("expected permuted input to hit cache, hits=%v", hits)
	}
}

func TestGateService_DistinctInputsDistinctEntries(t *testing.T) {
	svc := newTestGateService(t)

	for i := 0; i < 3; i++ {
		in := passingInput()
		in.EstimatedCost = float64(i) + 0.5
		if _, err := svc.Evaluate(context.Background(), in); err != nil {
			t.Fatalf("Evaluate %d: %v", i, err)
		}
	}

	if size := svc.CacheSize(); size != 3 {
		t.Errorf("expected 3 cache entries, got %d", size)
	}
}

func TestGateService_CacheEviction(t *testing.T) {
	svc := newTestGateService(t, WithCacheSize(2))

	for i := 0; i < 5; i++ {
		in := passingInput()
		in.Action = fmt.Sprintf("action_%d", i)
		if _, err := svc.Evaluate(context.Background(), in); err != nil {
			t.Fatalf("Evaluate %d: %v", i, err)
		}
	}

	if size := svc.CacheSize(); size != 2 {
		t.Errorf("expected cache bounded at 2, got %d", size)
	}
}

func TestGateService_ErrorNotCached(t *testing.T) {
	svc := newTestGateService(t)

	in := passingInput()
	in.TimeWindowStart = "not-a-clock"

	for i := 0; i < 2; i++ {
		_, err := svc.Evaluate(context.Background(), in)
		if !errors.Is(err, policy.ErrBadClock) {
			t.Fatalf("call %d: expected ErrBadClock, got %v", i, err)
		}
	}

	if size := svc.CacheSize(); size != 0 {
		t.Errorf("parse errors must not be cached, size=%d", size)
	}
}

func TestGateService_DenyAndEscalationMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	svc := newTestGateService(t, WithMetrics(metrics))

	// Fails the action gate and the trust floor.
	denied := passingInput()
	denied.Action = "drop_database"
	denied.TrustScore = 5.0
	decision, err := svc.Evaluate(context.Background(), denied)
	if err != nil {
		t.Fatalf("Evaluate denied: %v", err)
	}
	if decision.Allow {
		t.Fatal("expected deny")
	}

	if got := testutil.ToFloat64(metrics.DenyReasonsTotal.WithLabelValues("action")); got != 1 {
		t.Errorf("expected action gate counter 1, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.DenyReasonsTotal.WithLabelValues("trust")); got != 1 {
		t.Errorf("expected trust gate counter 1, got %v", got)
	}

	// Passes the gates but trips the review flag.
	escalated := passingInput()
	escalated.RequiresHITL = true
	escalated.TrustScore = 50.0
	decision, err = svc.Evaluate(context.Background(), escalated)
	if err != nil {
		t.Fatalf("Evaluate escalated: %v", err)
	}
	if !decision.RequiresHITL {
		t.Fatal("expected review escalation")
	}
	if got := testutil.ToFloat64(metrics.EscalationsTotal); got != 1 {
		t.Errorf("expected escalations counter 1, got %v", got)
	}
}

func TestGateService_Reload(t *testing.T) {
	svc := newTestGateService(t)

	// Warm the cache, then reload and verify the purge.
	if _, err := svc.Evaluate(context.Background(), passingInput()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if size := svc.CacheSize(); size != 1 {
		t.Fatalf("expected warm cache, size=%d", size)
	}

	perms := []policy.Permission{
		{
			Service:            "email",
			AllowedActions:     []string{"send_email"},
			MaxRequestsPerHour: 10,
			TimeWindowStart:    "09:00",
			TimeWindowEnd:      "17:00",
			Active:             true,
		},
	}
	if err := svc.Reload(perms); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if size := svc.CacheSize(); size != 0 {
		t.Errorf("reload must purge the result cache, size=%d", size)
	}
	got := svc.Permissions()
	if len(got) != 1 || got[0].Service != "email" {
		t.Errorf("unexpected snapshot: %+v", got)
	}

	// The returned slice is a copy.
	got[0].Service = "mutated"
	if svc.Permissions()[0].Service != "email" {
		t.Error("Permissions must return a copy")
	}
}

func TestGateService_ReloadRejectsBadWindow(t *testing.T) {
	svc := newTestGateService(t)

	perms := []policy.Permission{
		{Service: "db", TimeWindowStart: "25:00", TimeWindowEnd: "17:00"},
	}
	err := svc.Reload(perms)
	if !errors.Is(err, policy.ErrBadClock) {
		t.Fatalf("expected ErrBadClock, got %v", err)
	}
	if !strings.Contains(err.Error(), "db") {
		t.Errorf("error should name the offending service: %v", err)
	}
	if len(svc.Permissions()) != 0 {
		t.Error("failed reload must not publish a partial snapshot")
	}
}

func TestGateService_ReloadValidatesConditions(t *testing.T) {
	svc := newTestGateService(t, WithConditionValidator(func(expr string) error {
		if strings.Contains(expr, "bogus") {
			return errors.New("undeclared reference")
		}
		return nil
	}))

	good := []policy.Permission{
		{
			Service:         "email",
			TimeWindowStart: "00:00",
			TimeWindowEnd:   "23:59",
			Condition:       `action == "send_email"`,
		},
	}
	if err := svc.Reload(good); err != nil {
		t.Fatalf("valid condition rejected: %v", err)
	}

	bad := []policy.Permission{
		{
			Service:         "email",
			TimeWindowStart: "00:00",
			TimeWindowEnd:   "23:59",
			Condition:       "bogus(1)",
		},
	}
	err := svc.Reload(bad)
	if err == nil {
		t.Fatal("expected condition validation error")
	}
	if !strings.Contains(err.Error(), "condition") {
		t.Errorf("error should mention the condition: %v", err)
	}
}

func TestResultCache_LRUOrder(t *testing.T) {
	cache := NewResultCache(2)

	cache.Put(1, policy.PolicyDecision{Allow: true})
	cache.Put(2, policy.PolicyDecision{Allow: false})

	// Touch key 1 so key 2 becomes the eviction candidate.
	if _, ok := cache.Get(1); !ok {
		t.Fatal("expected key 1 present")
	}

	cache.Put(3, policy.PolicyDecision{Allow: true})

	if _, ok := cache.Get(2); ok {
		t.Error("expected key 2 evicted")
	}
	if _, ok := cache.Get(1); !ok {
		t.Error("expected key 1 retained")
	}
	if _, ok := cache.Get(3); !ok {
		t.Error("expected key 3 present")
	}
}
