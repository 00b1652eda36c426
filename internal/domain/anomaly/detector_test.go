package anomaly

import (
	"log/slog"
	"math"
	"os"
	"reflect"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestDetector(t *testing.T) (*Detector, time.Time) {
	t.Helper()
	d := NewDetector(testLogger())
	base := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }
	return d, base
}

// seedProfile records n actions for the agent at the detector's current
// hour and rebuilds, producing a profile with that single typical service
// and hour.
func seedProfile(d *Detector, agentID, service string, n int) {
	d.EnsureProfile(agentID)
	for i := 0; i < n; i++ {
		d.RecordAction(agentID, service, "read", 0.1)
	}
	d.Rebuild(agentID)
}

func TestDetectNoProfile(t *testing.T) {
	d, _ := newTestDetector(t)

	got := d.Detect("ghost", "github")
	if got.Anomalous || got.RiskScore != 0 || len(got.Anomalies) != 0 {
		t.Errorf("expected zero report for unknown agent, got %+v", got)
	}
}

func TestDetectFreshProfile(t *testing.T) {
	d, _ := newTestDetector(t)

	d.EnsureProfile("agent-1")
	got := d.Detect("agent-1", "github")
	if got.Anomalous || got.RiskScore != 0 || len(got.Anomalies) != 0 {
		t.Errorf("expected zero report before first rebuild, got %+v", got)
	}
}

func TestDetectUnusualService(t *testing.T) {
	d, _ := newTestDetector(t)
	seedProfile(d, "agent-1", "github", 4)

	got := d.Detect("agent-1", "stripe")
	if got.Anomalous {
		t.Error("expected single check below anomalous threshold")
	}
	if math.Abs(got.RiskScore-0.4) > 1e-9 {
		t.Errorf("RiskScore = %f, want 0.4", got.RiskScore)
	}
	if !reflect.DeepEqual(got.Anomalies, []string{"unusual_service:stripe"}) {
		t.Errorf("Anomalies = %v", got.Anomalies)
	}
}

func TestDetectUnusualHour(t *testing.T) {
	d, base := newTestDetector(t)
	seedProfile(d, "agent-1", "github", 4)

	// 03:00 the next day was never seen in the profile.
	d.now = func() time.Time { return base.Add(18 * time.Hour) }

	got := d.Detect("agent-1", "github")
	if got.Anomalous {
		t.Error("expected single check below anomalous threshold")
	}
	if math.Abs(got.RiskScore-0.3) > 1e-9 {
		t.Errorf("RiskScore = %f, want 0.3", got.RiskScore)
	}
	if !reflect.DeepEqual(got.Anomalies, []string{"unusual_hour:3"}) {
		t.Errorf("Anomalies = %v", got.Anomalies)
	}
}

func TestDetectAnomalousCombination(t *testing.T) {
	d, base := newTestDetector(t)
	seedProfile(d, "agent-1", "github", 4)

	d.now = func() time.Time { return base.Add(18 * time.Hour) }

	got := d.Detect("agent-1", "stripe")
	if !got.Anomalous {
		t.Error("expected unusual service plus unusual hour to be anomalous")
	}
	if math.Abs(got.RiskScore-0.7) > 1e-9 {
		t.Errorf("RiskScore = %f, want 0.7", got.RiskScore)
	}
	want := []string{"unusual_service:stripe", "unusual_hour:3"}
	if !reflect.DeepEqual(got.Anomalies, want) {
		t.Errorf("Anomalies = %v, want %v", got.Anomalies, want)
	}
}

func TestDetectVelocitySpike(t *testing.T) {
	d, base := newTestDetector(t)
	seedProfile(d, "agent-1", "github", 2)

	// Same hour of day, one day later: the profiled average is 2/hour,
	// so 7 requests this hour is a spike.
	d.now = func() time.Time { return base.Add(24 * time.Hour) }
	for i := 0; i < 7; i++ {
		d.RecordAction("agent-1", "github", "read", 0.1)
	}

	got := d.Detect("agent-1", "github")
	if got.Anomalous {
		t.Error("expected single check below anomalous threshold")
	}
	if math.Abs(got.RiskScore-0.5) > 1e-9 {
		t.Errorf("RiskScore = %f, want 0.5", got.RiskScore)
	}
	if !reflect.DeepEqual(got.Anomalies, []string{"velocity_spike:7"}) {
		t.Errorf("Anomalies = %v", got.Anomalies)
	}
}

func TestDetectRiskCapped(t *testing.T) {
	d, base := newTestDetector(t)
	seedProfile(d, "agent-1", "github", 2)

	// Unknown service, unseen hour, and a velocity spike all at once.
	d.now = func() time.Time { return base.Add(18 * time.Hour) }
	for i := 0; i < 7; i++ {
		d.RecordAction("agent-1", "stripe", "read", 0.1)
	}

	got := d.Detect("agent-1", "database")
	if !got.Anomalous {
		t.Error("expected anomalous report")
	}
	if got.RiskScore != 1.0 {
		t.Errorf("RiskScore = %f, want capped 1.0", got.RiskScore)
	}
	if len(got.Anomalies) != 3 {
		t.Errorf("expected 3 anomalies, got %v", got.Anomalies)
	}
}

func TestRebuildComputesProfile(t *testing.T) {
	d, base := newTestDetector(t)
	d.EnsureProfile("agent-1")

	d.RecordAction("agent-1", "github", "read", 0.1)
	d.RecordAction("agent-1", "github", "write", 0.2)

	d.now = func() time.Time { return base.Add(5 * time.Hour) }
	d.RecordAction("agent-1", "stripe", "read", 0.3)

	d.Rebuild("agent-1")

	p, ok := d.Profile("agent-1")
	if !ok {
		t.Fatal("expected profile")
	}
	if !reflect.DeepEqual(p.TypicalServices, []string{"github", "stripe"}) {
		t.Errorf("TypicalServices = %v", p.TypicalServices)
	}
	if !reflect.DeepEqual(p.TypicalHours, map[string]int{"9": 2, "14": 1}) {
		t.Errorf("TypicalHours = %v", p.TypicalHours)
	}
	if math.Abs(p.AvgRequestsPerHour-1.5) > 1e-9 {
		t.Errorf("AvgRequestsPerHour = %f, want 1.5", p.AvgRequestsPerHour)
	}
	if p.LastUpdated.IsZero() {
		t.Error("expected LastUpdated set")
	}
}

func TestRebuildWithoutProfileIsNoop(t *testing.T) {
	d, _ := newTestDetector(t)

	d.RecordAction("agent-1", "github", "read", 0.1)
	d.Rebuild("agent-1")

	if _, ok := d.Profile("agent-1"); ok {
		t.Error("expected no profile without EnsureProfile")
	}
}

func TestRebuildAll(t *testing.T) {
	d, _ := newTestDetector(t)

	d.EnsureProfile("agent-1")
	d.EnsureProfile("agent-2")
	d.RecordAction("agent-1", "github", "read", 0.1)
	d.RecordAction("agent-2", "stripe", "read", 0.1)

	d.RebuildAll()

	p1, _ := d.Profile("agent-1")
	p2, _ := d.Profile("agent-2")
	if !reflect.DeepEqual(p1.TypicalServices, []string{"github"}) {
		t.Errorf("agent-1 TypicalServices = %v", p1.TypicalServices)
	}
	if !reflect.DeepEqual(p2.TypicalServices, []string{"stripe"}) {
		t.Errorf("agent-2 TypicalServices = %v", p2.TypicalServices)
	}
}

func TestHistoryCapped(t *testing.T) {
	d, _ := newTestDetector(t)

	for i := 0; i < maxActionHistory+10; i++ {
		d.RecordAction("agent-1", "github", "read", 0.1)
	}

	if got := len(d.actions["agent-1"]); got != maxActionHistory {
		t.Errorf("expected history capped at %d, got %d", maxActionHistory, got)
	}
}

func TestHourlyCounterExpires(t *testing.T) {
	d, base := newTestDetector(t)

	d.RecordAction("agent-1", "github", "read", 0.1)
	if got := d.hourlyCountLocked("agent-1", base); got != 1 {
		t.Fatalf("expected count 1, got %d", got)
	}

	// The 09:00 bucket no longer counts a day later.
	later := base.Add(24 * time.Hour)
	if got := d.hourlyCountLocked("agent-1", later); got != 0 {
		t.Errorf("expected expired bucket to count 0, got %d", got)
	}
}

func TestEnsureProfileIdempotent(t *testing.T) {
	d, _ := newTestDetector(t)
	seedProfile(d, "agent-1", "github", 2)

	d.EnsureProfile("agent-1")

	p, _ := d.Profile("agent-1")
	if !reflect.DeepEqual(p.TypicalServices, []string{"github"}) {
		t.Errorf("expected existing profile preserved, got %+v", p)
	}
}
