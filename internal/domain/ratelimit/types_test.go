package ratelimit

import (
	"testing"
	"time"
)

func TestHourlyKey(t *testing.T) {
	at := time.Date(2026, 8, 25, 14, 59, 3, 0, time.UTC)

	got := HourlyKey("agent-1", "payments", at)
	want := "counter:hourly:agent-1:payments:2026082514"
	if got != want {
		t.Errorf("HourlyKey() = %q, want %q", got, want)
	}
}

func TestHourlyKeyNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	local := time.Date(2026, 8, 25, 1, 15, 0, 0, loc)

	// 01:15 UTC+2 is 23:15 UTC the previous day
	got := HourlyKey("agent-1", "payments", local)
	want := "counter:hourly:agent-1:payments:2026082423"
	if got != want {
		t.Errorf("HourlyKey() = %q, want %q", got, want)
	}
}

func TestHourlyKeyChangesAcrossHours(t *testing.T) {
	at := time.Date(2026, 8, 25, 14, 59, 59, 0, time.UTC)

	if HourlyKey("a", "s", at) == HourlyKey("a", "s", at.Add(time.Second)) {
		t.Error("expected distinct keys across the hour boundary")
	}
}
