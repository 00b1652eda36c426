// Package breaker monitors per-agent spending velocity and trips when spend
// accelerates abnormally. A trip tells the caller to freeze the agent's wallet
// and quarantine its trust score.
package breaker

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultWindow is the sliding window used to compare spending velocity.
	DefaultWindow = 5 * time.Minute
	// DefaultThresholdPct is the percent increase over the previous window
	// that trips the breaker.
	DefaultThresholdPct = 300.0

	// DefaultBaselineMultiplier trips the breaker when current-window spend
	// exceeds this multiple of the agent's recorded baseline.
	DefaultBaselineMultiplier = 4.0
	// maxTrips bounds the per-agent trip history.
	maxTrips = 100
)

type sample struct {
	at     time.Time
	amount float64
}

// Breaker tracks spend samples per agent across two adjacent windows.
// All methods are safe for concurrent use.
type Breaker struct {
	mu         sync.Mutex
	window     time.Duration
	threshold  float64
	multiplier float64
	spend      map[string][]sample
	baseline   map[string]float64
	trips      map[string][]time.Time
	logger     *slog.Logger

	now func() time.Time
}

// NewBreaker creates a circuit breaker. Non-positive window or threshold
// fall back to the defaults.
func NewBreaker(window time.Duration, thresholdPct float64, logger *slog.Logger) *Breaker {
	if window <= 0 {
		window = DefaultWindow
	}
	if thresholdPct <= 0 {
		thresholdPct = DefaultThresholdPct
	}
	return &Breaker{
		window:     window,
		threshold:  thresholdPct,
		multiplier: DefaultBaselineMultiplier,
		spend:      make(map[string][]sample),
		baseline:   make(map[string]float64),
		trips:      make(map[string][]time.Time),
		logger:     logger,
		now:        time.Now,
	}
}

// SetMultiplier overrides the baseline trip multiplier. Non-positive
// values are ignored.
func (b *Breaker) SetMultiplier(m float64) {
	if m <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.multiplier = m
}

// RecordSpend adds a spend sample for the agent and prunes samples older
// than twice the window.
func (b *Breaker) RecordSpend(agentID string, amount float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	cutoff := now.Add(-2 * b.window)

	samples := append(b.spend[agentID], sample{at: now, amount: amount})
	kept := samples[:0]
	for _, s := range samples {
		if !s.at.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	b.spend[agentID] = kept
}

// CheckAndTrip evaluates whether charging amount now would constitute a
// spending spike. It trips when spend in the current window exceeds the
// previous window by the configured percentage, or exceeds the configured
// multiple of the agent's recorded baseline. A trip is recorded in the
// agent's trip history.
func (b *Breaker) CheckAndTrip(agentID string, amount float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	current := b.sumLocked(agentID, now.Add(-b.window), now) + amount
	previous := b.sumLocked(agentID, now.Add(-2*b.window), now.Add(-b.window))

	if previous > 0 {
		increasePct := (current - previous) / previous * 100
		if increasePct >= b.threshold {
			b.tripLocked(agentID, now)
			b.logger.Warn("circuit breaker tripped",
				"agent_id", agentID,
				"reason", "spend_velocity",
				"current_window", current,
				"previous_window", previous,
				"increase_pct", increasePct,
			)
			return true
		}
	}

	if baseline := b.baseline[agentID]; baseline > 0 && current > baseline*b.multiplier {
		b.tripLocked(agentID, now)
		b.logger.Warn("circuit breaker tripped",
			"agent_id", agentID,
			"reason", "baseline_exceeded",
			"current_window", current,
			"baseline", baseline,
		)
		return true
	}

	return false
}

// SetBaseline records the agent's expected per-window spend.
func (b *Breaker) SetBaseline(agentID string, avgSpend float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.baseline[agentID] = avgSpend
}

// Trips returns the agent's trip timestamps, newest first.
func (b *Breaker) Trips(agentID string) []time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	trips := b.trips[agentID]
	out := make([]time.Time, len(trips))
	copy(out, trips)
	return out
}

// sumLocked sums samples within [from, to]. Both bounds are inclusive.
func (b *Breaker) sumLocked(agentID string, from, to time.Time) float64 {
	var total float64
	for _, s := range b.spend[agentID] {
		if !s.at.Before(from) && !s.at.After(to) {
			total += s.amount
		}
	}
	return total
}

func (b *Breaker) tripLocked(agentID string, at time.Time) {
	trips := append([]time.Time{at}, b.trips[agentID]...)
	if len(trips) > maxTrips {
		trips = trips[:maxTrips]
	}
	b.trips[agentID] = trips
}
