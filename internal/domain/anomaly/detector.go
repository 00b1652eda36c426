// Package anomaly detects behavioral drift by comparing an agent's current
// activity against its learned profile of typical services, hours, and
// request velocity.
package anomaly

import (
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"
)

const (
	// maxActionHistory bounds the per-agent action ring used to rebuild
	// profiles.
	maxActionHistory = 1000
	// anomalousRisk is the combined score at which behavior is anomalous.
	anomalousRisk = 0.6
	// hourlyCountTTL is how long an hour bucket counts toward velocity.
	hourlyCountTTL = 2 * time.Hour

	weightUnusualService = 0.4
	weightUnusualHour    = 0.3
	weightVelocitySpike  = 0.5

	// velocityMultiplier flags velocity above this multiple of the profiled
	// hourly average.
	velocityMultiplier = 3
)

// Profile captures an agent's learned behavior.
type Profile struct {
	AgentID            string         `json:"agent_id"`
	TypicalServices    []string       `json:"typical_services"`
	TypicalHours       map[string]int `json:"typical_hours"`
	AvgRequestsPerHour float64        `json:"avg_requests_per_hour"`
	LastUpdated        time.Time      `json:"last_updated"`
}

// Report is the outcome of an anomaly check.
type Report struct {
	Anomalous bool     `json:"is_anomalous"`
	RiskScore float64  `json:"risk_score"`
	Anomalies []string `json:"anomalies,omitempty"`
}

type actionSample struct {
	service string
	action  string
	hour    int
	at      time.Time
	cost    float64
}

type hourlyCount struct {
	count   int
	expires time.Time
}

// Detector records agent actions and scores new activity against rebuilt
// behavior profiles. Agents without a profile are never anomalous, which
// gives newly registered agents a grace period until their first rebuild.
// All methods are safe for concurrent use.
type Detector struct {
	mu       sync.Mutex
	actions  map[string][]actionSample
	hourly   map[string]map[int]hourlyCount
	profiles map[string]*Profile
	logger   *slog.Logger

	now func() time.Time
}

// NewDetector creates an anomaly detector.
func NewDetector(logger *slog.Logger) *Detector {
	return &Detector{
		actions:  make(map[string][]actionSample),
		hourly:   make(map[string]map[int]hourlyCount),
		profiles: make(map[string]*Profile),
		logger:   logger,
		now:      time.Now,
	}
}

// EnsureProfile creates an empty profile for the agent if none exists.
// Called at registration so the agent participates in rebuilds.
func (d *Detector) EnsureProfile(agentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.profiles[agentID]; !ok {
		d.profiles[agentID] = &Profile{AgentID: agentID}
	}
}

// SeedProfile installs a configured baseline profile, replacing any
// existing one. Typical hours are given as hours of day; each counts once
// until real activity rebuilds the histogram.
func (d *Detector) SeedProfile(agentID string, typicalServices []string, typicalHours []int, avgRequestsPerHour float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	hours := make(map[string]int, len(typicalHours))
	for _, h := range typicalHours {
		hours[strconv.Itoa(h)]++
	}
	d.profiles[agentID] = &Profile{
		AgentID:            agentID,
		TypicalServices:    append([]string(nil), typicalServices...),
		TypicalHours:       hours,
		AvgRequestsPerHour: avgRequestsPerHour,
		LastUpdated:        d.now().UTC(),
	}
}

// Profile returns a copy of the agent's behavior profile.
func (d *Detector) Profile(agentID string) (Profile, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.profiles[agentID]
	if !ok {
		return Profile{}, false
	}
	return copyProfile(p), true
}

// RecordAction appends the action to the agent's history ring and bumps the
// hour-of-day counter used for velocity checks.
func (d *Detector) RecordAction(agentID, service, action string, cost float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now().UTC()

	samples := append(d.actions[agentID], actionSample{
		service: service,
		action:  action,
		hour:    now.Hour(),
		at:      now,
		cost:    cost,
	})
	if len(samples) > maxActionHistory {
		samples = samples[len(samples)-maxActionHistory:]
	}
	d.actions[agentID] = samples

	buckets, ok := d.hourly[agentID]
	if !ok {
		buckets = make(map[int]hourlyCount)
		d.hourly[agentID] = buckets
	}
	bucket := buckets[now.Hour()]
	if now.After(bucket.expires) {
		bucket.count = 0
	}
	bucket.count++
	bucket.expires = now.Add(hourlyCountTTL)
	buckets[now.Hour()] = bucket
}

// Detect scores the proposed activity against the agent's profile.
func (d *Detector) Detect(agentID, service string) Report {
	d.mu.Lock()
	defer d.mu.Unlock()

	profile, ok := d.profiles[agentID]
	if !ok {
		return Report{}
	}

	var anomalies []string
	var risk float64

	if len(profile.TypicalServices) > 0 && !contains(profile.TypicalServices, service) {
		anomalies = append(anomalies, "unusual_service:"+service)
		risk += weightUnusualService
	}

	now := d.now().UTC()
	hour := strconv.Itoa(now.Hour())
	if len(profile.TypicalHours) > 0 && profile.TypicalHours[hour] == 0 {
		anomalies = append(anomalies, "unusual_hour:"+hour)
		risk += weightUnusualHour
	}

	count := d.hourlyCountLocked(agentID, now)
	if profile.AvgRequestsPerHour > 0 && float64(count) > profile.AvgRequestsPerHour*velocityMultiplier {
		anomalies = append(anomalies, "velocity_spike:"+strconv.Itoa(count))
		risk += weightVelocitySpike
	}

	report := Report{
		Anomalous: risk >= anomalousRisk,
		RiskScore: math.Min(risk, 1.0),
		Anomalies: anomalies,
	}
	if report.Anomalous {
		d.logger.Warn("anomalous behavior detected",
			"agent_id", agentID,
			"service", service,
			"risk_score", report.RiskScore,
			"anomalies", anomalies,
		)
	}
	return report
}

// Rebuild recalculates the agent's profile from its recorded history.
// Agents without a profile are skipped.
func (d *Detector) Rebuild(agentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rebuildLocked(agentID)
}

// RebuildAll recalculates every known profile. Intended to be driven by a
// periodic ticker in the service layer.
func (d *Detector) RebuildAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for agentID := range d.profiles {
		d.rebuildLocked(agentID)
	}
}

func (d *Detector) rebuildLocked(agentID string) {
	profile, ok := d.profiles[agentID]
	if !ok {
		return
	}
	samples := d.actions[agentID]
	if len(samples) == 0 {
		return
	}

	serviceSet := make(map[string]struct{})
	hours := make(map[string]int)
	hourSet := make(map[int]struct{})
	for _, s := range samples {
		serviceSet[s.service] = struct{}{}
		hours[strconv.Itoa(s.hour)]++
		hourSet[s.hour] = struct{}{}
	}

	services := make([]string, 0, len(serviceSet))
	for svc := range serviceSet {
		services = append(services, svc)
	}
	sort.Strings(services)

	totalHours := len(hourSet)
	if totalHours == 0 {
		totalHours = 1
	}

	profile.TypicalServices = services
	profile.TypicalHours = hours
	profile.AvgRequestsPerHour = float64(len(samples)) / float64(totalHours)
	profile.LastUpdated = d.now().UTC()
}

func (d *Detector) hourlyCountLocked(agentID string, now time.Time) int {
	bucket, ok := d.hourly[agentID][now.Hour()]
	if !ok || now.After(bucket.expires) {
		return 0
	}
	return bucket.count
}

func copyProfile(p *Profile) Profile {
	out := *p
	out.TypicalServices = append([]string(nil), p.TypicalServices...)
	out.TypicalHours = make(map[string]int, len(p.TypicalHours))
	for k, v := range p.TypicalHours {
		out.TypicalHours[k] = v
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
