package service

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fe-row/AEGIS/internal/domain/pipeline"
)

// StatsService tracks runtime decision statistics using lock-free atomic
// counters. All counter operations are safe for concurrent access from
// multiple goroutines.
type StatsService struct {
	allowed   atomic.Int64
	denied    atomic.Int64
	escalated atomic.Int64
	approved  atomic.Int64
	rejected  atomic.Int64

	latencyCount  atomic.Int64
	latencySumUS  atomic.Int64 // microseconds
	latencyMaxUS  atomic.Int64 // microseconds
	startedAtUnix int64

	// Per-stage block counters (mutex-protected map).
	mu          sync.Mutex
	stageBlocks map[string]int64
}

// NewStatsService creates a new StatsService with all counters at zero.
func NewStatsService() *StatsService {
	return &StatsService{
		stageBlocks:   make(map[string]int64),
		startedAtUnix: time.Now().Unix(),
	}
}

// RecordOutcome increments the counter for the given verdict.
func (s *StatsService) RecordOutcome(outcome pipeline.Outcome) {
	switch outcome {
	case pipeline.OutcomeAllowed:
		s.allowed.Add(1)
	case pipeline.OutcomeDenied:
		s.denied.Add(1)
	case pipeline.OutcomeEscalated:
		s.escalated.Add(1)
	case pipeline.OutcomeApproved:
		s.approved.Add(1)
	case pipeline.OutcomeRejected:
		s.rejected.Add(1)
	}
}

// RecordStageBlock increments the block counter for the given stage.
// Empty stage names are skipped.
func (s *StatsService) RecordStageBlock(stage string) {
	if stage == "" {
		return
	}
	s.mu.Lock()
	s.stageBlocks[stage]++
	s.mu.Unlock()
}

// RecordLatency folds one end-to-end decision latency into the counters.
func (s *StatsService) RecordLatency(d time.Duration) {
	us := d.Microseconds()
	s.latencyCount.Add(1)
	s.latencySumUS.Add(us)
	for {
		cur := s.latencyMaxUS.Load()
		if us <= cur || s.latencyMaxUS.CompareAndSwap(cur, us) {
			return
		}
	}
}

// Stats holds a snapshot of all counters at a point in time.
type Stats struct {
	Allowed     int64            `json:"allowed"`
	Denied      int64            `json:"denied"`
	Escalated   int64            `json:"escalated"`
	Approved    int64            `json:"approved"`
	Rejected    int64            `json:"rejected"`
	StageBlocks map[string]int64 `json:"stage_blocks"`

	LatencyCount int64         `json:"latency_count"`
	LatencyAvg   time.Duration `json:"latency_avg_us"`
	LatencyMax   time.Duration `json:"latency_max_us"`

	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
}

// Total returns the number of terminal decisions recorded.
func (s Stats) Total() int64 {
	return s.Allowed + s.Denied + s.Escalated + s.Approved + s.Rejected
}

// GetStats returns a snapshot of all counters.
// The snapshot is consistent per-counter but not atomically across all counters.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	blocks := make(map[string]int64, len(s.stageBlocks))
	for k, v := range s.stageBlocks {
		blocks[k] = v
	}
	s.mu.Unlock()

	count := s.latencyCount.Load()
	var avg time.Duration
	if count > 0 {
		avg = time.Duration(s.latencySumUS.Load()/count) * time.Microsecond
	}

	startedAt := time.Unix(atomic.LoadInt64(&s.startedAtUnix), 0)
	return Stats{
		Allowed:      s.allowed.Load(),
		Denied:       s.denied.Load(),
		Escalated:    s.escalated.Load(),
		Approved:     s.approved.Load(),
		Rejected:     s.rejected.Load(),
		StageBlocks:  blocks,
		LatencyCount: count,
		LatencyAvg:   avg,
		LatencyMax:   time.Duration(s.latencyMaxUS.Load()) * time.Microsecond,
		StartedAt:    startedAt,
		Uptime:       time.Since(startedAt).Round(time.Second).String(),
	}
}

// Reset sets all counters to zero and restarts the uptime clock.
func (s *StatsService) Reset() {
	s.allowed.Store(0)
	s.denied.Store(0)
	s.escalated.Store(0)
	s.approved.Store(0)
	s.rejected.Store(0)
	s.latencyCount.Store(0)
	s.latencySumUS.Store(0)
	s.latencyMaxUS.Store(0)
	atomic.StoreInt64(&s.startedAtUnix, time.Now().Unix())

	s.mu.Lock()
	s.stageBlocks = make(map[string]int64)
	s.mu.Unlock()
}

// Compile-time interface verification.
var _ pipeline.StatsRecorder = (*StatsService)(nil)
