package trust

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrUnknownAgent is returned for agents that were never seeded.
var ErrUnknownAgent = errors.New("unknown agent")

// Engine holds the live trust scores for all registered agents. Scores
// are seeded at boot and adjusted by events during a run; they are not
// persisted.
type Engine struct {
	mu     sync.RWMutex
	scores map[string]float64
	logger *slog.Logger
}

// NewEngine creates an empty trust engine.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		scores: make(map[string]float64),
		logger: logger,
	}
}

// Seed registers an agent with a starting score, clamped to the score
// bounds. Re-seeding overwrites the current score.
func (e *Engine) Seed(agentID string, score float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scores[agentID] = clamp(score)
}

// Score returns the agent's current trust score.
func (e *Engine) Score(agentID string) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	score, ok := e.scores[agentID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	return score, nil
}

// Apply adjusts the agent's score by the event's fixed delta, clamped
// to [MinScore, MaxScore], and returns the new score.
func (e *Engine) Apply(agentID string, event Event) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	score, ok := e.scores[agentID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}

	next := clamp(score + event.Delta())
	e.scores[agentID] = next
	e.logger.Debug("trust adjusted",
		"agent_id", agentID,
		"event", string(event),
		"delta", event.Delta(),
		"score", next,
	)
	return next, nil
}

// Quarantine drops the agent to the score floor. Used by the panic path
// when the circuit breaker trips.
func (e *Engine) Quarantine(agentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.scores[agentID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	e.scores[agentID] = MinScore
	e.logger.Warn("agent quarantined", "agent_id", agentID)
	return nil
}

// Snapshot returns a copy of all current scores.
func (e *Engine) Snapshot() map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]float64, len(e.scores))
	for id, score := range e.scores {
		out[id] = score
	}
	return out
}

func clamp(score float64) float64 {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
