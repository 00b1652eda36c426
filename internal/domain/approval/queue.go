// Package approval implements the human review queue. Actions that trip a
// review trigger are parked here until a reviewer decides them or they expire.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no request exists for the given ID.
	ErrNotFound = errors.New("review request not found")
	// ErrDecided is returned when a request has already left the pending state.
	ErrDecided = errors.New("review request already decided")
	// ErrExpired is returned when a decision arrives after the request expired.
	ErrExpired = errors.New("review request expired")
)

// Queue holds actions awaiting human review with bounded capacity.
// Pending requests expire after a fixed interval; the background sweeper
// resolves them as expired so callers blocked in Await are released.
// When the queue is full the oldest entry is evicted and, if still pending,
// resolved as expired.
type Queue struct {
	mu      sync.RWMutex
	items   map[string]*Request
	order   []string
	maxSize int
	expiry  time.Duration
	logger  *slog.Logger

	now func() time.Time

	sweepInterval time.Duration
	stopChan      chan struct{}
	once          sync.Once
	wg            sync.WaitGroup
}

// NewQueue creates a review queue. Expiry of pending entries is enforced
// lazily on decisions and, once StartSweeper is called, by a background
// goroutine.
func NewQueue(maxSize int, expiry time.Duration, logger *slog.Logger) *Queue {
	if maxSize <= 0 {
		maxSize = DefaultMaxPending
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Queue{
		items:         make(map[string]*Request),
		order:         make([]string, 0, maxSize),
		maxSize:       maxSize,
		expiry:        expiry,
		logger:        logger,
		now:           time.Now,
		sweepInterval: 30 * time.Second,
		stopChan:      make(chan struct{}),
	}
}

// StartSweeper starts the background goroutine that expires stale requests.
// It stops when ctx is cancelled or Stop is called.
func (q *Queue) StartSweeper(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-q.stopChan:
				return
			case <-ticker.C:
				q.sweep(q.now().UTC())
			}
		}
	}()
}

// Stop terminates the sweeper goroutine and waits for it to exit.
// Safe to call multiple times.
func (q *Queue) Stop() {
	q.once.Do(func() { close(q.stopChan) })
	q.wg.Wait()
}

// Submit queues an action for review and returns the pending request.
// The caller blocks on Await until a reviewer decides or the request expires.
func (q *Queue) Submit(agentID, action, service string, params map[string]interface{}, reason string, estimatedCost float64) *Request {
	now := q.now().UTC()
	req := &Request{
		ID:            uuid.New().String(),
		AgentID:       agentID,
		Action:        action,
		Service:       service,
		Params:        params,
		Reason:        reason,
		EstimatedCost: estimatedCost,
		Status:        StatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(q.expiry),
		result:        make(chan Result, 1),
	}

	q.mu.Lock()
	// Evict oldest if at capacity
	if len(q.order) >= q.maxSize {
		oldID := q.order[0]
		q.order = q.order[1:]
		if old, ok := q.items[oldID]; ok {
			if old.Status == StatusPending {
				old.Status = StatusExpired
				deliver(old, Result{Status: StatusExpired, Note: "evicted: queue at capacity"})
			}
			delete(q.items, oldID)
		}
	}
	q.items[req.ID] = req
	q.order = append(q.order, req.ID)
	q.mu.Unlock()

	q.logger.Info("action held for review",
		"request_id", req.ID,
		"agent_id", agentID,
		"action", action,
		"service", service,
		"estimated_cost", estimatedCost,
		"expires_at", req.ExpiresAt,
	)
	return req
}

// Approve resolves a pending request in the agent's favor.
func (q *Queue) Approve(id, decidedBy, note string) error {
	return q.decide(id, StatusApproved, decidedBy, note)
}

// Reject resolves a pending request against the agent.
func (q *Queue) Reject(id, decidedBy, note string) error {
	return q.decide(id, StatusRejected, decidedBy, note)
}

func (q *Queue) decide(id string, status Status, decidedBy, note string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if req.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrDecided, id, req.Status)
	}

	now := q.now().UTC()
	if now.After(req.ExpiresAt) {
		req.Status = StatusExpired
		deliver(req, Result{Status: StatusExpired})
		return fmt.Errorf("%w: %s", ErrExpired, id)
	}

	req.Status = status
	req.DecidedBy = decidedBy
	req.DecisionNote = note
	req.DecidedAt = now
	deliver(req, Result{Status: status, DecidedBy: decidedBy, Note: note})

	q.logger.Info("review request decided",
		"request_id", id,
		"status", status,
		"decided_by", decidedBy,
	)
	return nil
}

// Get returns the request with the given ID, or nil if unknown.
func (q *Queue) Get(id string) *Request {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.items[id]
}

// ListPending returns pending requests, newest first.
func (q *Queue) ListPending() []*Request {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var pending []*Request
	for i := len(q.order) - 1; i >= 0; i-- {
		if req, ok := q.items[q.order[i]]; ok && req.Status == StatusPending {
			pending = append(pending, req)
		}
	}
	return pending
}

// Await blocks until the request is decided, expires, or ctx is cancelled.
// The queue entry is removed once a result has been received.
func (q *Queue) Await(ctx context.Context, req *Request) (Result, error) {
	select {
	case res := <-req.result:
		q.remove(req.ID)
		return res, nil
	case <-ctx.Done():
		q.remove(req.ID)
		return Result{}, ctx.Err()
	}
}

// sweep resolves every pending request whose expiry has passed.
func (q *Queue) sweep(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range q.order {
		req, ok := q.items[id]
		if !ok || req.Status != StatusPending {
			continue
		}
		if now.After(req.ExpiresAt) {
			req.Status = StatusExpired
			deliver(req, Result{Status: StatusExpired})
			q.logger.Info("review request expired",
				"request_id", req.ID,
				"agent_id", req.AgentID,
				"action", req.Action,
			)
		}
	}
}

func (q *Queue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, id)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// deliver hands the result to a waiting goroutine without blocking.
func deliver(req *Request, res Result) {
	select {
	case req.result <- res:
	default:
	}
}
