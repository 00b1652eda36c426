// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fe-row/AEGIS/internal/domain/ratelimit"
)

// bucket holds one hourly counter value and its expiry.
type bucket struct {
	count   int64
	expires time.Time
}

// HourlyCounter implements ratelimit.HourlyCounter using fixed-window
// buckets in memory. Thread-safe for concurrent access.
// Includes background cleanup to prevent unbounded memory growth.
type HourlyCounter struct {
	buckets         map[string]bucket
	mu              sync.Mutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
	now             func() time.Time
}

// NewHourlyCounter creates a new in-memory hourly counter with default
// cleanup settings. Default cleanup interval: 5 minutes.
func NewHourlyCounter() *HourlyCounter {
	return NewHourlyCounterWithConfig(5 * time.Minute)
}

// NewHourlyCounterWithConfig creates a new in-memory hourly counter with a
// custom cleanup interval.
func NewHourlyCounterWithConfig(cleanupInterval time.Duration) *HourlyCounter {
	return &HourlyCounter{
		buckets:         make(map[string]bucket),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		now:             time.Now,
	}
}

// Increment atomically increments the current hour's counter for the
// agent/service pair and returns the post-increment count.
// The bucket TTL refreshes on every increment, matching Redis INCR+EXPIRE
// pipeline semantics.
func (c *HourlyCounter) Increment(ctx context.Context, agentID, service string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	key := ratelimit.HourlyKey(agentID, service, now)

	b, ok := c.buckets[key]
	if !ok || b.expires.Before(now) {
		b = bucket{}
	}
	b.count++
	b.expires = now.Add(ratelimit.BucketTTL)
	c.buckets[key] = b

	return b.count, nil
}

// Count returns the current hour's count without incrementing.
// A missing or expired bucket reads as zero.
func (c *HourlyCounter) Count(ctx context.Context, agentID, service string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	key := ratelimit.HourlyKey(agentID, service, now)

	b, ok := c.buckets[key]
	if !ok || b.expires.Before(now) {
		return 0, nil
	}
	return b.count, nil
}

// StartCleanup starts the background cleanup goroutine.
// The goroutine periodically removes expired buckets.
// It stops when ctx is cancelled or Stop() is called.
func (c *HourlyCounter) StartCleanup(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopChan:
				return
			case <-ticker.C:
				c.cleanup()
			}
		}
	}()
}

// cleanup removes expired buckets. This method acquires the lock and should
// only be called by the background cleanup goroutine.
func (c *HourlyCounter) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cleaned := 0

	for key, b := range c.buckets {
		if b.expires.Before(now) {
			delete(c.buckets, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("hourly counter cleanup completed",
			"cleaned_buckets", cleaned,
			"remaining_buckets", len(c.buckets))
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (c *HourlyCounter) Stop() {
	c.once.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()
}

// Size returns the current number of tracked buckets.
// Useful for testing and monitoring memory usage.
func (c *HourlyCounter) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buckets)
}

// Compile-time interface verification.
var _ ratelimit.HourlyCounter = (*HourlyCounter)(nil)
