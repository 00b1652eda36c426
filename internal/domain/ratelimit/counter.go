package ratelimit

import "context"

// HourlyCounter is the interface for fixed-window hourly request counting.
//
// Implementations count requests per agent/service pair in one-hour buckets
// keyed by UTC hour. Fixed windows are intentional here: the quota the counter
// feeds is expressed as "requests this hour", so the window must align with
// the wall-clock hour rather than slide.
//
// The interface is designed to be storage-agnostic, allowing implementations
// backed by Redis INCR, in-memory maps, or other backends. Buckets must
// expire after BucketTTL so abandoned keys do not accumulate.
type HourlyCounter interface {
	// Increment atomically increments the current hour's counter for the
	// agent/service pair and returns the post-increment count.
	Increment(ctx context.Context, agentID, service string) (int64, error)

	// Count returns the current hour's count without incrementing.
	// A missing bucket reads as zero.
	Count(ctx context.Context, agentID, service string) (int64, error)
}
