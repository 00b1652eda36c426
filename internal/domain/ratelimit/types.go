// Package ratelimit provides hourly request counting domain types.
package ratelimit

import (
	"fmt"
	"time"
)

// BucketTTL is how long an hourly bucket survives after creation.
// Two hours covers the current hour plus a grace period for readers
// that race the hour rollover.
const BucketTTL = 2 * time.Hour

// hourStamp is the bucket timestamp layout (YYYYMMDDHH, UTC).
const hourStamp = "2006010215"

// keyPrefix is the base prefix for all counter keys.
const keyPrefix = "counter:hourly"

// HourlyKey returns the structured counter key for an agent/service pair
// at the given time.
// Format: "counter:hourly:{agent}:{service}:{YYYYMMDDHH}"
// Example:
//   - HourlyKey("agent-1", "payments", t) -> "counter:hourly:agent-1:payments:2026082514"
func HourlyKey(agentID, service string, t time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, agentID, service, t.UTC().Format(hourStamp))
}
