package ratelimit

import (
	"context"
	"time"
)

// CounterStore is the storage primitive the limiter is built on: an atomic
// increment-and-read per counter key. The atomicity requirement is strict —
// two concurrent increments of a fresh key must observe distinct values, or
// the limiter over-admits under contention.
//
// ttl applies from the first touch of a key. Counter keys embed their window
// start, so an implementation may also refresh the ttl on later increments
// without affecting correctness.
type CounterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
