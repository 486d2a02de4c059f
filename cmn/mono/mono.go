// Package mono provides low-level monotonic time.
package mono

import (
	_ "unsafe" // for go:linkname
)

// NanoTime returns a monotonic clock reading in nanoseconds; unlike
// time.Now() it performs no wall-clock/calendar conversion and is safe to
// call on every hot-path tick (endpoint quiescence timing, stats snapshot
// deltas, t-digest sample timestamps).
//
//go:linkname NanoTime runtime.nanotime
func NanoTime() int64
