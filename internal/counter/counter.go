// Package counter implements wrap-safe arithmetic over the concentrator's
// free-running 32-bit microsecond counter.
package counter

import "time"

// Sub returns a-b as a signed distance, correctly handling wraparound of
// the underlying 32-bit counter.
func Sub(a, b uint32) int32 {
	return int32(a - b)
}

// LessRecent reports whether a happened before b on the wrapping counter
// timeline, i.e. (int32)(a-b) < 0.
func LessRecent(a, b uint32) bool {
	return Sub(a, b) < 0
}

// Add advances base by d, wrapping around uint32 the same way the
// concentrator counter does.
func Add(base uint32, d time.Duration) uint32 {
	return base + uint32(d/time.Microsecond)
}

// Delta returns the duration between two counter values, taking the
// shortest signed path across a possible wraparound.
func Delta(a, b uint32) time.Duration {
	return time.Duration(Sub(a, b)) * time.Microsecond
}
