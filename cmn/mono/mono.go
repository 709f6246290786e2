// Package mono provides a monotonic nanosecond clock for internal timing
// (log flush intervals, idle-teardown ticks, handshake timeouts).
//
// The teacher's original implementation linked directly against
// runtime.nanotime via go:linkname, gated behind a "mono" build tag. That
// trick is runtime-version fragile and unnecessary: time.Now() already
// carries a monotonic reading on every supported Go release, so this
// package just exposes the duration since process start computed from it.
package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds elapsed since the package was initialized.
// Only useful for computing durations between two NanoTime() calls.
func NanoTime() int64 { return time.Since(start).Nanoseconds() }
