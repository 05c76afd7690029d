// Package clock provides the single timestamp source used across the
// measurement engine: a process-local wall clock expressed as seconds with
// a fractional component, per spec.md §9 ("no timezone or epoch semantics
// are relied upon"). Kept as its own package so tests can see exactly where
// "now" enters the system.
package clock

import "time"

// Now returns the current wall-clock time as fractional seconds.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
