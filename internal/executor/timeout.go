package executor

import (
	"math"
	"time"
)

// minTimeout keeps the effective timeout strictly positive for tiny requests.
const minTimeout = time.Millisecond

// TimeoutPolicy holds a backend's server-side timeout bounds.
type TimeoutPolicy struct {
	// Ceiling is the maximum execution time a caller may ask for.
	Ceiling time.Duration
	// Default applies when the caller asks for nothing. Languages with a
	// build step use the ceiling here; the others a short fixed value.
	Default time.Duration
}

// ResolveTimeout returns min(requested, ceiling). A missing, non-positive or
// non-numeric request falls back to min(Default, Ceiling).
func ResolveTimeout(requestedSeconds *float64, policy TimeoutPolicy) time.Duration {
	effective := policy.Default
	if effective <= 0 || effective > policy.Ceiling {
		effective = policy.Ceiling
	}

	if requestedSeconds != nil {
		secs := *requestedSeconds
		if secs > 0 && !math.IsNaN(secs) && !math.IsInf(secs, 0) {
			// Compare in seconds first so huge values cannot overflow Duration.
			if secs >= policy.Ceiling.Seconds() {
				effective = policy.Ceiling
			} else {
				effective = time.Duration(secs * float64(time.Second))
			}
		}
	}

	if effective < minTimeout {
		effective = minTimeout
	}
	return effective
}
