package connection

import "time"

// maxBackoffShift keeps base<<shift from overflowing.
const maxBackoffShift = 30

// Backoff returns the delay before retry number attempt (1-based):
// base, 2*base, 4*base, and so on.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := min(attempt-1, maxBackoffShift)
	return base << shift
}
