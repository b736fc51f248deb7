package orchestrator

import (
	"time"
)

// Retry policy for transient tool failures.
const (
	maxAttempts       = 3
	baseBackoff       = 100 * time.Millisecond
	backoffMultiplier = 2
	maxBackoff        = 1000 * time.Millisecond
)

// backoffDelay returns the exponential backoff before the given retry.
// attempt is 1-based: the delay before attempt 2 is the base delay.
func backoffDelay(attempt int) time.Duration {
	delay := baseBackoff
	for i := 1; i < attempt; i++ {
		delay *= backoffMultiplier
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
