package mq

import "time"

const (
	// DefaultRetryBaseDelay is the delay before the first re-delivery
	DefaultRetryBaseDelay = time.Second

	// DefaultRetryMaxDelay caps the exponential backoff
	DefaultRetryMaxDelay = 30 * time.Second
)

// RetryDelay returns the wait before re-delivery number attempt (1-based):
// base, 2*base, 4*base ... capped at maxDelay.
func RetryDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultRetryBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultRetryMaxDelay
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
